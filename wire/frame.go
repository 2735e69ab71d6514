// Package wire implements live-channel message framing and decoding.
//
// A logical message may arrive split across any number of websocket
// messages. An Assembler accumulates fragments for one connection and
// yields complete messages as soon as they can be recognized:
//
//   - json: a message is complete once the buffered bytes form one valid
//     JSON object or array.
//   - msgpack: every message is a 4-byte big-endian length prefix followed
//     by a msgpack payload.
package wire

import (
	"errors"
	"fmt"
)

// Encoding selects the live-channel wire format.
type Encoding string

const (
	// EncodingJSON sends JSON documents in text messages. Default.
	EncodingJSON Encoding = "json"
	// EncodingMsgpack sends length-prefixed msgpack in binary messages.
	EncodingMsgpack Encoding = "msgpack"
)

// Size constants.
const (
	// MaxMessageSize is the default upper bound on a buffered message (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024
	// LengthPrefixSize is the size of the msgpack length prefix in bytes.
	LengthPrefixSize = 4
)

// ParseEncoding parses an encoding name. Empty selects json.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown wire encoding %q (must be json or msgpack)", s)
	}
}

// Binary reports whether messages of this encoding travel as binary
// websocket messages.
func (e Encoding) Binary() bool {
	return e == EncodingMsgpack
}

// FrameErrorKind classifies framing and decoding errors.
type FrameErrorKind int

const (
	// FrameErrorTooLarge indicates the buffer grew past its bound.
	FrameErrorTooLarge FrameErrorKind = iota
	// FrameErrorDecode indicates bytes that cannot form a valid message.
	FrameErrorDecode
)

// String returns the kind name.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is a *FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == kind
	}
	return false
}

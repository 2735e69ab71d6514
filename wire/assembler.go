package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Assembler reassembles fragments into complete logical messages.
// An Assembler is not safe for concurrent use; the transport owns one per
// connection identity.
type Assembler interface {
	// Append adds a fragment and returns every message it completes, in
	// order. On error the buffer has already been discarded.
	Append(fragment []byte) ([][]byte, error)
	// Reset discards any buffered bytes.
	Reset()
	// Buffered returns the number of bytes waiting for completion.
	Buffered() int
}

// NewAssembler returns an assembler for enc. A maxSize <= 0 selects
// MaxMessageSize.
func NewAssembler(enc Encoding, maxSize int) Assembler {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	if enc == EncodingMsgpack {
		return &msgpackAssembler{max: maxSize}
	}
	return &jsonAssembler{max: maxSize}
}

type jsonAssembler struct {
	buf []byte
	max int
}

func (a *jsonAssembler) Append(fragment []byte) ([][]byte, error) {
	if len(a.buf)+len(fragment) > a.max {
		size := len(a.buf) + len(fragment)
		a.Reset()
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("buffered message size %d exceeds maximum %d", size, a.max),
		}
	}
	a.buf = append(a.buf, fragment...)

	trimmed := bytes.TrimSpace(a.buf)
	if len(trimmed) == 0 {
		a.Reset()
		return nil, nil
	}
	if first := trimmed[0]; first != '{' && first != '[' {
		a.Reset()
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("message starts with %q, want object or array", first),
		}
	}
	// Objects and arrays can only become valid on their closing byte.
	if last := trimmed[len(trimmed)-1]; last != '}' && last != ']' {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, nil
	}

	msg := bytes.Clone(trimmed)
	a.Reset()
	return [][]byte{msg}, nil
}

func (a *jsonAssembler) Reset() {
	a.buf = a.buf[:0]
}

func (a *jsonAssembler) Buffered() int {
	return len(a.buf)
}

type msgpackAssembler struct {
	buf []byte
	max int
}

func (a *msgpackAssembler) Append(fragment []byte) ([][]byte, error) {
	if len(a.buf)+len(fragment) > a.max+LengthPrefixSize {
		size := len(a.buf) + len(fragment)
		a.Reset()
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("buffered frame size %d exceeds maximum %d", size, a.max+LengthPrefixSize),
		}
	}
	a.buf = append(a.buf, fragment...)

	var out [][]byte
	for len(a.buf) >= LengthPrefixSize {
		size := binary.BigEndian.Uint32(a.buf[:LengthPrefixSize])
		if uint64(size) > uint64(a.max) {
			a.Reset()
			return out, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, a.max),
			}
		}
		end := LengthPrefixSize + int(size)
		if len(a.buf) < end {
			break
		}
		out = append(out, bytes.Clone(a.buf[LengthPrefixSize:end]))
		a.buf = a.buf[end:]
	}
	if len(a.buf) == 0 {
		a.buf = nil
	}
	return out, nil
}

func (a *msgpackAssembler) Reset() {
	a.buf = nil
}

func (a *msgpackAssembler) Buffered() int {
	return len(a.buf)
}

// Split cuts payload into fragments of at most size bytes. A size <= 0
// returns the payload as a single fragment.
func Split(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) <= size {
		return [][]byte{payload}
	}
	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for start := 0; start < len(payload); start += size {
		end := min(start+size, len(payload))
		out = append(out, payload[start:end])
	}
	return out
}

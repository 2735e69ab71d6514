package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/spotlight/types"
)

// envelopeProbe distinguishes an absent campaigns field from an empty one.
type envelopeProbe struct {
	MessageID string            `json:"message_id" msgpack:"message_id"`
	RequestID string            `json:"request_id" msgpack:"request_id"`
	Campaigns *[]types.Campaign `json:"campaigns" msgpack:"campaigns"`
}

// Encode marshals v as one complete message of the given encoding.
// msgpack messages carry their length prefix.
func Encode(enc Encoding, v any) ([]byte, error) {
	if enc != EncodingMsgpack {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json message: %w", err)
		}
		return data, nil
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode msgpack message: %w", err)
	}
	if len(payload) > MaxMessageSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxMessageSize),
		}
	}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame, nil
}

func unmarshal(enc Encoding, payload []byte, v any) error {
	if enc == EncodingMsgpack {
		return msgpack.Unmarshal(payload, v)
	}
	return json.Unmarshal(payload, v)
}

// isArray reports whether the payload's top-level value is an array.
func isArray(enc Encoding, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	if enc != EncodingMsgpack {
		return bytes.TrimSpace(payload)[0] == '['
	}
	c := payload[0]
	return (c >= 0x90 && c <= 0x9f) || c == 0xdc || c == 0xdd
}

// DecodeEnvelope decodes one complete message (as produced by an
// Assembler) into an Envelope. A bare campaign array is accepted as an
// envelope without ids. An object without a campaigns field is a decode
// error.
func DecodeEnvelope(enc Encoding, payload []byte) (*types.Envelope, error) {
	if isArray(enc, payload) {
		var campaigns []types.Campaign
		if err := unmarshal(enc, payload, &campaigns); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode campaign array", Err: err}
		}
		if campaigns == nil {
			campaigns = []types.Campaign{}
		}
		return &types.Envelope{Campaigns: campaigns}, nil
	}

	var probe envelopeProbe
	if err := unmarshal(enc, payload, &probe); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode envelope", Err: err}
	}
	if probe.Campaigns == nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "envelope has no campaigns field"}
	}
	campaigns := *probe.Campaigns
	if campaigns == nil {
		campaigns = []types.Campaign{}
	}
	return &types.Envelope{
		MessageID: probe.MessageID,
		RequestID: probe.RequestID,
		Campaigns: campaigns,
	}, nil
}

// PeekMessageID returns the message_id of an envelope, or "" when the
// message has none or cannot be decoded.
func PeekMessageID(enc Encoding, payload []byte) string {
	if isArray(enc, payload) {
		return ""
	}
	var probe struct {
		MessageID string `json:"message_id" msgpack:"message_id"`
	}
	if err := unmarshal(enc, payload, &probe); err != nil {
		return ""
	}
	return probe.MessageID
}

// DecodeFetchFrame decodes an outbound fetch frame. Used by servers.
func DecodeFetchFrame(enc Encoding, payload []byte) (*types.FetchFrame, error) {
	var frame types.FetchFrame
	if err := unmarshal(enc, payload, &frame); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode fetch frame", Err: err}
	}
	if frame.Type != types.FetchFrameType {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unexpected frame type %q", frame.Type)}
	}
	return &frame, nil
}

package types

import "time"

// HandshakeRequest is sent upstream to obtain a live-channel descriptor.
type HandshakeRequest struct {
	ScreenName string         `json:"screen_name"`
	UserID     string         `json:"user_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ConnectionDescriptor is the short-lived answer to a handshake.
type ConnectionDescriptor struct {
	// Endpoint is the websocket URL of the live channel.
	Endpoint string `json:"url"`
	// SessionToken authorizes this one live-channel session.
	SessionToken string `json:"token"`
	// ExpiresAt is when the descriptor stops being usable. Zero means unknown.
	ExpiresAt time.Time `json:"expires_at"`
	// ScreenCapture reports whether auxiliary screen capture is enabled.
	ScreenCapture bool `json:"screen_capture_enabled"`
}

// Expired reports whether the descriptor is past its expiry at now.
func (d *ConnectionDescriptor) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// FetchFrameType is the discriminator of outbound fetch frames.
const FetchFrameType = "fetch"

// FetchFrame is written on the live channel right after it is established,
// tagging the fetch with its request id.
type FetchFrame struct {
	Type        string         `json:"type" msgpack:"type"`
	WireVersion string         `json:"wire_version" msgpack:"wire_version"`
	RequestID   string         `json:"request_id" msgpack:"request_id"`
	ScreenName  string         `json:"screen_name" msgpack:"screen_name"`
	UserID      string         `json:"user_id" msgpack:"user_id"`
	Attributes  map[string]any `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// Package transport owns the single live websocket connection of an engine.
//
// Every connect mints a fresh connection identity. The receive loop and the
// fragment handler capture the identity they were started for and become
// no-ops as soon as it is no longer the live one, so bytes from a socket that
// is being torn down never reach the message buffer of its replacement.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/justapithecus/spotlight/iox"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/metrics"
	"github.com/justapithecus/spotlight/wire"
)

// DefaultSettleDelay is the pause between tearing down a connection and
// dialing its replacement.
const DefaultSettleDelay = 50 * time.Millisecond

const closeGracePeriod = time.Second

var (
	// ErrMalformedEndpoint is returned by Connect for an unusable endpoint.
	ErrMalformedEndpoint = errors.New("malformed endpoint")
	// ErrSuperseded is returned by Connect when another connect or a
	// disconnect happened while dialing.
	ErrSuperseded = errors.New("connection superseded")
	// ErrNotConnected is returned by Send when no connection is live.
	ErrNotConnected = errors.New("not connected")
)

// Credentials authorize a live-channel connection.
type Credentials struct {
	// Bearer is sent as the Authorization header.
	Bearer string
	// SessionToken is the handshake token, sent as the token query parameter.
	SessionToken string
}

// Handler receives each complete logical message together with the identity
// of the connection it arrived on.
type Handler func(identity string, msg []byte)

// Options configures a Conn. Zero values select defaults; a negative
// SettleDelay disables the pause.
type Options struct {
	Encoding           wire.Encoding
	MaxMessageSize     int
	SettleDelay        time.Duration
	SuppressDuplicates bool
	Dialer             *websocket.Dialer
	Logger             *log.Logger
	Metrics            *metrics.Collector
}

// Conn is a single live websocket connection with versioned identity.
// Safe for concurrent use.
type Conn struct {
	enc         wire.Encoding
	maxSize     int
	settleDelay time.Duration
	dedupe      bool
	dialer      *websocket.Dialer
	logger      *log.Logger
	metrics     *metrics.Collector

	mu            sync.Mutex
	live          string
	ws            *websocket.Conn
	handler       Handler
	assembler     wire.Assembler
	lastMessageID string

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// New creates a disconnected Conn.
func New(opts Options) *Conn {
	c := &Conn{
		enc:         opts.Encoding,
		maxSize:     opts.MaxMessageSize,
		settleDelay: opts.SettleDelay,
		dedupe:      opts.SuppressDuplicates,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if c.enc == "" {
		c.enc = wire.EncodingJSON
	}
	if c.maxSize <= 0 {
		c.maxSize = wire.MaxMessageSize
	}
	switch {
	case c.settleDelay == 0:
		c.settleDelay = DefaultSettleDelay
	case c.settleDelay < 0:
		c.settleDelay = 0
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	c.assembler = wire.NewAssembler(c.enc, c.maxSize)
	return c
}

// Encoding returns the wire encoding of this connection.
func (c *Conn) Encoding() wire.Encoding {
	return c.enc
}

// ParseEndpoint validates a live-channel endpoint.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q (must be ws or wss)", ErrMalformedEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrMalformedEndpoint)
	}
	return u, nil
}

// Connect tears down any existing or in-progress connection, waits the
// settle delay and dials endpoint. It returns the identity of the new
// connection. onMessage is invoked for every complete message received on
// it until the identity stops being live.
func (c *Conn) Connect(ctx context.Context, endpoint string, creds Credentials, onMessage Handler) (string, error) {
	c.Disconnect()

	if c.settleDelay > 0 {
		timer := time.NewTimer(c.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	u, err := ParseEndpoint(endpoint)
	if err != nil {
		c.metrics.IncConnectFailed()
		return "", err
	}
	if creds.SessionToken != "" {
		q := u.Query()
		q.Set("token", creds.SessionToken)
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if creds.Bearer != "" {
		header.Set("Authorization", "Bearer "+creds.Bearer)
	}

	identity := uuid.NewString()
	c.mu.Lock()
	c.live = identity
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		iox.DiscardClose(resp.Body)
	}
	if err != nil {
		c.mu.Lock()
		if c.live == identity {
			c.live = ""
		}
		c.mu.Unlock()
		c.metrics.IncConnectFailed()
		return "", fmt.Errorf("dial live channel: %w", err)
	}

	c.mu.Lock()
	if c.live != identity {
		c.mu.Unlock()
		iox.DiscardClose(ws)
		c.metrics.IncConnectSuperseded()
		c.logger.Debug("connection superseded while dialing", map[string]any{"identity": identity})
		return "", ErrSuperseded
	}
	c.ws = ws
	c.handler = onMessage
	c.assembler.Reset()
	c.lastMessageID = ""
	c.mu.Unlock()

	c.metrics.IncConnectSucceeded()
	c.logger.Debug("live channel connected", map[string]any{
		"identity": identity,
		"host":     u.Host,
	})

	go c.receive(identity, ws)
	return identity, nil
}

// Disconnect clears the live identity, then closes the socket. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.detachLocked()
	c.mu.Unlock()
	c.closeSocket(ws)
}

// Release disconnects only if identity is still the live connection.
func (c *Conn) Release(identity string) {
	c.mu.Lock()
	if identity == "" || c.live != identity {
		c.mu.Unlock()
		return
	}
	ws := c.detachLocked()
	c.mu.Unlock()
	c.closeSocket(ws)
}

// Identity returns the live connection identity, or "" when disconnected.
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// IsLive reports whether identity is the live connection.
func (c *Conn) IsLive(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return identity != "" && c.live == identity
}

// Send writes payload as one complete message on the live connection.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	msgType := websocket.TextMessage
	if c.enc.Binary() {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// No deadline leaves the zero time, which clears any previous one.
	deadline, _ := ctx.Deadline()
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ws.WriteMessage(msgType, payload); err != nil {
		return fmt.Errorf("write live channel: %w", err)
	}
	return nil
}

// detachLocked clears all per-connection state. Caller holds c.mu.
func (c *Conn) detachLocked() *websocket.Conn {
	ws := c.ws
	c.live = ""
	c.ws = nil
	c.handler = nil
	c.assembler.Reset()
	c.lastMessageID = ""
	return ws
}

func (c *Conn) closeSocket(ws *websocket.Conn) {
	if ws == nil {
		return
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	c.writeMu.Unlock()
	iox.DiscardClose(ws)
}

func (c *Conn) receive(identity string, ws *websocket.Conn) {
	for c.IsLive(identity) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logReadError(identity, err)
			return
		}
		c.handleFragment(identity, data)
	}
}

func (c *Conn) logReadError(identity string, err error) {
	fields := map[string]any{"identity": identity, "error": err.Error()}
	switch {
	case !c.IsLive(identity):
		c.logger.Debug("receive loop ended after disconnect", fields)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Debug("live channel closed by server", fields)
	default:
		c.logger.Warn("live channel read failed", fields)
	}
}

func (c *Conn) handleFragment(identity string, fragment []byte) {
	c.mu.Lock()
	if c.live != identity {
		c.mu.Unlock()
		c.metrics.IncStaleFrame()
		return
	}

	msgs, err := c.assembler.Append(fragment)
	if err != nil {
		// Messages completed before the error are still delivered.
		c.metrics.IncFrameError()
		c.logger.Warn("discarded live channel buffer", map[string]any{
			"identity": identity,
			"error":    err.Error(),
		})
	}

	deliver := msgs[:0]
	for _, msg := range msgs {
		if c.dedupe {
			if id := wire.PeekMessageID(c.enc, msg); id != "" {
				if id == c.lastMessageID {
					c.metrics.IncDuplicateMessage()
					c.logger.Debug("dropped duplicate message", map[string]any{"message_id": id})
					continue
				}
				c.lastMessageID = id
			}
		}
		deliver = append(deliver, msg)
	}
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return
	}
	for _, msg := range deliver {
		c.metrics.IncMessageDelivered()
		handler(identity, msg)
	}
}

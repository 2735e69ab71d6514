// Package devserver is an in-process stand-in for the campaign upstream.
//
// It serves the handshake endpoint and a websocket live channel that answers
// each fetch frame with the configured campaign catalog. Behavior knobs
// (fragmenting, delays, dropped or malformed replies, duplicates) let tests
// and `spotlight serve` reproduce unreliable upstreams.
package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/justapithecus/spotlight/handshake"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

// LivePath is the websocket route advertised in handshake descriptors.
const LivePath = "/v1/live/ws"

// DefaultDescriptorTTL is the lifetime of issued descriptors.
const DefaultDescriptorTTL = 5 * time.Minute

// Behavior controls how the live channel answers. It can be changed while
// the server runs.
type Behavior struct {
	// FragmentSize splits replies into chunks of this many bytes. Zero sends
	// each reply as one websocket message.
	FragmentSize int
	// Delay is waited before replying.
	Delay time.Duration
	// Drop suppresses replies entirely.
	Drop bool
	// Malformed replies with bytes that frame correctly but do not decode.
	Malformed bool
	// Duplicate sends every reply twice with the same message id.
	Duplicate bool
	// Bare replies with a bare campaign array, without ids.
	Bare bool
	// Unauthorized makes the handshake answer 401.
	Unauthorized bool
}

// Options configures a Server.
type Options struct {
	Encoding wire.Encoding
	// Catalog is the full campaign list, for every screen. Replies carry all
	// of it; clients filter by screen.
	Catalog []types.Campaign
	// Bearer, when set, is the only accepted handshake credential.
	Bearer        string
	DescriptorTTL time.Duration
	Behavior      Behavior
	Logger        *log.Logger
}

// Stats counts server activity.
type Stats struct {
	Handshakes  int64
	Connections int64
	Fetches     int64
	Replies     int64
}

// Server is the mock upstream. Mount Handler on an http.Server or httptest.
type Server struct {
	enc      wire.Encoding
	bearer   string
	ttl      time.Duration
	logger   *log.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	catalog  []types.Campaign
	behavior Behavior
	sessions map[string]time.Time

	handshakes  atomic.Int64
	connections atomic.Int64
	fetches     atomic.Int64
	replies     atomic.Int64
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		enc:      opts.Encoding,
		bearer:   opts.Bearer,
		ttl:      opts.DescriptorTTL,
		logger:   opts.Logger,
		catalog:  types.CloneCampaigns(opts.Catalog),
		behavior: opts.Behavior,
		sessions: make(map[string]time.Time),
	}
	if s.enc == "" {
		s.enc = wire.EncodingJSON
	}
	if s.ttl <= 0 {
		s.ttl = DefaultDescriptorTTL
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(handshake.Path, s.handleHandshake)
	r.Get(LivePath, s.handleLive)
	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetBehavior replaces the live-channel behavior.
func (s *Server) SetBehavior(b Behavior) {
	s.mu.Lock()
	s.behavior = b
	s.mu.Unlock()
}

// SetCatalog replaces the campaign catalog.
func (s *Server) SetCatalog(c []types.Campaign) {
	s.mu.Lock()
	s.catalog = types.CloneCampaigns(c)
	s.mu.Unlock()
}

// Stats returns activity counters.
func (s *Server) Stats() Stats {
	return Stats{
		Handshakes:  s.handshakes.Load(),
		Connections: s.connections.Load(),
		Fetches:     s.fetches.Load(),
		Replies:     s.replies.Load(),
	}
}

func (s *Server) current() (Behavior, []types.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.behavior, types.CloneCampaigns(s.catalog)
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	s.handshakes.Add(1)
	behavior, _ := s.current()

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if behavior.Unauthorized || (s.bearer != "" && bearer != s.bearer) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req types.HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid handshake request", http.StatusBadRequest)
		return
	}

	token := uuid.NewString()
	expires := time.Now().Add(s.ttl)
	s.mu.Lock()
	s.sessions[token] = expires
	s.mu.Unlock()

	desc := types.ConnectionDescriptor{
		Endpoint:     liveURL(r),
		SessionToken: token,
		ExpiresAt:    expires.UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		s.logger.Warn("failed to write handshake response", map[string]any{"error": err.Error()})
	}
	s.logger.Debug("handshake", map[string]any{
		"screen":  req.ScreenName,
		"user_id": req.UserID,
	})
}

func liveURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + LivePath
}

func (s *Server) validSession(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(s.sessions, token)
		return false
	}
	return true
}

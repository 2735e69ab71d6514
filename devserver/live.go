package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/justapithecus/spotlight/iox"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !s.validSession(r.URL.Query().Get("token")) {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	s.connections.Add(1)
	defer iox.DiscardClose(ws)

	var writeMu sync.Mutex
	asm := wire.NewAssembler(s.enc, wire.MaxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msgs, err := asm.Append(data)
		if err != nil {
			s.logger.Warn("bad frame from client", map[string]any{"error": err.Error()})
		}
		for _, msg := range msgs {
			frame, err := wire.DecodeFetchFrame(s.enc, msg)
			if err != nil {
				s.logger.Warn("ignored client frame", map[string]any{"error": err.Error()})
				continue
			}
			s.fetches.Add(1)
			// Replies run concurrently so a delayed reply never blocks reads.
			go s.reply(ws, &writeMu, frame)
		}
	}
}

func (s *Server) reply(ws *websocket.Conn, writeMu *sync.Mutex, frame *types.FetchFrame) {
	behavior, catalog := s.current()
	if behavior.Drop {
		return
	}
	if behavior.Delay > 0 {
		time.Sleep(behavior.Delay)
	}

	payload, err := s.encodeReply(behavior, catalog, frame)
	if err != nil {
		s.logger.Error("failed to encode reply", map[string]any{"error": err.Error()})
		return
	}

	sends := 1
	if behavior.Duplicate {
		sends = 2
	}
	msgType := websocket.TextMessage
	if s.enc.Binary() {
		msgType = websocket.BinaryMessage
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	for range sends {
		for _, chunk := range wire.Split(payload, behavior.FragmentSize) {
			if err := ws.WriteMessage(msgType, chunk); err != nil {
				s.logger.Debug("reply write failed", map[string]any{"error": err.Error()})
				return
			}
		}
		s.replies.Add(1)
	}
}

func (s *Server) encodeReply(b Behavior, catalog []types.Campaign, frame *types.FetchFrame) ([]byte, error) {
	if b.Malformed {
		if s.enc.Binary() {
			// A correct length prefix around a reserved msgpack code.
			return []byte{0, 0, 0, 1, 0xc1}, nil
		}
		return []byte(`{"campaigns": "not-a-list"}`), nil
	}
	if catalog == nil {
		catalog = []types.Campaign{}
	}
	if b.Bare {
		return wire.Encode(s.enc, catalog)
	}
	return wire.Encode(s.enc, types.Envelope{
		MessageID: uuid.NewString(),
		RequestID: frame.RequestID,
		Campaigns: catalog,
	})
}

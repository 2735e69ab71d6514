package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justapithecus/spotlight/handshake"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

var catalog = []types.Campaign{
	{ID: "c1", Type: types.CampaignTypeBanner, Screen: "home"},
	{ID: "c2", Type: types.CampaignTypeStory, Screen: "cart"},
}

func start(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func descriptor(t *testing.T, ts *httptest.Server, bearer string) *types.ConnectionDescriptor {
	t.Helper()
	client, err := handshake.NewClient(ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	desc, err := client.Handshake(context.Background(), bearer, types.HandshakeRequest{ScreenName: "home", UserID: "u-1"})
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	return desc
}

func dial(t *testing.T, desc *types.ConnectionDescriptor) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(desc.Endpoint+"?token="+desc.SessionToken, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendFetch(t *testing.T, ws *websocket.Conn, enc wire.Encoding, requestID string) {
	t.Helper()
	data, err := wire.Encode(enc, types.FetchFrame{
		Type:        types.FetchFrameType,
		WireVersion: types.WireVersion,
		RequestID:   requestID,
		ScreenName:  "home",
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	msgType := websocket.TextMessage
	if enc.Binary() {
		msgType = websocket.BinaryMessage
	}
	if err := ws.WriteMessage(msgType, data); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

// readEnvelope reassembles websocket messages until one envelope is complete.
func readEnvelope(t *testing.T, ws *websocket.Conn, enc wire.Encoding) (*types.Envelope, int) {
	t.Helper()
	asm := wire.NewAssembler(enc, 0)
	reads := 0
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		reads++
		msgs, err := asm.Append(data)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if len(msgs) > 0 {
			env, err := wire.DecodeEnvelope(enc, msgs[0])
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}
			return env, reads
		}
	}
}

func TestHandshake_IssuesLiveDescriptor(t *testing.T) {
	srv, ts := start(t, Options{Catalog: catalog})
	desc := descriptor(t, ts, "any")

	if !strings.HasPrefix(desc.Endpoint, "ws://") || !strings.HasSuffix(desc.Endpoint, LivePath) {
		t.Errorf("Endpoint = %q", desc.Endpoint)
	}
	if desc.SessionToken == "" {
		t.Error("SessionToken is empty")
	}
	if desc.Expired(time.Now()) {
		t.Error("descriptor already expired")
	}
	if srv.Stats().Handshakes != 1 {
		t.Errorf("Handshakes = %d, want 1", srv.Stats().Handshakes)
	}
}

func TestHandshake_BearerEnforced(t *testing.T) {
	_, ts := start(t, Options{Bearer: "secret"})
	client, err := handshake.NewClient(ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = client.Handshake(context.Background(), "wrong", types.HandshakeRequest{ScreenName: "home"})
	se, ok := err.(*handshake.StatusError)
	if !ok || !se.Unauthorized() {
		t.Fatalf("err = %v, want 401 StatusError", err)
	}
	if _, err := client.Handshake(context.Background(), "secret", types.HandshakeRequest{ScreenName: "home"}); err != nil {
		t.Errorf("Handshake with right bearer failed: %v", err)
	}
}

func TestLive_RejectsUnknownToken(t *testing.T) {
	_, ts := start(t, Options{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + LivePath + "?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestLive_RepliesWithCatalog(t *testing.T) {
	for _, enc := range []wire.Encoding{wire.EncodingJSON, wire.EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			srv, ts := start(t, Options{Encoding: enc, Catalog: catalog})
			ws := dial(t, descriptor(t, ts, ""))

			sendFetch(t, ws, enc, "req-1")
			env, _ := readEnvelope(t, ws, enc)

			if env.RequestID != "req-1" {
				t.Errorf("RequestID = %q, want req-1", env.RequestID)
			}
			if env.MessageID == "" {
				t.Error("MessageID is empty")
			}
			if len(env.Campaigns) != 2 {
				t.Errorf("len(Campaigns) = %d, want 2", len(env.Campaigns))
			}
			if st := srv.Stats(); st.Fetches != 1 || st.Connections != 1 {
				t.Errorf("stats = %+v", st)
			}
		})
	}
}

func TestLive_Fragments(t *testing.T) {
	_, ts := start(t, Options{Catalog: catalog, Behavior: Behavior{FragmentSize: 7}})
	ws := dial(t, descriptor(t, ts, ""))

	sendFetch(t, ws, wire.EncodingJSON, "req-1")
	env, reads := readEnvelope(t, ws, wire.EncodingJSON)
	if reads < 2 {
		t.Errorf("reads = %d, want fragmented reply", reads)
	}
	if len(env.Campaigns) != 2 {
		t.Errorf("len(Campaigns) = %d, want 2", len(env.Campaigns))
	}
}

func TestLive_BareArray(t *testing.T) {
	_, ts := start(t, Options{Catalog: catalog, Behavior: Behavior{Bare: true}})
	ws := dial(t, descriptor(t, ts, ""))

	sendFetch(t, ws, wire.EncodingJSON, "req-1")
	env, _ := readEnvelope(t, ws, wire.EncodingJSON)
	if env.RequestID != "" || len(env.Campaigns) != 2 {
		t.Errorf("envelope = %+v", env)
	}
}

func TestLive_Malformed(t *testing.T) {
	for _, enc := range []wire.Encoding{wire.EncodingJSON, wire.EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			_, ts := start(t, Options{Encoding: enc, Behavior: Behavior{Malformed: true}})
			ws := dial(t, descriptor(t, ts, ""))
			sendFetch(t, ws, enc, "req-1")

			_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := ws.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}
			msgs, err := wire.NewAssembler(enc, 0).Append(data)
			if err != nil || len(msgs) != 1 {
				t.Fatalf("msgs=%d err=%v", len(msgs), err)
			}
			if _, err := wire.DecodeEnvelope(enc, msgs[0]); !wire.IsFrameError(err, wire.FrameErrorDecode) {
				t.Errorf("DecodeEnvelope err = %v, want decode error", err)
			}
		})
	}
}

func TestLive_DropAndDuplicate(t *testing.T) {
	srv, ts := start(t, Options{Catalog: catalog, Behavior: Behavior{Drop: true}})
	ws := dial(t, descriptor(t, ts, ""))

	sendFetch(t, ws, wire.EncodingJSON, "req-1")
	_ = ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected no reply while dropping")
	}

	srv.SetBehavior(Behavior{Duplicate: true})
	ws2 := dial(t, descriptor(t, ts, ""))
	sendFetch(t, ws2, wire.EncodingJSON, "req-2")
	first, _ := readEnvelope(t, ws2, wire.EncodingJSON)
	second, _ := readEnvelope(t, ws2, wire.EncodingJSON)
	if first.MessageID != second.MessageID {
		t.Errorf("message ids differ: %q vs %q", first.MessageID, second.MessageID)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := start(t, Options{})
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

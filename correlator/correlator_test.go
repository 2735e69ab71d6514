package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/spotlight/auth"
	"github.com/justapithecus/spotlight/handshake"
	"github.com/justapithecus/spotlight/metrics"
	"github.com/justapithecus/spotlight/transport"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.Handler
	identity string
	connects int
	released []string
	respond  func(frame *types.FetchFrame) []string
}

func (f *fakeTransport) Connect(_ context.Context, _ string, _ transport.Credentials, onMessage transport.Handler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.identity = fmt.Sprintf("conn-%d", f.connects)
	f.handler = onMessage
	return f.identity, nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.identity = ""
	f.handler = nil
	f.mu.Unlock()
}

func (f *fakeTransport) Release(identity string) {
	f.mu.Lock()
	f.released = append(f.released, identity)
	if f.identity == identity {
		f.identity = ""
		f.handler = nil
	}
	f.mu.Unlock()
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	frame, err := wire.DecodeFetchFrame(wire.EncodingJSON, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	handler, identity := f.handler, f.identity
	f.mu.Unlock()
	if f.respond == nil || handler == nil {
		return nil
	}
	msgs := f.respond(frame)
	go func() {
		for _, m := range msgs {
			handler(identity, []byte(m))
		}
	}()
	return nil
}

func (f *fakeTransport) Encoding() wire.Encoding { return wire.EncodingJSON }

func (f *fakeTransport) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeHandshaker struct {
	err error
}

func (h *fakeHandshaker) Handshake(context.Context, string, types.HandshakeRequest) (*types.ConnectionDescriptor, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &types.ConnectionDescriptor{Endpoint: "ws://live.test/ws", SessionToken: "sess"}, nil
}

func newTestCorrelator(ft *fakeTransport, hs *fakeHandshaker, m *metrics.Collector) *Correlator {
	return New(Config{
		Transport:   ft,
		Handshaker:  hs,
		Credentials: auth.Static("jwt"),
		Timeout:     time.Second,
		Metrics:     m,
	})
}

func TestFetchCampaigns_DeliversFilteredCampaigns(t *testing.T) {
	ft := &fakeTransport{respond: func(frame *types.FetchFrame) []string {
		return []string{fmt.Sprintf(`{"request_id":%q,"campaigns":[
			{"id":"a","type":"banner","screen":"home"},
			{"id":"b","type":"story","screen":"cart"},
			{"id":"c","type":"modal","screen":" HOME "}]}`, frame.RequestID)}
	}}
	c := newTestCorrelator(ft, &fakeHandshaker{}, nil)

	res := c.FetchCampaigns(context.Background(), Request{Screen: "Home", UserID: "u-1"})

	if res.Outcome != OutcomeDelivered {
		t.Fatalf("Outcome = %s, want delivered (err=%v)", res.Outcome, res.Err)
	}
	if len(res.Campaigns) != 2 || res.Campaigns[0].ID != "a" || res.Campaigns[1].ID != "c" {
		t.Errorf("Campaigns = %+v, want a and c", res.Campaigns)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after completion, want 0", c.Pending())
	}
	if got := ft.releasedIDs(); len(got) != 1 || got[0] != "conn-1" {
		t.Errorf("released = %v, want [conn-1]", got)
	}
}

func TestFetchCampaigns_Timeout(t *testing.T) {
	ft := &fakeTransport{}
	m := metrics.NewCollector("test", "json", "none")
	c := newTestCorrelator(ft, &fakeHandshaker{}, m)

	start := time.Now()
	res := c.FetchCampaigns(context.Background(), Request{Screen: "home", Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %s, want timeout", res.Outcome)
	}
	if res.Campaigns == nil || len(res.Campaigns) != 0 {
		t.Errorf("Campaigns = %v, want empty non-nil", res.Campaigns)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
	if m.Snapshot().FetchOutcomes["timeout"] != 1 {
		t.Errorf("timeout outcome not counted: %v", m.Snapshot().FetchOutcomes)
	}
}

func TestFetchCampaigns_IgnoresOtherRequestIDs(t *testing.T) {
	ft := &fakeTransport{respond: func(*types.FetchFrame) []string {
		return []string{`{"request_id":"someone-else","campaigns":[{"id":"a","type":"banner","screen":"home"}]}`}
	}}
	c := newTestCorrelator(ft, &fakeHandshaker{}, nil)

	res := c.FetchCampaigns(context.Background(), Request{Screen: "home", Timeout: 100 * time.Millisecond})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %s, want timeout", res.Outcome)
	}
}

func TestFetchCampaigns_Malformed(t *testing.T) {
	ft := &fakeTransport{respond: func(*types.FetchFrame) []string {
		return []string{`{"campaigns":"not-a-list"}`}
	}}
	c := newTestCorrelator(ft, &fakeHandshaker{}, nil)

	res := c.FetchCampaigns(context.Background(), Request{Screen: "home"})
	if res.Outcome != OutcomeMalformed {
		t.Fatalf("Outcome = %s, want malformed", res.Outcome)
	}
	if !wire.IsFrameError(res.Err, wire.FrameErrorDecode) {
		t.Errorf("Err = %v, want decode FrameError", res.Err)
	}
	if len(res.Campaigns) != 0 {
		t.Errorf("malformed result carried campaigns: %v", res.Campaigns)
	}
}

func TestFetchCampaigns_DeliveredEmpty(t *testing.T) {
	ft := &fakeTransport{respond: func(*types.FetchFrame) []string {
		return []string{`[]`}
	}}
	c := newTestCorrelator(ft, &fakeHandshaker{}, nil)

	res := c.FetchCampaigns(context.Background(), Request{Screen: "home"})
	if res.Outcome != OutcomeDelivered || len(res.Campaigns) != 0 {
		t.Fatalf("Outcome = %s campaigns=%d, want delivered/0", res.Outcome, len(res.Campaigns))
	}
}

func TestFetchCampaigns_HandshakeFailure(t *testing.T) {
	var refreshes int
	src := auth.NewCached(auth.Func(func(context.Context) (string, error) {
		refreshes++
		return "opaque", nil
	}), 0)
	c := New(Config{
		Transport:   &fakeTransport{},
		Handshaker:  &fakeHandshaker{err: &handshake.StatusError{StatusCode: 401}},
		Credentials: src,
		Timeout:     time.Second,
	})

	res := c.FetchCampaigns(context.Background(), Request{Screen: "home"})
	if res.Outcome != OutcomeTransportError {
		t.Fatalf("Outcome = %s, want transport_error", res.Outcome)
	}
	var statusErr *handshake.StatusError
	if !errors.As(res.Err, &statusErr) {
		t.Errorf("Err = %v, want wrapped *StatusError", res.Err)
	}

	c.FetchCampaigns(context.Background(), Request{Screen: "home"})
	if refreshes != 2 {
		t.Errorf("credential refreshes = %d, want 2 (401 should invalidate)", refreshes)
	}
}

func TestFetchCampaigns_ContextCanceled(t *testing.T) {
	c := newTestCorrelator(&fakeTransport{}, &fakeHandshaker{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res := c.FetchCampaigns(ctx, Request{Screen: "home", Timeout: 5 * time.Second})
	if res.Outcome != OutcomeCanceled {
		t.Fatalf("Outcome = %s, want canceled", res.Outcome)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFetchCampaigns_SupersedesPrevious(t *testing.T) {
	ft := &fakeTransport{respond: func(frame *types.FetchFrame) []string {
		if frame.ScreenName != "cart" {
			return nil
		}
		return []string{`{"campaigns":[{"id":"x","type":"pip","screen":"cart"}]}`}
	}}
	c := newTestCorrelator(ft, &fakeHandshaker{}, nil)

	first := make(chan Result, 1)
	go func() {
		first <- c.FetchCampaigns(context.Background(), Request{Screen: "home", Timeout: 5 * time.Second})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	second := c.FetchCampaigns(context.Background(), Request{Screen: "cart"})
	if second.Outcome != OutcomeDelivered {
		t.Fatalf("second Outcome = %s, want delivered", second.Outcome)
	}

	select {
	case res := <-first:
		if res.Outcome != OutcomeSuperseded {
			t.Errorf("first Outcome = %s, want superseded", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded fetch never returned")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCompletion_ExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	suppressed := 0
	comp := newCompletion(func() {
		mu.Lock()
		suppressed++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	var winners sync.Map
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if comp.Fulfill(Result{RequestID: fmt.Sprint(i), Outcome: OutcomeDelivered}) {
				winners.Store(i, true)
			}
		}()
	}
	wg.Wait()

	count := 0
	winners.Range(func(any, any) bool { count++; return true })
	if count != 1 {
		t.Fatalf("winners = %d, want 1", count)
	}
	if suppressed != 99 {
		t.Errorf("suppressed = %d, want 99", suppressed)
	}
	if !comp.Settled() {
		t.Error("Settled() = false after Fulfill")
	}

	// A completed handle keeps its first value.
	first := comp.Result()
	comp.Fulfill(Result{RequestID: "late", Outcome: OutcomeTimeout})
	if comp.Result().RequestID != first.RequestID {
		t.Error("result changed after a losing Fulfill")
	}
}

func TestFetchCampaigns_DuplicateResponseSuppressed(t *testing.T) {
	msg := `{"campaigns":[{"id":"a","type":"banner","screen":"home"}]}`
	ft := &fakeTransport{respond: func(*types.FetchFrame) []string { return []string{msg, msg} }}
	m := metrics.NewCollector("test", "json", "none")
	c := newTestCorrelator(ft, &fakeHandshaker{}, m)

	res := c.FetchCampaigns(context.Background(), Request{Screen: "home"})
	if res.Outcome != OutcomeDelivered || len(res.Campaigns) != 1 {
		t.Fatalf("Outcome = %s campaigns=%d", res.Outcome, len(res.Campaigns))
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().CompletionsSuppressed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Snapshot().CompletionsSuppressed; got != 1 {
		t.Errorf("CompletionsSuppressed = %d, want 1", got)
	}
	if got := m.Snapshot().FetchOutcomes["delivered"]; got != 1 {
		t.Errorf("delivered outcomes = %d, want 1", got)
	}
}

package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/adapter"
	"github.com/justapithecus/spotlight/devserver"
	"github.com/justapithecus/spotlight/journal"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/types"
)

// runApp runs the CLI with args and returns stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "spotlight",
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			VisitCommand(),
			ServeCommand(),
			ReportCommand(),
			StatsCommand(),
			InspectCommand(),
			VersionCommand("abc123"),
		},
	}
	err := app.Run(append([]string{"spotlight"}, args...))
	return out.String(), err
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(devserver.New(devserver.Options{
		Catalog: devserver.SampleCatalog(),
		Bearer:  "secret",
		Logger:  log.Nop(),
	}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Depends on the runtime environment; only checks the call is safe.
	_ = isStderrTTY()
}

func TestSplitScreens(t *testing.T) {
	got := splitScreens([]string{"home, cart", "", " checkout ,,"})
	want := []string{"home", "cart", "checkout"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitScreens = %v, want %v", got, want)
	}
}

func TestParseMetadata(t *testing.T) {
	got, err := parseMetadata([]string{"slot=top", "first=true", "empty="})
	if err != nil {
		t.Fatalf("parseMetadata: %v", err)
	}
	want := map[string]any{"slot": "top", "first": true, "empty": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseMetadata = %v, want %v", got, want)
	}
	if _, err := parseMetadata([]string{"novalue"}); err == nil {
		t.Error("expected error for missing '='")
	}
	if m, err := parseMetadata(nil); m != nil || err != nil {
		t.Errorf("empty metadata = %v, %v", m, err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Commit != "abc123" {
		t.Errorf("version = %+v", resp)
	}

	if _, err := runApp(t, "version", "--tui"); err == nil {
		t.Error("expected error for --tui on version")
	}
}

func TestVisitCommand_RequiresScreens(t *testing.T) {
	_, err := runApp(t, "visit", "--api-url", "http://localhost:1")
	if err == nil || !strings.Contains(err.Error(), "screen") {
		t.Errorf("err = %v", err)
	}
}

func TestVisitCommand_InvalidConfig(t *testing.T) {
	_, err := runApp(t, "visit", "--encoding", "xml", "home")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("err = %v", err)
	}
}

func TestVisitThenQueryJournal(t *testing.T) {
	srv := upstream(t)
	dir := t.TempDir()
	journalArgs := []string{"--journal-backend", "fs", "--journal-path", dir}

	args := append([]string{"visit", "--api-url", srv.URL, "--token", "secret", "--format", "json",
		"--fetch-timeout", "2s"}, journalArgs...)
	out, err := runApp(t, append(args, "--screen", "cart", "home")...)
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	var rows []VisitRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	// --screen values come before positional screens.
	if rows[0].Screen != "cart" || rows[1].Screen != "home" {
		t.Errorf("visit order = %s, %s", rows[0].Screen, rows[1].Screen)
	}
	for _, r := range rows {
		if r.Phase != "applied" || r.Source != "live" {
			t.Errorf("row = %+v", r)
		}
	}
	if rows[1].Campaigns != 2 {
		t.Errorf("home campaigns = %d, want 2", rows[1].Campaigns)
	}

	out, err = runApp(t, append([]string{"stats", "summary", "--format", "json"}, journalArgs...)...)
	if err != nil {
		t.Fatalf("stats summary: %v", err)
	}
	var sum journal.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if sum.Visits != 2 || sum.ByPhase["applied"] != 2 {
		t.Errorf("summary = %+v", sum)
	}

	out, err = runApp(t, append([]string{"inspect", "visits", "--format", "json", "--screen", "home"}, journalArgs...)...)
	if err != nil {
		t.Fatalf("inspect visits: %v", err)
	}
	var visits []journal.VisitRecord
	if err := json.Unmarshal([]byte(out), &visits); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(visits) != 1 || visits[0].Screen != "home" || visits[0].Campaigns != 2 {
		t.Errorf("visits = %+v", visits)
	}

	out, err = runApp(t, append([]string{"stats", "metrics", "--format", "json"}, journalArgs...)...)
	if err != nil {
		t.Fatalf("stats metrics: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if n, _ := m["navigations"].(float64); n != 2 {
		t.Errorf("navigations = %v", m["navigations"])
	}
}

func TestVisitCommand_Metrics(t *testing.T) {
	srv := upstream(t)
	out, err := runApp(t, "visit", "--api-url", srv.URL, "--token", "secret", "--format", "json", "--metrics", "home")
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if n, _ := m["fetches_started"].(float64); n != 1 {
		t.Errorf("fetches_started = %v", m["fetches_started"])
	}
}

func TestStatsCommand_NoJournal(t *testing.T) {
	_, err := runApp(t, "stats", "summary")
	if err == nil || !strings.Contains(err.Error(), "no journal configured") {
		t.Errorf("err = %v", err)
	}
	_, err = runApp(t, "stats", "summary", "--journal-backend", "memory")
	if err == nil || !strings.Contains(err.Error(), "unsupported journal backend") {
		t.Errorf("err = %v", err)
	}
}

func TestStatsCommand_EmptyJournal(t *testing.T) {
	_, err := runApp(t, "stats", "summary", "--journal-backend", "fs", "--journal-path", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no visits recorded") {
		t.Errorf("err = %v", err)
	}
}

func TestInspectCommand_BadDay(t *testing.T) {
	_, err := runApp(t, "inspect", "visits", "--day", "yesterday", "--journal-backend", "fs", "--journal-path", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "--day") {
		t.Errorf("err = %v", err)
	}
}

func TestReportCommand_Webhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []adapter.InteractionEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev adapter.InteractionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	out, err := runApp(t, "report", "--format", "json",
		"--api-url", "http://upstream.invalid", "--user", "u-1",
		"--adapter", "webhook", "--adapter-url", hook.URL,
		"--event", "click", "--campaign", "welcome-banner", "--screen", "home", "--meta", "slot=top")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var res ReportResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != "published" || res.Adapter != "webhook" {
		t.Errorf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("webhook received %d events", len(received))
	}
	ev := received[0]
	if ev.EventName != "click" || ev.CampaignID != "welcome-banner" || ev.UserID != "u-1" ||
		ev.WireVersion != types.WireVersion || ev.Metadata["slot"] != "top" || ev.InstanceID == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestReportCommand_NoAdapter(t *testing.T) {
	_, err := runApp(t, "report", "--api-url", "http://upstream.invalid", "--event", "click", "--campaign", "c1")
	if err == nil || !strings.Contains(err.Error(), "no adapter configured") {
		t.Errorf("err = %v", err)
	}
}

func TestServeOptions(t *testing.T) {
	var got *cli.Context
	app := &cli.App{
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{{
			Name:   "serve",
			Flags:  ServeCommand().Flags,
			Action: func(c *cli.Context) error { got = c; return nil },
		}},
	}
	if err := app.Run([]string{"spotlight", "serve", "--encoding", "msgpack", "--fragment", "16", "--duplicate", "--token", "s"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	opts, err := serveOptions(got)
	if err != nil {
		t.Fatalf("serveOptions: %v", err)
	}
	if opts.Encoding != "msgpack" || opts.Bearer != "s" || opts.Behavior.FragmentSize != 16 || !opts.Behavior.Duplicate {
		t.Errorf("options = %+v", opts)
	}
	if len(opts.Catalog) != len(devserver.SampleCatalog()) {
		t.Errorf("catalog = %d campaigns", len(opts.Catalog))
	}
}

package devserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml list", "c.yaml", "- id: b1\n  type: banner\n  screen: Home\n  trigger_event: opened\n  payload:\n    title: hi\n- id: t1\n  type: tooltip\n  screen: cart\n"},
		{"yaml wrapped", "c.yaml", "campaigns:\n  - {id: b1, type: banner, screen: Home, trigger_event: opened, payload: {title: hi}}\n  - {id: t1, type: tooltip, screen: cart}\n"},
		{"json", "c.json", `[{"id":"b1","type":"banner","screen":"Home","trigger_event":"opened","payload":{"title":"hi"}},{"id":"t1","type":"tooltip","screen":"cart"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadCatalog(writeCatalog(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadCatalog: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d campaigns", len(got))
			}
			if got[0].ID != "b1" || got[0].Screen != "Home" || got[0].TriggerEvent != "opened" || got[0].Payload["title"] != "hi" {
				t.Errorf("first campaign = %+v", got[0])
			}
		})
	}
}

func TestLoadCatalog_Errors(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	_, err := LoadCatalog(writeCatalog(t, "c.yaml", "- type: banner\n"))
	if err == nil || !strings.Contains(err.Error(), "needs an id") {
		t.Errorf("err = %v", err)
	}
	got, err := LoadCatalog(writeCatalog(t, "c.yaml", ""))
	if err != nil || len(got) != 0 {
		t.Errorf("empty catalog = %v, %v", got, err)
	}
}

func TestSampleCatalog_CoversScreens(t *testing.T) {
	screens := map[string]bool{}
	for _, c := range SampleCatalog() {
		screens[c.Screen] = true
	}
	for _, s := range []string{"home", "cart", "checkout"} {
		if !screens[s] {
			t.Errorf("sample catalog has no %s campaign", s)
		}
	}
}

package types

import (
	"testing"
	"time"
)

func TestNormalizeScreen(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Home", "home"},
		{"  Home  ", "home"},
		{"Product   Detail", "product detail"},
		{"\tCHECKOUT\n", "checkout"},
		{"Straße", "strasse"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeScreen(tt.in); got != tt.want {
			t.Errorf("NormalizeScreen(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameScreen(t *testing.T) {
	if !SameScreen(" home", "HOME ") {
		t.Error("expected home and HOME to match")
	}
	if SameScreen("home", "homepage") {
		t.Error("expected home and homepage to differ")
	}
}

func TestFilterForScreen(t *testing.T) {
	campaigns := []Campaign{
		{ID: "c1", Type: CampaignTypeBanner, Screen: "Home"},
		{ID: "c2", Type: CampaignTypeTooltip, Screen: "cart"},
		{ID: "c3", Type: CampaignTypeStory, Screen: " home "},
	}

	got := FilterForScreen(campaigns, "HOME")
	if len(got) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(got))
	}
	if got[0].ID != "c1" || got[1].ID != "c3" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestFilterForScreen_NoMatchIsEmptyNotNil(t *testing.T) {
	got := FilterForScreen([]Campaign{{ID: "c1", Screen: "cart"}}, "home")
	if got == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(got) != 0 {
		t.Errorf("expected no campaigns, got %d", len(got))
	}
}

func TestCloneCampaigns_Independent(t *testing.T) {
	orig := []Campaign{{ID: "c1"}}
	dup := CloneCampaigns(orig)
	dup[0].ID = "changed"
	if orig[0].ID != "c1" {
		t.Error("clone shares backing array with original")
	}
	if CloneCampaigns(nil) != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestConnectionDescriptor_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := &ConnectionDescriptor{}
	if d.Expired(now) {
		t.Error("zero expiry should never be expired")
	}

	d.ExpiresAt = now.Add(time.Minute)
	if d.Expired(now) {
		t.Error("future expiry reported as expired")
	}

	d.ExpiresAt = now
	if !d.Expired(now) {
		t.Error("expiry at now should be expired")
	}
}

package devserver

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/spotlight/types"
)

// LoadCatalog reads a campaign list from a YAML or JSON file. Keys use the
// wire names (id, type, screen, trigger_event, payload).
func LoadCatalog(path string) ([]types.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	// YAML is a superset of JSON; decode generically and let the json tags
	// on Campaign do the mapping.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if raw == nil {
		return []types.Campaign{}, nil
	}
	if m, ok := raw.(map[string]any); ok {
		raw = m["campaigns"]
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	var campaigns []types.Campaign
	if err := json.Unmarshal(body, &campaigns); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, c := range campaigns {
		if c.ID == "" || c.Screen == "" {
			return nil, fmt.Errorf("catalog %s: campaign %d needs an id and a screen", path, i)
		}
	}
	return campaigns, nil
}

// SampleCatalog is served when no catalog file is given.
func SampleCatalog() []types.Campaign {
	return []types.Campaign{
		{ID: "welcome-banner", Type: types.CampaignTypeBanner, Screen: "home", Payload: map[string]any{"title": "Welcome back"}},
		{ID: "spring-stories", Type: types.CampaignTypeStory, Screen: "home"},
		{ID: "cart-hint", Type: types.CampaignTypeTooltip, Screen: "cart", TriggerEvent: "cart_opened"},
		{ID: "checkout-survey", Type: types.CampaignTypeSurvey, Screen: "checkout"},
		{ID: "profile-widget", Type: types.CampaignTypeWidget, Screen: "profile"},
	}
}

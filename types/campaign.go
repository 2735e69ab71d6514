package types

// CampaignType is the discriminator carried by every campaign record.
type CampaignType string

// Campaign type constants. Unknown types are carried through untouched;
// rendering collaborators decide what to do with them.
const (
	CampaignTypeBanner  CampaignType = "banner"
	CampaignTypeStory   CampaignType = "story"
	CampaignTypeTooltip CampaignType = "tooltip"
	CampaignTypeWidget  CampaignType = "widget"
	CampaignTypeModal   CampaignType = "modal"
	CampaignTypeFloater CampaignType = "floater"
	CampaignTypePIP     CampaignType = "pip"
	CampaignTypeSurvey  CampaignType = "survey"
)

// Campaign is a single campaign record delivered over the live channel.
// Only the fields needed for correlation and filtering are typed; the
// type-specific body stays opaque in Payload.
type Campaign struct {
	// ID is the campaign identifier used for interaction reporting.
	ID string `json:"id" msgpack:"id"`
	// Type is the campaign discriminator.
	Type CampaignType `json:"type" msgpack:"type"`
	// Screen is the target screen name as sent by the server.
	Screen string `json:"screen" msgpack:"screen"`
	// TriggerEvent is the optional event name that shows the campaign.
	TriggerEvent string `json:"trigger_event,omitempty" msgpack:"trigger_event,omitempty"`
	// Payload is the type-specific body.
	Payload map[string]any `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Envelope is one complete logical live-channel message.
type Envelope struct {
	// MessageID identifies the message for duplicate suppression (optional).
	MessageID string `json:"message_id,omitempty" msgpack:"message_id,omitempty"`
	// RequestID echoes the fetch frame's request id when the server tags replies (optional).
	RequestID string `json:"request_id,omitempty" msgpack:"request_id,omitempty"`
	// Campaigns holds zero or more campaign records for any number of screens.
	Campaigns []Campaign `json:"campaigns" msgpack:"campaigns"`
}

// FilterForScreen returns the campaigns whose target screen matches screen.
// Matching ignores case and surrounding whitespace. The result is never nil.
func FilterForScreen(campaigns []Campaign, screen string) []Campaign {
	want := NormalizeScreen(screen)
	out := make([]Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if NormalizeScreen(c.Screen) == want {
			out = append(out, c)
		}
	}
	return out
}

// CloneCampaigns returns a shallow copy of the slice. Payload maps are shared.
func CloneCampaigns(campaigns []Campaign) []Campaign {
	if campaigns == nil {
		return nil
	}
	dup := make([]Campaign, len(campaigns))
	copy(dup, campaigns)
	return dup
}

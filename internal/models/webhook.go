package models

// Webhook integration kinds. General webhooks are stored rows with their
// own enabled flag; chat integrations live in project settings.
const (
	WebHookTypeGeneral = "general"
	WebHookTypeChat    = "chat"
)

// WebHook is a registered outbound integration endpoint.
type WebHook struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	ProjectID      string   `json:"project_id"`
	URL            string   `json:"url"`
	EventTypes     []string `json:"event_types,omitempty"`
	IsEnabled      bool     `json:"is_enabled"`
}

// WebHookNotification is a queued delivery unit.
type WebHookNotification struct {
	URL            string         `json:"url"`
	Data           map[string]any `json:"data"`
	OrganizationID string         `json:"organization_id"`
	ProjectID      string         `json:"project_id"`
	Type           string         `json:"type"`
	WebHookID      string         `json:"web_hook_id,omitempty"`
}

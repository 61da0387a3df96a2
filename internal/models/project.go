package models

// NotificationSettings controls which event classes a user is notified
// about for a project.
type NotificationSettings struct {
	ReportNewErrors      bool `json:"report_new_errors"`
	ReportCriticalErrors bool `json:"report_critical_errors"`
	ReportRegressions    bool `json:"report_regressions"`
	ReportNewEvents      bool `json:"report_new_events"`
}

// Project is a tenant project. User namespaces and common methods feed the
// signature fingerprinter; chat webhook URL backs the chat integration.
type Project struct {
	ID                   string                          `json:"id"`
	OrganizationID       string                          `json:"organization_id"`
	Name                 string                          `json:"name"`
	UserNamespaces       []string                        `json:"user_namespaces,omitempty"`
	CommonMethods        []string                        `json:"common_methods,omitempty"`
	ChatWebhookURL       string                          `json:"chat_webhook_url,omitempty"`
	NotificationSettings map[string]NotificationSettings `json:"notification_settings,omitempty"`
}

// Organization owns projects and carries the billing plan limits.
type Organization struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	PlanID            string `json:"plan_id"`
	MaxEventsPerMonth int    `json:"max_events_per_month"`
	RetentionDays     int    `json:"retention_days"`
	IsSuspended       bool   `json:"is_suspended"`
}

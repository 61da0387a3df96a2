package models

// EventPost references an uploaded event batch awaiting parsing. The raw
// body lives in blob storage; only this envelope travels on the queue.
type EventPost struct {
	FilePath        string `json:"file_path"`
	ProjectID       string `json:"project_id"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	CharSet         string `json:"char_set,omitempty"`
	APIVersion      string `json:"api_version,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
}

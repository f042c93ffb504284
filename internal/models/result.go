// Package models defines request and response types shared by the HTTP API and the CLI.
package models

// RelatedNote is a single similarity hit.
type RelatedNote struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// RelatedResponse is the response for a related-notes request.
type RelatedResponse struct {
	NoteID    string         `json:"note_id,omitempty"`
	Results   []*RelatedNote `json:"results"`
	Total     int            `json:"total"`
	QueryTime int64          `json:"query_time_ms"`
}

// NoteResponse reports what happened to a single note.
type NoteResponse struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome,omitempty"`
	Removed *bool  `json:"removed,omitempty"`
	Renamed *bool  `json:"renamed,omitempty"`
}

// StatusResponse describes the index and its configuration.
type StatusResponse struct {
	Version       int     `json:"version"`
	Notes         int     `json:"notes"`
	Backend       string  `json:"backend"`
	Provider      string  `json:"provider"`
	Dimensions    int     `json:"dimensions"`
	VaultPath     string  `json:"vault_path"`
	DiskUsage     int64   `json:"disk_usage_bytes"`
	UpdatePending bool    `json:"update_pending"`
	MinScore      float64 `json:"min_score"`
}

package model

import "time"

// Analytics event types.
const (
	EventComponentExport = "component_export"
	EventComponentView   = "component_view"
	EventSearch          = "search"
	EventSuggestion      = "suggestion"
	EventJobCompleted    = "job_completed"
	EventBackupCreated   = "backup_created"
)

// AnalyticsEvent is one audit row. Writes are best-effort.
type AnalyticsEvent struct {
	ID          string                 `json:"id"`
	EventType   string                 `json:"event_type"`
	ComponentID string                 `json:"component_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// EventCount is an aggregated count for one event type.
type EventCount struct {
	EventType string `json:"event_type" db:"event_type"`
	Count     int64  `json:"count" db:"count"`
}

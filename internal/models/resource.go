package models

import (
	"time"

	"github.com/google/uuid"
)

type ResourceType string

const (
	ResourceVideo    ResourceType = "video"
	ResourceDocument ResourceType = "document"
)

func (t ResourceType) Valid() bool {
	return t == ResourceVideo || t == ResourceDocument
}

// Resource describes what the viewer mounted. It is read-only input.
type Resource struct {
	ID           uuid.UUID    `json:"id"`
	Type         ResourceType `json:"type"`
	IsExternal   bool         `json:"is_external"`
	DurationHint *float64     `json:"duration_hint,omitempty"` // seconds
}

// Kind is the metrics/log label for the resource: native_video, external_video or document.
func (r Resource) Kind() string {
	switch {
	case r.Type == ResourceDocument:
		return "document"
	case r.IsExternal:
		return "external_video"
	default:
		return "native_video"
	}
}

// Learner is the optional context sent with startAccess.
type Learner struct {
	Grade     string `json:"grade,omitempty"`
	ClassName string `json:"class_name,omitempty"`
}

// ProgressDelta is the unit of watched time sent to the analytics backend.
type ProgressDelta struct {
	ResourceID           uuid.UUID `json:"resource_id"`
	SessionIndex         int       `json:"session_index"`
	PlayedDeltaSeconds   float64   `json:"played_delta_seconds"`
	LastPositionSeconds  float64   `json:"last_position_seconds"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	Completed            bool      `json:"completed"`
}

// Session lifecycle payloads published to user_updates:<user_id>.
type SessionEvent struct {
	ResourceID   uuid.UUID  `json:"resource_id"`
	SessionIndex int        `json:"session_index"`
	Kind         string     `json:"kind"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

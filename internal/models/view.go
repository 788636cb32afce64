package models

import (
	"github.com/google/uuid"
)

// Viewer → gateway signal types.
const (
	SignalMount      = "mount"
	SignalPlay       = "play"
	SignalPause      = "pause"
	SignalTimeUpdate = "timeupdate"
	SignalSeeked     = "seeked"
	SignalEnded      = "ended"
	SignalVisibility = "visibility"
	SignalFocus      = "focus"
	SignalBlur       = "blur"
	SignalReopen     = "reopen"
	SignalUnmount    = "unmount"
)

// ViewSignal is one frame sent by the viewer page. Only the fields relevant to
// Type are read.
type ViewSignal struct {
	Type string `json:"type"`

	// mount
	Resource *Resource `json:"resource,omitempty"`
	Learner  *Learner  `json:"learner,omitempty"`
	Focused  *bool     `json:"focused,omitempty"`

	// mount, visibility
	Visible *bool `json:"visible,omitempty"`

	// media events
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// Gateway → viewer frame types.
const (
	FrameSession = "session"
	FrameClosed  = "closed"
	FrameError   = "error"
)

type SessionFrame struct {
	ResourceID   uuid.UUID `json:"resource_id"`
	SessionIndex int       `json:"session_index"`
}

package models

// Request and response bodies for the analytics backend.

type StartAccessRequest struct {
	Grade     string `json:"grade,omitempty"`
	ClassName string `json:"class_name,omitempty"`
}

type StartAccessResponse struct {
	SessionIndex *int `json:"session_index"`
}

type HeartbeatRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

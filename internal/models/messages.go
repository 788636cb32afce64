package models

// WSMessage is the envelope for every frame on the live update channel and
// on the viewer socket.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Live update message types published on user_updates:<user_id>.
const (
	MessageSessionOpened = "session_opened"
	MessageSessionClosed = "session_closed"
)

// SessionUpdate is a decoded live update message.
type SessionUpdate struct {
	Type    string       `json:"type"`
	Payload SessionEvent `json:"payload"`
}

// ErrorFrame answers a viewer frame the gateway could not act on.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Viewer protocol error codes.
const (
	ErrCodeBadFrame      = "BAD_FRAME"
	ErrCodeUnknownSignal = "UNKNOWN_SIGNAL"
	ErrCodeBadResource   = "BAD_RESOURCE"
)

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"engagement-gateway/internal/middleware"
	"engagement-gateway/internal/models"
)

// SessionLister reports the sessions this gateway instance holds open.
type SessionLister interface {
	OpenSessions(userID uuid.UUID) []models.SessionEvent
}

type SessionsHandler struct {
	sessions SessionLister
}

func NewSessionsHandler(sessions SessionLister) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// List returns the caller's open sessions, optionally filtered by
// ?resource_id=.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Missing user", r))
		return
	}

	var filter uuid.UUID
	if raw := r.URL.Query().Get("resource_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Invalid query parameters",
				map[string]string{"resource_id": "must be a UUID"}, r))
			return
		}
		filter = id
	}

	sessions := make([]models.SessionEvent, 0)
	for _, s := range h.sessions.OpenSessions(userID) {
		if filter != uuid.Nil && s.ResourceID != filter {
			continue
		}
		sessions = append(sessions, s)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

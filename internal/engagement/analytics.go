package engagement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"engagement-gateway/internal/models"
)

// AnalyticsClient is the only path to the analytics backend.
//
// StartAccess is request/response because the caller needs the session index.
// The other three are dispatch-and-forget: they return nothing, must not block,
// and swallow their own failures.
type AnalyticsClient interface {
	StartAccess(ctx context.Context, resourceID uuid.UUID, learner models.Learner) (int, error)
	Heartbeat(resourceID uuid.UUID, sessionIndex int, interval time.Duration)
	VideoProgress(delta models.ProgressDelta)
	EndAccess(resourceID uuid.UUID, sessionIndex int)
}

package engagement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"engagement-gateway/internal/models"
)

const (
	callStart     = "start"
	callHeartbeat = "heartbeat"
	callProgress  = "progress"
	callEnd       = "end"
)

type recordedCall struct {
	Kind         string
	ResourceID   uuid.UUID
	SessionIndex int
	Interval     time.Duration
	Delta        models.ProgressDelta
}

// recordingClient records every call in order. StartAccess hands out
// increasing session indexes like the backend does.
type recordingClient struct {
	mu       sync.Mutex
	next     int
	startErr error
	calls    []recordedCall
}

func (r *recordingClient) StartAccess(ctx context.Context, resourceID uuid.UUID, learner models.Learner) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return 0, r.startErr
	}
	r.next++
	r.calls = append(r.calls, recordedCall{Kind: callStart, ResourceID: resourceID, SessionIndex: r.next})
	return r.next, nil
}

func (r *recordingClient) Heartbeat(resourceID uuid.UUID, sessionIndex int, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{Kind: callHeartbeat, ResourceID: resourceID, SessionIndex: sessionIndex, Interval: interval})
}

func (r *recordingClient) VideoProgress(delta models.ProgressDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{Kind: callProgress, ResourceID: delta.ResourceID, SessionIndex: delta.SessionIndex, Delta: delta})
}

func (r *recordingClient) EndAccess(resourceID uuid.UUID, sessionIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{Kind: callEnd, ResourceID: resourceID, SessionIndex: sessionIndex})
}

func (r *recordingClient) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recordingClient) count(kind string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingClient) deltas() []models.ProgressDelta {
	var out []models.ProgressDelta
	for _, c := range r.snapshot() {
		if c.Kind == callProgress {
			out = append(out, c.Delta)
		}
	}
	return out
}

// kinds returns the call sequence without heartbeats.
func (r *recordingClient) kinds() []string {
	var out []string
	for _, c := range r.snapshot() {
		if c.Kind != callHeartbeat {
			out = append(out, c.Kind)
		}
	}
	return out
}

func sumDeltas(ds []models.ProgressDelta) float64 {
	var total float64
	for _, d := range ds {
		total += d.PlayedDeltaSeconds
	}
	return total
}

package engagement

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"engagement-gateway/internal/metrics"
	"engagement-gateway/internal/models"
)

// Progress is a raw observation handed to the Reporter by a tracker.
type Progress struct {
	DeltaSeconds    float64
	PositionSeconds float64
	DurationSeconds float64
	Completed       bool

	// Span is the wall-clock window the tracker vouches for. A report may carry
	// up to max(ceiling, Span); periodic reports leave it zero.
	Span time.Duration
}

// Reporter validates observations and forwards accepted ones as ProgressDelta.
// It keeps no state across calls: each accepted observation is sent exactly once,
// rejected ones are dropped, nothing is retried or clamped.
type Reporter struct {
	client       AnalyticsClient
	resourceID   uuid.UUID
	sessionIndex int
	ceiling      time.Duration
	source       string
	log          zerolog.Logger
}

func NewReporter(client AnalyticsClient, session ResourceSession, ceiling time.Duration, source string, logger zerolog.Logger) *Reporter {
	return &Reporter{
		client:       client,
		resourceID:   session.ResourceID,
		sessionIndex: session.SessionIndex,
		ceiling:      ceiling,
		source:       source,
		log:          logger,
	}
}

// Report forwards p if it is plausible and reports whether it was sent.
func (r *Reporter) Report(p Progress) bool {
	delta := p.DeltaSeconds

	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		metrics.DeltaRejected(r.source, metrics.ReasonInvalid)
		r.log.Debug().Msg("dropping non-finite delta")
		return false
	}
	if delta <= 0 {
		metrics.DeltaRejected(r.source, metrics.ReasonNonPositive)
		return false
	}

	limit := r.ceiling
	if p.Span > limit {
		limit = p.Span
	}
	if delta > limit.Seconds() {
		metrics.DeltaRejected(r.source, metrics.ReasonCeiling)
		r.log.Debug().
			Float64("delta_seconds", delta).
			Dur("limit", limit).
			Msg("dropping delta above ceiling")
		return false
	}

	r.client.VideoProgress(models.ProgressDelta{
		ResourceID:           r.resourceID,
		SessionIndex:         r.sessionIndex,
		PlayedDeltaSeconds:   delta,
		LastPositionSeconds:  finiteOrZero(p.PositionSeconds),
		TotalDurationSeconds: finiteOrZero(p.DurationSeconds),
		Completed:            p.Completed,
	})
	metrics.DeltaSent(r.source, delta)
	return true
}

// Players report NaN duration before metadata loads.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

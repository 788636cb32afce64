package engagement

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"engagement-gateway/internal/metrics"
)

// PlaybackState is the native tracker's state.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePlaying
	StatePaused
	StateEnded
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PlaybackObservation is sampled from the player on every media event.
type PlaybackObservation struct {
	CurrentPosition float64 // seconds
	Duration        float64 // seconds; 0 or NaN before metadata loads
	IsPlaying       bool
}

// rewindTolerance absorbs position jitter some players report between samples.
const rewindTolerance = 0.25

// NativePlaybackTracker instruments a directly controlled video element.
//
// Every report covers the window since the previous report (or the last play)
// and carries min(wall-clock elapsed, position advanced): a seek cannot inflate
// it and neither can a stall. Baselines are reset before the report leaves, so
// consecutive windows never overlap.
type NativePlaybackTracker struct {
	clock    Clock
	cfg      Config
	reporter *Reporter
	log      zerolog.Logger

	mu     sync.Mutex
	state  PlaybackState
	closed bool

	wallBaseline     time.Time
	positionBaseline float64

	lastPosition float64
	lastDuration float64
	lastSampleAt time.Time
}

func NewNativePlaybackTracker(clock Clock, cfg Config, reporter *Reporter, logger zerolog.Logger) *NativePlaybackTracker {
	return &NativePlaybackTracker{
		clock:    clock,
		cfg:      cfg.withDefaults(),
		reporter: reporter,
		log:      logger,
	}
}

func (t *NativePlaybackTracker) State() PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *NativePlaybackTracker) OnPlay(obs PlaybackObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.clock.Now()
	t.sample(obs, now)
	if t.state == StatePlaying {
		return
	}
	t.rebase(obs.CurrentPosition, now)
	t.state = StatePlaying
}

func (t *NativePlaybackTracker) OnTimeUpdate(obs PlaybackObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.clock.Now()
	if t.state != StatePlaying {
		t.sample(obs, now)
		return
	}
	if t.skipSeek(obs, now) {
		return
	}
	t.sample(obs, now)

	wall := now.Sub(t.wallBaseline)
	advanced := obs.CurrentPosition - t.positionBaseline
	if wall < t.cfg.ReportWindow && advanced < t.cfg.ReportPositionStep.Seconds() {
		return
	}
	t.report(obs.CurrentPosition, obs.Duration, now, false, 0)
}

func (t *NativePlaybackTracker) OnPause(obs PlaybackObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.clock.Now()
	if t.state != StatePlaying {
		t.sample(obs, now)
		if t.state != StateEnded {
			t.state = StatePaused
		}
		return
	}
	t.state = StatePaused
	if t.skipSeek(obs, now) {
		return
	}
	t.sample(obs, now)
	// Browsers fire pause right before ended, so the end-of-media pause is the
	// one that has to carry completion.
	t.report(obs.CurrentPosition, obs.Duration, now, t.completed(obs), t.settleSpan(now))
}

func (t *NativePlaybackTracker) OnEnded(obs PlaybackObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.clock.Now()
	wasPlaying := t.state == StatePlaying
	t.state = StateEnded
	if !wasPlaying {
		t.sample(obs, now)
		return
	}
	if t.skipSeek(obs, now) {
		return
	}
	t.sample(obs, now)
	t.report(obs.CurrentPosition, obs.Duration, now, t.completed(obs), t.settleSpan(now))
}

// OnSeeked re-anchors the window at the new position without reporting.
func (t *NativePlaybackTracker) OnSeeked(obs PlaybackObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.clock.Now()
	t.sample(obs, now)
	if t.state == StatePlaying {
		t.rebase(obs.CurrentPosition, now)
	}
}

// Close settles an open playing window from the last sample and stops the
// tracker. Later events are ignored.
func (t *NativePlaybackTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true

	if t.state != StatePlaying {
		return
	}
	now := t.clock.Now()
	t.report(t.lastPosition, t.lastDuration, now, false, t.settleSpan(now))
	t.state = StateIdle
}

// skipSeek detects a jump since the previous sample: any rewind, or a forward
// move that outruns wall-clock time by more than the sanity ceiling. The gap is
// discarded and the window restarts at the new position.
func (t *NativePlaybackTracker) skipSeek(obs PlaybackObservation, now time.Time) bool {
	moved := obs.CurrentPosition - t.lastPosition
	elapsed := now.Sub(t.lastSampleAt).Seconds()
	if moved >= -rewindTolerance && moved-elapsed <= t.cfg.SanityCeiling.Seconds() {
		return false
	}

	metrics.DeltaRejected(metrics.SourceNative, metrics.ReasonSeek)
	t.log.Debug().
		Float64("from", t.lastPosition).
		Float64("to", obs.CurrentPosition).
		Msg("seek detected, window restarted")
	t.sample(obs, now)
	t.rebase(obs.CurrentPosition, now)
	return true
}

// report sends the window ending at (position, now) and resets the baselines.
// Caller holds t.mu.
func (t *NativePlaybackTracker) report(position, duration float64, now time.Time, completed bool, span time.Duration) {
	wall := now.Sub(t.wallBaseline).Seconds()
	advanced := position - t.positionBaseline
	t.rebase(position, now)

	t.reporter.Report(Progress{
		DeltaSeconds:    math.Min(wall, advanced),
		PositionSeconds: position,
		DurationSeconds: duration,
		Completed:       completed,
		Span:            span,
	})
}

// settleSpan is the window a pause, end or close may vouch for. A playing
// player samples several times a second, so a window that outgrew one report
// window plus the ceiling without a timeupdate is not trusted.
func (t *NativePlaybackTracker) settleSpan(now time.Time) time.Duration {
	return min(now.Sub(t.wallBaseline), t.cfg.nativeSettleCeiling())
}

func (t *NativePlaybackTracker) completed(obs PlaybackObservation) bool {
	if !(obs.Duration > 0) || math.IsInf(obs.Duration, 0) {
		return false
	}
	return obs.CurrentPosition >= obs.Duration-t.cfg.CompletionTolerance.Seconds()
}

func (t *NativePlaybackTracker) rebase(position float64, now time.Time) {
	t.positionBaseline = position
	t.wallBaseline = now
}

func (t *NativePlaybackTracker) sample(obs PlaybackObservation, now time.Time) {
	t.lastPosition = obs.CurrentPosition
	t.lastDuration = obs.Duration
	t.lastSampleAt = now
}

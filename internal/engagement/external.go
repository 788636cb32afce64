package engagement

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExternalWatchTracker estimates watch time for cross-origin embeds, which
// expose no player events. Time counts only while the page is visible and the
// window has focus; that pair is the proxy for "actively watching". It is a
// heuristic: a focused page with a paused embed still accrues.
type ExternalWatchTracker struct {
	clock    Clock
	cfg      Config
	reporter *Reporter
	log      zerolog.Logger

	mu             sync.Mutex
	visible        bool
	focused        bool
	focusStartedAt *time.Time
	accumulated    time.Duration
	flush          *Periodic
	started        bool
	closed         bool
}

func NewExternalWatchTracker(clock Clock, cfg Config, reporter *Reporter, logger zerolog.Logger) *ExternalWatchTracker {
	return &ExternalWatchTracker{
		clock:    clock,
		cfg:      cfg.withDefaults(),
		reporter: reporter,
		log:      logger,
	}
}

// Start records the page state at mount and arms the flush timer.
func (t *ExternalWatchTracker) Start(visible, focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.started = true
	t.visible = visible
	t.focused = focused
	t.reconcile(t.clock.Now())
	t.flush = StartPeriodic(t.clock, t.cfg.ExternalFlushInterval, t.onFlushTick)
}

func (t *ExternalWatchTracker) OnVisibilityChange(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.visible = visible
	t.reconcile(t.clock.Now())
}

func (t *ExternalWatchTracker) OnFocus() {
	t.setFocused(true)
}

func (t *ExternalWatchTracker) OnBlur() {
	t.setFocused(false)
}

func (t *ExternalWatchTracker) setFocused(focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.focused = focused
	t.reconcile(t.clock.Now())
}

// Accumulated returns the unflushed watch time, including an open interval.
func (t *ExternalWatchTracker) Accumulated() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc := t.accumulated
	if t.focusStartedAt != nil {
		acc += nonNegative(t.clock.Now().Sub(*t.focusStartedAt))
	}
	return acc
}

// Close stops the flush timer, folds any open interval and flushes once more.
func (t *ExternalWatchTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	flush := t.flush
	t.mu.Unlock()

	// Outside the lock: a running tick needs it to finish.
	if flush != nil {
		flush.Stop()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fold(t.clock.Now(), false)
	t.flushLocked()
}

func (t *ExternalWatchTracker) onFlushTick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	// Fold the open interval and keep it running from now, so one flush never
	// carries more than one window.
	t.fold(now, true)
	t.flushLocked()
}

// reconcile opens or closes the focus interval to match visible && focused.
// Caller holds t.mu.
func (t *ExternalWatchTracker) reconcile(now time.Time) {
	active := t.visible && t.focused
	switch {
	case active && t.focusStartedAt == nil:
		start := now
		t.focusStartedAt = &start
	case !active && t.focusStartedAt != nil:
		t.fold(now, false)
	}
}

// fold adds the open interval to the accumulator. With keepOpen the interval
// restarts at now; otherwise it is cleared. Caller holds t.mu.
func (t *ExternalWatchTracker) fold(now time.Time, keepOpen bool) {
	if t.focusStartedAt == nil {
		return
	}
	t.accumulated += nonNegative(now.Sub(*t.focusStartedAt))
	if keepOpen {
		restart := now
		t.focusStartedAt = &restart
	} else {
		t.focusStartedAt = nil
	}
}

// flushLocked sends the accumulator and zeroes it whether or not the report
// was accepted. Caller holds t.mu.
func (t *ExternalWatchTracker) flushLocked() {
	acc := t.accumulated
	t.accumulated = 0
	if acc <= 0 {
		return
	}
	t.reporter.Report(Progress{
		DeltaSeconds: acc.Seconds(),
		Span:         t.cfg.externalFlushCeiling(),
	})
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

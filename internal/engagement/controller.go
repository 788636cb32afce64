package engagement

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"engagement-gateway/internal/log"
	"engagement-gateway/internal/metrics"
	"engagement-gateway/internal/models"
)

// PlaybackEvent names a native player event.
type PlaybackEvent int

const (
	EventPlay PlaybackEvent = iota
	EventTimeUpdate
	EventPause
	EventSeeked
	EventEnded
)

type Option func(*Controller)

func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the single session slot of one mounted resource view, the
// tracker chosen for it and the heartbeat. Nothing else opens or closes the
// session.
type Controller struct {
	client   AnalyticsClient
	clock    Clock
	cfg      Config
	notifier Notifier
	log      zerolog.Logger

	mu         sync.Mutex
	resource   models.Resource
	learner    models.Learner
	visible    bool
	focused    bool
	configured bool // Start was given a resource, even if the open failed
	started    bool
	stopped    bool
	session    *ResourceSession
	native     *NativePlaybackTracker
	external   *ExternalWatchTracker
	heartbeat  *HeartbeatScheduler
}

func NewController(client AnalyticsClient, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		clock:    RealClock{},
		cfg:      DefaultConfig(),
		notifier: noopNotifier{},
		log:      log.WithComponent("engagement"),
		visible:  true,
		focused:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()
	return c
}

// Start opens a session for resource and starts the matching tracker.
// Calling it again while started is a no-op that returns the current index.
func (c *Controller) Start(ctx context.Context, resource models.Resource, learner models.Learner) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0, ErrStopped
	}
	if c.started {
		c.log.Debug().Msg("start called on a started controller, ignoring")
		if c.session != nil {
			return c.session.SessionIndex, nil
		}
		return 0, nil
	}

	c.resource = resource
	c.learner = learner
	c.configured = true
	index, err := c.open(ctx)
	if err != nil {
		return 0, err
	}
	c.started = true
	return index, nil
}

// Reopen closes the current session and opens a fresh one for the same
// resource. It never extends the prior session. After a failed Start it
// retries the open.
func (c *Controller) Reopen(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0, ErrStopped
	}
	if !c.configured {
		return 0, ErrNotStarted
	}
	c.close()
	index, err := c.open(ctx)
	if err != nil {
		return 0, err
	}
	c.started = true
	return index, nil
}

// Stop tears the view down: heartbeat cancelled, tracker flushed, session
// closed. Only the first call has any effect.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.close()
}

// Session returns the open session, if any.
func (c *Controller) Session() (ResourceSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ResourceSession{}, false
	}
	return *c.session, true
}

// Describe returns the open session as a lifecycle event.
func (c *Controller) Describe() (models.SessionEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return models.SessionEvent{}, false
	}
	return models.SessionEvent{
		ResourceID:   c.session.ResourceID,
		SessionIndex: c.session.SessionIndex,
		Kind:         c.resource.Kind(),
		OpenedAt:     c.session.OpenedAt,
	}, true
}

// Playback routes a native player event. Ignored for other resource kinds.
func (c *Controller) Playback(ev PlaybackEvent, obs PlaybackObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.native == nil {
		return
	}
	switch ev {
	case EventPlay:
		c.native.OnPlay(obs)
	case EventTimeUpdate:
		c.native.OnTimeUpdate(obs)
	case EventPause:
		c.native.OnPause(obs)
	case EventSeeked:
		c.native.OnSeeked(obs)
	case EventEnded:
		c.native.OnEnded(obs)
	}
}

// Visibility records document visibility. It is remembered before mount and
// across reopen so a fresh external tracker starts from the real page state.
func (c *Controller) Visibility(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visible = visible
	if c.external != nil {
		c.external.OnVisibilityChange(visible)
	}
}

// Focus records window focus (true on focus, false on blur).
func (c *Controller) Focus(focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.focused = focused
	if c.external == nil {
		return
	}
	if focused {
		c.external.OnFocus()
	} else {
		c.external.OnBlur()
	}
}

// open calls startAccess and wires the trackers. Caller holds c.mu.
func (c *Controller) open(ctx context.Context) (int, error) {
	kind := c.resource.Kind()

	index, err := c.client.StartAccess(ctx, c.resource.ID, c.learner)
	if err != nil {
		metrics.SessionStartFailed()
		c.log.Warn().Err(err).
			Str("resource_id", c.resource.ID.String()).
			Str("kind", kind).
			Msg("start access failed, view is untracked")
		return 0, fmt.Errorf("start access for %s: %w", c.resource.ID, err)
	}

	session := ResourceSession{
		ResourceID:   c.resource.ID,
		SessionIndex: index,
		OpenedAt:     c.clock.Now(),
	}
	c.session = &session

	sessionLog := c.log.With().
		Str("resource_id", session.ResourceID.String()).
		Int("session_index", index).
		Str("kind", kind).
		Logger()

	if c.resource.Type == models.ResourceVideo {
		c.heartbeat = StartHeartbeat(c.clock, c.cfg.HeartbeatInterval, c.client, session)

		if c.resource.IsExternal {
			reporter := NewReporter(c.client, session, c.cfg.SanityCeiling, metrics.SourceExternal, sessionLog)
			c.external = NewExternalWatchTracker(c.clock, c.cfg, reporter, sessionLog)
			c.external.Start(c.visible, c.focused)
		} else {
			reporter := NewReporter(c.client, session, c.cfg.SanityCeiling, metrics.SourceNative, sessionLog)
			c.native = NewNativePlaybackTracker(c.clock, c.cfg, reporter, sessionLog)
		}
	}

	metrics.SessionOpened(kind)
	c.notifier.SessionOpened(kind, session)
	sessionLog.Info().Msg("session opened")
	return index, nil
}

// close runs the teardown sequence for the open session. Caller holds c.mu.
func (c *Controller) close() {
	if c.session == nil {
		return
	}

	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.native != nil {
		c.native.Close()
		c.native = nil
	}
	if c.external != nil {
		c.external.Close()
		c.external = nil
	}

	c.client.EndAccess(c.session.ResourceID, c.session.SessionIndex)

	closedAt := c.clock.Now()
	c.session.ClosedAt = &closedAt
	kind := c.resource.Kind()
	metrics.SessionClosed(kind)
	c.notifier.SessionClosed(kind, *c.session)

	c.log.Info().
		Str("resource_id", c.session.ResourceID.String()).
		Int("session_index", c.session.SessionIndex).
		Dur("open_for", closedAt.Sub(c.session.OpenedAt)).
		Msg("session closed")
	c.session = nil
}

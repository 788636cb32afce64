package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"engagement-gateway/internal/engagement"
	"engagement-gateway/internal/log"
	"engagement-gateway/internal/metrics"
	"engagement-gateway/internal/middleware"
	"engagement-gateway/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second
	writeWait    = 5 * time.Second
	startTimeout = 10 * time.Second
	maxFrameSize = 8 << 10
)

// ClientFactory returns the analytics client for one viewer, bound to the
// viewer's token.
type ClientFactory func(token string) engagement.AnalyticsClient

// NotifierFactory returns the session notifier for one user. May be nil.
type NotifierFactory func(userID uuid.UUID) engagement.Notifier

// ViewerHandler serves one WebSocket per mounted resource view. The socket's
// lifetime is the view's lifetime: however it ends, the session is closed.
type ViewerHandler struct {
	clients        ClientFactory
	notifiers      NotifierFactory
	cfg            engagement.Config
	clock          engagement.Clock
	allowedOrigins []string
	upgrader       websocket.Upgrader
	log            zerolog.Logger

	mu      sync.Mutex
	closing bool
	views   map[*view]struct{}
	wg      sync.WaitGroup
}

type ViewerOption func(*ViewerHandler)

// WithViewerClock replaces the real clock, for tests.
func WithViewerClock(clock engagement.Clock) ViewerOption {
	return func(h *ViewerHandler) { h.clock = clock }
}

func WithNotifiers(n NotifierFactory) ViewerOption {
	return func(h *ViewerHandler) { h.notifiers = n }
}

func NewViewerHandler(clients ClientFactory, cfg engagement.Config, allowedOrigins []string, opts ...ViewerOption) *ViewerHandler {
	h := &ViewerHandler{
		clients:        clients,
		cfg:            cfg,
		clock:          engagement.RealClock{},
		allowedOrigins: allowedOrigins,
		log:            log.WithComponent("viewer"),
		views:          make(map[*view]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.AllowsOrigin(r, h.allowedOrigins...)
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP expects the JWT middleware to have run.
func (h *ViewerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	token := middleware.GetToken(r.Context())

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	v := &view{
		conn:   conn,
		userID: userID,
		log: h.log.With().
			Str("user_id", userID.String()).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Logger(),
	}
	opts := []engagement.Option{
		engagement.WithClock(h.clock),
		engagement.WithConfig(h.cfg),
		engagement.WithLogger(v.log),
	}
	if h.notifiers != nil {
		opts = append(opts, engagement.WithNotifier(h.notifiers(userID)))
	}
	v.controller = engagement.NewController(h.clients(token), opts...)

	h.track(v, true)
	metrics.ViewMounted()
	v.log.Debug().Msg("viewer connected")
	v.run()
	metrics.ViewUnmounted()
	h.track(v, false)
	v.log.Debug().Msg("viewer disconnected")
}

func (h *ViewerHandler) track(v *view, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.views[v] = struct{}{}
		if h.closing {
			v.conn.Close()
		}
	} else {
		delete(h.views, v)
	}
}

// OpenSessions lists userID's sessions held open by this instance.
func (h *ViewerHandler) OpenSessions(userID uuid.UUID) []models.SessionEvent {
	h.mu.Lock()
	views := make([]*view, 0, len(h.views))
	for v := range h.views {
		if v.userID == userID {
			views = append(views, v)
		}
	}
	h.mu.Unlock()

	out := make([]models.SessionEvent, 0, len(views))
	for _, v := range views {
		if ev, ok := v.controller.Describe(); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Close refuses new viewers, closes every open socket and waits until each
// view has closed its session, or ctx expires.
func (h *ViewerHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for v := range h.views {
		v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		v.conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// view is the state of one connection. Only run's goroutine writes data
// frames; the pinger uses WriteControl, which gorilla allows concurrently.
type view struct {
	conn       *websocket.Conn
	userID     uuid.UUID
	controller *engagement.Controller
	resource   *models.Resource
	tracked    bool
	log        zerolog.Logger
}

func (v *view) run() {
	defer v.conn.Close()
	// Unmount, abrupt navigation and network loss all end here.
	defer v.controller.Stop()

	done := make(chan struct{})
	defer close(done)
	go v.ping(done)

	v.conn.SetReadLimit(maxFrameSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				v.log.Debug().Err(err).Msg("viewer connection lost")
			}
			return
		}
		v.conn.SetReadDeadline(time.Now().Add(pongWait))

		var sig models.ViewSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			v.sendError(models.ErrCodeBadFrame, "frame is not valid JSON")
			continue
		}
		if !v.handle(sig) {
			return
		}
	}
}

func (v *view) ping(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handle applies one signal. It returns false when the view is over.
func (v *view) handle(sig models.ViewSignal) bool {
	switch sig.Type {
	case models.SignalMount:
		v.mount(sig)
	case models.SignalPlay:
		v.controller.Playback(engagement.EventPlay, v.observe(sig, true))
	case models.SignalTimeUpdate:
		v.controller.Playback(engagement.EventTimeUpdate, v.observe(sig, true))
	case models.SignalPause:
		v.controller.Playback(engagement.EventPause, v.observe(sig, false))
	case models.SignalSeeked:
		v.controller.Playback(engagement.EventSeeked, v.observe(sig, true))
	case models.SignalEnded:
		v.controller.Playback(engagement.EventEnded, v.observe(sig, false))
	case models.SignalVisibility:
		if sig.Visible == nil {
			v.sendError(models.ErrCodeBadFrame, "visibility requires visible")
			return true
		}
		v.controller.Visibility(*sig.Visible)
	case models.SignalFocus:
		v.controller.Focus(true)
	case models.SignalBlur:
		v.controller.Focus(false)
	case models.SignalReopen:
		v.reopen()
	case models.SignalUnmount:
		v.unmount()
		return false
	default:
		v.sendError(models.ErrCodeUnknownSignal, "unknown signal type "+sig.Type)
	}
	return true
}

func (v *view) mount(sig models.ViewSignal) {
	if v.tracked {
		v.log.Debug().Msg("mount on a mounted view, ignoring")
		return
	}
	if sig.Resource == nil || sig.Resource.ID == uuid.Nil || !sig.Resource.Type.Valid() {
		v.sendError(models.ErrCodeBadResource, "mount requires a resource with id and type")
		return
	}

	if sig.Visible != nil {
		v.controller.Visibility(*sig.Visible)
	}
	if sig.Focused != nil {
		v.controller.Focus(*sig.Focused)
	}
	var learner models.Learner
	if sig.Learner != nil {
		learner = *sig.Learner
	}

	resource := *sig.Resource
	v.resource = &resource

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	index, err := v.controller.Start(ctx, resource, learner)
	if err != nil {
		// Untracked until a later mount or reopen succeeds.
		return
	}
	v.tracked = true
	v.log = v.log.With().Str("resource_id", resource.ID.String()).Logger()
	v.send(models.FrameSession, models.SessionFrame{ResourceID: resource.ID, SessionIndex: index})
}

func (v *view) reopen() {
	prev, hadSession := v.controller.Session()

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	index, err := v.controller.Reopen(ctx)

	if hadSession {
		v.send(models.FrameClosed, models.SessionFrame{ResourceID: prev.ResourceID, SessionIndex: prev.SessionIndex})
	}
	if err != nil {
		return
	}
	v.tracked = true
	v.send(models.FrameSession, models.SessionFrame{ResourceID: v.resource.ID, SessionIndex: index})
}

func (v *view) unmount() {
	session, ok := v.controller.Session()
	v.controller.Stop()
	if ok {
		v.send(models.FrameClosed, models.SessionFrame{ResourceID: session.ResourceID, SessionIndex: session.SessionIndex})
	}
	v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unmounted"),
		time.Now().Add(writeWait))
}

// observe builds a playback observation, falling back to the resource's
// duration hint while the player has no metadata.
func (v *view) observe(sig models.ViewSignal, playing bool) engagement.PlaybackObservation {
	duration := sig.Duration
	if !(duration > 0) && v.resource != nil && v.resource.DurationHint != nil {
		duration = *v.resource.DurationHint
	}
	return engagement.PlaybackObservation{
		CurrentPosition: sig.Position,
		Duration:        duration,
		IsPlaying:       playing,
	}
}

func (v *view) send(frameType string, payload interface{}) {
	v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := v.conn.WriteJSON(models.WSMessage{Type: frameType, Payload: payload}); err != nil {
		v.log.Debug().Err(err).Str("frame", frameType).Msg("write to viewer failed")
	}
}

func (v *view) sendError(code, message string) {
	v.send(models.FrameError, models.ErrorFrame{Code: code, Message: message})
}

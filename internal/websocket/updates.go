// Package websocket serves the gateway's two sockets: the per-view signal
// stream and the per-user live update feed.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-gateway/internal/events"
	"engagement-gateway/internal/log"
	"engagement-gateway/internal/middleware"
	"engagement-gateway/internal/models"
)

// updateBuffer is how many session updates a slow socket may lag behind
// before further updates are dropped for it.
const updateBuffer = 16

// UpdatesHub relays session lifecycle events from user_updates:<user_id> to
// that user's live update sockets. One Redis subscription is held per user
// with at least one socket open.
type UpdatesHub struct {
	redisClient *redis.Client
	upgrader    websocket.Upgrader
	log         zerolog.Logger

	mu    sync.Mutex
	feeds map[uuid.UUID]*feed
	wg    sync.WaitGroup
}

// feed is one user's subscription and the sockets it fans out to.
type feed struct {
	cancel context.CancelFunc
	subs   map[*subscriber]struct{}
}

// subscriber owns every write to one socket.
type subscriber struct {
	conn *websocket.Conn
	out  chan models.SessionUpdate
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewUpdatesHub(redisClient *redis.Client, allowedOrigins []string) *UpdatesHub {
	return &UpdatesHub{
		redisClient: redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.AllowsOrigin(r, allowedOrigins...)
			},
		},
		log:   log.WithComponent("updates"),
		feeds: make(map[uuid.UUID]*feed),
	}
}

// ServeHTTP expects the JWT middleware to have run.
func (h *UpdatesHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn: conn,
		out:  make(chan models.SessionUpdate, updateBuffer),
		done: make(chan struct{}),
	}
	h.attach(userID, sub)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(userID, sub)
	}()
	// The feed is one-way; reads only keep the deadline fresh and detect the
	// disconnect.
	go func() {
		defer h.wg.Done()
		defer h.detach(userID, sub)
		conn.SetReadLimit(maxFrameSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Connections returns how many live update sockets userID has open.
func (h *UpdatesHub) Connections(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[userID]; ok {
		return len(f.subs)
	}
	return 0
}

// Close ends every subscription, closes every socket and waits for the hub's
// goroutines.
func (h *UpdatesHub) Close() {
	h.mu.Lock()
	for _, f := range h.feeds {
		f.cancel()
		for sub := range f.subs {
			sub.stop()
		}
	}
	h.feeds = make(map[uuid.UUID]*feed)
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *UpdatesHub) attach(userID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.feeds[userID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &feed{cancel: cancel, subs: make(map[*subscriber]struct{})}
		h.feeds[userID] = f
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.relay(ctx, userID)
		}()
	}
	f.subs[sub] = struct{}{}

	h.log.Debug().
		Str("user_id", userID.String()).
		Int("connections", len(f.subs)).
		Msg("live update socket connected")
}

func (h *UpdatesHub) detach(userID uuid.UUID, sub *subscriber) {
	sub.stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[userID]
	if !ok {
		return
	}
	delete(f.subs, sub)
	if len(f.subs) == 0 {
		f.cancel()
		delete(h.feeds, userID)
	}
	h.log.Debug().Str("user_id", userID.String()).Msg("live update socket disconnected")
}

// relay decodes the user's channel into session updates until ctx ends.
func (h *UpdatesHub) relay(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, events.Channel(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			update, ok := decodeUpdate(msg.Payload)
			if !ok {
				h.log.Debug().Str("user_id", userID.String()).Msg("ignoring unrecognised update")
				continue
			}
			h.fanout(userID, update)
		}
	}
}

func decodeUpdate(payload string) (models.SessionUpdate, bool) {
	var u models.SessionUpdate
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return u, false
	}
	switch u.Type {
	case models.MessageSessionOpened, models.MessageSessionClosed:
		return u, u.Payload.ResourceID != uuid.Nil
	default:
		return u, false
	}
}

// fanout queues u on every socket of userID. A socket whose queue is full
// misses the update rather than stalling the others.
func (h *UpdatesHub) fanout(userID uuid.UUID, u models.SessionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[userID]
	if !ok {
		return
	}
	for sub := range f.subs {
		select {
		case sub.out <- u:
		default:
			h.log.Warn().Str("user_id", userID.String()).Str("type", u.Type).Msg("live update socket lagging, update dropped")
		}
	}
}

func (h *UpdatesHub) writePump(userID uuid.UUID, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case <-sub.done:
			sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
				time.Now().Add(writeWait))
			return
		case u := <-sub.out:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(u); err != nil {
				h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("live update write failed")
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

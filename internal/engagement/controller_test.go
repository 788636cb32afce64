package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"engagement-gateway/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) SessionOpened(kind string, s ResourceSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "opened:"+kind)
}

func (n *recordingNotifier) SessionClosed(kind string, s ResourceSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "closed:"+kind)
}

func nativeVideo() models.Resource {
	return models.Resource{ID: uuid.New(), Type: models.ResourceVideo}
}

func externalVideo() models.Resource {
	return models.Resource{ID: uuid.New(), Type: models.ResourceVideo, IsExternal: true}
}

func document() models.Resource {
	return models.Resource{ID: uuid.New(), Type: models.ResourceDocument}
}

var learner = models.Learner{Grade: "7", ClassName: "7B"}

func newTestController(client *recordingClient, clock *ManualClock, opts ...Option) *Controller {
	opts = append([]Option{WithClock(clock), WithLogger(zerolog.Nop())}, opts...)
	return NewController(client, opts...)
}

func TestController_HeartbeatsRegardlessOfPlayback(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)

	_, err := c.Start(context.Background(), nativeVideo(), learner)
	require.NoError(t, err)

	c.Playback(EventPlay, PlaybackObservation{CurrentPosition: 0, Duration: 300})
	clock.Advance(8 * time.Second)
	c.Playback(EventPause, PlaybackObservation{CurrentPosition: 8, Duration: 300})
	clock.Advance(37 * time.Second)

	assert.GreaterOrEqual(t, client.count(callHeartbeat), 4)

	c.Stop()
	beats := client.count(callHeartbeat)
	clock.Advance(time.Minute)
	assert.Equal(t, beats, client.count(callHeartbeat), "no heartbeat after stop")
}

func TestController_ReopenNeverSpansSessions(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)
	ctx := context.Background()

	first, err := c.Start(ctx, document(), learner)
	require.NoError(t, err)
	second, err := c.Reopen(ctx)
	require.NoError(t, err)
	third, err := c.Reopen(ctx)
	require.NoError(t, err)

	want := []string{callStart, callEnd, callStart, callEnd, callStart}
	if diff := cmp.Diff(want, client.kinds()); diff != "" {
		t.Fatalf("call sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{first, second, third})

	calls := client.snapshot()
	assert.Equal(t, first, calls[1].SessionIndex, "each end closes the session opened before it")
	assert.Equal(t, second, calls[3].SessionIndex)

	c.Stop()
	assert.Equal(t, 3, client.count(callEnd))
	assert.Zero(t, client.count(callHeartbeat), "documents have no heartbeat")
}

func TestController_StartAndStopAreIdempotent(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)
	ctx := context.Background()

	first, err := c.Start(ctx, nativeVideo(), learner)
	require.NoError(t, err)
	again, err := c.Start(ctx, nativeVideo(), learner)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	ev, ok := c.Describe()
	require.True(t, ok)
	assert.Equal(t, "native_video", ev.Kind)
	assert.Equal(t, first, ev.SessionIndex)

	c.Stop()
	c.Stop()

	_, ok = c.Describe()
	assert.False(t, ok)
	assert.Equal(t, 1, client.count(callStart))
	assert.Equal(t, 1, client.count(callEnd))
	_, open := c.Session()
	assert.False(t, open)
}

func TestController_LifecycleErrors(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)
	ctx := context.Background()

	_, err := c.Reopen(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)

	c.Stop()
	_, err = c.Start(ctx, document(), learner)
	assert.ErrorIs(t, err, ErrStopped)
	_, err = c.Reopen(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, client.snapshot())
}

func TestController_FailedStartLeavesViewUntracked(t *testing.T) {
	clock := NewManualClock(epoch)
	backendDown := errors.New("backend unavailable")
	client := &recordingClient{startErr: backendDown}
	c := newTestController(client, clock)

	_, err := c.Start(context.Background(), nativeVideo(), learner)
	require.ErrorIs(t, err, backendDown)

	c.Playback(EventPlay, PlaybackObservation{CurrentPosition: 0})
	clock.Advance(30 * time.Second)
	c.Playback(EventPause, PlaybackObservation{CurrentPosition: 30})
	c.Stop()

	assert.Empty(t, client.snapshot(), "no heartbeat, delta or end without a session")
	assert.Zero(t, clock.Pending())
}

func TestController_RetriesAfterFailedStart(t *testing.T) {
	backendDown := errors.New("backend unavailable")
	restore := func(client *recordingClient) {
		client.mu.Lock()
		client.startErr = nil
		client.mu.Unlock()
	}

	t.Run("start again", func(t *testing.T) {
		clock := NewManualClock(epoch)
		client := &recordingClient{startErr: backendDown}
		c := newTestController(client, clock)

		_, err := c.Start(context.Background(), nativeVideo(), learner)
		require.ErrorIs(t, err, backendDown)
		restore(client)

		index, err := c.Start(context.Background(), nativeVideo(), learner)
		require.NoError(t, err)
		assert.Equal(t, 1, index)
		c.Stop()
		assert.Equal(t, []string{callStart, callEnd}, client.kinds())
	})

	t.Run("reopen", func(t *testing.T) {
		clock := NewManualClock(epoch)
		client := &recordingClient{startErr: backendDown}
		c := newTestController(client, clock)

		_, err := c.Start(context.Background(), externalVideo(), learner)
		require.ErrorIs(t, err, backendDown)
		restore(client)

		index, err := c.Reopen(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, index)
		session, ok := c.Session()
		require.True(t, ok)
		assert.Equal(t, 1, session.SessionIndex)

		c.Stop()
		assert.Equal(t, 1, client.count(callEnd))
	})
}

func TestController_NativeFinalDeltaPrecedesEnd(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)

	_, err := c.Start(context.Background(), nativeVideo(), learner)
	require.NoError(t, err)

	c.Playback(EventPlay, PlaybackObservation{CurrentPosition: 0, Duration: 300})
	clock.Advance(3 * time.Second)
	c.Playback(EventTimeUpdate, PlaybackObservation{CurrentPosition: 3, Duration: 300})
	c.Stop()

	want := []string{callStart, callProgress, callEnd}
	if diff := cmp.Diff(want, client.kinds()); diff != "" {
		t.Fatalf("call sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestController_ExternalRoutesPageSignals(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	c := newTestController(client, clock)

	// Page state reported before mount is honoured at start.
	c.Visibility(false)
	_, err := c.Start(context.Background(), externalVideo(), learner)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	c.Visibility(true)
	clock.Advance(6 * time.Second)
	c.Focus(false)
	clock.Advance(6 * time.Second)
	c.Focus(true)
	clock.Advance(2 * time.Second)

	// Native events are ignored for embeds.
	c.Playback(EventPlay, PlaybackObservation{CurrentPosition: 0})
	c.Stop()

	want := []string{callStart, callProgress, callEnd}
	if diff := cmp.Diff(want, client.kinds()); diff != "" {
		t.Fatalf("call sequence mismatch (-want +got):\n%s", diff)
	}
	deltas := client.deltas()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 8.0, deltas[0].PlayedDeltaSeconds, 0.001)
}

func TestController_TrackerSelection(t *testing.T) {
	tests := []struct {
		name         string
		resource     models.Resource
		wantNative   bool
		wantExternal bool
		wantBeats    bool
	}{
		{"native video", nativeVideo(), true, false, true},
		{"external video", externalVideo(), false, true, true},
		{"document", document(), false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewManualClock(epoch)
			client := &recordingClient{}
			c := newTestController(client, clock)

			_, err := c.Start(context.Background(), tc.resource, learner)
			require.NoError(t, err)

			c.mu.Lock()
			assert.Equal(t, tc.wantNative, c.native != nil)
			assert.Equal(t, tc.wantExternal, c.external != nil)
			assert.Equal(t, tc.wantBeats, c.heartbeat != nil)
			c.mu.Unlock()

			c.Stop()
			assert.Zero(t, clock.Pending(), "stop disarms every timer")
		})
	}
}

func TestController_NotifiesLifecycle(t *testing.T) {
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	notifier := &recordingNotifier{}
	c := newTestController(client, clock, WithNotifier(notifier))
	ctx := context.Background()

	_, err := c.Start(ctx, document(), learner)
	require.NoError(t, err)
	_, err = c.Reopen(ctx)
	require.NoError(t, err)
	c.Stop()

	want := []string{"opened:document", "closed:document", "opened:document", "closed:document"}
	assert.Equal(t, want, notifier.events)
}

func TestController_RealClockStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &recordingClient{}
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.ExternalFlushInterval = 5 * time.Millisecond
	c := NewController(client, WithConfig(cfg), WithLogger(zerolog.Nop()))

	_, err := c.Start(context.Background(), externalVideo(), learner)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return client.count(callHeartbeat) >= 2
	}, time.Second, time.Millisecond)

	c.Stop()
	beats := client.count(callHeartbeat)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, beats, client.count(callHeartbeat))
}

package engagement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-gateway/internal/metrics"
)

type externalFixture struct {
	clock   *ManualClock
	client  *recordingClient
	tracker *ExternalWatchTracker
}

func newExternalFixture(t *testing.T) *externalFixture {
	t.Helper()
	clock := NewManualClock(epoch)
	client := &recordingClient{}
	session := ResourceSession{ResourceID: uuid.New(), SessionIndex: 3, OpenedAt: epoch}
	reporter := NewReporter(client, session, 15*time.Second, metrics.SourceExternal, zerolog.Nop())
	return &externalFixture{
		clock:   clock,
		client:  client,
		tracker: NewExternalWatchTracker(clock, DefaultConfig(), reporter, zerolog.Nop()),
	}
}

func (f *externalFixture) assertWindowBounded(t *testing.T) {
	t.Helper()
	limit := DefaultConfig().externalFlushCeiling().Seconds()
	for _, d := range f.client.deltas() {
		assert.Greater(t, d.PlayedDeltaSeconds, 0.0)
		assert.LessOrEqual(t, d.PlayedDeltaSeconds, limit)
	}
}

func TestExternal_HiddenGapIsNotCounted(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, true)
	f.clock.Advance(12 * time.Second)
	f.tracker.OnVisibilityChange(false)
	f.clock.Advance(50 * time.Second)
	f.tracker.OnVisibilityChange(true)
	f.clock.Advance(8 * time.Second)
	f.tracker.Close()

	deltas := f.client.deltas()
	require.Len(t, deltas, 2, "flush at 30s carries the first interval, close carries the second")
	assert.InDelta(t, 12.0, deltas[0].PlayedDeltaSeconds, 0.001)
	assert.InDelta(t, 8.0, deltas[1].PlayedDeltaSeconds, 0.001)
	assert.InDelta(t, 20.0, sumDeltas(deltas), 0.001)
	f.assertWindowBounded(t)
}

func TestExternal_FocusedSessionFlushesEachWindow(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, true)
	f.clock.Advance(95 * time.Second)
	f.tracker.Close()

	deltas := f.client.deltas()
	require.Len(t, deltas, 4)
	for _, d := range deltas[:3] {
		assert.InDelta(t, 30.0, d.PlayedDeltaSeconds, 0.001)
	}
	assert.InDelta(t, 5.0, deltas[3].PlayedDeltaSeconds, 0.001)
	f.assertWindowBounded(t)
}

func TestExternal_LongHiddenPeriodAccruesNothing(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, true)
	f.clock.Advance(5 * time.Second)
	f.tracker.OnVisibilityChange(false)
	f.clock.Advance(3 * time.Hour)
	assert.Zero(t, f.tracker.Accumulated())
	f.tracker.Close()

	deltas := f.client.deltas()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 5.0, deltas[0].PlayedDeltaSeconds, 0.001)
}

func TestExternal_RequiresVisibleAndFocused(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, false)
	f.clock.Advance(10 * time.Second)
	assert.Zero(t, f.tracker.Accumulated(), "visible but blurred")

	f.tracker.OnFocus()
	f.clock.Advance(4 * time.Second)
	assert.Equal(t, 4*time.Second, f.tracker.Accumulated())

	f.tracker.OnVisibilityChange(false)
	f.clock.Advance(4 * time.Second)
	f.tracker.OnBlur()
	f.tracker.OnVisibilityChange(true)
	f.clock.Advance(4 * time.Second)
	assert.Equal(t, 4*time.Second, f.tracker.Accumulated(), "visible but blurred again")

	f.tracker.OnFocus()
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 6*time.Second, f.tracker.Accumulated())
}

func TestExternal_RepeatedSignalsDoNotRestartInterval(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, true)
	f.clock.Advance(3 * time.Second)
	f.tracker.OnFocus()
	f.tracker.OnVisibilityChange(true)
	f.clock.Advance(3 * time.Second)

	assert.Equal(t, 6*time.Second, f.tracker.Accumulated())
}

func TestExternal_CloseIsIdempotentAndStopsFlush(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(true, true)
	f.clock.Advance(7 * time.Second)
	f.tracker.Close()
	f.tracker.Close()

	assert.Zero(t, f.clock.Pending(), "flush timer must be disarmed")
	f.clock.Advance(time.Minute)
	f.tracker.OnFocus()
	f.clock.Advance(time.Minute)

	deltas := f.client.deltas()
	require.Len(t, deltas, 1)
	assert.InDelta(t, 7.0, deltas[0].PlayedDeltaSeconds, 0.001)
}

func TestExternal_NothingToFlushSendsNothing(t *testing.T) {
	f := newExternalFixture(t)

	f.tracker.Start(false, true)
	f.clock.Advance(2 * time.Minute)
	f.tracker.Close()

	assert.Empty(t, f.client.deltas())
}

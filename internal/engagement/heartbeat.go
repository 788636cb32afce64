package engagement

import (
	"time"

	"engagement-gateway/internal/metrics"
)

// HeartbeatScheduler pings the backend while a video session is open,
// regardless of playback state. A missed beat is the backend's idle signal.
type HeartbeatScheduler struct {
	periodic *Periodic
}

func StartHeartbeat(clock Clock, interval time.Duration, client AnalyticsClient, session ResourceSession) *HeartbeatScheduler {
	resourceID, index := session.ResourceID, session.SessionIndex
	return &HeartbeatScheduler{
		periodic: StartPeriodic(clock, interval, func(time.Time) {
			client.Heartbeat(resourceID, index, interval)
			metrics.HeartbeatSent()
		}),
	}
}

// Stop returns once no further heartbeat can be sent.
func (h *HeartbeatScheduler) Stop() {
	h.periodic.Stop()
}

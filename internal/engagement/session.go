package engagement

import (
	"time"

	"github.com/google/uuid"
)

// ResourceSession is one open viewing instance of one resource.
type ResourceSession struct {
	ResourceID   uuid.UUID
	SessionIndex int
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

func (s ResourceSession) IsOpen() bool {
	return s.ClosedAt == nil
}

// Notifier receives session lifecycle events. Implementations must not block.
type Notifier interface {
	SessionOpened(kind string, s ResourceSession)
	SessionClosed(kind string, s ResourceSession)
}

type noopNotifier struct{}

func (noopNotifier) SessionOpened(string, ResourceSession) {}
func (noopNotifier) SessionClosed(string, ResourceSession) {}

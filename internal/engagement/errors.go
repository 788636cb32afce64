package engagement

import "errors"

var (
	ErrNotStarted = errors.New("engagement: session not started")
	ErrStopped    = errors.New("engagement: controller stopped")
)

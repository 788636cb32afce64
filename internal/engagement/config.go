package engagement

import "time"

// Config holds the tracking tunables. The defaults come from observed player
// behaviour, not from a contract; treat them as knobs.
type Config struct {
	// SanityCeiling is the largest delta a periodic report may carry and the
	// largest unexplained forward jump that still counts as playback.
	SanityCeiling time.Duration

	// ReportWindow and ReportPositionStep trigger a native timeupdate report,
	// whichever is reached first.
	ReportWindow       time.Duration
	ReportPositionStep time.Duration

	// CompletionTolerance is how close to the end "ended" must land to count
	// as completed.
	CompletionTolerance time.Duration

	HeartbeatInterval     time.Duration
	ExternalFlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SanityCeiling:         15 * time.Second,
		ReportWindow:          10 * time.Second,
		ReportPositionStep:    5 * time.Second,
		CompletionTolerance:   time.Second,
		HeartbeatInterval:     10 * time.Second,
		ExternalFlushInterval: 30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SanityCeiling <= 0 {
		c.SanityCeiling = d.SanityCeiling
	}
	if c.ReportWindow <= 0 {
		c.ReportWindow = d.ReportWindow
	}
	if c.ReportPositionStep <= 0 {
		c.ReportPositionStep = d.ReportPositionStep
	}
	if c.CompletionTolerance <= 0 {
		c.CompletionTolerance = d.CompletionTolerance
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ExternalFlushInterval <= 0 {
		c.ExternalFlushInterval = d.ExternalFlushInterval
	}
	return c
}

// externalFlushCeiling bounds one external flush: a flush can never honestly
// carry more than the window it covers. The extra second absorbs timer jitter.
func (c Config) externalFlushCeiling() time.Duration {
	return c.ExternalFlushInterval + time.Second
}

// nativeSettleCeiling bounds a native pause, end or close report.
func (c Config) nativeSettleCeiling() time.Duration {
	return c.ReportWindow + c.SanityCeiling
}

package relay

import "time"

const (
	// KeepAliveIntervalMin is the floor enforced on any configured
	// keep-alive interval.
	KeepAliveIntervalMin = 1 * time.Second
	// KeepAliveIntervalDefault is used when the daemon does not
	// override it.
	KeepAliveIntervalDefault = 20 * time.Second
	// KeepAliveTimeout is how long a ping may go unanswered before the
	// client is dropped with CloseTimeout.
	KeepAliveTimeout = 30 * time.Second
)

package transport

import "context"

// Sender delivers one line of text to a named target (a channel or a nick).
//
// Implementations must not block indefinitely; callers pass a context with a deadline
// when they care about latency.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Prober reports whether the underlying connection currently accepts writes.
// It is a local health check, not a delivery acknowledgment.
type Prober interface {
	ProbeAlive(ctx context.Context) bool
}

// Messenger is a Sender that can also be probed.
type Messenger interface {
	Sender
	Prober
}

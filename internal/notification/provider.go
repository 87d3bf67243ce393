package notification

import "context"

// Provider delivers notifications to one outbound channel.
// Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
	Close() error
}

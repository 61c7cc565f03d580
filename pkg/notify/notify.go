// Package notify delivers human-readable alerts to an external channel on a
// best-effort basis.
package notify

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

// Delivery describes what happened to one Notify call. Callers are free to
// discard it; failures have already been logged by the notifier.
type Delivery struct {
	Attempted  bool
	Delivered  bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Notifier sends a message to the configured channel. Implementations never
// return errors or panic to the caller and make at most one attempt.
type Notifier interface {
	Notify(ctx context.Context, message string) Delivery
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(context.Context, string) Delivery

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, message string) Delivery {
	return f(ctx, message)
}

// Disabled is the notifier used when no endpoint is configured.
type Disabled struct{}

// Notify implements Notifier as a silent no-op.
func (Disabled) Notify(context.Context, string) Delivery { return Delivery{} }

var _ Notifier = NotifierFunc(nil)
var _ Notifier = Disabled{}

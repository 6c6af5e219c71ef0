// Package bus carries command envelopes in and status events out. Handlers
// never see malformed envelopes: both directions are validated at the
// channel boundary.
package bus

import (
	"context"
)

// Default channel names.
const (
	DefaultCommandChannel = "pockitect:commands"
	DefaultStatusChannel  = "pockitect:status"
)

// CommandHandler consumes one command.
type CommandHandler func(ctx context.Context, cmd Command)

// StatusHandler consumes one status event.
type StatusHandler func(ctx context.Context, event Status)

// StatusFilter selects status events for a subscriber.
type StatusFilter func(event Status) bool

// Subscription is an active subscription.
type Subscription interface {
	Close() error
}

// Publisher emits status events.
type Publisher interface {
	PublishStatus(ctx context.Context, event Status) error
}

// Bus is the command/status channel pair. Each subscriber receives messages
// in publish order on its own goroutine.
type Bus interface {
	Publisher
	PublishCommand(ctx context.Context, cmd Command) error
	SubscribeCommands(ctx context.Context, handler CommandHandler) (Subscription, error)
	SubscribeStatus(ctx context.Context, handler StatusHandler, filter StatusFilter) (Subscription, error)
	Close() error
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) StatusFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Status) bool {
		return set[event.Type]
	}
}

// FilterByRequestID passes events correlated to one command.
func FilterByRequestID(requestID string) StatusFilter {
	return func(event Status) bool {
		return event.RequestID == requestID
	}
}

func accepts(filter StatusFilter, event Status) bool {
	return filter == nil || filter(event)
}

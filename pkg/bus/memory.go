package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// MemoryOptions configures an in-process bus.
type MemoryOptions struct {
	// BufferSize is the per-subscriber queue length. Publishers block
	// while a subscriber's queue is full.
	BufferSize int
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	opts   MemoryOptions
	logger zerolog.Logger

	mu       sync.RWMutex
	commands []*subscriber[Command]
	statuses []*subscriber[Status]
	closed   bool

	wg sync.WaitGroup
}

var _ Bus = (*MemoryBus)(nil)

type subscriber[T any] struct {
	queue  chan T
	done   chan struct{}
	once   sync.Once
	accept func(T) bool
	remove func()
}

func (s *subscriber[T]) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.remove()
	})
	return nil
}

// NewMemory creates an in-process bus.
func NewMemory(opts MemoryOptions, logger zerolog.Logger) *MemoryBus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	return &MemoryBus{
		opts:   opts,
		logger: logger.With().Str("component", "memory_bus").Logger(),
	}
}

// PublishCommand validates and delivers cmd to every command subscriber.
func (b *MemoryBus) PublishCommand(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*subscriber[Command](nil), b.commands...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := deliver(ctx, s, cmd); err != nil {
			return err
		}
	}
	return nil
}

// PublishStatus validates and delivers event to matching status subscribers.
func (b *MemoryBus) PublishStatus(ctx context.Context, event Status) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event = event.stamp()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*subscriber[Status](nil), b.statuses...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.accept != nil && !s.accept(event) {
			continue
		}
		if err := deliver(ctx, s, event); err != nil {
			return err
		}
	}
	return nil
}

func deliver[T any](ctx context.Context, s *subscriber[T], msg T) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeCommands registers handler for every command.
func (b *MemoryBus) SubscribeCommands(ctx context.Context, handler CommandHandler) (Subscription, error) {
	s := &subscriber[Command]{queue: make(chan Command, b.opts.BufferSize), done: make(chan struct{})}
	s.remove = func() { removeSubscriber(&b.mu, &b.commands, s) }
	if err := addSubscriber(b, &b.commands, s); err != nil {
		return nil, err
	}
	run(ctx, b, s, handler)
	return s, nil
}

// SubscribeStatus registers handler for events passing filter. A nil filter
// passes everything.
func (b *MemoryBus) SubscribeStatus(ctx context.Context, handler StatusHandler, filter StatusFilter) (Subscription, error) {
	s := &subscriber[Status]{
		queue:  make(chan Status, b.opts.BufferSize),
		done:   make(chan struct{}),
		accept: func(e Status) bool { return accepts(filter, e) },
	}
	s.remove = func() { removeSubscriber(&b.mu, &b.statuses, s) }
	if err := addSubscriber(b, &b.statuses, s); err != nil {
		return nil, err
	}
	run(ctx, b, s, handler)
	return s, nil
}

func addSubscriber[T any](b *MemoryBus, list *[]*subscriber[T], s *subscriber[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	*list = append(*list, s)
	return nil
}

func removeSubscriber[T any](mu *sync.RWMutex, list *[]*subscriber[T], s *subscriber[T]) {
	mu.Lock()
	defer mu.Unlock()
	for i, other := range *list {
		if other == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// run drains the subscriber's queue until it is closed or ctx ends. Queued
// messages are still handled after Close.
func run[T any, H ~func(context.Context, T)](ctx context.Context, b *MemoryBus, s *subscriber[T], handle H) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg := <-s.queue:
				safely(ctx, b.logger, msg, handle)
			case <-s.done:
				for {
					select {
					case msg := <-s.queue:
						safely(ctx, b.logger, msg, handle)
					default:
						return
					}
				}
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}()
}

func safely[T any, H ~func(context.Context, T)](ctx context.Context, logger zerolog.Logger, msg T, handle H) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	handle(ctx, msg)
}

// Close stops every subscriber after its queued messages are handled.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	commands := append([]*subscriber[Command](nil), b.commands...)
	statuses := append([]*subscriber[Status](nil), b.statuses...)
	b.mu.Unlock()

	for _, s := range commands {
		_ = s.Close()
	}
	for _, s := range statuses {
		_ = s.Close()
	}
	b.wg.Wait()
	return nil
}

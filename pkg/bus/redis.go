package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configures the Redis pub/sub bus.
type RedisOptions struct {
	Addr           string `yaml:"addr" json:"addr"`
	Password       string `yaml:"password" json:"password"`
	DB             int    `yaml:"db" json:"db" validate:"gte=0"`
	CommandChannel string `yaml:"command_channel" json:"command_channel"`
	StatusChannel  string `yaml:"status_channel" json:"status_channel"`
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.CommandChannel == "" {
		o.CommandChannel = DefaultCommandChannel
	}
	if o.StatusChannel == "" {
		o.StatusChannel = DefaultStatusChannel
	}
	return o
}

// RedisBus carries envelopes as JSON over Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
	opts   RedisOptions
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

var _ Bus = (*RedisBus)(nil)

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisBus, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisBus{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "redis_bus").Str("addr", opts.Addr).Logger(),
	}, nil
}

// Client exposes the connection for small key/value needs next to the bus.
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// PublishCommand validates cmd and publishes it on the command channel.
func (b *RedisBus) PublishCommand(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return b.publish(ctx, b.opts.CommandChannel, cmd)
}

// PublishStatus validates event and publishes it on the status channel.
func (b *RedisBus) PublishStatus(ctx context.Context, event Status) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return b.publish(ctx, b.opts.StatusChannel, event.stamp())
}

func (b *RedisBus) publish(ctx context.Context, channel string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// SubscribeCommands handles every valid command on the command channel.
// Malformed envelopes are logged and dropped.
func (b *RedisBus) SubscribeCommands(ctx context.Context, handler CommandHandler) (Subscription, error) {
	return b.subscribe(ctx, b.opts.CommandChannel, func(ctx context.Context, raw string) {
		cmd, err := DecodeCommand([]byte(raw))
		if err != nil {
			b.logger.Error().Err(err).Str("channel", b.opts.CommandChannel).Msg("dropping malformed command")
			return
		}
		handler(ctx, cmd)
	})
}

// SubscribeStatus handles valid status events passing filter.
func (b *RedisBus) SubscribeStatus(ctx context.Context, handler StatusHandler, filter StatusFilter) (Subscription, error) {
	return b.subscribe(ctx, b.opts.StatusChannel, func(ctx context.Context, raw string) {
		event, err := DecodeStatus([]byte(raw))
		if err != nil {
			b.logger.Error().Err(err).Str("channel", b.opts.StatusChannel).Msg("dropping malformed status event")
			return
		}
		if accepts(filter, event) {
			handler(ctx, event)
		}
	})
}

func (b *RedisBus) subscribe(ctx context.Context, channel string, handle func(context.Context, string)) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				safely(ctx, b.logger, msg.Payload, handle)
			case <-ctx.Done():
				_ = ps.Close()
				return
			}
		}
	}()

	b.logger.Debug().Str("channel", channel).Msg("subscribed")
	return ps, nil
}

// Close ends every subscription and the connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}

package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *RedisBus {
	t.Helper()

	addr := os.Getenv("POCKITECT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POCKITECT_TEST_REDIS_ADDR not set")
	}
	suffix := uuid.NewString()
	b, err := NewRedis(context.Background(), RedisOptions{
		Addr:           addr,
		CommandChannel: "pockitect:test:commands:" + suffix,
		StatusChannel:  "pockitect:test:status:" + suffix,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBusRoundTrip(t *testing.T) {
	b := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var commands recorder[Command]
	var statuses recorder[Status]
	_, err := b.SubscribeCommands(ctx, commands.add)
	require.NoError(t, err)
	_, err = b.SubscribeStatus(ctx, statuses.add, FilterByType(EventTerminateComplete))
	require.NoError(t, err)

	cmd, err := NewCommand(CommandProjectUpdated, ProjectUpdatedRequest{Project: "web"})
	require.NoError(t, err)
	require.NoError(t, b.PublishCommand(ctx, cmd))
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventTerminateProgress, cmd.RequestID, StatusInProgress, nil)))
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventTerminateComplete, cmd.RequestID, StatusSuccess, map[string]any{"total": 3})))

	require.Eventually(t, func() bool {
		return len(commands.all()) == 1 && len(statuses.all()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	got := commands.all()[0]
	assert.Equal(t, cmd.RequestID, got.RequestID)
	p, err := got.Payload()
	require.NoError(t, err)
	assert.Equal(t, &ProjectUpdatedRequest{Project: "web"}, p)

	// JSON numbers come back as float64.
	assert.Equal(t, float64(3), statuses.all()[0].Data["total"])
}

func TestRedisBusDropsMalformedMessages(t *testing.T) {
	b := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var commands recorder[Command]
	_, err := b.SubscribeCommands(ctx, commands.add)
	require.NoError(t, err)

	require.NoError(t, b.Client().Publish(ctx, b.opts.CommandChannel, `{"data":{}}`).Err())
	require.NoError(t, b.Client().Publish(ctx, b.opts.CommandChannel, `{"type":"scan_all_regions","request_id":"ok"}`).Err())

	require.Eventually(t, func() bool { return len(commands.all()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "ok", commands.all()[0].RequestID)
}

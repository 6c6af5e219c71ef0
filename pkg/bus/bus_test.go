package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pockitect/pockitect/pkg/engine"
)

type recorder[T any] struct {
	mu   sync.Mutex
	seen []T
}

func (r *recorder[T]) add(_ context.Context, msg T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.seen...)
}

func TestCommandPayloads(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Payload
		wantErr bool
	}{
		{
			name: "terminate",
			raw:  `{"type":"terminate","request_id":"r1","data":{"project":"web","resources":[{"id":"vpc-1","type":"vpc","region":"us-east-1","tags":{"pockitect:project":"web"}}]}}`,
			want: &TerminateRequest{
				Project: "web",
				Resources: []ResourceInput{{
					ID: "vpc-1", Type: "vpc", Region: "us-east-1",
					Tags: map[string]string{"pockitect:project": "web"},
				}},
			},
		},
		{
			name: "scan without data",
			raw:  `{"type":"scan_all_regions"}`,
			want: &ScanRequest{},
		},
		{
			name: "power",
			raw:  `{"type":"power","data":{"action":"stop","project":"web"}}`,
			want: &PowerRequest{Action: "stop", Project: "web"},
		},
		{
			name:    "terminate resource without id",
			raw:     `{"type":"terminate","data":{"resources":[{"type":"vpc","region":"us-east-1"}]}}`,
			wantErr: true,
		},
		{
			name:    "project_updated without project",
			raw:     `{"type":"project_updated","data":{}}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			raw:     `{"data":{}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `terminate everything`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			p, err := cmd.Payload()
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, cmd.Type, p.CommandType())
		})
	}
}

func TestUnknownCommandPassesEnvelopeValidation(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"reboot_everything","data":{"x":1}}`))
	require.NoError(t, err)

	_, err = cmd.Payload()
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestResourceInputConvertsToEngineModel(t *testing.T) {
	in := ResourceInput{
		ID: "i-1", Type: "ec2_instance", Region: "eu-west-1",
		Tags:    map[string]string{"depends_on": "vol-1"},
		Details: map[string]any{"depends_on": []any{"eni-2"}},
	}
	r := in.Resource()

	assert.Equal(t, engine.ResourceRef{ID: "i-1", Type: engine.TypeInstance, Region: "eu-west-1"}, r.ResourceRef)
	assert.ElementsMatch(t, []string{"vol-1", "eni-2"}, r.DeclaredDependencies())
}

func TestStatusValidation(t *testing.T) {
	require.NoError(t, NewStatus(EventTerminateComplete, "r1", StatusSuccess, nil).Validate())
	require.NoError(t, NewStatus(EventPower, "r1", StatusPartial, nil).Validate())
	require.Error(t, NewStatus(EventPower, "r1", "done", nil).Validate())
	require.Error(t, NewStatus("", "r1", StatusSuccess, nil).Validate())
}

func TestStatusRoundTripKeepsData(t *testing.T) {
	in := NewStatus(EventTerminateProgress, "r1", StatusInProgress, map[string]any{"step": 2, "resource_id": "sg-1"}).stamp()
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, "sg-1", out.Data["resource_id"])

	var progress struct {
		Step       int    `json:"step"`
		ResourceID string `json:"resource_id"`
	}
	require.NoError(t, out.DecodeData(&progress))
	assert.Equal(t, 2, progress.Step)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	ctx := context.Background()

	var rec recorder[Status]
	_, err := b.SubscribeStatus(ctx, rec.add, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.PublishStatus(ctx, NewStatus(EventTerminateProgress, "r1", StatusInProgress, map[string]any{"step": i})))
	}
	require.NoError(t, b.Close())

	seen := rec.all()
	require.Len(t, seen, 20)
	for i, e := range seen {
		assert.Equal(t, i, e.Data["step"])
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestMemoryBusFilters(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	ctx := context.Background()

	var completes, forR2 recorder[Status]
	_, err := b.SubscribeStatus(ctx, completes.add, FilterByType(EventTerminateComplete))
	require.NoError(t, err)
	_, err = b.SubscribeStatus(ctx, forR2.add, FilterByRequestID("r2"))
	require.NoError(t, err)

	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventTerminateProgress, "r1", StatusInProgress, nil)))
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventTerminateComplete, "r1", StatusSuccess, nil)))
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventPower, "r2", StatusSuccess, nil)))
	require.NoError(t, b.Close())

	require.Len(t, completes.all(), 1)
	assert.Equal(t, "r1", completes.all()[0].RequestID)
	require.Len(t, forR2.all(), 1)
	assert.Equal(t, EventPower, forR2.all()[0].Type)
}

func TestMemoryBusRejectsInvalidEnvelopes(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	defer b.Close()
	ctx := context.Background()

	var rec recorder[Command]
	_, err := b.SubscribeCommands(ctx, rec.add)
	require.NoError(t, err)

	err = b.PublishCommand(ctx, Command{Type: CommandTerminate, Data: json.RawMessage(`{"resources":[{"id":""}]}`)})
	require.Error(t, err)
	err = b.PublishStatus(ctx, Status{Type: EventPower})
	require.Error(t, err)
	assert.Empty(t, rec.all())
}

func TestMemoryBusSurvivesPanickingSubscriber(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	ctx := context.Background()

	var rec recorder[Command]
	_, err := b.SubscribeCommands(ctx, func(ctx context.Context, cmd Command) {
		if cmd.RequestID == "boom" {
			panic("handler exploded")
		}
		rec.add(ctx, cmd)
	})
	require.NoError(t, err)

	require.NoError(t, b.PublishCommand(ctx, Command{Type: CommandScanAllRegions, RequestID: "boom"}))
	require.NoError(t, b.PublishCommand(ctx, Command{Type: CommandScanAllRegions, RequestID: "ok"}))
	require.NoError(t, b.Close())

	seen := rec.all()
	require.Len(t, seen, 1)
	assert.Equal(t, "ok", seen[0].RequestID)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	defer b.Close()
	ctx := context.Background()

	var rec recorder[Status]
	sub, err := b.SubscribeStatus(ctx, rec.add, nil)
	require.NoError(t, err)
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventPower, "r1", StatusSuccess, nil)))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, b.PublishStatus(ctx, NewStatus(EventPower, "r2", StatusSuccess, nil)))

	assert.Len(t, rec.all(), 1)
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemory(MemoryOptions{}, zerolog.Nop())
	require.NoError(t, b.Close())

	err := b.PublishStatus(context.Background(), NewStatus(EventPower, "r1", StatusSuccess, nil))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.SubscribeCommands(context.Background(), func(context.Context, Command) {})
	assert.ErrorIs(t, err, ErrClosed)
}

package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LastScanKey is the Redis key holding the last scan time.
const LastScanKey = "pockitect:ai:last_resource_scan"

// Recorder stores when the last scan finished.
type Recorder interface {
	RecordScan(ctx context.Context, at time.Time) error
	LastScan(ctx context.Context) (time.Time, error)
}

func formatScanTime(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}

// RedisRecorder keeps the timestamp under LastScanKey.
type RedisRecorder struct {
	Client redis.Cmdable
}

func (r RedisRecorder) RecordScan(ctx context.Context, at time.Time) error {
	return r.Client.Set(ctx, LastScanKey, formatScanTime(at), 0).Err()
}

// LastScan returns the zero time when no scan was recorded.
func (r RedisRecorder) LastScan(ctx context.Context) (time.Time, error) {
	v, err := r.Client.Get(ctx, LastScanKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// FileRecorder keeps the timestamp in a small text file.
type FileRecorder struct {
	Path string
}

func (r FileRecorder) RecordScan(_ context.Context, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.Path, []byte(formatScanTime(at)+"\n"), 0o644)
}

// LastScan returns the zero time when no scan was recorded.
func (r FileRecorder) LastScan(_ context.Context) (time.Time, error) {
	data, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last scan file %s: %w", r.Path, err)
	}
	return at, nil
}

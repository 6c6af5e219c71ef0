package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

type capture struct {
	mu     sync.Mutex
	events []bus.Status
}

func (c *capture) PublishStatus(_ context.Context, e bus.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capture) byRegion() map[string]bus.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bus.Status)
	for _, e := range c.events {
		out[e.Data["region"].(string)] = e
	}
	return out
}

func seededCloud() *memcloud.Cloud {
	c := memcloud.New()
	c.Add("us-east-1", cloud.Vpc{ID: "vpc-1", CIDR: "10.0.0.0/16", State: "available", Tags: map[string]string{"Name": "main"}})
	c.Add("us-east-1", cloud.Instance{ID: "i-1", State: cloud.InstanceRunning, VpcID: "vpc-1"})
	c.Add("us-east-1", cloud.Instance{ID: "i-2", State: cloud.InstanceTerminated, VpcID: "vpc-1"})
	c.Add("eu-west-1", cloud.DBInstance{ID: "db-1", Status: cloud.DBAvailable, Engine: "postgres"})
	c.Add("", cloud.Bucket{Name: "assets"})
	c.Add("", cloud.Role{Name: "app-role", ARN: "arn:aws:iam::1:role/app-role"})
	return c
}

func newScanner(t *testing.T, provider cloud.Provider, regions ...string) (*Scanner, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	s := New(provider, Options{
		CacheDir: dir,
		Regions:  regions,
		Recorder: FileRecorder{Path: filepath.Join(dir, "..", "last_scan")},
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		Logger:   zerolog.Nop(),
	})
	return s, dir
}

func TestOrdered(t *testing.T) {
	tests := []struct {
		name     string
		regions  []string
		priority []string
		want     []string
	}{
		{"no priority", []string{"a", "b"}, nil, []string{"a", "b"}},
		{"priority first", []string{"a", "b", "c"}, []string{"c"}, []string{"c", "a", "b"}},
		{"priority outside list", []string{"a"}, []string{"z"}, []string{"z", "a"}},
		{"duplicates and blanks", []string{"a", "a", ""}, []string{"a"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ordered(tt.regions, tt.priority)
			if len(got) != len(tt.want) {
				t.Fatalf("Ordered() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Ordered() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRun(t *testing.T) {
	s, dir := newScanner(t, seededCloud(), "us-east-1", "eu-west-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "ap-south-1.json")
	if err := os.WriteFile(stale, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	pub := &capture{}
	result, err := s.Run(context.Background(), &bus.ScanRequest{}, "req-1", pub)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale cache file should have been removed")
	}
	if result.Global != 2 {
		t.Errorf("Global = %d, want 2", result.Global)
	}
	sort.Strings(result.Scanned)
	if len(result.Scanned) != 2 || result.Scanned[0] != "eu-west-1" {
		t.Errorf("Scanned = %v", result.Scanned)
	}

	chunks := pub.byRegion()
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 scan chunks, got %d", len(chunks))
	}
	for region, e := range chunks {
		if e.Type != bus.EventScanChunk || e.Status != bus.StatusInProgress || e.RequestID != "req-1" {
			t.Errorf("%s: unexpected event %+v", region, e)
		}
	}
	if chunks["us-east-1"].Data["count"] != 2 {
		t.Errorf("us-east-1 count = %v, terminated instances must be skipped", chunks["us-east-1"].Data["count"])
	}

	global, err := ReadCache(dir, engine.GlobalRegion)
	if err != nil {
		t.Fatalf("ReadCache(global) failed: %v", err)
	}
	if len(global) != 2 || global[0].Region != engine.GlobalRegion {
		t.Errorf("global cache = %+v", global)
	}

	east, err := ReadCache(dir, "us-east-1")
	if err != nil {
		t.Fatalf("ReadCache(us-east-1) failed: %v", err)
	}
	if len(east) != 2 || east[0].ID != "i-1" || east[1].ID != "vpc-1" || east[1].Name != "main" {
		t.Errorf("us-east-1 cache = %+v", east)
	}

	at, err := FileRecorder{Path: filepath.Join(dir, "..", "last_scan")}.LastScan(context.Background())
	if err != nil {
		t.Fatalf("LastScan failed: %v", err)
	}
	if !at.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("LastScan = %v", at)
	}
}

func TestRunRequestRegionsOverrideDefaults(t *testing.T) {
	s, _ := newScanner(t, seededCloud(), "us-east-1", "eu-west-1")
	pub := &capture{}

	result, err := s.Run(context.Background(), &bus.ScanRequest{Regions: []string{"eu-west-1"}}, "req-1", pub)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Scanned) != 1 || result.Scanned[0] != "eu-west-1" {
		t.Errorf("Scanned = %v", result.Scanned)
	}
}

func TestRunRegionFailure(t *testing.T) {
	c := seededCloud()
	boom := cloud.NewAPIError("UnauthorizedOperation", "not allowed")
	for _, op := range []string{"DescribeInstances", "DescribeVpcs", "DescribeDBInstances"} {
		c.FailOn(op, "eu-west-1", boom)
	}
	c.FailOn("DescribeSubnets", "*", boom)
	c.FailOn("DescribeSecurityGroups", "*", boom)

	s, _ := newScanner(t, c, "us-east-1", "eu-west-1")
	pub := &capture{}
	result, err := s.Run(context.Background(), nil, "req-1", pub)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0] != "eu-west-1" {
		t.Errorf("Failed = %v", result.Failed)
	}
	if len(result.Scanned) != 1 || result.Scanned[0] != "us-east-1" {
		t.Errorf("Scanned = %v, a partial collector failure must not fail the region", result.Scanned)
	}

	failed := pub.byRegion()["eu-west-1"]
	if failed.Status != bus.StatusError || failed.Data["error"] == nil {
		t.Errorf("eu-west-1 event = %+v", failed)
	}
}

func TestRunSkipsInFlightRegions(t *testing.T) {
	s, _ := newScanner(t, seededCloud(), "us-east-1", "eu-west-1")
	if !s.acquire("eu-west-1") {
		t.Fatal("acquire should succeed on an idle region")
	}
	if s.acquire("eu-west-1") {
		t.Fatal("second acquire of the same region should fail")
	}

	pub := &capture{}
	result, err := s.Run(context.Background(), nil, "req-1", pub)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "eu-west-1" {
		t.Errorf("Skipped = %v", result.Skipped)
	}
	if _, ok := pub.byRegion()["eu-west-1"]; ok {
		t.Error("a skipped region must not emit a chunk")
	}

	s.release("eu-west-1")
	if len(s.InFlight()) != 0 {
		t.Errorf("InFlight() = %v after release", s.InFlight())
	}
}

func TestFileRecorderMissing(t *testing.T) {
	at, err := FileRecorder{Path: filepath.Join(t.TempDir(), "none")}.LastScan(context.Background())
	if err != nil || !at.IsZero() {
		t.Errorf("LastScan() = %v, %v; want zero time", at, err)
	}
}

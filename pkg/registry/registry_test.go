package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/stores"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func openTestRegistry(t *testing.T, store stores.Store) *Registry {
	t.Helper()

	reg, err := Open(context.Background(), store, Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return reg
}

func jsonStore(t *testing.T) *stores.JSONStore {
	t.Helper()

	s, err := stores.NewJSONStore(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	return s
}

func tracked(id string, typ engine.ResourceType, region, project string) engine.TrackedResource {
	return engine.TrackedResource{ID: id, Type: typ, Region: region, Project: project}
}

func TestAddUpsertsByIDAndRegion(t *testing.T) {
	reg := openTestRegistry(t, jsonStore(t))
	ctx := context.Background()

	first, err := reg.Add(ctx, engine.TrackedResource{ID: "i-1", Type: engine.TypeInstance, Region: "us-east-1", Project: "demo", Name: "web"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if first.Status != engine.TrackedActive || !first.CreatedAt.Equal(fixedNow) {
		t.Errorf("Add() = %+v, want active entry created at %v", first, fixedNow)
	}

	merged, err := reg.Add(ctx, engine.TrackedResource{ID: "i-1", Type: engine.TypeInstance, Region: "us-east-1", Project: "other"})
	if err != nil {
		t.Fatalf("second Add() error = %v", err)
	}
	if merged.Name != "web" || merged.Project != "demo" {
		t.Errorf("upsert lost fields: %+v", merged)
	}

	if _, err := reg.Add(ctx, tracked("i-1", engine.TypeInstance, "eu-west-1", "demo")); err != nil {
		t.Fatalf("Add() other region error = %v", err)
	}

	if got := len(reg.All()); got != 2 {
		t.Errorf("len(All()) = %d, want 2", got)
	}
}

func TestAddValidates(t *testing.T) {
	reg := openTestRegistry(t, jsonStore(t))
	ctx := context.Background()

	tests := []struct {
		name string
		res  engine.TrackedResource
	}{
		{"missing id", engine.TrackedResource{Type: engine.TypeVPC}},
		{"unknown type", engine.TrackedResource{ID: "x", Type: "dns_zone"}},
		{"bad status", engine.TrackedResource{ID: "x", Type: engine.TypeVPC, Status: "gone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Add(ctx, tt.res); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMarkDeletedPersists(t *testing.T) {
	store := jsonStore(t)
	reg := openTestRegistry(t, store)
	ctx := context.Background()

	for _, res := range []engine.TrackedResource{
		tracked("vpc-1", engine.TypeVPC, "us-east-1", "demo"),
		tracked("vpc-1", engine.TypeVPC, "us-west-2", "demo"),
	} {
		if _, err := reg.Add(ctx, res); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if err := reg.MarkDeleted(ctx, "vpc-1", "us-west-2"); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	if err := reg.MarkDeleted(ctx, "vpc-404", "us-east-1"); err != nil {
		t.Errorf("MarkDeleted() unknown = %v, want nil", err)
	}

	reopened := openTestRegistry(t, store)
	active := reopened.GetActive(Filter{})
	if len(active) != 1 || active[0].Region != "us-east-1" {
		t.Errorf("active after reload = %+v", active)
	}
	if got, ok := reopened.Get("vpc-1", "us-west-2"); !ok || got.Status != engine.TrackedDeleted {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	if !reopened.LastUpdated().Equal(fixedNow) {
		t.Errorf("LastUpdated() = %v", reopened.LastUpdated())
	}
}

func TestMarkDeletedAnyRegion(t *testing.T) {
	reg := openTestRegistry(t, jsonStore(t))
	ctx := context.Background()

	if _, err := reg.Add(ctx, tracked("assets", engine.TypeBucket, engine.GlobalRegion, "demo")); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkDeleted(ctx, "assets", ""); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	if got := reg.GetActive(Filter{}); len(got) != 0 {
		t.Errorf("GetActive() = %+v, want none", got)
	}
}

func TestGetActiveFilters(t *testing.T) {
	reg := openTestRegistry(t, jsonStore(t))
	ctx := context.Background()

	err := reg.AddAll(ctx, []engine.TrackedResource{
		tracked("i-1", engine.TypeInstance, "us-east-1", "demo"),
		tracked("i-2", engine.TypeInstance, "us-west-2", "demo"),
		tracked("db-1", engine.TypeDBInstance, "us-east-1", "demo"),
		tracked("i-3", engine.TypeInstance, "us-east-1", "other"),
	})
	if err != nil {
		t.Fatalf("AddAll() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"i-1", "i-2", "db-1", "i-3"}},
		{"type", Filter{Type: engine.TypeInstance}, []string{"i-1", "i-2", "i-3"}},
		{"region", Filter{Region: "us-east-1"}, []string{"i-1", "db-1", "i-3"}},
		{"project", Filter{Project: "demo", Type: engine.TypeInstance}, []string{"i-1", "i-2"}},
		{"none", Filter{Project: "missing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.GetActive(tt.filter)
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("GetActive(%+v) = %v, want %v", tt.filter, ids, tt.want)
			}
		})
	}
}

type failingStore struct {
	stores.Store
	fail bool
}

func (f *failingStore) Save(ctx context.Context, doc *stores.Document) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, doc)
}

func TestFailedPersistRollsBack(t *testing.T) {
	store := &failingStore{Store: jsonStore(t)}
	reg := openTestRegistry(t, store)
	ctx := context.Background()

	if _, err := reg.Add(ctx, tracked("vpc-1", engine.TypeVPC, "us-east-1", "demo")); err != nil {
		t.Fatal(err)
	}

	store.fail = true
	if _, err := reg.Add(ctx, tracked("vpc-2", engine.TypeVPC, "us-east-1", "demo")); err == nil {
		t.Fatal("expected persist error")
	}
	if err := reg.MarkDeleted(ctx, "vpc-1", "us-east-1"); err == nil {
		t.Fatal("expected persist error")
	}
	if err := reg.AddAll(ctx, []engine.TrackedResource{tracked("vpc-3", engine.TypeVPC, "us-east-1", "demo")}); err == nil {
		t.Fatal("expected persist error")
	}

	active := reg.GetActive(Filter{})
	if len(active) != 1 || active[0].ID != "vpc-1" {
		t.Errorf("state after failed writes = %+v", active)
	}
}

func TestRegistryCountsMetric(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "pockitect"})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := Open(context.Background(), jsonStore(t), Options{Metrics: metrics, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := reg.Add(ctx, tracked("i-1", engine.TypeInstance, "us-east-1", "demo")); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkDeleted(ctx, "i-1", "us-east-1"); err != nil {
		t.Fatal(err)
	}

	count, err := testutil.GatherAndCount(metrics.Gatherer(), "pockitect_registry_resources")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("registry_resources series = %d, want 2", count)
	}
}

func TestOpenWithSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.BackendSQLite, filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("stores.Open() error = %v", err)
	}
	defer store.Close()

	reg := openTestRegistry(t, store)
	if _, err := reg.Add(ctx, tracked("subnet-1", engine.TypeSubnet, "us-east-1", "demo")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reopened := openTestRegistry(t, store)
	if got := reopened.GetActive(Filter{Type: engine.TypeSubnet}); len(got) != 1 {
		t.Errorf("GetActive() = %+v", got)
	}
}

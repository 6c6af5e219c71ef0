// Package registry holds the ground truth of resources this system believes
// it owns. Entries are keyed by (id, region), never removed, and every
// mutation is written through to the backing store before it returns.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/stores"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

type key struct {
	id     string
	region string
}

// Filter selects active resources. Empty fields match everything.
type Filter struct {
	Type    engine.ResourceType
	Region  string
	Project string
}

func (f Filter) matches(r engine.TrackedResource) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	if f.Project != "" && r.Project != f.Project {
		return false
	}
	return true
}

// Options configures a Registry.
type Options struct {
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	store       stores.Store
	resources   []engine.TrackedResource
	index       map[key]int
	lastUpdated time.Time

	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

var _ engine.DeletionTracker = (*Registry)(nil)

// Open loads the registry document from store.
func Open(ctx context.Context, store stores.Store, opts Options) (*Registry, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	r := &Registry{
		store:       store,
		index:       make(map[key]int, len(doc.Resources)),
		lastUpdated: doc.LastUpdated,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With().Str("component", "registry").Logger(),
		now:         opts.Now,
	}
	for _, res := range doc.Resources {
		k := key{res.ID, res.Region}
		if i, ok := r.index[k]; ok {
			r.resources[i] = res
			continue
		}
		r.index[k] = len(r.resources)
		r.resources = append(r.resources, res)
	}

	r.logger.Debug().Int("resources", len(r.resources)).Msg("registry loaded")
	r.publishCounts()
	return r, nil
}

// Add upserts res by (id, region). An existing entry takes the new status,
// and the new name when one is given. A new entry defaults to active and
// gets a creation time when it has none.
func (r *Registry) Add(ctx context.Context, res engine.TrackedResource) (engine.TrackedResource, error) {
	if res.ID == "" {
		return engine.TrackedResource{}, fmt.Errorf("resource id is required")
	}
	if err := res.Type.Validate(); err != nil {
		return engine.TrackedResource{}, err
	}
	if res.Status == "" {
		res.Status = engine.TrackedActive
	}
	if err := res.Status.Validate(); err != nil {
		return engine.TrackedResource{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{res.ID, res.Region}
	if i, ok := r.index[k]; ok {
		prev := r.resources[i]
		merged := prev
		merged.Status = res.Status
		if res.Name != "" {
			merged.Name = res.Name
		}
		r.resources[i] = merged
		if err := r.persist(ctx); err != nil {
			r.resources[i] = prev
			return engine.TrackedResource{}, err
		}
		return merged, nil
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now().UTC()
	}
	r.index[k] = len(r.resources)
	r.resources = append(r.resources, res)
	if err := r.persist(ctx); err != nil {
		r.resources = r.resources[:len(r.resources)-1]
		delete(r.index, k)
		return engine.TrackedResource{}, err
	}

	r.logger.Info().Str("resource_id", res.ID).Str("resource_type", string(res.Type)).
		Str("region", res.Region).Str("project", res.Project).Msg("tracked resource")
	return res, nil
}

// AddAll upserts every resource with a single write. Either all of them
// are persisted or none are.
func (r *Registry) AddAll(ctx context.Context, resources []engine.TrackedResource) error {
	for _, res := range resources {
		if res.ID == "" {
			return fmt.Errorf("resource id is required")
		}
		if err := res.Type.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]engine.TrackedResource, len(r.resources))
	copy(snapshot, r.resources)

	for _, res := range resources {
		if res.Status == "" {
			res.Status = engine.TrackedActive
		}
		k := key{res.ID, res.Region}
		if i, ok := r.index[k]; ok {
			r.resources[i].Status = res.Status
			if res.Name != "" {
				r.resources[i].Name = res.Name
			}
			continue
		}
		if res.CreatedAt.IsZero() {
			res.CreatedAt = r.now().UTC()
		}
		r.index[k] = len(r.resources)
		r.resources = append(r.resources, res)
	}

	if err := r.persist(ctx); err != nil {
		r.resources = snapshot
		r.index = make(map[key]int, len(snapshot))
		for i, res := range snapshot {
			r.index[key{res.ID, res.Region}] = i
		}
		return err
	}
	return nil
}

// MarkDeleted flips the entry for (id, region) to deleted. An empty region
// matches the first entry with that id. Unknown resources are not an error:
// deletion runs routinely include resources that were never tracked.
func (r *Registry) MarkDeleted(ctx context.Context, id, region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.lookup(id, region)
	if !ok {
		return nil
	}
	prev := r.resources[i]
	if prev.Status == engine.TrackedDeleted {
		return nil
	}

	r.resources[i].Status = engine.TrackedDeleted
	if err := r.persist(ctx); err != nil {
		r.resources[i] = prev
		return err
	}
	r.logger.Info().Str("resource_id", id).Str("region", prev.Region).Msg("marked deleted")
	return nil
}

func (r *Registry) lookup(id, region string) (int, bool) {
	if region != "" {
		i, ok := r.index[key{id, region}]
		return i, ok
	}
	for i, res := range r.resources {
		if res.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Get returns the entry for (id, region) regardless of status.
func (r *Registry) Get(id, region string) (engine.TrackedResource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[key{id, region}]
	if !ok {
		return engine.TrackedResource{}, false
	}
	return r.resources[i], true
}

// GetActive returns copies of the active entries matching f, in insertion order.
func (r *Registry) GetActive(f Filter) []engine.TrackedResource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.TrackedResource, 0)
	for _, res := range r.resources {
		if res.Status != engine.TrackedActive || !f.matches(res) {
			continue
		}
		out = append(out, res)
	}
	return out
}

// All returns a copy of every entry.
func (r *Registry) All() []engine.TrackedResource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.TrackedResource, len(r.resources))
	copy(out, r.resources)
	return out
}

// LastUpdated returns the time of the last persisted mutation.
func (r *Registry) LastUpdated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdated
}

// persist writes the current state. Callers hold the write lock.
func (r *Registry) persist(ctx context.Context) error {
	prev := r.lastUpdated
	r.lastUpdated = r.now().UTC()

	doc := &stores.Document{
		Resources:   make([]engine.TrackedResource, len(r.resources)),
		LastUpdated: r.lastUpdated,
	}
	copy(doc.Resources, r.resources)

	if err := r.store.Save(ctx, doc); err != nil {
		r.lastUpdated = prev
		r.logger.Error().Err(err).Msg("failed to persist registry")
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	r.publishCounts()
	return nil
}

func (r *Registry) publishCounts() {
	if r.metrics == nil {
		return
	}
	counts := make(map[engine.ResourceType]map[engine.TrackedStatus]int)
	for _, res := range r.resources {
		if counts[res.Type] == nil {
			counts[res.Type] = make(map[engine.TrackedStatus]int)
		}
		counts[res.Type][res.Status]++
	}
	for t, byStatus := range counts {
		for _, s := range []engine.TrackedStatus{engine.TrackedActive, engine.TrackedDeleted} {
			r.metrics.SetRegistryCount(string(t), string(s), float64(byStatus[s]))
		}
	}
}

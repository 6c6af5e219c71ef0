// Package scan inventories the account region by region and writes one JSON
// cache file per region, announcing each file with a scan_chunk event.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

// GlobalFile is the cache file holding resources that are not regional.
const GlobalFile = "global.json"

// Options configures a Scanner.
type Options struct {
	CacheDir string

	// Regions are scanned when a request names none.
	Regions []string

	// Parallel bounds concurrent region scans. Defaults to 4.
	Parallel int

	// Recorder stores the time of the last scan. May be nil.
	Recorder Recorder

	Now    func() time.Time
	Logger zerolog.Logger
}

// Result summarises one scan request.
type Result struct {
	Global  int      `json:"global"`
	Scanned []string `json:"scanned"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// Scanner scans regions into the cache directory. A region is scanned by at
// most one request at a time; overlapping requests skip it.
type Scanner struct {
	provider cloud.Provider
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a scanner.
func New(provider cloud.Provider, opts Options) *Scanner {
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{
		provider: provider,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "scanner").Logger(),
		inflight: make(map[string]bool),
	}
}

// Ordered returns priority regions first, then the remaining regions in
// their given order, without duplicates.
func Ordered(regions, priority []string) []string {
	seen := make(map[string]bool, len(regions)+len(priority))
	out := make([]string, 0, len(regions)+len(priority))
	for _, list := range [][]string{priority, regions} {
		for _, r := range list {
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// Run clears the cache, scans global resources and then every requested
// region, publishing a scan_chunk per file. Per-region failures are
// reported as events and do not stop the other regions.
func (s *Scanner) Run(ctx context.Context, req *bus.ScanRequest, requestID string, pub bus.Publisher) (*Result, error) {
	regions := s.opts.Regions
	var priority []string
	if req != nil {
		if len(req.Regions) > 0 {
			regions = req.Regions
		}
		priority = req.PriorityRegions
	}

	defer s.recordScan(ctx)

	if err := s.clearCache(); err != nil {
		s.publishChunk(ctx, pub, requestID, bus.StatusError, map[string]any{"region": engine.GlobalRegion, "error": err.Error()})
		return nil, err
	}

	result := &Result{Scanned: []string{}, Skipped: []string{}, Failed: []string{}}

	global, err := s.runCollectors(ctx, engine.GlobalRegion, globalCollectors)
	if err == nil {
		var path string
		path, err = s.writeCache(GlobalFile, global)
		if err == nil {
			result.Global = len(global)
			s.publishChunk(ctx, pub, requestID, bus.StatusInProgress, map[string]any{
				"region": engine.GlobalRegion,
				"file":   path,
				"count":  len(global),
			})
		}
	}
	if err != nil {
		s.publishChunk(ctx, pub, requestID, bus.StatusError, map[string]any{"region": engine.GlobalRegion, "error": err.Error()})
		return nil, fmt.Errorf("global scan failed: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)
	for _, region := range Ordered(regions, priority) {
		if !s.acquire(region) {
			s.logger.Debug().Str("region", region).Msg("region scan already in flight")
			result.Skipped = append(result.Skipped, region)
			continue
		}
		g.Go(func() error {
			defer s.release(region)
			ok := s.scanRegion(gctx, region, requestID, pub)
			mu.Lock()
			if ok {
				result.Scanned = append(result.Scanned, region)
			} else {
				result.Failed = append(result.Failed, region)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().Str("request_id", requestID).
		Int("scanned", len(result.Scanned)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failed)).
		Msg("scan finished")
	return result, ctx.Err()
}

func (s *Scanner) scanRegion(ctx context.Context, region, requestID string, pub bus.Publisher) bool {
	resources, err := s.runCollectors(ctx, region, regionalCollectors)
	var path string
	if err == nil {
		path, err = s.writeCache(region+".json", resources)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("region", region).Msg("region scan failed")
		s.publishChunk(ctx, pub, requestID, bus.StatusError, map[string]any{"region": region, "error": err.Error()})
		return false
	}
	s.publishChunk(ctx, pub, requestID, bus.StatusInProgress, map[string]any{
		"region": region,
		"file":   path,
		"count":  len(resources),
	})
	return true
}

func (s *Scanner) acquire(region string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[region] {
		return false
	}
	s.inflight[region] = true
	return true
}

func (s *Scanner) release(region string) {
	s.mu.Lock()
	delete(s.inflight, region)
	s.mu.Unlock()
}

// InFlight returns the regions currently being scanned.
func (s *Scanner) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inflight))
	for r := range s.inflight {
		out = append(out, r)
	}
	return out
}

// clearCache removes the previous scan's JSON files.
func (s *Scanner) clearCache() error {
	if err := os.MkdirAll(s.opts.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	old, err := filepath.Glob(filepath.Join(s.opts.CacheDir, "*.json"))
	if err != nil {
		return err
	}
	for _, f := range old {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			s.logger.Debug().Err(err).Str("file", f).Msg("failed to remove cache file")
		}
	}
	return nil
}

// writeCache writes resources to name inside the cache dir via a temporary
// file so readers never see a partial document.
func (s *Scanner) writeCache(name string, resources []engine.ScannedResource) (string, error) {
	data, err := json.MarshalIndent(resources, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.opts.CacheDir, ".scan-*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	path := filepath.Join(s.opts.CacheDir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move cache file: %w", err)
	}
	return path, nil
}

// ReadCache loads one region's cache file.
func ReadCache(dir, region string) ([]engine.ScannedResource, error) {
	name := region + ".json"
	if region == engine.GlobalRegion {
		name = GlobalFile
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	var resources []engine.ScannedResource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return resources, nil
}

func (s *Scanner) publishChunk(ctx context.Context, pub bus.Publisher, requestID, status string, data map[string]any) {
	if err := pub.PublishStatus(ctx, bus.NewStatus(bus.EventScanChunk, requestID, status, data)); err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to publish scan chunk")
	}
}

func (s *Scanner) recordScan(ctx context.Context) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.RecordScan(context.WithoutCancel(ctx), s.opts.Now()); err != nil {
		s.logger.Debug().Err(err).Msg("failed to record last resource scan")
	}
}

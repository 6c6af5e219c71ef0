package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// loadDir reads every policy file under dir, recursively. A file that does
// not parse is logged and skipped so one bad edit cannot unload the rest.
func loadDir(dir string, logger zerolog.Logger) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		p, err := readPolicyFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	logger.Debug().Str("dir", dir).Int("count", len(policies)).Msg("Policy files read")
	return policies, nil
}

// readPolicyFile parses one policy. A .rego file is the module itself,
// named after the file and blocking. A .json file is a serialized Policy.
// File policies are never builtin.
func readPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	ext := filepath.Ext(path)

	p := &Policy{}
	switch ext {
	case ".rego":
		p.Rego = string(data)
		p.Description = leadingComment(p.Rego)
		p.Enabled = true
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file %s", base)
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(base, ext)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	p.Builtin = false
	p.Source = path
	return p, nil
}

// leadingComment joins the # lines at the top of a Rego module.
func leadingComment(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if c := strings.TrimSpace(strings.TrimPrefix(line, "#")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// watchDir calls apply with the full policy set of dir after every change
// to a policy file beneath it. It returns once the watch is registered;
// events are handled in the background until ctx is done.
func watchDir(ctx context.Context, dir string, logger zerolog.Logger, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := addTree(watcher, dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(reloadDelay)
		debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// New subdirectories are watched too.
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = addTree(watcher, ev.Name)
						continue
					}
				}
				if !isPolicyFile(ev.Name) || ev.Op == fsnotify.Chmod {
					continue
				}
				logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")
				debounce.Reset(reloadDelay)

			case <-debounce.C:
				policies, err := loadDir(dir, logger)
				if err == nil {
					err = apply(policies)
				}
				if err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
					continue
				}
				logger.Info().Int("count", len(policies)).Msg("Policies reloaded")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Policy watcher error")
			}
		}
	}()

	logger.Info().Str("dir", dir).Msg("Watching policy directory")
	return nil
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

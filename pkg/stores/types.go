package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/pockitect/pockitect/pkg/engine"
)

// Document is the persisted registry state.
type Document struct {
	Resources   []engine.TrackedResource `json:"resources"`
	LastUpdated time.Time                `json:"last_updated"`
}

// Store loads and rewrites the registry document.
type Store interface {
	// Load returns the stored document. A store that has never been saved
	// returns an empty document, not an error.
	Load(ctx context.Context) (*Document, error)

	// Save replaces the stored document.
	Save(ctx context.Context, doc *Document) error

	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// Open creates, initializes and migrates the store for backend at path.
func Open(ctx context.Context, backend Backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(path)
	case BackendSQLite:
		s, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown registry backend: %q", backend)
	}
}

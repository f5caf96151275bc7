// Package store provides persistence for kotoimi submissions.
// Two backends implement Store: SQLite (default) and bbolt.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBbolt  = "bbolt"
)

// Store is the append-mostly submission table.
type Store interface {
	// Insert persists a new submission. The ID must already be set.
	Insert(ctx context.Context, s *models.Submission) error

	// Get returns a submission by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*models.Submission, error)

	// HasDuplicate reports whether the author already submitted the same
	// meaning text for the category at a time strictly after since.
	HasDuplicate(ctx context.Context, author models.AuthorHash, category models.EventCategory, meaningText string, since time.Time) (bool, error)

	// SetSawAlternatives updates the only post-hoc mutable field.
	// Returns ErrNotFound if the ID does not exist.
	SetSawAlternatives(ctx context.Context, id string, saw bool) error

	// Query returns matching submissions ordered by timestamp, then ID.
	Query(ctx context.Context, f Filter) ([]*models.Submission, error)

	// Count returns the number of matching submissions.
	Count(ctx context.Context, f Filter) (int, error)

	// Categories returns the distinct event categories among matching rows, sorted.
	Categories(ctx context.Context, f Filter) ([]models.EventCategory, error)

	// Ping checks that the backend is usable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter selects submissions. Zero values mean "no constraint".
type Filter struct {
	ConsentedOnly   bool
	Category        models.EventCategory
	Mode            models.Mode
	ExcludeFlags    models.QualityFlags // rows carrying any of these flags are dropped
	SawAlternatives bool                // only rows with saw_alt_meanings set
}

// Research is the filter every aggregate and analysis starts from:
// consented rows without spam or duplicate flags.
func Research() Filter {
	return Filter{ConsentedOnly: true, ExcludeFlags: models.AggregationBlocking}
}

// Match applies the filter in memory. Backends without a query engine use it.
func (f Filter) Match(s *models.Submission) bool {
	if f.ConsentedOnly && !s.Consent {
		return false
	}
	if f.Category != "" && s.EventCategory != f.Category {
		return false
	}
	if f.Mode != "" && s.Mode != f.Mode {
		return false
	}
	if s.QualityFlags.Any(f.ExcludeFlags) {
		return false
	}
	if f.SawAlternatives && !s.SawAlternativeMeanings {
		return false
	}
	return true
}

// Open creates a store for the named backend and prepares its schema.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		st, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		if err := st.Initialize(); err != nil {
			st.Close()
			return nil, err
		}
		if err := st.RunMigrations(); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case BackendBbolt:
		return NewBboltStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be %s or %s)", backend, BackendSQLite, BackendBbolt)
	}
}

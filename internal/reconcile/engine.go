// Package reconcile persists canonical watchlist entries with insert-or-merge
// semantics keyed by (source, external id).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// lockStripes is the number of per-key mutexes. Two keys sharing a stripe
// only serialize against each other.
const lockStripes = 64

// Store is the slice of the repository the engine writes through.
type Store interface {
	FindEntry(ctx context.Context, source, externalID string) (*domain.WatchlistEntry, bool, error)
	InsertEntry(ctx context.Context, e *domain.WatchlistEntry) error
	UpdateEntry(ctx context.Context, e *domain.WatchlistEntry) error
	DeactivateEntries(ctx context.Context, source string, externalIDs []string) (int, error)
}

// Engine reconciles entries into the store.
type Engine struct {
	store  Store
	cache  domain.Cache
	logger *slog.Logger
	now    func() time.Time

	locks [lockStripes]sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache invalidates corpus snapshots of changed sources.
func WithCache(c domain.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile inserts unseen entries and overwrites known ones. Per-record
// failures are counted and skipped; a store outage or cancelled context ends
// the run early with Success=false and the partial counts.
func (e *Engine) Reconcile(ctx context.Context, source string, entries iter.Seq[*domain.WatchlistEntry]) *domain.RunResult {
	start := e.now()
	result := &domain.RunResult{
		Source:    source,
		StartedAt: start,
		Success:   true,
	}

	var firstErr error
	modified := false
	for entry := range entries {
		if err := ctx.Err(); err != nil {
			result.Fail(fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
			break
		}
		result.Total++

		created, changed, err := e.upsert(ctx, entry)
		if err != nil {
			if fatal(err) {
				result.Errors++
				result.Fail(err)
				e.logger.Error("reconciliation aborted",
					"source", source,
					"external_id", entry.ExternalID,
					"error", err,
				)
				break
			}
			result.Errors++
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Warn("entry reconciliation failed",
				"source", source,
				"external_id", entry.ExternalID,
				"error", err,
			)
			continue
		}
		if created {
			result.New++
		} else {
			result.Updated++
		}
		modified = modified || changed
	}

	if result.Success && result.Errors > 0 {
		result.ErrorMessage = fmt.Sprintf("%d of %d entries failed: %v", result.Errors, result.Total, firstErr)
		if result.New+result.Updated == 0 {
			result.Success = false
		}
	}
	result.Duration = e.now().Sub(start)

	// Unchanged re-ingests keep the cached corpus.
	if modified {
		e.invalidate(ctx, source)
	}
	return result
}

// upsert writes one entry under its key lock. It reports whether the entry
// was new and whether the matchable corpus changed.
func (e *Engine) upsert(ctx context.Context, entry *domain.WatchlistEntry) (created, changed bool, err error) {
	if entry.Source == "" || entry.ExternalID == "" {
		return false, false, fmt.Errorf("%w: entry without source or external id", domain.ErrValidation)
	}

	mu := e.lockFor(entry.Source, entry.ExternalID)
	mu.Lock()
	defer mu.Unlock()

	existing, found, err := e.store.FindEntry(ctx, entry.Source, entry.ExternalID)
	if err != nil {
		return false, false, err
	}

	now := e.now()
	entry.IsActive = true
	if !found {
		entry.ID = uuid.New().String()
		entry.DateAdded = now
		entry.DateLastUpdated = nil
		return true, true, e.store.InsertEntry(ctx, entry)
	}

	changed = !existing.IsActive || !existing.SameContent(entry)

	entry.ID = existing.ID
	entry.DateAdded = existing.DateAdded
	entry.IsWhitelisted = existing.IsWhitelisted
	entry.DateLastUpdated = &now
	return false, changed, e.store.UpdateEntry(ctx, entry)
}

// Deactivate soft-deletes the named entries of source.
func (e *Engine) Deactivate(ctx context.Context, source string, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	n, err := e.store.DeactivateEntries(ctx, source, externalIDs)
	if err != nil {
		return n, err
	}
	if n > 0 {
		e.invalidate(ctx, source)
		e.logger.Info("entries deactivated", "source", source, "count", n)
	}
	return n, nil
}

func (e *Engine) invalidate(ctx context.Context, source string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateCorpus(context.WithoutCancel(ctx), source); err != nil {
		e.logger.Warn("failed to invalidate corpus cache", "source", source, "error", err)
	}
}

func (e *Engine) lockFor(source, externalID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(externalID))
	return &e.locks[h.Sum32()%lockStripes]
}

// fatal reports whether err should end the whole run.
func fatal(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

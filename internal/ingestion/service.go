package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Reconciler persists canonical entries. Implemented by reconcile.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, source string, entries iter.Seq[*domain.WatchlistEntry]) *domain.RunResult
	Deactivate(ctx context.Context, source string, externalIDs []string) (int, error)
}

// RunStore keeps ingestion run history.
type RunStore interface {
	SaveRunResult(ctx context.Context, result *domain.RunResult) error
}

// Service runs provider ingestion end to end: fetch or parse, canonicalize,
// reconcile, record history and notify.
type Service struct {
	registry   *Registry
	reconciler Reconciler
	runs       RunStore
	notifier   domain.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService creates an ingestion service. notifier and m may be nil.
func NewService(registry *Registry, reconciler Reconciler, runs RunStore, notifier domain.Notifier, m *metrics.Metrics) *Service {
	return &Service{
		registry:   registry,
		reconciler: reconciler,
		runs:       runs,
		notifier:   notifier,
		metrics:    m,
		logger:     slog.Default().With("component", "ingestion"),
	}
}

// Registry returns the provider registry.
func (s *Service) Registry() *Registry { return s.registry }

// Run fetches and reconciles one provider. The result is never nil; the
// error is non-nil only for configuration problems the caller must fix.
func (s *Service) Run(ctx context.Context, p Provider) (*domain.RunResult, error) {
	a, err := s.registry.Lookup(p)
	if err != nil {
		return s.rejected(p.Code(), err), err
	}
	s.logger.Info("ingestion started", "source", a.Metadata().Code)
	return s.ingest(ctx, a, "", a.Fetch(ctx), true)
}

// IngestFile parses an uploaded list and reconciles it for provider p.
// format may be empty, in which case it is inferred from filename.
func (s *Service) IngestFile(ctx context.Context, p Provider, category, filename, format string, r io.Reader) (*domain.RunResult, error) {
	a, err := s.registry.Lookup(p)
	if err != nil {
		return s.rejected(p.Code(), err), err
	}
	source := a.Metadata().Code
	f, err := DetectFormat(filename, format)
	if err != nil {
		return s.rejected(source, err), err
	}
	category, err = resolveCategory(a.Metadata(), category)
	if err != nil {
		return s.rejected(source, err), err
	}
	s.logger.Info("file ingestion started",
		"source", source,
		"category", category,
		"filename", filename,
		"format", string(f),
	)
	return s.ingest(ctx, a, category, a.Parser().Parse(r, f), false)
}

// resolveCategory returns the provider's spelling of category. A provider
// with a single category accepts an empty category.
func resolveCategory(meta domain.SourceMetadata, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		if len(meta.Categories) == 1 {
			return meta.Categories[0], nil
		}
		return "", nil
	}
	for _, c := range meta.Categories {
		if strings.EqualFold(c, category) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no category %q", domain.ErrConfiguration, meta.Code, category)
}

func (s *Service) ingest(ctx context.Context, a Adapter, category string, records iter.Seq2[domain.RawRecord, error], remote bool) (*domain.RunResult, error) {
	source := a.Metadata().Code
	pc := ContextFor(a, category)

	var (
		skipped, parseErrs, fetchErrs, produced int
		firstErr, configErr                     error
	)
	entries := func(yield func(*domain.WatchlistEntry) bool) {
		for rec, err := range records {
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrConfiguration):
					configErr = err
					return
				case errors.Is(err, domain.ErrFetch):
					fetchErrs++
				default:
					parseErrs++
					s.logger.Warn("record skipped", "source", source, "error", err)
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			entry, err := Canonicalize(rec, pc)
			if err != nil {
				skipped++
				continue
			}
			produced++
			if !yield(entry) {
				return
			}
		}
	}

	result := s.reconciler.Reconcile(ctx, source, entries)
	result.ID = uuid.New().String()
	result.Total += skipped + parseErrs
	result.Skipped += skipped
	result.Errors += parseErrs + fetchErrs

	switch {
	case configErr != nil:
		result.Fail(configErr)
	case produced == 0 && firstErr != nil:
		result.Fail(firstErr)
	case firstErr != nil && result.ErrorMessage == "":
		result.ErrorMessage = firstErr.Error()
	}

	if remote && result.Success {
		s.applyDeletions(ctx, a, result)
	}
	result.Duration = time.Since(result.StartedAt)

	s.finish(ctx, result)
	return result, configErr
}

// applyDeletions soft-deletes keys named by the provider's removal feed.
func (s *Service) applyDeletions(ctx context.Context, a Adapter, result *domain.RunResult) {
	feed, ok := a.(DeletionFeed)
	if !ok {
		return
	}
	ids, err := feed.FetchDeletions(ctx)
	if err != nil {
		result.Errors++
		s.logger.Warn("deletion feed unavailable", "source", result.Source, "error", err)
		return
	}
	n, err := s.reconciler.Deactivate(ctx, result.Source, ids)
	result.Deactivated += n
	if err != nil {
		result.Fail(fmt.Errorf("%w: deactivate: %v", domain.ErrPersistence, err))
	}
}

// rejected builds the result of a run refused before it started.
func (s *Service) rejected(source string, err error) *domain.RunResult {
	result := &domain.RunResult{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	result.Fail(err)
	s.logger.Error("ingestion rejected", "source", source, "error", err)
	return result
}

// finish records history, metrics and the notification of a completed run.
// None of these can change the outcome.
func (s *Service) finish(ctx context.Context, result *domain.RunResult) {
	bg := context.WithoutCancel(ctx)
	if s.runs != nil {
		if err := s.runs.SaveRunResult(bg, result); err != nil {
			s.logger.Error("failed to save run result", "source", result.Source, "run_id", result.ID, "error", err)
		}
	}
	s.metrics.ObserveIngestion(result)
	if s.notifier != nil {
		if err := s.notifier.NotifyRun(bg, result); err != nil {
			s.logger.Warn("failed to publish run result", "source", result.Source, "run_id", result.ID, "error", err)
		}
	}

	attrs := []any{
		"source", result.Source,
		"run_id", result.ID,
		"total", result.Total,
		"new", result.New,
		"updated", result.Updated,
		"deactivated", result.Deactivated,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", result.Duration.Milliseconds(),
	}
	if result.Success {
		s.logger.Info("ingestion completed", attrs...)
		return
	}
	s.logger.Error("ingestion failed", append(attrs, "error", result.ErrorMessage)...)
}

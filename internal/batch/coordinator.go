// Package batch coordinates bulk screening jobs and scheduled ingestion.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingestion"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Store is the persistence the coordinator needs.
type Store interface {
	SaveScreeningJob(ctx context.Context, job *domain.ScreeningJob) error
	ListCustomersScreenedBefore(ctx context.Context, tier domain.RiskLevel, before time.Time) ([]*domain.Customer, error)
}

// Screener screens one stored customer. Implemented by screening.Screener.
type Screener interface {
	ScreenByID(ctx context.Context, customerID string, opts domain.MatchOptions) (*domain.ScreeningResult, error)
}

// Ingester runs provider ingestion. Implemented by ingestion.Service.
type Ingester interface {
	Run(ctx context.Context, p ingestion.Provider) (*domain.RunResult, error)
	IngestFile(ctx context.Context, p ingestion.Provider, category, filename, format string, r io.Reader) (*domain.RunResult, error)
	Registry() *ingestion.Registry
}

// BatchResult is the outcome of a screening job. Results holds every
// customer that was screened before the job stopped.
type BatchResult struct {
	Job     *domain.ScreeningJob               `json:"job"`
	Results map[string]*domain.ScreeningResult `json:"results"`
}

// Coordinator runs screening batches and ingestion on behalf of the API and
// the scheduler.
type Coordinator struct {
	store    Store
	screener Screener
	ingester Ingester

	cfg    domain.BatchConfig
	rescan domain.ScreeningConfig

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRescan sets the per-tier rescan intervals used by DueForRescan.
func WithRescan(cfg domain.ScreeningConfig) Option {
	return func(c *Coordinator) { c.rescan = cfg }
}

// WithMetrics records batch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. ingester may be nil when only screening is used.
func New(store Store, screener Screener, ingester Ingester, cfg domain.BatchConfig, opts ...Option) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	c := &Coordinator{
		store:    store,
		screener: screener,
		ingester: ingester,
		cfg:      cfg,
		rescan:   domain.DefaultConfig().Screening,
		logger:   slog.Default().With("component", "batch"),
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunScreeningBatch screens customerIDs and blocks until the job ends.
// Cancelling ctx or calling Cancel lets in-flight customers finish, starts no
// new ones, and ends the job Cancelled with the partial results.
func (c *Coordinator) RunScreeningBatch(ctx context.Context, customerIDs []string) (*BatchResult, error) {
	job, err := c.createJob(ctx, customerIDs)
	if err != nil {
		return nil, err
	}
	ctx, done := c.track(ctx, job.ID)
	defer done()
	return c.runJob(ctx, job, customerIDs), nil
}

// StartScreeningBatch persists a job and runs it in the background. The
// returned job is a snapshot taken before it starts; poll the store for
// progress.
func (c *Coordinator) StartScreeningBatch(ctx context.Context, customerIDs []string) (*domain.ScreeningJob, error) {
	job, err := c.createJob(ctx, customerIDs)
	if err != nil {
		return nil, err
	}
	snapshot := *job

	runCtx, done := c.track(context.WithoutCancel(ctx), job.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer done()
		c.runJob(runCtx, job, customerIDs)
	}()
	return &snapshot, nil
}

// Cancel stops a running job. It returns ErrNotFound when no job with that
// id is running in this process.
func (c *Coordinator) Cancel(jobID string) error {
	c.mu.Lock()
	cancel, ok := c.running[jobID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no running job %s", domain.ErrNotFound, jobID)
	}
	cancel()
	c.logger.Info("batch cancel requested", "job_id", jobID)
	return nil
}

// CancelAll requests cancellation of every running job. Used on shutdown.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.running {
		cancel()
		c.logger.Info("batch cancel requested", "job_id", id)
	}
}

// Wait blocks until every background job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) createJob(ctx context.Context, customerIDs []string) (*domain.ScreeningJob, error) {
	if len(customerIDs) == 0 {
		return nil, fmt.Errorf("%w: no customer ids", domain.ErrInvalidInput)
	}
	job := &domain.ScreeningJob{
		ID:           uuid.New().String(),
		Kind:         domain.JobKindScreening,
		Status:       domain.JobPending,
		TotalRecords: len(customerIDs),
		CreatedAt:    c.now(),
	}
	if err := c.store.SaveScreeningJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// track makes a job cancellable through Cancel until done is called.
func (c *Coordinator) track(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.running[jobID] = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		delete(c.running, jobID)
		c.mu.Unlock()
		cancel()
	}
}

type counters struct {
	processed, failed, matches, alerts atomic.Int64
}

func (n *counters) apply(job *domain.ScreeningJob) {
	job.ProcessedRecords = int(n.processed.Load())
	job.FailedRecords = int(n.failed.Load())
	job.MatchesFound = int(n.matches.Load())
	job.AlertsGenerated = int(n.alerts.Load())
}

func (c *Coordinator) runJob(ctx context.Context, job *domain.ScreeningJob, customerIDs []string) *BatchResult {
	// Items already started finish and the final job state is persisted
	// even after cancellation.
	work := context.WithoutCancel(ctx)
	start := time.Now()

	out := &BatchResult{Job: job, Results: make(map[string]*domain.ScreeningResult, len(customerIDs))}
	var (
		mu  sync.Mutex
		n   counters
		err error
	)

	if err = job.Transition(domain.JobRunning, c.now()); err == nil {
		err = c.store.SaveScreeningJob(work, job)
	}
	c.logger.Info("batch started",
		"job_id", job.ID,
		"total", job.TotalRecords,
		"batch_size", c.cfg.BatchSize,
		"workers", c.cfg.Workers,
	)

	first := true
	for chunk := range slices.Chunk(customerIDs, c.cfg.BatchSize) {
		if err != nil || ctx.Err() != nil {
			break
		}
		if !first && c.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.BatchPause):
			}
			if ctx.Err() != nil {
				break
			}
		}

		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for _, id := range chunk {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res, screenErr := c.screener.ScreenByID(work, id, domain.MatchOptions{})
				n.processed.Add(1)
				if screenErr != nil || res == nil || !res.Success {
					n.failed.Add(1)
				}
				if res != nil {
					n.matches.Add(int64(len(res.Matches)))
					n.alerts.Add(int64(len(res.Alerts)))
					mu.Lock()
					out.Results[id] = res
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		n.apply(job)
		if err = c.store.SaveScreeningJob(work, job); err != nil {
			c.logger.Error("batch progress not saved", "job_id", job.ID, "error", err)
		}
	}

	n.apply(job)
	final := domain.JobCompleted
	switch {
	case err != nil:
		final = domain.JobFailed
		job.ErrorMessage = err.Error()
	case ctx.Err() != nil:
		final = domain.JobCancelled
		job.ErrorMessage = fmt.Sprintf("cancelled after %d of %d customers", job.ProcessedRecords, job.TotalRecords)
	}
	if tErr := job.Transition(final, c.now()); tErr != nil {
		c.logger.Error("batch transition rejected", "job_id", job.ID, "error", tErr)
	}
	if sErr := c.store.SaveScreeningJob(work, job); sErr != nil {
		c.logger.Error("batch final state not saved", "job_id", job.ID, "error", sErr)
	}
	c.metrics.IncrementBatch(job.Status)

	c.logger.Info("batch finished",
		"job_id", job.ID,
		"status", job.Status,
		"processed", job.ProcessedRecords,
		"failed", job.FailedRecords,
		"alerts", job.AlertsGenerated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// RunIngestionFor ingests one provider. It is the scheduler hook and never
// returns a nil result.
func (c *Coordinator) RunIngestionFor(ctx context.Context, p ingestion.Provider) *domain.RunResult {
	res, err := c.ingester.Run(ctx, p)
	if err != nil {
		c.logger.Warn("ingestion rejected", "source", p.Code(), "error", err)
	}
	return res
}

// RunIngestionAll ingests every enabled provider concurrently. A failing
// provider does not hold up the others. Results follow registry order.
func (c *Coordinator) RunIngestionAll(ctx context.Context) []*domain.RunResult {
	providers := c.ingester.Registry().Enabled()
	results := make([]*domain.RunResult, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i] = c.RunIngestionFor(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IngestFile reconciles an uploaded list for a provider.
func (c *Coordinator) IngestFile(ctx context.Context, p ingestion.Provider, category, filename, format string, r io.Reader) (*domain.RunResult, error) {
	return c.ingester.IngestFile(ctx, p, category, filename, format, r)
}

// DueForRescan lists customers whose last screening is older than their
// tier's rescan interval. Tiers with no interval are never rescanned.
func (c *Coordinator) DueForRescan(ctx context.Context, now time.Time) ([]*domain.Customer, error) {
	var due []*domain.Customer
	for _, tier := range []domain.RiskLevel{domain.RiskCritical, domain.RiskHigh, domain.RiskMedium, domain.RiskLow} {
		interval := c.rescan.RescanInterval(tier)
		if interval <= 0 {
			continue
		}
		customers, err := c.store.ListCustomersScreenedBefore(ctx, tier, now.Add(-interval))
		if err != nil {
			return nil, err
		}
		due = append(due, customers...)
	}
	return due, nil
}

// RescanDue screens every customer due for rescan. It returns nil when
// nobody is due.
func (c *Coordinator) RescanDue(ctx context.Context) (*BatchResult, error) {
	due, err := c.DueForRescan(ctx, c.now())
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	ids := make([]string, len(due))
	for i, cust := range due {
		ids[i] = cust.ID
	}
	c.logger.Info("rescan due", "customers", len(ids))
	return c.RunScreeningBatch(ctx, ids)
}

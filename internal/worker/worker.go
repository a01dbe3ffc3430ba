// Package worker consumes scheduler triggers from the EventBus and runs
// periodic ingestion and rescans.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingestion"
)

// Hooks are the coordinator entry points the worker drives. Implemented by
// batch.Coordinator.
type Hooks interface {
	RunIngestionFor(ctx context.Context, p ingestion.Provider) *domain.RunResult
	RunIngestionAll(ctx context.Context) []*domain.RunResult
	RunScreeningBatch(ctx context.Context, customerIDs []string) (*batch.BatchResult, error)
	RescanDue(ctx context.Context) (*batch.BatchResult, error)
}

// Worker processes trigger messages and timers.
type Worker struct {
	bus   domain.EventBus
	hooks Hooks
	cfg   domain.WorkerConfig

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	ingestionRuns    atomic.Int64
	screeningBatches atomic.Int64
	failures         atomic.Int64
}

// NewWorker creates a worker.
func NewWorker(bus domain.EventBus, hooks Hooks, cfg domain.WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		hooks:  hooks,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the trigger topics and starts the configured tickers.
func (w *Worker) Start() error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicIngestionRequested: w.handleIngestion,
		domain.TopicScreeningRequested: w.handleScreening,
	}
	for _, topic := range []string{domain.TopicIngestionRequested, domain.TopicScreeningRequested} {
		sub, err := w.bus.Subscribe(w.ctx, topic, handlers[topic])
		if err != nil {
			w.unsubscribeAll()
			return err
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if w.cfg.IngestionInterval > 0 {
		w.every(w.cfg.IngestionInterval, "ingestion", func(ctx context.Context) {
			w.ingestAll(ctx)
		})
	}
	if w.cfg.RescanInterval > 0 {
		w.every(w.cfg.RescanInterval, "rescan", func(ctx context.Context) {
			w.rescan(ctx)
		})
	}

	slog.Info("worker started",
		"ingestion_interval", w.cfg.IngestionInterval.String(),
		"rescan_interval", w.cfg.RescanInterval.String(),
	)
	return nil
}

// every runs fn on a ticker until Stop.
func (w *Worker) every(interval time.Duration, name string, fn func(context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				slog.Debug("scheduled tick", "job", name)
				fn(w.ctx)
			}
		}
	}()
}

// handleIngestion runs one provider, or every enabled provider when the
// trigger names none.
func (w *Worker) handleIngestion(ctx context.Context, msg *domain.Message) error {
	var trigger domain.IngestionTrigger
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			w.failures.Add(1)
			slog.Error("failed to parse ingestion trigger",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	var results []*domain.RunResult
	if trigger.Provider == "" {
		results = w.ingestAll(ctx)
	} else {
		p, err := ingestion.ParseProvider(trigger.Provider)
		if err != nil {
			w.failures.Add(1)
			return err
		}
		w.ingestionRuns.Add(1)
		res := w.hooks.RunIngestionFor(ctx, p)
		if !res.Success {
			w.failures.Add(1)
		}
		results = []*domain.RunResult{res}
	}
	w.reply(ctx, msg, results)
	return nil
}

func (w *Worker) ingestAll(ctx context.Context) []*domain.RunResult {
	results := w.hooks.RunIngestionAll(ctx)
	w.ingestionRuns.Add(int64(len(results)))
	for _, r := range results {
		if r == nil || !r.Success {
			w.failures.Add(1)
		}
	}
	return results
}

// handleScreening screens the named customers, or everyone due for rescan
// when the trigger names none.
func (w *Worker) handleScreening(ctx context.Context, msg *domain.Message) error {
	var trigger domain.ScreeningTrigger
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			w.failures.Add(1)
			slog.Error("failed to parse screening trigger",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	var (
		out *batch.BatchResult
		err error
	)
	if len(trigger.CustomerIDs) == 0 {
		out, err = w.rescan(ctx)
	} else {
		w.screeningBatches.Add(1)
		out, err = w.hooks.RunScreeningBatch(ctx, trigger.CustomerIDs)
		if err != nil {
			w.failures.Add(1)
		}
	}
	if err != nil {
		return err
	}
	if out != nil {
		w.reply(ctx, msg, out.Job)
	}
	return nil
}

func (w *Worker) rescan(ctx context.Context) (*batch.BatchResult, error) {
	out, err := w.hooks.RescanDue(ctx)
	if err != nil {
		w.failures.Add(1)
		slog.Error("rescan failed", "error", err)
		return nil, err
	}
	if out != nil {
		w.screeningBatches.Add(1)
	}
	return out, nil
}

// reply answers a request-reply trigger.
func (w *Worker) reply(ctx context.Context, msg *domain.Message, v any) {
	replyTo := msg.Metadata["reply_to"]
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, replyTo, payload); err != nil {
		slog.Error("failed to publish reply",
			"message_id", msg.ID,
			"reply_to", replyTo,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for tickers to exit.
func (w *Worker) Stop() error {
	w.cancel()
	w.unsubscribeAll()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

func (w *Worker) unsubscribeAll() {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	IngestionRuns     int64    `json:"ingestionRuns"`
	ScreeningBatches  int64    `json:"screeningBatches"`
	Failures          int64    `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		IngestionRuns:     w.ingestionRuns.Load(),
		ScreeningBatches:  w.screeningBatches.Load(),
		Failures:          w.failures.Load(),
	}
}

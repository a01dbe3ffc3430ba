package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Default fetch settings.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultUserAgent  = "Mozilla/5.0 (compatible; KestrelWatchlist/1.0)"

	maxBodyBytes = 64 << 20
)

// Fetcher downloads provider documents with retries and a per-source
// failure counter shared through the cache.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration

	cache            domain.Cache
	circuitThreshold int
	circuitWindow    time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithMaxRetries sets the number of attempts per document.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay; attempt n waits base × n before the next try.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryDelay = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithBackoff enables the per-source failure counter. A source with more than
// threshold failed documents inside window is skipped until it rolls over.
func WithBackoff(cache domain.Cache, threshold int, window time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.cache = cache
		f.circuitThreshold = threshold
		f.circuitWindow = window
	}
}

// WithFetchMetrics records attempts and outcomes.
func WithFetchMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetcherFromConfig builds a fetcher from ingestion settings.
func FetcherFromConfig(cfg domain.IngestionConfig, cache domain.Cache, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return NewFetcher(
		WithTimeout(cfg.RequestTimeout),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryDelay(cfg.RetryBaseDelay),
		WithUserAgent(cfg.UserAgent),
		WithBackoff(cache, cfg.CircuitThreshold, cfg.CircuitWindow),
		WithFetchMetrics(m),
		WithFetchLogger(logger),
	)
}

// retryableError marks a failure worth another attempt.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Get downloads url for source. Failures are returned as ErrFetch after all
// attempts are exhausted.
func (f *Fetcher) Get(ctx context.Context, source, url string) ([]byte, error) {
	if f.circuitOpen(ctx, source) {
		f.metrics.ObserveFetch(source, "throttled")
		return nil, fmt.Errorf("%w: %s: too many recent failures, backing off", domain.ErrFetch, source)
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			delay := f.retryDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrFetch, source, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := f.do(ctx, url)
		if err == nil {
			f.metrics.ObserveFetch(source, "ok")
			return body, nil
		}
		lastErr = err
		f.logger.Warn("fetch attempt failed",
			"source", source,
			"url", url,
			"attempt", attempt,
			"max_attempts", f.maxRetries,
			"error", err,
		)
		if _, ok := err.(retryableError); !ok {
			break
		}
		if attempt < f.maxRetries {
			f.metrics.ObserveFetch(source, "retry")
		}
	}

	f.metrics.ObserveFetch(source, "failed")
	f.recordFailure(ctx, source)
	return nil, fmt.Errorf("%w: %s: %v", domain.ErrFetch, source, lastErr)
}

func (f *Fetcher) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/json,text/csv;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retryableError{fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, retryableError{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return nil, retryableError{fmt.Errorf("unexpected status %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (f *Fetcher) circuitKey(source string) string { return "fetch:circuit:" + source }
func (f *Fetcher) failureKey(source string) string { return "fetch:failures:" + source }

func (f *Fetcher) circuitOpen(ctx context.Context, source string) bool {
	if f.cache == nil || f.circuitThreshold <= 0 {
		return false
	}
	v, err := f.cache.Get(ctx, f.circuitKey(source))
	return err == nil && v != nil
}

func (f *Fetcher) recordFailure(ctx context.Context, source string) {
	if f.cache == nil || f.circuitThreshold <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n, err := f.cache.IncrementCounter(ctx, f.failureKey(source), f.circuitWindow)
	if err != nil {
		f.logger.Warn("failed to record fetch failure", "source", source, "error", err)
		return
	}
	if n > int64(f.circuitThreshold) {
		if err := f.cache.Set(ctx, f.circuitKey(source), []byte("1"), f.circuitWindow); err != nil {
			f.logger.Warn("failed to open fetch circuit", "source", source, "error", err)
			return
		}
		f.logger.Warn("fetch circuit opened", "source", source, "failures", n, "window", f.circuitWindow.String())
	}
}

package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// flakyServer fails the first n requests with status, then serves body.
func flakyServer(t *testing.T, n int32, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= n {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	srv, hits := flakyServer(t, 2, http.StatusServiceUnavailable, "ok")
	f := NewFetcher(WithMaxRetries(3), WithRetryDelay(0))

	body, err := f.Get(context.Background(), "RBI", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherRetriesTooManyRequests(t *testing.T) {
	srv, hits := flakyServer(t, 1, http.StatusTooManyRequests, "ok")
	f := NewFetcher(WithMaxRetries(2), WithRetryDelay(0))

	_, err := f.Get(context.Background(), "RBI", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusNotFound, "")
	f := NewFetcher(WithMaxRetries(3), WithRetryDelay(0))

	_, err := f.Get(context.Background(), "RBI", srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetch))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcherGivesUpAfterMaxRetries(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusBadGateway, "")
	f := NewFetcher(WithMaxRetries(3), WithRetryDelay(0))

	_, err := f.Get(context.Background(), "UNSC", srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetch))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherHonoursCancellation(t *testing.T) {
	srv, _ := flakyServer(t, 10, http.StatusInternalServerError, "")
	f := NewFetcher(WithMaxRetries(5), WithRetryDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Get(ctx, "OFAC", srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFetch))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetcherBackoffCircuit(t *testing.T) {
	srv, hits := flakyServer(t, 100, http.StatusInternalServerError, "")
	c := cache.NewLRUCache(10)
	f := NewFetcher(WithMaxRetries(1), WithRetryDelay(0), WithBackoff(c, 1, time.Minute))
	ctx := context.Background()

	_, err := f.Get(ctx, "SEBI", srv.URL)
	require.Error(t, err)
	_, err = f.Get(ctx, "SEBI", srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())

	// The counter now exceeds the threshold; the source is skipped.
	_, err = f.Get(ctx, "SEBI", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backing off")
	assert.Equal(t, int32(2), hits.Load())

	// Other sources are unaffected.
	_, err = f.Get(ctx, "RBI", srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcherSendsUserAgent(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
	}))
	defer srv.Close()

	_, err := NewFetcher(WithUserAgent("kestrel-test/1.0")).Get(context.Background(), "PEP", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "kestrel-test/1.0", ua.Load())
}

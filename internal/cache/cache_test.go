package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "expiring", []byte("temp"), time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }
		window := time.Minute

		count1, err := c.IncrementCounter(ctx, "fetch:failures:RBI", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := c.IncrementCounter(ctx, "fetch:failures:RBI", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		now = now.Add(2 * window)
		count3, _ := c.IncrementCounter(ctx, "fetch:failures:RBI", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("Corpus", func(t *testing.T) {
		entries := []*domain.WatchlistEntry{
			{ID: "e1", Source: "RBI", ExternalID: "R-1", PrimaryName: "A Kumar", RiskLevel: domain.RiskCritical, IsActive: true},
			{ID: "e2", Source: "RBI", ExternalID: "R-2", PrimaryName: "B Singh", AlternateNames: []string{"Bhupinder Singh"}, IsActive: true},
		}

		if err := cache.SetCorpus(ctx, "RBI", entries, time.Minute); err != nil {
			t.Fatalf("SetCorpus failed: %v", err)
		}

		got, err := cache.GetCorpus(ctx, "RBI")
		if err != nil {
			t.Fatalf("GetCorpus failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(got))
		}
		if got[1].AlternateNames[0] != "Bhupinder Singh" || got[0].RiskLevel != domain.RiskCritical {
			t.Errorf("corpus did not round trip: %+v", got)
		}

		if err := cache.InvalidateCorpus(ctx, "RBI"); err != nil {
			t.Fatalf("InvalidateCorpus failed: %v", err)
		}
		got, _ = cache.GetCorpus(ctx, "RBI")
		if got != nil {
			t.Error("expected miss after invalidation")
		}
	})

	t.Run("EmptyCorpusIsAHit", func(t *testing.T) {
		_ = cache.SetCorpus(ctx, "SEBI", nil, time.Minute)

		got, err := cache.GetCorpus(ctx, "SEBI")
		if err != nil {
			t.Fatalf("GetCorpus failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil corpus, got %v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != "test.topic" {
			t.Errorf("expected topic 'test.topic', got '%s'", receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message id")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "isolation.one", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "isolation.two", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.one", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("first topic should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("second topic should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("Request", func(t *testing.T) {
		bus.Subscribe(ctx, "echo", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.Metadata["reply_to"], append([]byte("re: "), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		reply, err := bus.Request(reqCtx, "echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re: ping" {
			t.Errorf("expected 're: ping', got %q", reply)
		}

		if _, err := bus.Request(reqCtx, "nobody.home", nil); err == nil {
			t.Error("expected error without responders")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type: "kafka",
		}

		_, err := New(cfg)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitFor(t, &wg)

	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestNotifier(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	notifier := NewNotifier(bus)

	var wg sync.WaitGroup
	wg.Add(3)
	payloads := make(map[string][]byte)
	var mu sync.Mutex
	for _, topic := range []string{domain.TopicIngestionCompleted, domain.TopicAlertCreated, domain.TopicScreeningCompleted} {
		bus.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			payloads[msg.Topic] = msg.Payload
			mu.Unlock()
			wg.Done()
			return nil
		})
	}

	if err := notifier.NotifyRun(ctx, &domain.RunResult{ID: "run-1", Source: "RBI", New: 2, Success: true}); err != nil {
		t.Fatalf("NotifyRun failed: %v", err)
	}
	if err := notifier.NotifyAlert(ctx, &domain.Alert{ID: "alert-1", Priority: domain.RiskCritical}); err != nil {
		t.Fatalf("NotifyAlert failed: %v", err)
	}
	screening := &domain.ScreeningResult{
		CustomerID: "cust-1",
		Status:     domain.ScreeningCompleted,
		Matches:    []*domain.NameMatchResult{{WatchlistEntryID: "e1"}},
		Success:    true,
	}
	if err := notifier.NotifyScreening(ctx, screening); err != nil {
		t.Fatalf("NotifyScreening failed: %v", err)
	}

	waitFor(t, &wg)

	var run domain.RunResult
	if err := json.Unmarshal(payloads[domain.TopicIngestionCompleted], &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Source != "RBI" || run.New != 2 {
		t.Errorf("unexpected run payload %+v", run)
	}

	var alert domain.Alert
	if err := json.Unmarshal(payloads[domain.TopicAlertCreated], &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.ID != "alert-1" {
		t.Errorf("unexpected alert payload %+v", alert)
	}

	var summary domain.ScreeningResult
	if err := json.Unmarshal(payloads[domain.TopicScreeningCompleted], &summary); err != nil {
		t.Fatalf("decode screening: %v", err)
	}
	if summary.CustomerID != "cust-1" || len(summary.Matches) != 0 {
		t.Errorf("unexpected screening payload %+v", summary)
	}
	if len(screening.Matches) != 1 {
		t.Error("notifier mutated the caller's result")
	}

	bus.Close()
	if err := notifier.NotifyRun(ctx, &domain.RunResult{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

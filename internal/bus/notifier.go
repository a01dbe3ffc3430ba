package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Notifier publishes finished runs, alerts and screenings as JSON events.
type Notifier struct {
	bus domain.EventBus
}

// NewNotifier creates a notifier over bus.
func NewNotifier(bus domain.EventBus) *Notifier {
	return &Notifier{bus: bus}
}

// NotifyRun publishes an ingestion run result.
func (n *Notifier) NotifyRun(ctx context.Context, result *domain.RunResult) error {
	return n.publish(ctx, domain.TopicIngestionCompleted, result)
}

// NotifyAlert publishes a created or refreshed alert.
func (n *Notifier) NotifyAlert(ctx context.Context, alert *domain.Alert) error {
	return n.publish(ctx, domain.TopicAlertCreated, alert)
}

// NotifyScreening publishes a screening summary. Matches are omitted; the
// alerts carry the actionable detail.
func (n *Notifier) NotifyScreening(ctx context.Context, result *domain.ScreeningResult) error {
	summary := *result
	summary.Matches = nil
	return n.publish(ctx, domain.TopicScreeningCompleted, &summary)
}

func (n *Notifier) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	if err := n.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

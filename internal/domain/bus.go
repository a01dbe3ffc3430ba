package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds
}

// Topic names. Notifications flow out of the core; requests flow in from a scheduler.
const (
	TopicIngestionCompleted = "kestrel.ingestion.completed"
	TopicAlertCreated       = "kestrel.alert.created"
	TopicScreeningCompleted = "kestrel.screening.completed"

	TopicIngestionRequested = "kestrel.ingestion.requested"
	TopicScreeningRequested = "kestrel.screening.requested"
)

// Notifier is the notification collaborator. The core hands it finished
// records and never formats outbound messages itself.
type Notifier interface {
	NotifyRun(ctx context.Context, result *RunResult) error
	NotifyAlert(ctx context.Context, alert *Alert) error
	NotifyScreening(ctx context.Context, result *ScreeningResult) error
}

// IngestionTrigger is the payload of TopicIngestionRequested.
// An empty Provider means every enabled provider.
type IngestionTrigger struct {
	Provider string `json:"provider,omitempty"`
}

// ScreeningTrigger is the payload of TopicScreeningRequested.
type ScreeningTrigger struct {
	CustomerIDs []string `json:"customerIds"`
}

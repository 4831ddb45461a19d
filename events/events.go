// Package events publishes notification events for seal transitions and
// password resets to downstream senders (WhatsApp, email).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"sealtrack/metrics"
)

// Event types.
const (
	SealIssued    = "seal.issued"
	SealDamaged   = "seal.damaged"
	SealReceived  = "seal.received"
	PasswordReset = "user.password_reset"
)

// Event is a notification request.
type Event struct {
	Type       string            `json:"type"`
	EntityID   string            `json:"entityId,omitempty"`
	SerialCode string            `json:"serialCode,omitempty"`
	Station    string            `json:"station,omitempty"`
	Recipient  string            `json:"recipient,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PubSubPublisher publishes events as JSON messages on a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher connects to the topic, creating it when missing.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	t := client.Topic(topicID)
	ok, err := t.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check topic %q: %w", topicID, err)
	}
	if !ok {
		if t, err = client.CreateTopic(ctx, topicID); err != nil {
			client.Close()
			return nil, fmt.Errorf("create topic %q: %w", topicID, err)
		}
	}
	return &PubSubPublisher{client: client, topic: t}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": e.Type},
	})
	_, err = result.Get(ctx)
	return err
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// LogPublisher writes events to the log; used when Pub/Sub is disabled.
// With includeData the payload (reset tokens included) is logged too, which
// is how local development receives password reset links.
type LogPublisher struct {
	log         zerolog.Logger
	includeData bool
}

func NewLogPublisher(log zerolog.Logger, includeData bool) *LogPublisher {
	return &LogPublisher{log: log, includeData: includeData}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	ev := p.log.Info().
		Str("type", e.Type).
		Str("entity_id", e.EntityID).
		Str("recipient", e.Recipient)
	if p.includeData && len(e.Data) > 0 {
		ev = ev.Interface("data", e.Data)
	}
	ev.Msg("event")
	return nil
}

// Notifier publishes seal notifications when the organization has a channel
// switched on. Delivery is best-effort.
type Notifier struct {
	pub     Publisher
	enabled func(ctx context.Context) bool
	log     zerolog.Logger
}

// NewNotifier gates pub behind enabled; a nil enabled always publishes.
func NewNotifier(pub Publisher, enabled func(ctx context.Context) bool, log zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, enabled: enabled, log: log}
}

// Notify publishes e unless notifications are switched off.
func (n *Notifier) Notify(ctx context.Context, e Event) {
	if n == nil || n.pub == nil {
		return
	}
	if n.enabled != nil && !n.enabled(ctx) {
		metrics.EventsPublishedTotal.WithLabelValues(e.Type, "disabled").Inc()
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	err := n.pub.Publish(ctx, e)
	metrics.EventsPublishedTotal.WithLabelValues(e.Type, metrics.Result(err)).Inc()
	if err != nil {
		n.log.Warn().Err(err).Str("type", e.Type).Str("entity_id", e.EntityID).Msg("failed to publish event")
	}
}

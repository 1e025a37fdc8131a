package config_handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mailroute/internal/broker"
	"mailroute/pkg/models"
)

// Notifier publishes config update events so other instances reload.
type Notifier struct {
	producer broker.Producer
	topic    string
	origin   string
}

func NewNotifier(producer broker.Producer, topic, origin string) *Notifier {
	return &Notifier{producer: producer, topic: topic, origin: origin}
}

func (n *Notifier) Notify(ctx context.Context, event models.ConfigUpdateEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]interface{})
	}
	event.Metadata[metadataOrigin] = n.origin

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	return n.producer.Publish(ctx, n.topic, broker.Message{
		Key:   event.EventType,
		Value: body,
		Headers: map[string]string{
			"event_type": event.EventType,
			"action":     event.Action,
		},
	})
}

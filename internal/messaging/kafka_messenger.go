// Package messaging adapts the Kafka producer to the engine's Messenger
// interface.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"gate-service/internal/client"
	"gate-service/internal/models"
)

// KafkaMessenger publishes private-message envelopes to the topic the forum
// platform consumes. The message key is the envelope id so redeliveries stay
// idempotent on the consuming side.
type KafkaMessenger struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaMessenger(producer *client.KafkaProducer, topic string) *KafkaMessenger {
	return &KafkaMessenger{
		producer: producer,
		topic:    topic,
	}
}

func (m *KafkaMessenger) Deliver(ctx context.Context, msg *models.PrivateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message envelope: %w", err)
	}

	headers := map[string]string{
		"message-type": msg.MessageType,
	}

	if err := m.producer.ProduceMessage(ctx, m.topic, []byte(msg.MessageID), payload, headers); err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	return nil
}

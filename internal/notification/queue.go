package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DispatchJob is the payload published to the dispatch queue after a
// notification has been admitted and persisted; it carries only the
// notification id, since the Task Worker re-reads the ledger row rather
// than trusting a stale copy of it in transit.
type DispatchJob struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// DispatchQueue wraps the durable AMQP queue the admission endpoint
// publishes to and the Task Worker consumes from.
type DispatchQueue struct {
	channel   *amqp.Channel
	queueName string
}

// NewDispatchQueue declares the dispatch queue durable (survives a broker
// restart) and non-exclusive (multiple worker processes share it).
func NewDispatchQueue(channel *amqp.Channel, queueName string) (*DispatchQueue, error) {
	_, err := channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare dispatch queue: %w", err)
	}
	return &DispatchQueue{channel: channel, queueName: queueName}, nil
}

// Publish enqueues a notification for asynchronous processing.
func (q *DispatchQueue) Publish(ctx context.Context, notificationID uuid.UUID) error {
	body, err := json.Marshal(DispatchJob{NotificationID: notificationID})
	if err != nil {
		return fmt.Errorf("marshal dispatch job: %w", err)
	}

	return q.channel.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume returns the delivery channel the Task Worker ranges over. Each
// delivery must be Ack'd or Nack'd by the caller once handled.
func (q *DispatchQueue) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if err := q.channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := q.channel.Consume(q.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume dispatch queue: %w", err)
	}
	return deliveries, nil
}

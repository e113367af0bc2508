package notification

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CallbackEmitter delivers a notification's outcome back to the tenant that
// submitted it, either by POSTing to its configured webhook or by
// publishing to its configured AMQP queue. A failed callback never retries
// and never fails the dispatch itself — it is best-effort by design, same
// as the queue-side task dispatch it's modeled on.
type CallbackEmitter struct {
	http    *resty.Client
	channel *amqp.Channel
	logger  *log.Logger
}

// NewCallbackEmitter wires an HTTP client for webhook callbacks and an AMQP
// channel for queue callbacks. channel may be nil if no System in this
// deployment uses CallbackQueue.
func NewCallbackEmitter(timeout time.Duration, channel *amqp.Channel, logger *log.Logger) *CallbackEmitter {
	if logger == nil {
		logger = log.Default()
	}
	return &CallbackEmitter{
		http:    resty.New().SetTimeout(timeout),
		channel: channel,
		logger:  logger,
	}
}

// Send routes to the webhook or queue path based on sys.CallbackType.
func (c *CallbackEmitter) Send(ctx context.Context, sys *System, payload CallbackPayload) {
	switch sys.CallbackType {
	case CallbackWebhook:
		c.sendWebhook(ctx, sys, payload)
	case CallbackQueue:
		c.sendQueue(ctx, sys, payload)
	default:
		c.logger.Printf("callback: unsupported callback type %q for system %q", sys.CallbackType, sys.Name)
	}
}

func (c *CallbackEmitter) sendWebhook(ctx context.Context, sys *System, payload CallbackPayload) {
	if sys.WebhookURL == "" {
		c.logger.Printf("callback: webhook URL not configured for system %q", sys.Name)
		return
	}

	req := c.http.R().SetContext(ctx).SetBody(payload)
	if sys.WebhookAuthToken != "" {
		req.SetAuthToken(sys.WebhookAuthToken)
	}

	resp, err := req.Post(sys.WebhookURL)
	if err != nil {
		c.logger.Printf("callback: webhook to system %q failed: %v", sys.Name, err)
		return
	}
	if resp.IsError() {
		c.logger.Printf("callback: webhook to system %q returned %d", sys.Name, resp.StatusCode())
	}
}

func (c *CallbackEmitter) sendQueue(ctx context.Context, sys *System, payload CallbackPayload) {
	if c.channel == nil {
		c.logger.Printf("callback: no AMQP channel configured, dropping queue callback for system %q", sys.Name)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Printf("callback: failed to marshal payload for system %q: %v", sys.Name, err)
		return
	}

	queueName := sys.ResolvedQueueName()
	if _, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		c.logger.Printf("callback: queue declare failed for system %q: %v", sys.Name, err)
		return
	}

	err = c.channel.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Type:        sys.RoutingKey(),
	})
	if err != nil {
		c.logger.Printf("callback: queue publish failed for system %q: %v", sys.Name, err)
	}
}

package notification

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	amqp "github.com/rabbitmq/amqp091-go"

	sentrypkg "github.com/irfndi/notifybus/internal/sentry"
)

const retryCountHeader = "x-retry-count"

// Worker consumes the dispatch queue and runs each job through the Engine.
// Retry follows a constant schedule — not exponential backoff — capped at a
// small number of attempts, then the job is moved to a dead-letter queue
// instead of being retried forever.
type Worker struct {
	engine        *Engine
	queue         *DispatchQueue
	deadLetter    *amqp.Channel
	dlqName       string
	maxRetries    int
	retryDelay    time.Duration
	dlqThreshold  int
	dlqCount      int64
	dlqAlertFired int32
	logger        *log.Logger
}

// NewWorker wires an Engine to a DispatchQueue with the retry discipline
// from Config. dlqThreshold is the dead-lettered count, accumulated over this
// worker's lifetime, at which a Sentry alert is captured; 0 disables
// alerting.
func NewWorker(engine *Engine, queue *DispatchQueue, deadLetter *amqp.Channel, dlqName string, maxRetries int, retryDelay time.Duration, dlqThreshold int, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		engine:       engine,
		queue:        queue,
		deadLetter:   deadLetter,
		dlqName:      dlqName,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		dlqThreshold: dlqThreshold,
		logger:       logger,
	}
}

// Run ranges over deliveries until ctx is canceled or the channel closes.
func (w *Worker) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := w.queue.Consume(consumerTag)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var job DispatchJob
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		w.logger.Printf("worker: malformed job, dropping: %v", err)
		_ = delivery.Ack(false)
		return
	}

	n, err := w.engine.store.GetNotification(ctx, job.NotificationID)
	if err != nil {
		w.logger.Printf("worker: notification %s not found, dropping: %v", job.NotificationID, err)
		_ = delivery.Ack(false)
		return
	}

	if err := w.engine.SendNotification(ctx, n); err != nil {
		w.retryOrDeadLetter(ctx, delivery, job)
		return
	}

	_ = delivery.Ack(false)
}

func (w *Worker) retryOrDeadLetter(ctx context.Context, delivery amqp.Delivery, job DispatchJob) {
	attempt := retryAttempt(delivery) + 1

	if attempt > w.maxRetries {
		w.logger.Printf("worker: notification %s exceeded %d retries, dead-lettering", job.NotificationID, w.maxRetries)
		w.publishDeadLetter(ctx, job, attempt)
		_ = delivery.Ack(false)
		return
	}

	w.logger.Printf("worker: notification %s failed, retry %d/%d in %s", job.NotificationID, attempt, w.maxRetries, w.retryDelay)
	time.Sleep(w.retryDelay)

	if err := w.queue.channel.PublishWithContext(ctx, "", w.queue.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         delivery.Body,
		Headers:      amqp.Table{retryCountHeader: attempt},
	}); err != nil {
		w.logger.Printf("worker: requeue failed for notification %s: %v", job.NotificationID, err)
	}
	_ = delivery.Ack(false)
}

func (w *Worker) publishDeadLetter(ctx context.Context, job DispatchJob, attempts int) {
	if w.deadLetter == nil {
		w.logger.Printf("worker: no dead-letter channel configured, dropping notification %s", job.NotificationID)
		return
	}

	if _, err := w.deadLetter.QueueDeclare(w.dlqName, true, false, false, false, nil); err != nil {
		w.logger.Printf("worker: dead-letter queue declare failed: %v", err)
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		w.logger.Printf("worker: dead-letter marshal failed: %v", err)
		return
	}

	err = w.deadLetter.PublishWithContext(ctx, "", w.dlqName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      amqp.Table{retryCountHeader: attempts},
	})
	if err != nil {
		w.logger.Printf("worker: dead-letter publish failed: %v", err)
		return
	}

	w.checkDLQHealth()
}

// checkDLQHealth reports a Sentry alert the first time this worker's
// dead-lettered count crosses dlqThreshold. It does not re-fire on every
// subsequent dead-letter once tripped.
func (w *Worker) checkDLQHealth() {
	if w.dlqThreshold <= 0 {
		return
	}

	count := atomic.AddInt64(&w.dlqCount, 1)
	if count < int64(w.dlqThreshold) {
		return
	}
	if !atomic.CompareAndSwapInt32(&w.dlqAlertFired, 0, 1) {
		return
	}

	w.captureDLQAlert(count)
}

// captureDLQAlert reports a DLQ threshold alert to Sentry.
func (w *Worker) captureDLQAlert(count int64) {
	sentrypkg.CaptureMessage(sentry.LevelError, "dead-letter queue threshold exceeded",
		map[string]string{
			"service":    "notification",
			"alert_type": "dlq_threshold",
			"queue":      w.dlqName,
		},
		map[string]interface{}{
			"dlq_count": count,
			"threshold": w.dlqThreshold,
		},
	)
	w.logger.Printf("worker: dead-letter queue %q crossed threshold %d (count=%d), Sentry alert captured", w.dlqName, w.dlqThreshold, count)
}

func retryAttempt(delivery amqp.Delivery) int {
	v, ok := delivery.Headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

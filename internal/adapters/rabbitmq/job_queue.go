package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"listing-pipeline/internal/constants"
	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/contracts"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/jobs"
	"listing-pipeline/internal/core/port"
)

const publishTimeout = 10 * time.Second

// Publisher то, что нужно адаптеру от издателя pkg-уровня
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// JobQueueAdapter реализует port.JobQueuePort поверх обменника задач
type JobQueueAdapter struct {
	producer Publisher
}

func NewJobQueueAdapter(producer Publisher) (*JobQueueAdapter, error) {
	if producer == nil {
		return nil, fmt.Errorf("rabbitmq adapter: producer cannot be nil")
	}
	return &JobQueueAdapter{producer: producer}, nil
}

// Enqueue публикует задачу с ключом маршрутизации ее вида
func (a *JobQueueAdapter) Enqueue(ctx context.Context, job domain.Job) error {
	logger := contextkeys.LoggerFromContext(ctx)
	adapterLogger := logger.WithFields(port.Fields{
		"component":  "JobQueueAdapter",
		"job_id":     job.ID,
		"kind":       job.Kind,
		"listing_id": job.ListingID.String(),
	})

	descriptor, ok := jobs.Lookup(job.Kind)
	if !ok {
		return fmt.Errorf("rabbitmq adapter: unknown job kind %q", job.Kind)
	}

	msg, err := newJobMessage(ctx, job)
	if err != nil {
		adapterLogger.Error("Failed to build job message", err, nil)
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := a.producer.Publish(publishCtx, descriptor.RoutingKey, msg); err != nil {
		adapterLogger.Error("Failed to publish job", err, nil)
		return fmt.Errorf("rabbitmq adapter: failed to publish job %s: %w", job.ID, err)
	}

	adapterLogger.Debug("Job published", port.Fields{"routing_key": descriptor.RoutingKey})
	return nil
}

// newJobMessage сериализует задачу и проверяет ее по контракту до отправки
func newJobMessage(ctx context.Context, job domain.Job) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := contracts.ValidateBytes(contracts.ListingJobV1, body); err != nil {
		return amqp.Publishing{}, fmt.Errorf("job %s violates contract: %w", job.ID, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    job.ID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			constants.HeaderAttempt: strconv.Itoa(job.Attempt),
			constants.HeaderJobID:   job.ID,
		},
	}
	if traceID := contextkeys.TraceIDFromContext(ctx); traceID != "" {
		msg.Headers[constants.HeaderTraceID] = traceID
	}
	return msg, nil
}

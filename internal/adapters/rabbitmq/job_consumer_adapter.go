package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"listing-pipeline/internal/constants"
	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/contracts"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/jobs"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/port/usecases_port"
	"listing-pipeline/pkg/rabbitmq/rabbitmq_common"
	"listing-pipeline/pkg/rabbitmq/rabbitmq_consumer"
)

const maxFailureReasonLength = 1024

// JobConsumerAdapter входящий адаптер очереди одного вида задач
type JobConsumerAdapter struct {
	consumer   *rabbitmq_consumer.DistributingConsumer
	descriptor jobs.Descriptor
	useCase    usecases_port.ProcessJobPort
	logger     port.LoggerPort
	now        func() time.Time
}

// NewJobConsumerAdapter объявляет очередь, очереди ожидания по таблицам задержек и финальную DLQ
func NewJobConsumerAdapter(
	descriptor jobs.Descriptor,
	prefetch int,
	useCase usecases_port.ProcessJobPort,
	logger port.LoggerPort,
	connManager *rabbitmq_common.ConnectionManager,
) (*JobConsumerAdapter, error) {
	adapter := newJobConsumer(descriptor, useCase, logger)

	consumerTag := fmt.Sprintf("listing-pipeline-%s", descriptor.Kind)
	pkgLogger := logger.WithFields(port.Fields{"component": "rabbitmq_distributing_consumer", "consumer_tag": consumerTag})

	consumer, err := rabbitmq_consumer.NewDistributingConsumer(rabbitmq_consumer.ConsumerConfig{
		QueueName:          descriptor.Queue,
		DurableQueue:       true,
		ExchangeName:       constants.JobsExchange,
		ExchangeType:       constants.JobsExchangeType,
		RoutingKey:         descriptor.RoutingKey,
		PrefetchCount:      prefetch,
		ConsumerTag:        consumerTag,
		RetryDelays:        descriptor.RetryDelays(),
		FinalDLXExchange:   constants.FinalDLXExchange,
		FinalDLQ:           descriptor.FinalDLQ,
		FinalDLQRoutingKey: descriptor.FinalRoutingKey,
		Logger:             NewPkgLoggerBridge(pkgLogger),
	}, adapter.messageHandler, connManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ consumer for %s jobs: %w", descriptor.Kind, err)
	}
	adapter.consumer = consumer

	return adapter, nil
}

func newJobConsumer(descriptor jobs.Descriptor, useCase usecases_port.ProcessJobPort, logger port.LoggerPort) *JobConsumerAdapter {
	return &JobConsumerAdapter{
		descriptor: descriptor,
		useCase:    useCase,
		logger:     logger,
		now:        time.Now,
	}
}

// messageHandler переводит исход попытки в действие над сообщением
func (a *JobConsumerAdapter) messageHandler(ctx context.Context, d amqp.Delivery) rabbitmq_consumer.Disposition {
	traceID, ok := d.Headers[constants.HeaderTraceID].(string)
	if !ok || traceID == "" {
		traceID = uuid.New().String()
	}

	msgLogger := a.logger.WithFields(port.Fields{
		"trace_id":     traceID,
		"delivery_tag": d.DeliveryTag,
		"queue":        a.descriptor.Queue,
	})
	ctx = contextkeys.ContextWithLogger(ctx, msgLogger)
	ctx = contextkeys.ContextWithTraceID(ctx, traceID)

	job, err := decodeJob(d)
	if err != nil {
		// повтор не исправит битое сообщение
		msgLogger.Error("Malformed job message, dead-lettering", err, nil)
		return a.deadLetter(err)
	}

	jobLogger := msgLogger.WithFields(port.Fields{
		"job_id":     job.ID,
		"listing_id": job.ListingID.String(),
		"attempt":    job.Attempt,
	})
	ctx = contextkeys.ContextWithLogger(ctx, jobLogger)

	handleErr := a.useCase.Handle(ctx, job)
	decision := a.descriptor.Decide(job, handleErr)

	switch decision.Action {
	case jobs.ActionAck:
		jobLogger.Info("Job processed successfully", nil)
		return rabbitmq_consumer.Disposition{Action: rabbitmq_consumer.ActionAck}

	case jobs.ActionRetry:
		next := jobs.Next(job, decision.Delay)
		jobLogger.Warn("Job failed, scheduling retry", port.Fields{
			"error":        handleErr.Error(),
			"category":     decision.Category,
			"delay":        decision.Delay.String(),
			"next_attempt": next.Attempt,
		})
		return rabbitmq_consumer.Disposition{
			Action: rabbitmq_consumer.ActionRetry,
			Delay:  decision.Delay,
			Headers: amqp.Table{
				constants.HeaderAttempt:     strconv.Itoa(next.Attempt),
				constants.HeaderFailureKind: decision.Category,
			},
		}

	default:
		jobLogger.Error("Job failed permanently", handleErr, port.Fields{"category": decision.Category})
		a.useCase.OnFailure(ctx, job, handleErr)
		return a.deadLetter(handleErr)
	}
}

func (a *JobConsumerAdapter) deadLetter(cause error) rabbitmq_consumer.Disposition {
	failure := jobs.Failure(cause, a.now())
	return rabbitmq_consumer.Disposition{
		Action: rabbitmq_consumer.ActionDeadLetter,
		Headers: amqp.Table{
			constants.HeaderFailureReason: truncateReason(failure.Reason),
			constants.HeaderFailureKind:   failure.Category,
			constants.HeaderFailedAt:      failure.FailedAt.Format(time.RFC3339),
		},
	}
}

// decodeJob тело задает задачу, заголовок x-attempt - номер текущей попытки
func decodeJob(d amqp.Delivery) (domain.Job, error) {
	if err := contracts.ValidateBytes(contracts.ListingJobV1, d.Body); err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if attempt, ok := headerInt(d.Headers[constants.HeaderAttempt]); ok && attempt > job.Attempt {
		job.Attempt = attempt
	}
	return job, nil
}

func headerInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func truncateReason(s string) string {
	if len(s) <= maxFailureReasonLength {
		return s
	}
	return s[:maxFailureReasonLength]
}

// InFlight число задач, обрабатываемых прямо сейчас
func (a *JobConsumerAdapter) InFlight() int64 {
	return a.consumer.InFlight()
}

// QueueNames основная очередь и очереди ожидания
func (a *JobConsumerAdapter) QueueNames() []string {
	return a.consumer.QueueNames()
}

// Start реализует EventListenerPort
func (a *JobConsumerAdapter) Start(ctx context.Context) error {
	return a.consumer.StartConsuming(ctx)
}

// Close реализует EventListenerPort
func (a *JobConsumerAdapter) Close() error {
	return a.consumer.Close()
}

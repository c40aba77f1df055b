package rabbitmq_consumer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"listing-pipeline/pkg/rabbitmq/rabbitmq_common"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Action что сделать с сообщением после обработки
type Action int

const (
	ActionAck        Action = iota // обработано, подтверждаем
	ActionRetry                    // отложенный повтор через очередь ожидания
	ActionDeadLetter               // повторов больше не будет, отправляем в финальную DLQ
)

// Disposition решение обработчика о судьбе сообщения
type Disposition struct {
	Action Action
	Delay  time.Duration // только для ActionRetry
	// Headers дополняют заголовки исходного сообщения при повторной публикации
	Headers amqp.Table
}

// MessageHandler обрабатывает одно сообщение и решает, что с ним делать.
// Пакет сам выполняет ack/публикацию в очередь ожидания или DLX.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) Disposition

// DistributingConsumer запускает обработчик в отдельной горутине на каждое сообщение
type DistributingConsumer struct {
	baseConsumer *baseConsumer
	handler      MessageHandler
	inFlight     atomic.Int64
}

// NewDistributingConsumer создает потребителя и объявляет всю топологию очереди
func NewDistributingConsumer(cfg ConsumerConfig, handler MessageHandler, connManager *rabbitmq_common.ConnectionManager) (*DistributingConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("distributing consumer: message handler is required")
	}
	bc, err := newBaseConsumer(cfg, connManager)
	if err != nil {
		return nil, fmt.Errorf("distributing consumer: %w", err)
	}
	return &DistributingConsumer{baseConsumer: bc, handler: handler}, nil
}

// InFlight число сообщений, обрабатываемых прямо сейчас
func (c *DistributingConsumer) InFlight() int64 {
	return c.inFlight.Load()
}

// QueueNames основная очередь и все ее очереди ожидания
func (c *DistributingConsumer) QueueNames() []string {
	return append([]string{c.baseConsumer.config.QueueName}, c.baseConsumer.RetryQueueNames()...)
}

// StartConsuming блокируется до отмены контекста или закрытия соединения
func (c *DistributingConsumer) StartConsuming(ctx context.Context) error {
	bc := c.baseConsumer
	if bc.channel == nil || bc.connection == nil || bc.connection.IsClosed() {
		return fmt.Errorf("distributing consumer: not connected")
	}

	msgs, err := bc.channel.Consume(
		bc.config.QueueName,
		bc.config.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("distributing consumer %s: failed to consume from '%s': %w", bc.config.ConsumerTag, bc.config.QueueName, err)
	}

	bc.Logger.Info("[*] Waiting for messages", "queue_name", bc.config.QueueName)

	go func() {
		for {
			// не берем новую работу, если уже пришла команда на остановку
			select {
			case <-ctx.Done():
				return
			default:
			}

			select {
			case <-ctx.Done():
				bc.Logger.Info("Context cancelled, leaving consumption loop", "consumer_tag", bc.config.ConsumerTag)
				return
			case d, ok := <-msgs:
				if !ok {
					bc.Logger.Info("Deliveries channel closed by broker", "consumer_tag", bc.config.ConsumerTag)
					return
				}
				bc.wg.Add(1)
				c.inFlight.Add(1)
				go func(delivery amqp.Delivery) {
					defer bc.wg.Done()
					defer c.inFlight.Add(-1)
					// начатая задача доводится до конца даже при остановке процесса
					c.process(context.WithoutCancel(ctx), delivery)
				}(d)
			}
		}
	}()

	notifyClose := make(chan *amqp.Error, 1)
	bc.connection.NotifyClose(notifyClose)

	select {
	case <-ctx.Done():
		bc.Logger.Info("Context cancelled, shutting down consumer", "consumer_tag", bc.config.ConsumerTag)
		return nil
	case amqpErr := <-notifyClose:
		if amqpErr == nil {
			return nil
		}
		bc.Logger.Error(amqpErr, "Connection closed for consumer", "consumer_tag", bc.config.ConsumerTag)
		return amqpErr
	}
}

func (c *DistributingConsumer) process(ctx context.Context, d amqp.Delivery) {
	bc := c.baseConsumer
	disposition := c.handler(ctx, d)

	switch disposition.Action {
	case ActionAck:
		_ = d.Ack(false)

	case ActionRetry:
		queue, ok := bc.retryQueueFor(disposition.Delay)
		if !ok {
			bc.Logger.Warn("No retry queues configured, dead-lettering message", "delivery_tag", d.DeliveryTag)
			c.deadLetter(ctx, d, disposition.Headers)
			return
		}
		if err := bc.retryPublisher.Publish(ctx, queue, republish(d, disposition.Headers)); err != nil {
			bc.Logger.Error(err, "Failed to schedule retry, requeueing", "delivery_tag", d.DeliveryTag, "retry_queue", queue)
			_ = d.Nack(false, true)
			return
		}
		bc.Logger.Debug("Retry scheduled", "retry_queue", queue, "delay", disposition.Delay.String())
		_ = d.Ack(false)

	case ActionDeadLetter:
		c.deadLetter(ctx, d, disposition.Headers)
	}
}

func (c *DistributingConsumer) deadLetter(ctx context.Context, d amqp.Delivery, headers amqp.Table) {
	bc := c.baseConsumer
	if err := bc.finalDlxPublisher.Publish(ctx, bc.config.FinalDLQRoutingKey, republish(d, headers)); err != nil {
		bc.Logger.Error(err, "Failed to publish to final DLX, requeueing", "delivery_tag", d.DeliveryTag)
		_ = d.Nack(false, true)
		return
	}
	bc.Logger.Info("Message moved to final DLQ", "queue", bc.config.FinalDLQ, "delivery_tag", d.DeliveryTag)
	_ = d.Ack(false)
}

// republish копия исходного сообщения с дополненными заголовками
func republish(d amqp.Delivery, extra amqp.Table) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		if k == "x-death" {
			continue
		}
		headers[k] = v
	}
	for k, v := range extra {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  d.ContentType,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Headers:      headers,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
	}
}

// Close останавливает потребителя после завершения всех обработчиков
func (c *DistributingConsumer) Close() error {
	return c.baseConsumer.Close()
}

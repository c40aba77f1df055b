package rabbitmq_consumer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"listing-pipeline/pkg/rabbitmq/rabbitmq_common"
	"listing-pipeline/pkg/rabbitmq/rabbitmq_producer"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerConfig конфигурация потребителя с отложенными ретраями
type ConsumerConfig struct {
	// Очередь
	QueueName    string
	DurableQueue bool
	QueueArgs    amqp.Table

	// Основной обменник, к которому привязана очередь. В него же возвращаются
	// сообщения из очередей ожидания.
	ExchangeName string
	ExchangeType string
	RoutingKey   string

	// QoS
	PrefetchCount int

	ConsumerTag string

	// Отложенные ретраи: на каждую задержку объявляется своя очередь ожидания с TTL,
	// которая по истечении TTL отправляет сообщение обратно в основной обменник.
	RetryDelays        []time.Duration
	FinalDLXExchange   string
	FinalDLQ           string
	FinalDLQRoutingKey string

	Logger rabbitmq_common.Logger
}

// Validate проверяет согласованность конфигурации
func (c ConsumerConfig) Validate() error {
	if c.QueueName == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.ExchangeName == "" || c.ExchangeType == "" {
		return fmt.Errorf("exchange name and type are required")
	}
	if c.FinalDLXExchange == "" || c.FinalDLQ == "" {
		return fmt.Errorf("final DLX and DLQ are required")
	}
	for _, d := range c.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("retry delay must be positive, got %s", d)
		}
	}
	return nil
}

// RetryQueueName имя очереди ожидания для задержки, например "listing_media_queue_retry_wait_3m0s"
func RetryQueueName(queueName string, delay time.Duration) string {
	return fmt.Sprintf("%s_retry_wait_%s", queueName, delay)
}

// baseConsumer содержит общую логику канала, QoS и объявления топологии
type baseConsumer struct {
	config     ConsumerConfig
	connection *amqp.Connection
	channel    *amqp.Channel

	retryQueues  map[time.Duration]string
	sortedDelays []time.Duration

	retryPublisher    *rabbitmq_producer.Publisher // default exchange, адресация по имени очереди
	finalDlxPublisher *rabbitmq_producer.Publisher

	wg sync.WaitGroup

	Logger rabbitmq_common.Logger
}

func newBaseConsumer(cfg ConsumerConfig, connManager *rabbitmq_common.ConnectionManager) (*baseConsumer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = rabbitmq_common.NewNoopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("base consumer: invalid config: %w", err)
	}

	conn, ch, err := connManager.GetChannel()
	if err != nil {
		return nil, fmt.Errorf("base consumer: failed to get channel from manager: %w", err)
	}

	c := &baseConsumer{
		config:      cfg,
		connection:  conn,
		channel:     ch,
		retryQueues: make(map[time.Duration]string),
		Logger:      logger,
	}

	if err := c.setupTopology(); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("base consumer: setup failed: %w", err)
	}

	c.retryPublisher, err = rabbitmq_producer.NewPublisher(rabbitmq_producer.PublisherConfig{Logger: logger}, connManager)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("base consumer: failed to create retry publisher: %w", err)
	}
	c.finalDlxPublisher, err = rabbitmq_producer.NewPublisher(rabbitmq_producer.PublisherConfig{
		ExchangeName: cfg.FinalDLXExchange,
		Logger:       logger,
	}, connManager)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("base consumer: failed to create final DLX publisher: %w", err)
	}

	return c, nil
}

// setupTopology объявляет обменники, основную очередь, очереди ожидания и финальную DLQ
func (c *baseConsumer) setupTopology() error {
	if c.config.PrefetchCount > 0 {
		c.Logger.Debug("Setting QoS", "prefetch_count", c.config.PrefetchCount)
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	err := c.channel.ExchangeDeclare(c.config.ExchangeName, c.config.ExchangeType, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", c.config.ExchangeName, err)
	}

	c.Logger.Debug("Declaring queue", "name", c.config.QueueName)
	if _, err := c.channel.QueueDeclare(c.config.QueueName, c.config.DurableQueue, false, false, false, c.config.QueueArgs); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", c.config.QueueName, err)
	}
	if err := c.channel.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s': %w", c.config.QueueName, err)
	}

	// финальный DLX и DLQ для сообщений, которые больше не будут повторяться
	if err := c.channel.ExchangeDeclare(c.config.FinalDLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare final DLX: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.config.FinalDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare final DLQ: %w", err)
	}
	if err := c.channel.QueueBind(c.config.FinalDLQ, c.config.FinalDLQRoutingKey, c.config.FinalDLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind final DLQ: %w", err)
	}

	for _, delay := range c.config.RetryDelays {
		if _, ok := c.retryQueues[delay]; ok {
			continue
		}
		name := RetryQueueName(c.config.QueueName, delay)
		c.Logger.Debug("Declaring retry-wait queue", "name", name, "ttl", delay.String())
		_, err := c.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             int32(delay / time.Millisecond),
			"x-dead-letter-exchange":    c.config.ExchangeName,
			"x-dead-letter-routing-key": c.config.RoutingKey,
		})
		if err != nil {
			return fmt.Errorf("failed to declare retry-wait queue '%s': %w", name, err)
		}
		c.retryQueues[delay] = name
		c.sortedDelays = append(c.sortedDelays, delay)
	}
	sort.Slice(c.sortedDelays, func(i, j int) bool { return c.sortedDelays[i] < c.sortedDelays[j] })

	c.Logger.Debug("Setup complete", "queue", c.config.QueueName, "retry_queues", len(c.retryQueues))
	return nil
}

// retryQueueFor выбирает очередь ожидания с наименьшей задержкой не короче запрошенной
func (c *baseConsumer) retryQueueFor(delay time.Duration) (string, bool) {
	if len(c.sortedDelays) == 0 {
		return "", false
	}
	for _, d := range c.sortedDelays {
		if d >= delay {
			return c.retryQueues[d], true
		}
	}
	return c.retryQueues[c.sortedDelays[len(c.sortedDelays)-1]], true
}

// RetryQueueNames имена всех очередей ожидания
func (c *baseConsumer) RetryQueueNames() []string {
	names := make([]string, 0, len(c.sortedDelays))
	for _, d := range c.sortedDelays {
		names = append(names, c.retryQueues[d])
	}
	return names
}

// Close дожидается обработчиков и закрывает каналы потребителя
func (c *baseConsumer) Close() error {
	c.Logger.Debug("Waiting for message handlers to finish...")
	c.wg.Wait()

	var firstErr error
	for _, p := range []*rabbitmq_producer.Publisher{c.retryPublisher, c.finalDlxPublisher} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && firstErr == nil {
			c.Logger.Error(err, "Error closing channel")
			firstErr = err
		}
		c.channel = nil
	}

	c.Logger.Info("Consumer closed", "queue", c.config.QueueName)
	return firstErr
}

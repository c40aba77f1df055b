package rabbitmq

import (
	"context"
	"fmt"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/port"
)

// QueueInspector глубина очереди по имени
type QueueInspector interface {
	QueueDepth(queueName string) (int, error)
}

// WorkSource потребитель, о котором знает монитор
type WorkSource interface {
	InFlight() int64
	QueueNames() []string
}

// QueueMonitor реализует port.ProcessingMonitorPort
type QueueMonitor struct {
	inspector QueueInspector
	sources   []WorkSource
}

func NewQueueMonitor(inspector QueueInspector, sources ...WorkSource) *QueueMonitor {
	return &QueueMonitor{inspector: inspector, sources: sources}
}

// IsProcessing true, если есть задачи в работе или готовые сообщения в основной очереди
// либо в очередях ожидания
func (m *QueueMonitor) IsProcessing(ctx context.Context) (bool, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{"component": "QueueMonitor"})

	for _, s := range m.sources {
		if s.InFlight() > 0 {
			return true, nil
		}
	}
	for _, s := range m.sources {
		for _, name := range s.QueueNames() {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			depth, err := m.inspector.QueueDepth(name)
			if err != nil {
				logger.Error("Failed to inspect queue", err, port.Fields{"queue": name})
				return false, fmt.Errorf("inspect queue %s: %w", name, err)
			}
			if depth > 0 {
				logger.Debug("Queue has pending messages", port.Fields{"queue": name, "depth": depth})
				return true, nil
			}
		}
	}
	return false, nil
}

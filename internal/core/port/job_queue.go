package port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

// JobQueuePort постановка задач в очереди enrichment и media
type JobQueuePort interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// ProcessingMonitorPort есть ли незавершенная работа в любой из очередей
type ProcessingMonitorPort interface {
	IsProcessing(ctx context.Context) (bool, error)
}

package usecases_port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

// ProcessJobPort обработчик одного вида задач
type ProcessJobPort interface {
	Handle(ctx context.Context, job domain.Job) error
	// OnFailure вызывается один раз, когда задача больше не будет повторяться
	OnFailure(ctx context.Context, job domain.Job, cause error)
}

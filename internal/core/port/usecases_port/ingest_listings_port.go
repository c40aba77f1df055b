package usecases_port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

type IngestListingsPort interface {
	Execute(ctx context.Context, providerKey string, limit int) (*domain.IngestStats, error)
	// Start занимает прогон синхронно и выполняет его в фоне, onDone получает итог
	Start(ctx context.Context, providerKey string, limit int, onDone func(*domain.IngestStats, error)) error
}

package port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

// EnrichmentClientPort один HTTP-вызов внешней языковой модели.
// Неуспех возвращается как *domain.EnrichmentCallError или domain.ErrMissingCredentials.
type EnrichmentClientPort interface {
	Complete(ctx context.Context, req domain.EnrichmentRequest) (*domain.EnrichmentResponse, error)
}

package port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

// ScrapeProviderPort источник сырых объявлений
type ScrapeProviderPort interface {
	Fetch(ctx context.Context, limit int) ([]domain.RawScrapeRecord, error)
}

package usecases_port

import (
	"context"

	"listing-pipeline/internal/core/domain"
)

type NormalizeListingPort interface {
	Normalize(ctx context.Context, raw domain.RawScrapeRecord) (domain.ListingTransport, error)
}

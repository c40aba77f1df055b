package usecases_port

import (
	"context"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
)

type ListingLifecyclePort interface {
	CreateSkeleton(ctx context.Context, raw domain.RawScrapeRecord) (domain.SkeletonResult, error)
	ApplyNormalization(ctx context.Context, skeleton *domain.Listing, transport domain.ListingTransport) (domain.ApplyResult, error)
	Demote(ctx context.Context, listingID uuid.UUID, to domain.ListingStatus) (bool, error)
	Discard(ctx context.Context, listingID uuid.UUID) (bool, error)
}

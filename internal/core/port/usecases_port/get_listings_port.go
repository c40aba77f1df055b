package usecases_port

import (
	"context"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
)

type GetListingsUseCase interface {
	Execute(ctx context.Context, filter domain.ListingFilter) (*domain.ListingPage, error)
}

type GetListingByIDUseCase interface {
	Execute(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
}

type GetProcessingStatusUseCase interface {
	Execute(ctx context.Context) (bool, error)
}

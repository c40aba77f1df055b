package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type GetListingsUseCase struct {
	storage port.ListingStoragePort
}

func NewGetListingsUseCase(storage port.ListingStoragePort) *GetListingsUseCase {
	return &GetListingsUseCase{storage: storage}
}

// Execute по умолчанию отдает только видимые статусы
func (uc *GetListingsUseCase) Execute(ctx context.Context, filter domain.ListingFilter) (*domain.ListingPage, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case": "GetListings",
		"query":    filter.Query,
		"city":     filter.City,
	})

	filter.Query = strings.TrimSpace(filter.Query)
	filter.City = strings.TrimSpace(filter.City)
	if len(filter.Statuses) == 0 {
		filter.Statuses = domain.VisibleStatuses
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	listings, total, err := uc.storage.FindVisible(ctx, filter)
	if err != nil {
		ucLogger.Error("Storage returned an error", err, nil)
		return nil, err
	}

	ucLogger.Debug("Use case finished", port.Fields{"total_found": total, "items_on_page": len(listings)})
	return &domain.ListingPage{
		Listings:   listings,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

type GetListingByIDUseCase struct {
	storage port.ListingStoragePort
}

func NewGetListingByIDUseCase(storage port.ListingStoragePort) *GetListingByIDUseCase {
	return &GetListingByIDUseCase{storage: storage}
}

// Execute скрытые статусы отдаются как domain.ErrListingNotFound
func (uc *GetListingByIDUseCase) Execute(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	listing, err := uc.storage.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, s := range domain.VisibleStatuses {
		if listing.Status == s {
			return listing, nil
		}
	}
	return nil, domain.ErrListingNotFound
}

type GetProcessingStatusUseCase struct {
	monitor port.ProcessingMonitorPort
}

func NewGetProcessingStatusUseCase(monitor port.ProcessingMonitorPort) *GetProcessingStatusUseCase {
	return &GetProcessingStatusUseCase{monitor: monitor}
}

func (uc *GetProcessingStatusUseCase) Execute(ctx context.Context) (bool, error) {
	processing, err := uc.monitor.IsProcessing(ctx)
	if err != nil {
		contextkeys.LoggerFromContext(ctx).Error("Processing status check failed", err, nil)
		return false, err
	}
	return processing, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/port/usecases_port"
)

// ProcessEnrichmentUseCase задача обогащения одного скелета
type ProcessEnrichmentUseCase struct {
	storage    port.ListingStoragePort
	normalizer usecases_port.NormalizeListingPort
	lifecycle  usecases_port.ListingLifecyclePort
}

func NewProcessEnrichmentUseCase(
	storage port.ListingStoragePort,
	normalizer usecases_port.NormalizeListingPort,
	lifecycle usecases_port.ListingLifecyclePort,
) *ProcessEnrichmentUseCase {
	return &ProcessEnrichmentUseCase{
		storage:    storage,
		normalizer: normalizer,
		lifecycle:  lifecycle,
	}
}

// Handle no-op, если объявления нет или оно уже не pending
func (uc *ProcessEnrichmentUseCase) Handle(ctx context.Context, job domain.Job) error {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":   "ProcessEnrichment",
		"job_id":     job.ID,
		"listing_id": job.ListingID.String(),
		"attempt":    job.Attempt,
	})
	ctx = contextkeys.ContextWithLogger(ctx, ucLogger)

	listing, err := uc.storage.GetByID(ctx, job.ListingID)
	if errors.Is(err, domain.ErrListingNotFound) {
		ucLogger.Info("Listing no longer exists, skipping job", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load listing %s: %w", job.ListingID, err)
	}
	if listing.Status != domain.StatusPending {
		ucLogger.Info("Listing already processed, skipping job", port.Fields{"status": listing.Status})
		return nil
	}

	raw, err := rawRecordFromSkeleton(listing)
	if err != nil {
		return err
	}

	transport, err := uc.normalizer.Normalize(ctx, raw)
	if err != nil {
		return err
	}

	result, err := uc.lifecycle.ApplyNormalization(ctx, listing, transport)
	if err != nil {
		return err
	}

	ucLogger.Info("Enrichment job finished", port.Fields{
		"outcome":  result.Outcome,
		"status":   result.Status,
		"survivor": result.ListingID.String(),
		"fallback": transport.IsFallback(),
	})
	return nil
}

// OnFailure понижает статус: без данных -> failed, иначе unverified
func (uc *ProcessEnrichmentUseCase) OnFailure(ctx context.Context, job domain.Job, cause error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":   "ProcessEnrichment",
		"job_id":     job.ID,
		"listing_id": job.ListingID.String(),
		"attempt":    job.Attempt,
	})

	to := domain.StatusUnverified
	if errors.Is(cause, domain.ErrNoUsableData) {
		to = domain.StatusFailed
	}

	logger.Error("Enrichment job failed permanently", cause, port.Fields{"demote_to": to})
	if _, err := uc.lifecycle.Demote(ctx, job.ListingID, to); err != nil {
		logger.Error("Failed to demote listing after job failure", err, nil)
	}
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
)

// ProcessMediaUseCase задача загрузки изображений. Идемпотентность обеспечивает
// граница прикрепления: при наличии медиа она ничего не делает.
type ProcessMediaUseCase struct {
	storage  port.ListingStoragePort
	attacher port.ImageAttacherPort
}

func NewProcessMediaUseCase(storage port.ListingStoragePort, attacher port.ImageAttacherPort) *ProcessMediaUseCase {
	return &ProcessMediaUseCase{storage: storage, attacher: attacher}
}

func (uc *ProcessMediaUseCase) Handle(ctx context.Context, job domain.Job) error {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":   "ProcessMedia",
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

	curated := curatedFromAux(listing.Aux)
	if len(curated) == 0 && len(listing.ImageURLs) == 0 {
		ucLogger.Info("Listing has no image candidates", nil)
		return nil
	}

	result, err := uc.attacher.AttachImages(ctx, listing.ID, curated, listing.ImageURLs)
	if err != nil {
		return fmt.Errorf("attach images for %s: %w", listing.ID, err)
	}
	if result.Skipped {
		ucLogger.Info("Listing already has media", nil)
		return nil
	}
	if result.Count == 0 && len(result.Errors) > 0 {
		return fmt.Errorf("no image could be attached: %s", strings.Join(result.Errors, "; "))
	}

	ucLogger.Info("Media job finished", port.Fields{
		"attached":      result.Count,
		"hero_attached": result.HeroAttached,
		"errors":        len(result.Errors),
	})
	return nil
}

func (uc *ProcessMediaUseCase) OnFailure(ctx context.Context, job domain.Job, cause error) {
	contextkeys.LoggerFromContext(ctx).Error("Media job failed permanently", cause, port.Fields{
		"use_case":   "ProcessMedia",
		"job_id":     job.ID,
		"listing_id": job.ListingID.String(),
		"attempt":    job.Attempt,
	})
}

// curatedFromAux отобранные изображения, сохраненные нормализацией
func curatedFromAux(aux domain.AuxPayload) []domain.CuratedImage {
	v, ok := aux[domain.AuxCuratedImages]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var curated []domain.CuratedImage
	if err := json.Unmarshal(data, &curated); err != nil {
		return nil
	}
	return curated
}

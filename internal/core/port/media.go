package port

import (
	"context"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
)

// ImageAttacherPort граница прикрепления изображений
type ImageAttacherPort interface {
	// AttachImages no-op, если у объявления уже есть медиа
	AttachImages(ctx context.Context, listingID uuid.UUID, curated []domain.CuratedImage, fallbackURLs []string) (domain.AttachResult, error)
	// DesignateHero помечает главным изображение с исходным URL heroURL,
	// при пустом heroURL или отсутствии совпадения первое прикрепленное
	DesignateHero(ctx context.Context, listingID uuid.UUID, heroURL string) (bool, error)
}

// MediaStoragePort строки listing_media
type MediaStoragePort interface {
	HasMedia(ctx context.Context, listingID uuid.UUID) (bool, error)
	SaveMedia(ctx context.Context, items []domain.MediaItem) error
	ListMedia(ctx context.Context, listingID uuid.UUID) ([]domain.MediaItem, error)
	SetHero(ctx context.Context, listingID uuid.UUID, mediaID uuid.UUID) error
}

package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
)

// ListingStoragePort хранилище объявлений. Пишет в него только сервис жизненного цикла.
type ListingStoragePort interface {
	// FindRecentByFingerprint запись с отпечатком, обновленная не раньше since.
	// excludeID исключает саму проверяемую запись. nil, nil если совпадений нет.
	FindRecentByFingerprint(ctx context.Context, fingerprint string, since time.Time, excludeID *uuid.UUID) (*domain.Listing, error)
	// FindByExternalID nil, nil если записи нет
	FindByExternalID(ctx context.Context, externalID string) (*domain.Listing, error)
	// GetByID возвращает domain.ErrListingNotFound, если записи нет
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error)

	// Create false, если запись с тем же внешним идентификатором уже есть
	Create(ctx context.Context, listing *domain.Listing) (bool, error)
	// TouchSeen обновляет last_seen и, если price не nil, цену
	TouchSeen(ctx context.Context, id uuid.UUID, seenAt time.Time, price *float64) error
	// MergeInto в одной транзакции обновляет выжившую запись и удаляет скелет
	MergeInto(ctx context.Context, survivorID uuid.UUID, seenAt time.Time, price *float64, skeletonID uuid.UUID) error
	// UpdateNormalized пишет итоговые поля только пока запись pending
	UpdateNormalized(ctx context.Context, listing *domain.Listing) (bool, error)
	// UpdateStatus условный переход from -> to
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.ListingStatus) (bool, error)
	// DeletePending удаляет запись, только пока она pending
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)

	FindVisible(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, int, error)
}

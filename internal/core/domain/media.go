package domain

import (
	"time"

	"github.com/google/uuid"
)

// MediaItem сохраненное изображение объявления
type MediaItem struct {
	ID          uuid.UUID
	ListingID   uuid.UUID
	SourceURL   string
	StorageKey  string
	ContentType string
	Bytes       int64
	Position    int
	IsHero      bool
	CreatedAt   time.Time
}

// AttachResult итог прикрепления изображений
type AttachResult struct {
	HeroAttached bool     `json:"hero_attached"`
	Count        int      `json:"count"`
	Errors       []string `json:"errors,omitempty"`
	Skipped      bool     `json:"skipped,omitempty"` // у объявления уже есть медиа
}

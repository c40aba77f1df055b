package domain

import "github.com/google/uuid"

// SkeletonOutcome чем закончилось создание скелета
type SkeletonOutcome string

const (
	SkeletonCreated   SkeletonOutcome = "created"   // новая запись, нужны задачи обогащения и медиа
	SkeletonDuplicate SkeletonOutcome = "duplicate" // совпал отпечаток в окне, скрейп отброшен
	SkeletonRefreshed SkeletonOutcome = "refreshed" // совпал внешний идентификатор
)

// SkeletonResult итог CreateSkeleton
type SkeletonResult struct {
	Outcome      SkeletonOutcome
	ListingID    uuid.UUID
	PriceUpdated bool
}

// ApplyOutcome чем закончилось применение нормализации
type ApplyOutcome string

const (
	ApplyUpdated ApplyOutcome = "updated"
	ApplyMerged  ApplyOutcome = "merged"  // скелет удален, данные ушли в существующую запись
	ApplySkipped ApplyOutcome = "skipped" // запись уже не pending
)

// ApplyResult итог ApplyNormalization
type ApplyResult struct {
	Outcome      ApplyOutcome
	ListingID    uuid.UUID // выжившая запись
	Status       ListingStatus
	QualityScore int
	HeroAttached bool
}

// IngestStats счетчики одного прогона загрузки
type IngestStats struct {
	Fetched    int `json:"fetched"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Refreshed  int `json:"refreshed"`
	Failed     int `json:"failed"`
	Enqueued   int `json:"enqueued"`
}

// ListingPage страница пользовательской выдачи
type ListingPage struct {
	Listings   []Listing
	TotalCount int
	Limit      int
	Offset     int
}

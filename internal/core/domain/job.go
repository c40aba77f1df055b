package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobKind вид фоновой задачи
type JobKind string

const (
	JobKindEnrichment JobKind = "enrichment"
	JobKindMedia      JobKind = "media"
)

// Job задача над объявлением. Attempt начинается с 1.
type Job struct {
	ID           string      `json:"id"`
	Kind         JobKind     `json:"kind"`
	ListingID    uuid.UUID   `json:"listing_id"`
	Attempt      int         `json:"attempt"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Failure      *JobFailure `json:"failure,omitempty"`
}

// JobFailure данные о терминальной ошибке задачи
type JobFailure struct {
	Reason   string    `json:"reason"`
	Category string    `json:"category,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

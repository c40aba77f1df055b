// Package jobs описывает фоновые задачи конвейера: очередь, число попыток,
// таблицы задержек и решение по исходу очередной попытки.
package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"listing-pipeline/internal/constants"
	"listing-pipeline/internal/core/domain"
)

// Action что сделать с задачей после попытки
type Action string

const (
	ActionAck   Action = "ack"
	ActionRetry Action = "retry"
	ActionFail  Action = "fail"
)

// Decision исход попытки
type Decision struct {
	Action   Action
	Delay    time.Duration
	Category string
}

// Descriptor метаданные вида задачи
type Descriptor struct {
	Kind             domain.JobKind
	Queue            string
	RoutingKey       string
	FinalDLQ         string
	FinalRoutingKey  string
	MaxAttempts      int
	Backoff          []time.Duration
	RateLimitBackoff []time.Duration
}

var Enrichment = Descriptor{
	Kind:            domain.JobKindEnrichment,
	Queue:           constants.QueueEnrichment,
	RoutingKey:      constants.RoutingKeyEnrichment,
	FinalDLQ:        constants.FinalDLQEnrichment,
	FinalRoutingKey: constants.FinalDLQRoutingKeyEnrichment,
	MaxAttempts:     5,
	Backoff: []time.Duration{
		2 * time.Minute, 5 * time.Minute, 10 * time.Minute, 20 * time.Minute,
	},
	// повторов при MaxAttempts=5 всего четыре, поэтому таблица из четырех шагов
	RateLimitBackoff: []time.Duration{
		1 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute,
	},
}

var Media = Descriptor{
	Kind:            domain.JobKindMedia,
	Queue:           constants.QueueMedia,
	RoutingKey:      constants.RoutingKeyMedia,
	FinalDLQ:        constants.FinalDLQMedia,
	FinalRoutingKey: constants.FinalDLQRoutingKeyMedia,
	MaxAttempts:     3,
	Backoff: []time.Duration{
		1 * time.Minute, 3 * time.Minute, 5 * time.Minute,
	},
}

// Lookup дескриптор по виду задачи
func Lookup(kind domain.JobKind) (Descriptor, bool) {
	switch kind {
	case domain.JobKindEnrichment:
		return Enrichment, true
	case domain.JobKindMedia:
		return Media, true
	default:
		return Descriptor{}, false
	}
}

// NewJob первая попытка новой задачи
func NewJob(kind domain.JobKind, listingID uuid.UUID) domain.Job {
	now := time.Now().UTC()
	return domain.Job{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Kind:         kind,
		ListingID:    listingID,
		Attempt:      1,
		ScheduledFor: now,
	}
}

// Next следующая попытка той же задачи
func Next(job domain.Job, delay time.Duration) domain.Job {
	next := job
	next.Attempt++
	next.ScheduledFor = time.Now().UTC().Add(delay)
	next.Failure = nil
	return next
}

// Decide выбирает ack, повтор с задержкой или терминальную ошибку
func (d Descriptor) Decide(job domain.Job, err error) Decision {
	if err == nil {
		return Decision{Action: ActionAck}
	}

	category := Category(err)
	if domain.IsFatal(err) || job.Attempt >= d.MaxAttempts {
		return Decision{Action: ActionFail, Category: category}
	}

	table := d.Backoff
	if domain.IsRateLimited(err) && len(d.RateLimitBackoff) > 0 {
		table = d.RateLimitBackoff
	}
	return Decision{Action: ActionRetry, Delay: pick(table, job.Attempt), Category: category}
}

// RetryDelays все различные задержки дескриптора, по ним объявляются очереди ожидания
func (d Descriptor) RetryDelays() []time.Duration {
	seen := make(map[time.Duration]struct{})
	var out []time.Duration
	for _, table := range [][]time.Duration{d.Backoff, d.RateLimitBackoff} {
		for _, delay := range table {
			if _, ok := seen[delay]; ok {
				continue
			}
			seen[delay] = struct{}{}
			out = append(out, delay)
		}
	}
	return out
}

// Failure данные для терминальной записи о задаче
func Failure(err error, now time.Time) *domain.JobFailure {
	if err == nil {
		return nil
	}
	return &domain.JobFailure{
		Reason:   err.Error(),
		Category: Category(err),
		FailedAt: now.UTC(),
	}
}

// Category короткое имя класса ошибки для заголовков и логов
func Category(err error) string {
	var enrichErr *domain.EnrichmentError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &enrichErr):
		return string(enrichErr.Category)
	case errors.Is(err, domain.ErrNoUsableData):
		return "no_usable_data"
	case errors.Is(err, domain.ErrMissingCredentials):
		return string(domain.CategoryCredentials)
	default:
		return "error"
	}
}

// pick задержка для попытки attempt (с единицы), последняя повторяется
func pick(table []time.Duration, attempt int) time.Duration {
	if len(table) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(table) {
		i = len(table) - 1
	}
	return table[i]
}

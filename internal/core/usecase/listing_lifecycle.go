package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/fingerprint"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/quality"
)

const (
	// DuplicateWindow окно, в котором совпадение отпечатков считается дубликатом
	DuplicateWindow = 30 * 24 * time.Hour
	// PriceChangeThreshold относительное изменение цены, после которого цена обновляется
	PriceChangeThreshold = 0.005

	snapshotHTMLBytes = 1 << 20
)

// ListingLifecycleUseCase единственный писатель состояния объявлений
type ListingLifecycleUseCase struct {
	storage  port.ListingStoragePort
	attacher port.ImageAttacherPort
	now      func() time.Time
}

func NewListingLifecycleUseCase(storage port.ListingStoragePort, attacher port.ImageAttacherPort) *ListingLifecycleUseCase {
	return &ListingLifecycleUseCase{
		storage:  storage,
		attacher: attacher,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSkeleton отбрасывает дубликат по отпечатку, обновляет запись с тем же внешним
// идентификатором или создает новый скелет в статусе pending
func (uc *ListingLifecycleUseCase) CreateSkeleton(ctx context.Context, raw domain.RawScrapeRecord) (domain.SkeletonResult, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":    "CreateSkeleton",
		"external_id": raw.ExternalID,
		"source":      raw.Source,
	})
	now := uc.now()

	var (
		fp           *string
		scrapedPrice float64
	)
	if s := raw.Structured; s != nil {
		scrapedPrice = s.Price
		if fingerprint.Derivable(s.Price, s.City) {
			value := fingerprint.Calculate(s.City, optionalString(s.Street), s.Price, s.Area, s.Rooms)
			fp = &value

			existing, err := uc.storage.FindRecentByFingerprint(ctx, value, now.Add(-DuplicateWindow), nil)
			if err != nil {
				ucLogger.Error("Fingerprint lookup failed", err, nil)
				return domain.SkeletonResult{}, fmt.Errorf("find listing by fingerprint: %w", err)
			}
			if existing != nil {
				updated, err := uc.refresh(ctx, existing, scrapedPrice, now)
				if err != nil {
					return domain.SkeletonResult{}, err
				}
				ucLogger.Info("Duplicate scrape discarded", port.Fields{
					"listing_id":    existing.ID.String(),
					"price_updated": updated,
				})
				return domain.SkeletonResult{Outcome: domain.SkeletonDuplicate, ListingID: existing.ID, PriceUpdated: updated}, nil
			}
		}
	}

	if raw.ExternalID != "" {
		existing, err := uc.storage.FindByExternalID(ctx, raw.ExternalID)
		if err != nil {
			ucLogger.Error("External id lookup failed", err, nil)
			return domain.SkeletonResult{}, fmt.Errorf("find listing by external id: %w", err)
		}
		if existing != nil {
			return uc.refreshed(ctx, ucLogger, existing, scrapedPrice, now)
		}
	}

	skeleton := newSkeleton(raw, fp, now)
	created, err := uc.storage.Create(ctx, skeleton)
	if err != nil {
		ucLogger.Error("Failed to create skeleton", err, nil)
		return domain.SkeletonResult{}, fmt.Errorf("create skeleton: %w", err)
	}
	if !created {
		// параллельный скрейп успел вставить ту же запись
		existing, err := uc.storage.FindByExternalID(ctx, raw.ExternalID)
		if err != nil {
			return domain.SkeletonResult{}, fmt.Errorf("find listing by external id: %w", err)
		}
		if existing == nil {
			return domain.SkeletonResult{}, fmt.Errorf("skeleton for %s was neither created nor found", raw.ExternalID)
		}
		return uc.refreshed(ctx, ucLogger, existing, scrapedPrice, now)
	}

	ucLogger.Info("Skeleton created", port.Fields{"listing_id": skeleton.ID.String()})
	return domain.SkeletonResult{Outcome: domain.SkeletonCreated, ListingID: skeleton.ID}, nil
}

func (uc *ListingLifecycleUseCase) refreshed(ctx context.Context, logger port.LoggerPort, existing *domain.Listing, price float64, now time.Time) (domain.SkeletonResult, error) {
	updated, err := uc.refresh(ctx, existing, price, now)
	if err != nil {
		return domain.SkeletonResult{}, err
	}
	logger.Info("Existing listing refreshed by external id", port.Fields{
		"listing_id":    existing.ID.String(),
		"price_updated": updated,
	})
	return domain.SkeletonResult{Outcome: domain.SkeletonRefreshed, ListingID: existing.ID, PriceUpdated: updated}, nil
}

func (uc *ListingLifecycleUseCase) refresh(ctx context.Context, existing *domain.Listing, price float64, now time.Time) (bool, error) {
	var newPrice *float64
	if shouldUpdatePrice(existing.Price, price) {
		newPrice = &price
	}
	if err := uc.storage.TouchSeen(ctx, existing.ID, now, newPrice); err != nil {
		return false, fmt.Errorf("refresh listing %s: %w", existing.ID, err)
	}
	return newPrice != nil, nil
}

// ApplyNormalization сливает скелет с существующей записью при совпадении уточненного
// отпечатка, иначе записывает итоговые поля, оценку и статус
func (uc *ListingLifecycleUseCase) ApplyNormalization(ctx context.Context, skeleton *domain.Listing, t domain.ListingTransport) (domain.ApplyResult, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":   "ApplyNormalization",
		"listing_id": skeleton.ID.String(),
	})

	if skeleton.Status != domain.StatusPending {
		ucLogger.Info("Listing already left pending, nothing to apply", port.Fields{"status": skeleton.Status})
		return domain.ApplyResult{Outcome: domain.ApplySkipped, ListingID: skeleton.ID, Status: skeleton.Status}, nil
	}
	now := uc.now()

	var fp *string
	if fingerprint.Derivable(t.Price, t.City) {
		value := fingerprint.Calculate(t.City, t.Street, t.Price, t.Area, t.Rooms)
		fp = &value

		existing, err := uc.storage.FindRecentByFingerprint(ctx, value, now.Add(-DuplicateWindow), &skeleton.ID)
		if err != nil {
			ucLogger.Error("Fingerprint re-check failed", err, nil)
			return domain.ApplyResult{}, fmt.Errorf("find listing by fingerprint: %w", err)
		}
		if existing != nil {
			var price *float64
			if shouldUpdatePrice(existing.Price, t.Price) {
				price = &t.Price
			}
			if err := uc.storage.MergeInto(ctx, existing.ID, now, price, skeleton.ID); err != nil {
				ucLogger.Error("Merge into existing listing failed", err, port.Fields{"survivor_id": existing.ID.String()})
				return domain.ApplyResult{}, fmt.Errorf("merge listing %s into %s: %w", skeleton.ID, existing.ID, err)
			}
			ucLogger.Info("Skeleton merged into existing listing", port.Fields{
				"survivor_id":   existing.ID.String(),
				"price_updated": price != nil,
			})
			return domain.ApplyResult{
				Outcome:      domain.ApplyMerged,
				ListingID:    existing.ID,
				Status:       existing.Status,
				QualityScore: existing.QualityScore,
			}, nil
		}
	}

	eval := quality.Evaluate(t)
	status := eval.Status
	if status == domain.StatusAvailable && t.IsFallback() {
		status = domain.StatusUnverified
	}

	final := *skeleton
	t.ApplyTo(&final)
	final.Fingerprint = fp
	final.Status = status
	final.QualityScore = eval.Score
	final.LastSeenAt = now

	ok, err := uc.storage.UpdateNormalized(ctx, &final)
	if err != nil {
		ucLogger.Error("Failed to store normalized listing", err, nil)
		return domain.ApplyResult{}, fmt.Errorf("update listing %s: %w", skeleton.ID, err)
	}
	if !ok {
		ucLogger.Info("Listing changed concurrently, normalized fields not applied", nil)
		return domain.ApplyResult{Outcome: domain.ApplySkipped, ListingID: skeleton.ID}, nil
	}

	heroAttached, err := uc.attacher.DesignateHero(ctx, skeleton.ID, t.HeroURL)
	if err != nil {
		// медиа-задача назначит главное изображение сама
		ucLogger.Warn("Hero designation failed", port.Fields{"error": err.Error()})
	}

	ucLogger.Info("Normalized listing stored", port.Fields{
		"status":        status,
		"quality_score": eval.Score,
		"invalid":       eval.Errors,
		"hero_attached": heroAttached,
	})
	return domain.ApplyResult{
		Outcome:      domain.ApplyUpdated,
		ListingID:    skeleton.ID,
		Status:       status,
		QualityScore: eval.Score,
		HeroAttached: heroAttached,
	}, nil
}

// Demote условный перевод pending -> to для задач, исчерпавших попытки
func (uc *ListingLifecycleUseCase) Demote(ctx context.Context, listingID uuid.UUID, to domain.ListingStatus) (bool, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":   "DemoteListing",
		"listing_id": listingID.String(),
		"status":     to,
	})
	if to != domain.StatusUnverified && to != domain.StatusFailed {
		return false, fmt.Errorf("listing can not be demoted to %q", to)
	}

	ok, err := uc.storage.UpdateStatus(ctx, listingID, domain.StatusPending, to)
	if err != nil {
		logger.Error("Failed to demote listing", err, nil)
		return false, fmt.Errorf("demote listing %s: %w", listingID, err)
	}
	if ok {
		logger.Info("Listing demoted", nil)
	}
	return ok, nil
}

// Discard удаляет скелет, для которого не удалось поставить задачу нормализации.
// Иначе запись навсегда осталась бы pending и по external_id блокировала повторный скрейп.
func (uc *ListingLifecycleUseCase) Discard(ctx context.Context, listingID uuid.UUID) (bool, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":   "DiscardSkeleton",
		"listing_id": listingID.String(),
	})

	ok, err := uc.storage.DeletePending(ctx, listingID)
	if err != nil {
		logger.Error("Failed to discard skeleton", err, nil)
		return false, fmt.Errorf("discard listing %s: %w", listingID, err)
	}
	if ok {
		logger.Info("Skeleton discarded", nil)
	}
	return ok, nil
}

// shouldUpdatePrice новая цена заменяет старую при изменении больше чем на 0.5%
func shouldUpdatePrice(oldPrice, newPrice float64) bool {
	if newPrice <= 0 {
		return false
	}
	if oldPrice <= 0 {
		return true
	}
	return math.Abs(newPrice-oldPrice)/oldPrice > PriceChangeThreshold
}

func newSkeleton(raw domain.RawScrapeRecord, fp *string, now time.Time) *domain.Listing {
	l := &domain.Listing{
		ID:           uuid.New(),
		Fingerprint:  fp,
		SourceURL:    raw.SourceURL,
		PropertyType: domain.PropertyTypeUnknown,
		Status:       domain.StatusPending,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
		Aux: domain.AuxPayload{
			domain.AuxOriginalHTML: truncateUTF8(raw.HTML, snapshotHTMLBytes),
			domain.AuxSourceURL:    raw.SourceURL,
			domain.AuxScrapedAt:    raw.ScrapedAt.UTC().Format(time.RFC3339),
		},
	}
	if raw.ExternalID != "" {
		id := raw.ExternalID
		l.ExternalID = &id
	}
	if s := raw.Structured; s != nil {
		l.Title = s.Title
		l.Currency = s.Currency
		l.ImageURLs = cleaning.FilterImageURLs(s.ImageURLs())
		l.Aux[domain.AuxStructured] = s
	}
	return l
}

// rawRecordFromSkeleton восстанавливает сырой скрейп из payload скелета
func rawRecordFromSkeleton(l *domain.Listing) (domain.RawScrapeRecord, error) {
	raw := domain.RawScrapeRecord{
		SourceURL: firstNonEmpty(l.Aux.String(domain.AuxSourceURL), l.SourceURL),
		HTML:      l.Aux.String(domain.AuxOriginalHTML),
	}
	if l.ExternalID != nil {
		raw.ExternalID = *l.ExternalID
	}
	if ts := l.Aux.String(domain.AuxScrapedAt); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			raw.ScrapedAt = parsed
		}
	}

	if v, ok := l.Aux[domain.AuxStructured]; ok && v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return raw, fmt.Errorf("encode structured pre-data: %w", err)
		}
		var s domain.StructuredRecord
		if err := json.Unmarshal(data, &s); err != nil {
			return raw, fmt.Errorf("decode structured pre-data: %w", err)
		}
		raw.Structured = &s
	}

	if raw.HTML == "" && raw.Structured == nil {
		return raw, fmt.Errorf("skeleton has neither html snapshot nor structured pre-data: %w", domain.ErrNoUsableData)
	}
	return raw, nil
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

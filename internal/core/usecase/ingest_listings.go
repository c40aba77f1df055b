package usecase

import (
	"context"
	"fmt"
	"sync/atomic"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/jobs"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/port/usecases_port"
)

// IngestListingsUseCase один прогон: скрейп, скелеты, задачи для новых записей.
// Прогоны по расписанию и по запросу делят один флаг и не перекрываются.
type IngestListingsUseCase struct {
	providers map[string]port.ScrapeProviderPort
	lifecycle usecases_port.ListingLifecyclePort
	queue     port.JobQueuePort
	running   atomic.Bool
}

func NewIngestListingsUseCase(
	providers map[string]port.ScrapeProviderPort,
	lifecycle usecases_port.ListingLifecyclePort,
	queue port.JobQueuePort,
) *IngestListingsUseCase {
	return &IngestListingsUseCase{
		providers: providers,
		lifecycle: lifecycle,
		queue:     queue,
	}
}

// Execute синхронный прогон. domain.ErrIngestRunning, если другой прогон еще идет.
func (uc *IngestListingsUseCase) Execute(ctx context.Context, providerKey string, limit int) (*domain.IngestStats, error) {
	provider, err := uc.acquire(providerKey)
	if err != nil {
		return nil, err
	}
	defer uc.running.Store(false)

	return uc.run(ctx, provider, providerKey, limit)
}

// Start проверяет провайдера и занимает прогон до возврата, сам прогон идет в горутине
func (uc *IngestListingsUseCase) Start(ctx context.Context, providerKey string, limit int, onDone func(*domain.IngestStats, error)) error {
	provider, err := uc.acquire(providerKey)
	if err != nil {
		return err
	}

	go func() {
		stats, err := uc.run(ctx, provider, providerKey, limit)
		uc.running.Store(false)
		if onDone != nil {
			onDone(stats, err)
		}
	}()
	return nil
}

func (uc *IngestListingsUseCase) acquire(providerKey string) (port.ScrapeProviderPort, error) {
	provider, ok := uc.providers[providerKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, providerKey)
	}
	if !uc.running.CompareAndSwap(false, true) {
		return nil, domain.ErrIngestRunning
	}
	return provider, nil
}

// run ошибки отдельных записей считаются и логируются, прогон продолжается
func (uc *IngestListingsUseCase) run(ctx context.Context, provider port.ScrapeProviderPort, providerKey string, limit int) (*domain.IngestStats, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case": "IngestListings",
		"provider": providerKey,
		"limit":    limit,
	})
	ctx = contextkeys.ContextWithLogger(ctx, ucLogger)

	ucLogger.Info("Use case started", nil)

	records, err := provider.Fetch(ctx, limit)
	if err != nil {
		ucLogger.Error("Provider fetch failed", err, nil)
		return nil, fmt.Errorf("fetch from provider %s: %w", providerKey, err)
	}

	stats := &domain.IngestStats{Fetched: len(records)}
	for _, raw := range records {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		result, err := uc.lifecycle.CreateSkeleton(ctx, raw)
		if err != nil {
			stats.Failed++
			ucLogger.Error("Failed to create skeleton", err, port.Fields{"external_id": raw.ExternalID})
			continue
		}

		switch result.Outcome {
		case domain.SkeletonDuplicate:
			stats.Duplicates++
			continue
		case domain.SkeletonRefreshed:
			stats.Refreshed++
			continue
		}

		if !uc.enqueueJobs(ctx, result, stats, ucLogger) {
			stats.Failed++
			continue
		}
		stats.Created++
	}

	ucLogger.Info("Use case finished", port.Fields{"stats": stats})
	return stats, nil
}

// enqueueJobs ставит нормализацию, затем медиа. Без задачи нормализации скелет
// удаляется, чтобы следующий прогон создал его заново. false, если скелета больше нет.
func (uc *IngestListingsUseCase) enqueueJobs(ctx context.Context, result domain.SkeletonResult, stats *domain.IngestStats, logger port.LoggerPort) bool {
	fields := port.Fields{"listing_id": result.ListingID.String()}

	if err := uc.queue.Enqueue(ctx, jobs.NewJob(domain.JobKindEnrichment, result.ListingID)); err != nil {
		logger.Error("Failed to enqueue enrichment job, discarding skeleton", err, fields)
		if _, discardErr := uc.lifecycle.Discard(ctx, result.ListingID); discardErr != nil {
			logger.Error("Skeleton left pending without enrichment job", discardErr, fields)
		}
		return false
	}
	stats.Enqueued++

	// без изображений запись остается рабочей, нормализация назначит главное сама
	if err := uc.queue.Enqueue(ctx, jobs.NewJob(domain.JobKindMedia, result.ListingID)); err != nil {
		stats.Failed++
		logger.Error("Failed to enqueue media job", err, fields)
		return true
	}
	stats.Enqueued++
	return true
}

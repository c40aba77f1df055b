// Package media граница прикрепления изображений: загрузка, проверка содержимого,
// запись в объектное хранилище и строки listing_media.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
)

// MaxImagesPerListing верхняя граница прикрепляемых изображений
const MaxImagesPerListing = 20

var allowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

var errNotImage = errors.New("content is not a supported image")

type Config struct {
	ProbeTimeout      time.Duration
	DownloadTimeout   time.Duration
	Concurrency       int
	MaxBytes          int64
	RequestsPerSecond float64 // 0 - без ограничения
	UserAgent         string
}

// Attacher реализует port.ImageAttacherPort
type Attacher struct {
	storage port.MediaStoragePort
	objects ObjectStore
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
	now     func() time.Time
}

func NewAttacher(storage port.MediaStoragePort, objects ObjectStore, client *http.Client, cfg Config) *Attacher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 15 << 20
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}
	return &Attacher{
		storage: storage,
		objects: objects,
		client:  client,
		limiter: limiter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type downloaded struct {
	url         string
	data        []byte
	contentType string
	extension   string
}

// AttachImages no-op при наличии медиа. Ошибки отдельных изображений попадают в
// AttachResult.Errors и не прерывают остальные загрузки.
func (a *Attacher) AttachImages(ctx context.Context, listingID uuid.UUID, curated []domain.CuratedImage, fallbackURLs []string) (domain.AttachResult, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component":  "MediaAttacher",
		"listing_id": listingID.String(),
	})

	exists, err := a.storage.HasMedia(ctx, listingID)
	if err != nil {
		return domain.AttachResult{}, err
	}
	if exists {
		return domain.AttachResult{Skipped: true}, nil
	}

	candidates, heroURL := candidateURLs(curated, fallbackURLs)
	if len(candidates) == 0 {
		return domain.AttachResult{}, nil
	}

	results := make([]*downloaded, len(candidates))
	var (
		mu     sync.Mutex
		errs   []string
		stored = make([]string, len(candidates))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, u := range candidates {
		g.Go(func() error {
			img, err := a.download(gctx, u)
			if err == nil {
				key := fmt.Sprintf("listings/%s/%d%s", listingID, i, img.extension)
				if err = a.objects.Put(gctx, key, img.data, img.contentType); err == nil {
					results[i] = img
					stored[i] = key
					return nil
				}
			}
			logger.Debug("Image skipped", port.Fields{"url": u, "error": err.Error()})
			mu.Lock()
			errs = append(errs, fmt.Sprintf("%s: %v", u, err))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.AttachResult{}, err
	}

	now := a.now()
	var items []domain.MediaItem
	heroIdx := -1
	for i, img := range results {
		if img == nil {
			continue
		}
		if img.url == heroURL {
			heroIdx = len(items)
		}
		items = append(items, domain.MediaItem{
			ID:          uuid.New(),
			ListingID:   listingID,
			SourceURL:   img.url,
			StorageKey:  stored[i],
			ContentType: img.contentType,
			Bytes:       int64(len(img.data)),
			Position:    len(items),
			CreatedAt:   now,
		})
	}
	if len(items) > 0 {
		if heroIdx < 0 {
			heroIdx = 0
		}
		items[heroIdx].IsHero = true
	}

	if err := a.storage.SaveMedia(ctx, items); err != nil {
		return domain.AttachResult{}, fmt.Errorf("save media rows: %w", err)
	}

	result := domain.AttachResult{
		HeroAttached: len(items) > 0,
		Count:        len(items),
		Errors:       errs,
	}
	logger.Info("Images attached", port.Fields{
		"candidates": len(candidates),
		"attached":   result.Count,
		"failed":     len(errs),
	})
	return result, nil
}

// DesignateHero помечает главным изображение с исходным URL heroURL,
// без совпадения - первое прикрепленное
func (a *Attacher) DesignateHero(ctx context.Context, listingID uuid.UUID, heroURL string) (bool, error) {
	items, err := a.storage.ListMedia(ctx, listingID)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}

	target := items[0]
	for _, m := range items {
		if heroURL != "" && m.SourceURL == heroURL {
			target = m
			break
		}
	}
	if target.IsHero {
		return true, nil
	}
	if err := a.storage.SetHero(ctx, listingID, target.ID); err != nil {
		return false, err
	}
	return true, nil
}

// candidateURLs отобранные изображения, иначе резервный список; валидные, без повторов, не больше 20
func candidateURLs(curated []domain.CuratedImage, fallbackURLs []string) ([]string, string) {
	var (
		urls    []string
		heroURL string
	)
	if len(curated) > 0 {
		for _, c := range curated {
			urls = append(urls, c.URL)
			if c.IsHero && heroURL == "" {
				heroURL = c.URL
			}
		}
	} else {
		urls = fallbackURLs
	}

	urls = cleaning.FilterImageURLs(urls)
	if len(urls) > MaxImagesPerListing {
		urls = urls[:MaxImagesPerListing]
	}
	return urls, heroURL
}

// download HEAD с коротким таймаутом, затем GET с ограничением размера и проверкой содержимого
func (a *Attacher) download(ctx context.Context, url string) (*downloaded, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if err := a.probe(ctx, url); err != nil {
		return nil, err
	}

	getCtx, cancel := context.WithTimeout(ctx, a.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > a.cfg.MaxBytes {
		return nil, fmt.Errorf("download: image exceeds %d bytes", a.cfg.MaxBytes)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedTypes...) {
		return nil, fmt.Errorf("%w: %s", errNotImage, mtype.String())
	}

	return &downloaded{
		url:         url,
		data:        data,
		contentType: mtype.String(),
		extension:   mtype.Extension(),
	}, nil
}

// probe отсекает недоступные и слишком большие файлы до загрузки.
// Серверы без поддержки HEAD не отбрасываются.
func (a *Attacher) probe(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	a.setHeaders(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return nil
	case resp.StatusCode >= 400:
		return fmt.Errorf("probe: unexpected status %d", resp.StatusCode)
	case resp.ContentLength > a.cfg.MaxBytes:
		return fmt.Errorf("probe: image exceeds %d bytes", a.cfg.MaxBytes)
	}
	return nil
}

func (a *Attacher) setHeaders(req *http.Request) {
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8")
}

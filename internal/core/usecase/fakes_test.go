package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
)

// memStorage хранилище объявлений в памяти
type memStorage struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*domain.Listing
	failWith error
}

func newMemStorage() *memStorage {
	return &memStorage{listings: make(map[uuid.UUID]*domain.Listing)}
}

func clone(l *domain.Listing) *domain.Listing {
	c := *l
	c.Aux = l.Aux.Clone()
	return &c
}

func (s *memStorage) put(l *domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = clone(l)
}

func (s *memStorage) get(id uuid.UUID) *domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listings[id]; ok {
		return clone(l)
	}
	return nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

func (s *memStorage) FindRecentByFingerprint(_ context.Context, fp string, since time.Time, excludeID *uuid.UUID) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var best *domain.Listing
	for _, l := range s.listings {
		if l.Fingerprint == nil || *l.Fingerprint != fp || l.UpdatedAt.Before(since) {
			continue
		}
		if excludeID != nil && l.ID == *excludeID {
			continue
		}
		if best == nil || l.UpdatedAt.After(best.UpdatedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (s *memStorage) FindByExternalID(_ context.Context, externalID string) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listings {
		if l.ExternalID != nil && *l.ExternalID == externalID {
			return clone(l), nil
		}
	}
	return nil, nil
}

func (s *memStorage) GetByID(_ context.Context, id uuid.UUID) (*domain.Listing, error) {
	if l := s.get(id); l != nil {
		return l, nil
	}
	return nil, domain.ErrListingNotFound
}

func (s *memStorage) Create(_ context.Context, listing *domain.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if listing.ExternalID != nil {
		for _, l := range s.listings {
			if l.ExternalID != nil && *l.ExternalID == *listing.ExternalID {
				return false, nil
			}
		}
	}
	s.listings[listing.ID] = clone(listing)
	return true, nil
}

func (s *memStorage) touch(id uuid.UUID, seenAt time.Time, price *float64) error {
	l, ok := s.listings[id]
	if !ok {
		return domain.ErrListingNotFound
	}
	l.LastSeenAt = seenAt
	l.UpdatedAt = seenAt
	if price != nil {
		l.Price = *price
	}
	return nil
}

func (s *memStorage) TouchSeen(_ context.Context, id uuid.UUID, seenAt time.Time, price *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(id, seenAt, price)
}

func (s *memStorage) MergeInto(_ context.Context, survivorID uuid.UUID, seenAt time.Time, price *float64, skeletonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(survivorID, seenAt, price); err != nil {
		return err
	}
	if sk, ok := s.listings[skeletonID]; ok && sk.Status == domain.StatusPending {
		delete(s.listings, skeletonID)
	}
	return nil
}

func (s *memStorage) UpdateNormalized(_ context.Context, listing *domain.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.listings[listing.ID]
	if !ok || current.Status != domain.StatusPending {
		return false, nil
	}
	s.listings[listing.ID] = clone(listing)
	return true, nil
}

func (s *memStorage) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.ListingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	return true, nil
}

func (s *memStorage) DeletePending(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	l, ok := s.listings[id]
	if !ok || l.Status != domain.StatusPending {
		return false, nil
	}
	delete(s.listings, id)
	return true, nil
}

func (s *memStorage) FindVisible(_ context.Context, filter domain.ListingFilter) ([]domain.Listing, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.listings {
		for _, st := range filter.Statuses {
			if l.Status == st {
				out = append(out, *clone(l))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	if filter.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// fakeAttacher запоминает вызовы границы прикрепления
type fakeAttacher struct {
	mu         sync.Mutex
	heroCalls  []string
	attachArgs [][]string
	result     domain.AttachResult
	err        error
}

func (a *fakeAttacher) AttachImages(_ context.Context, _ uuid.UUID, curated []domain.CuratedImage, fallback []string) (domain.AttachResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	urls := make([]string, 0, len(curated)+len(fallback))
	for _, c := range curated {
		urls = append(urls, c.URL)
	}
	if len(urls) == 0 {
		urls = append(urls, fallback...)
	}
	a.attachArgs = append(a.attachArgs, urls)
	return a.result, a.err
}

func (a *fakeAttacher) DesignateHero(_ context.Context, _ uuid.UUID, heroURL string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heroCalls = append(a.heroCalls, heroURL)
	return a.err == nil, a.err
}

// scriptedClient отвечает заранее заданными исходами по порядку вызовов
type scriptedClient struct {
	mu       sync.Mutex
	outcomes []clientOutcome
	models   []string
	requests []domain.EnrichmentRequest
}

type clientOutcome struct {
	text string
	err  error
}

func (c *scriptedClient) Complete(_ context.Context, req domain.EnrichmentRequest) (*domain.EnrichmentResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, req.Model)
	c.requests = append(c.requests, req)
	if len(c.outcomes) == 0 {
		return nil, errors.New("unexpected call")
	}
	next := c.outcomes[0]
	c.outcomes = c.outcomes[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &domain.EnrichmentResponse{Text: next.text, Model: req.Model}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
	// failKind ошибка только для задач этого вида
	failKind domain.JobKind
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil && (q.failKind == "" || q.failKind == job.Kind) {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeProvider struct {
	records []domain.RawScrapeRecord
	err     error
}

func (p *fakeProvider) Fetch(_ context.Context, limit int) ([]domain.RawScrapeRecord, error) {
	if p.err != nil {
		return nil, p.err
	}
	if limit > 0 && len(p.records) > limit {
		return p.records[:limit], nil
	}
	return p.records, nil
}

// gatedProvider держит Fetch, пока тест не закроет release
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	records []domain.RawScrapeRecord
}

func newGatedProvider(records ...domain.RawScrapeRecord) *gatedProvider {
	return &gatedProvider{started: make(chan struct{}, 1), release: make(chan struct{}), records: records}
}

func (p *gatedProvider) Fetch(ctx context.Context, _ int) ([]domain.RawScrapeRecord, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return p.records, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeMonitor struct {
	processing bool
	err        error
}

func (m fakeMonitor) IsProcessing(context.Context) (bool, error) { return m.processing, m.err }

// fakeNormalizer для тестов обработчиков задач
type fakeNormalizer struct {
	transport domain.ListingTransport
	err       error
	calls     int
}

func (n *fakeNormalizer) Normalize(context.Context, domain.RawScrapeRecord) (domain.ListingTransport, error) {
	n.calls++
	return n.transport, n.err
}

// clock управляемое время для сервиса жизненного цикла
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func strPtr(s string) *string { return &s }

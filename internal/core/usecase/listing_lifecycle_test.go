package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/fingerprint"
)

func newLifecycle(storage *memStorage, attacher *fakeAttacher, c *clock) *ListingLifecycleUseCase {
	uc := NewListingLifecycleUseCase(storage, attacher)
	uc.now = c.now
	return uc
}

func scrape(externalID string, price float64) domain.RawScrapeRecord {
	return domain.RawScrapeRecord{
		Source:     "portal",
		ExternalID: externalID,
		SourceURL:  "https://portal.example.com/offer/" + externalID,
		HTML:       "<html></html>",
		ScrapedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Structured: &domain.StructuredRecord{
			Title:  "Flat",
			Price:  price,
			Area:   50,
			Rooms:  2,
			City:   "Krakow",
			Street: "Lipowa",
			Images: []domain.ImageCandidate{{URL: "https://cdn.example.com/a.jpg"}},
		},
	}
}

func TestCreateSkeletonCreatesPendingListing(t *testing.T) {
	storage := newMemStorage()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	uc := newLifecycle(storage, &fakeAttacher{}, c)

	res, err := uc.CreateSkeleton(context.Background(), scrape("ID1", 80_000))
	if err != nil {
		t.Fatalf("CreateSkeleton() error = %v", err)
	}
	if res.Outcome != domain.SkeletonCreated {
		t.Fatalf("Outcome = %s, want created", res.Outcome)
	}

	l := storage.get(res.ListingID)
	if l == nil {
		t.Fatal("skeleton not stored")
	}
	if l.Status != domain.StatusPending || l.Price != 0 || l.Area != 0 || l.City != "" {
		t.Errorf("skeleton = %+v, want pending with zeroed critical fields", l)
	}
	want := fingerprint.Calculate("Krakow", strPtr("Lipowa"), 80_000, 50, 2)
	if l.Fingerprint == nil || *l.Fingerprint != want {
		t.Errorf("Fingerprint = %v, want %s", l.Fingerprint, want)
	}
	if l.Aux.String(domain.AuxOriginalHTML) != "<html></html>" || l.Aux[domain.AuxStructured] == nil {
		t.Errorf("aux = %v, want html snapshot and structured pre-data", l.Aux)
	}
	if len(l.ImageURLs) != 1 {
		t.Errorf("ImageURLs = %v", l.ImageURLs)
	}
}

func TestCreateSkeletonIsIdempotent(t *testing.T) {
	tests := []struct {
		name        string
		raw         func() domain.RawScrapeRecord
		wantOutcome domain.SkeletonOutcome
	}{
		{
			name:        "same fingerprint",
			raw:         func() domain.RawScrapeRecord { return scrape("ID1", 80_000) },
			wantOutcome: domain.SkeletonDuplicate,
		},
		{
			name: "no structured data, same external id",
			raw: func() domain.RawScrapeRecord {
				r := scrape("ID1", 0)
				r.Structured = nil
				return r
			},
			wantOutcome: domain.SkeletonRefreshed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			storage := newMemStorage()
			c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			uc := newLifecycle(storage, &fakeAttacher{}, c)

			first, err := uc.CreateSkeleton(context.Background(), tc.raw())
			if err != nil {
				t.Fatalf("first CreateSkeleton() error = %v", err)
			}
			c.advance(time.Hour)
			second, err := uc.CreateSkeleton(context.Background(), tc.raw())
			if err != nil {
				t.Fatalf("second CreateSkeleton() error = %v", err)
			}

			if second.Outcome != tc.wantOutcome {
				t.Errorf("second Outcome = %s, want %s", second.Outcome, tc.wantOutcome)
			}
			if storage.count() != 1 {
				t.Fatalf("stored rows = %d, want 1", storage.count())
			}
			l := storage.get(first.ListingID)
			if !l.LastSeenAt.Equal(c.t) {
				t.Errorf("LastSeenAt = %s, want %s", l.LastSeenAt, c.t)
			}
		})
	}
}

func TestCreateSkeletonDuplicatePriceRefresh(t *testing.T) {
	tests := []struct {
		name      string
		newPrice  float64
		wantPrice float64
	}{
		{"plus 0.6 percent updates", 80_480, 80_480},
		{"plus 0.3 percent keeps", 80_240, 80_000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			storage := newMemStorage()
			c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			uc := newLifecycle(storage, &fakeAttacher{}, c)

			existing := &domain.Listing{
				ID:          uuid.New(),
				ExternalID:  strPtr("OTHER"),
				Fingerprint: strPtr(fingerprint.Calculate("Krakow", strPtr("Lipowa"), 80_000, 50, 2)),
				Price:       80_000,
				City:        "Krakow",
				Status:      domain.StatusAvailable,
				UpdatedAt:   c.t.Add(-10 * 24 * time.Hour),
				Aux:         domain.AuxPayload{},
			}
			storage.put(existing)

			res, err := uc.CreateSkeleton(context.Background(), scrape("ID2", tc.newPrice))
			if err != nil {
				t.Fatalf("CreateSkeleton() error = %v", err)
			}
			if res.Outcome != domain.SkeletonDuplicate || res.ListingID != existing.ID {
				t.Fatalf("result = %+v, want duplicate of %s", res, existing.ID)
			}
			if storage.count() != 1 {
				t.Errorf("stored rows = %d, want 1", storage.count())
			}
			if got := storage.get(existing.ID).Price; got != tc.wantPrice {
				t.Errorf("survivor price = %v, want %v", got, tc.wantPrice)
			}
			if res.PriceUpdated != (tc.wantPrice != 80_000) {
				t.Errorf("PriceUpdated = %v", res.PriceUpdated)
			}
		})
	}
}

func TestCreateSkeletonOutsideWindowCreatesNew(t *testing.T) {
	storage := newMemStorage()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	uc := newLifecycle(storage, &fakeAttacher{}, c)

	storage.put(&domain.Listing{
		ID:          uuid.New(),
		Fingerprint: strPtr(fingerprint.Calculate("Krakow", strPtr("Lipowa"), 80_000, 50, 2)),
		Status:      domain.StatusAvailable,
		UpdatedAt:   c.t.Add(-31 * 24 * time.Hour),
		Aux:         domain.AuxPayload{},
	})

	res, err := uc.CreateSkeleton(context.Background(), scrape("ID3", 80_000))
	if err != nil {
		t.Fatalf("CreateSkeleton() error = %v", err)
	}
	if res.Outcome != domain.SkeletonCreated || storage.count() != 2 {
		t.Errorf("Outcome = %s, rows = %d, want created and 2 rows", res.Outcome, storage.count())
	}
}

func TestCreateSkeletonSkipsFingerprintWithoutPriceAndCity(t *testing.T) {
	storage := newMemStorage()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	uc := newLifecycle(storage, &fakeAttacher{}, c)

	for _, id := range []string{"A", "B"} {
		raw := scrape(id, 0)
		raw.Structured.City = ""
		res, err := uc.CreateSkeleton(context.Background(), raw)
		if err != nil {
			t.Fatalf("CreateSkeleton(%s) error = %v", id, err)
		}
		if res.Outcome != domain.SkeletonCreated {
			t.Errorf("CreateSkeleton(%s) outcome = %s, want created", id, res.Outcome)
		}
		if l := storage.get(res.ListingID); l.Fingerprint != nil {
			t.Errorf("Fingerprint = %v, want nil", *l.Fingerprint)
		}
	}
}

func TestCreateSkeletonStorageError(t *testing.T) {
	storage := newMemStorage()
	storage.failWith = errors.New("db down")
	uc := newLifecycle(storage, &fakeAttacher{}, &clock{t: time.Now()})

	if _, err := uc.CreateSkeleton(context.Background(), scrape("ID1", 80_000)); err == nil {
		t.Fatal("CreateSkeleton() error = nil, want error")
	}
}

func normalizedTransport(price float64) domain.ListingTransport {
	return domain.ListingTransport{
		Title:        "2-Bedroom Apartment on Lipowa in Krakow",
		Description:  "Flat",
		Price:        price,
		Currency:     "PLN",
		Area:         50,
		Rooms:        2,
		City:         "Krakow",
		Street:       strPtr("Lipowa"),
		PropertyType: domain.PropertyTypeApartment,
		Keywords:     []string{"balcony"},
		ImageURLs:    []string{"https://cdn.example.com/a.jpg"},
		HeroURL:      "https://cdn.example.com/a.jpg",
		Aux:          domain.AuxPayload{domain.AuxFallback: false, domain.AuxModel: "primary"},
	}
}

func TestApplyNormalizationUpdatesSkeleton(t *testing.T) {
	tests := []struct {
		name       string
		transport  func() domain.ListingTransport
		wantStatus domain.ListingStatus
	}{
		{"complete record", func() domain.ListingTransport { return normalizedTransport(80_000) }, domain.StatusAvailable},
		{
			name: "fallback record is unverified",
			transport: func() domain.ListingTransport {
				tr := normalizedTransport(80_000)
				tr.Aux = domain.AuxPayload{domain.AuxFallback: true}
				return tr
			},
			wantStatus: domain.StatusUnverified,
		},
		{
			name: "missing area is incomplete",
			transport: func() domain.ListingTransport {
				tr := normalizedTransport(80_000)
				tr.Area = 0
				return tr
			},
			wantStatus: domain.StatusIncomplete,
		},
		{
			name: "nothing critical is failed",
			transport: func() domain.ListingTransport {
				tr := normalizedTransport(0)
				tr.Area, tr.City = 0, ""
				return tr
			},
			wantStatus: domain.StatusFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			storage := newMemStorage()
			attacher := &fakeAttacher{}
			c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			uc := newLifecycle(storage, attacher, c)

			created, err := uc.CreateSkeleton(context.Background(), scrape("ID1", 80_000))
			if err != nil {
				t.Fatalf("CreateSkeleton() error = %v", err)
			}
			skeleton := storage.get(created.ListingID)

			res, err := uc.ApplyNormalization(context.Background(), skeleton, tc.transport())
			if err != nil {
				t.Fatalf("ApplyNormalization() error = %v", err)
			}
			if res.Outcome != domain.ApplyUpdated || res.Status != tc.wantStatus {
				t.Fatalf("result = %+v, want updated with %s", res, tc.wantStatus)
			}

			stored := storage.get(created.ListingID)
			if stored.Status != tc.wantStatus {
				t.Errorf("stored status = %s, want %s", stored.Status, tc.wantStatus)
			}
			if stored.Aux.String(domain.AuxOriginalHTML) == "" {
				t.Error("skeleton aux lost after normalization")
			}
			if len(attacher.heroCalls) != 1 {
				t.Errorf("hero designation calls = %d, want 1", len(attacher.heroCalls))
			}
		})
	}
}

func TestApplyNormalizationMergesDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		wantPrice float64
	}{
		{"plus 0.6 percent updates survivor", 80_480, 80_480},
		{"plus 0.3 percent keeps survivor price", 80_240, 80_000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			storage := newMemStorage()
			attacher := &fakeAttacher{}
			c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			uc := newLifecycle(storage, attacher, c)

			survivor := &domain.Listing{
				ID:          uuid.New(),
				Fingerprint: strPtr(fingerprint.Calculate("Krakow", strPtr("Lipowa"), 80_000, 50, 2)),
				Price:       80_000,
				City:        "Krakow",
				Status:      domain.StatusAvailable,
				UpdatedAt:   c.t.Add(-5 * 24 * time.Hour),
				Aux:         domain.AuxPayload{},
			}
			storage.put(survivor)

			// другой источник: до обогащения город и улица не совпадали
			raw := scrape("OTHER-SOURCE", 80_000)
			raw.Structured.City = "Krakau"
			created, err := uc.CreateSkeleton(context.Background(), raw)
			if err != nil || created.Outcome != domain.SkeletonCreated {
				t.Fatalf("CreateSkeleton() = %+v, %v", created, err)
			}

			res, err := uc.ApplyNormalization(context.Background(), storage.get(created.ListingID), normalizedTransport(tc.price))
			if err != nil {
				t.Fatalf("ApplyNormalization() error = %v", err)
			}
			if res.Outcome != domain.ApplyMerged || res.ListingID != survivor.ID {
				t.Fatalf("result = %+v, want merged into %s", res, survivor.ID)
			}
			if storage.count() != 1 {
				t.Fatalf("stored rows = %d, want 1", storage.count())
			}
			got := storage.get(survivor.ID)
			if got.Price != tc.wantPrice {
				t.Errorf("survivor price = %v, want %v", got.Price, tc.wantPrice)
			}
			if !got.LastSeenAt.Equal(c.t) {
				t.Errorf("survivor LastSeenAt = %s, want %s", got.LastSeenAt, c.t)
			}
			if len(attacher.heroCalls) != 0 {
				t.Errorf("hero designation called on merged skeleton")
			}
		})
	}
}

func TestApplyNormalizationSkipsNonPending(t *testing.T) {
	storage := newMemStorage()
	uc := newLifecycle(storage, &fakeAttacher{}, &clock{t: time.Now()})

	l := &domain.Listing{ID: uuid.New(), Status: domain.StatusAvailable, Aux: domain.AuxPayload{}}
	storage.put(l)

	res, err := uc.ApplyNormalization(context.Background(), l, normalizedTransport(90_000))
	if err != nil {
		t.Fatalf("ApplyNormalization() error = %v", err)
	}
	if res.Outcome != domain.ApplySkipped {
		t.Errorf("Outcome = %s, want skipped", res.Outcome)
	}
	if storage.get(l.ID).Price != 0 {
		t.Error("non-pending listing was modified")
	}
}

func TestDemote(t *testing.T) {
	storage := newMemStorage()
	uc := newLifecycle(storage, &fakeAttacher{}, &clock{t: time.Now()})

	pending := &domain.Listing{ID: uuid.New(), Status: domain.StatusPending, Aux: domain.AuxPayload{}}
	done := &domain.Listing{ID: uuid.New(), Status: domain.StatusAvailable, Aux: domain.AuxPayload{}}
	storage.put(pending)
	storage.put(done)

	if ok, err := uc.Demote(context.Background(), pending.ID, domain.StatusUnverified); err != nil || !ok {
		t.Errorf("Demote(pending) = %v, %v, want true", ok, err)
	}
	if got := storage.get(pending.ID).Status; got != domain.StatusUnverified {
		t.Errorf("status = %s, want unverified", got)
	}
	if ok, _ := uc.Demote(context.Background(), done.ID, domain.StatusFailed); ok {
		t.Error("Demote(available) = true, want false")
	}
	if _, err := uc.Demote(context.Background(), pending.ID, domain.StatusAvailable); err == nil {
		t.Error("Demote(to available) error = nil, want error")
	}
}

func TestDiscard(t *testing.T) {
	storage := newMemStorage()
	uc := newLifecycle(storage, &fakeAttacher{}, &clock{t: time.Now()})

	pending := &domain.Listing{ID: uuid.New(), Status: domain.StatusPending, Aux: domain.AuxPayload{}}
	done := &domain.Listing{ID: uuid.New(), Status: domain.StatusAvailable, Aux: domain.AuxPayload{}}
	storage.put(pending)
	storage.put(done)

	if ok, err := uc.Discard(context.Background(), pending.ID); err != nil || !ok {
		t.Errorf("Discard(pending) = %v, %v, want true", ok, err)
	}
	if storage.get(pending.ID) != nil {
		t.Error("pending skeleton still stored")
	}
	if ok, _ := uc.Discard(context.Background(), done.ID); ok {
		t.Error("Discard(available) = true, want false")
	}
	if storage.get(done.ID) == nil {
		t.Error("available listing was deleted")
	}

	storage.failWith = errors.New("db down")
	if _, err := uc.Discard(context.Background(), uuid.New()); err == nil {
		t.Error("Discard() error = nil, want storage error")
	}
}

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/vocabulary"
)

func testNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		PrimaryModel:      "primary",
		FallbackModel:     "fallback",
		MaxTokens:         2048,
		ImageCandidateCap: 2,
	}
}

func sampleRaw() domain.RawScrapeRecord {
	lat, lon := 50.0614, 19.9366
	return domain.RawScrapeRecord{
		Source:     "portal",
		ExternalID: "ID4abc",
		SourceURL:  "https://portal.example.com/offer/ID4abc",
		HTML:       "<html><body><h1>Mieszkanie</h1></body></html>",
		ScrapedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Structured: &domain.StructuredRecord{
			ExternalID:   "ID4abc",
			Title:        "Super okazja!! Mieszkanie",
			Description:  "Mieszkanie 3 pokoje, blisko centrum",
			Price:        750_000,
			Currency:     "pln",
			Area:         64,
			City:         "Krakow",
			Street:       "ul. Lipowa",
			PropertyType: domain.PropertyTypeApartment,
			BuildingType: "block",
			Latitude:     &lat,
			Longitude:    &lon,
			Images: []domain.ImageCandidate{
				{URL: "https://cdn.example.com/1.jpg", Caption: "salon"},
				{URL: "https://cdn.example.com/logo.png"},
				{URL: "https://cdn.example.com/2.jpg"},
				{URL: "https://cdn.example.com/3.jpg"},
			},
		},
	}
}

const enrichedResponse = "```json\n" + `{
  "title": "3-Bedroom Apartment on Lipowa in Krakow",
  "description": "Three-room flat close to the centre",
  "price": "750 000",
  "currency": "PLN",
  "area": 64.5,
  "rooms": 3,
  "city": "Krakow",
  "street": "Lipowa",
  "property_type": "apartment",
  "keywords": ["balcony", "city centre"],
  "images": [
    {"url": "https://cdn.example.com/2.jpg", "caption": "living room", "is_hero": true},
    {"url": "https://cdn.example.com/1.jpg", "caption": "kitchen"}
  ],
  "is_fully_parsed": true
}` + "\n```"

func newNormalizer(client *scriptedClient) *NormalizeListingUseCase {
	return NewNormalizeListingUseCase(client, vocabulary.Default(), testNormalizeConfig())
}

func TestNormalizeWithEnrichment(t *testing.T) {
	client := &scriptedClient{outcomes: []clientOutcome{{text: enrichedResponse}}}

	got, err := newNormalizer(client).Normalize(context.Background(), sampleRaw())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if got.Title != "3-Bedroom Apartment on Lipowa in Krakow" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Price != 750_000 || got.Area != 64.5 || got.Rooms != 3 {
		t.Errorf("price/area/rooms = %v/%v/%v", got.Price, got.Area, got.Rooms)
	}
	if got.Street == nil || *got.Street != "Lipowa" {
		t.Errorf("Street = %v, want Lipowa", got.Street)
	}
	if got.IsFallback() {
		t.Error("IsFallback() = true, want false")
	}
	if got.Aux.String(domain.AuxModel) != "primary" {
		t.Errorf("aux model = %v, want primary", got.Aux[domain.AuxModel])
	}
	if got.HeroURL != "https://cdn.example.com/2.jpg" || len(got.Curated) != 2 || !got.Curated[0].IsHero {
		t.Errorf("hero = %q, curated = %+v", got.HeroURL, got.Curated)
	}
	if got.ImageURLs[0] != "https://cdn.example.com/2.jpg" {
		t.Errorf("ImageURLs = %v, want curated order", got.ImageURLs)
	}
	if got.Aux.String(domain.AuxGeohash) == "" || got.Aux.String(domain.AuxBuildingType) != "block" {
		t.Errorf("aux = %v, want geohash and building type", got.Aux)
	}
	if !got.IsFullyParsed {
		t.Error("IsFullyParsed = false, want true")
	}

	if len(client.requests) != 1 {
		t.Fatalf("got %d calls, want 1", len(client.requests))
	}
	msg := client.requests[0].UserMessage
	if !strings.Contains(msg, "IMAGE CANDIDATES") || strings.Contains(msg, "logo.png") || strings.Contains(msg, "3.jpg") {
		t.Errorf("user message image section not filtered and capped:\n%s", msg)
	}
	if client.requests[0].MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", client.requests[0].MaxTokens)
	}
}

func TestNormalizeRebuildsMarketingTitle(t *testing.T) {
	resp := `{"title":"Stunning flat, must see!","price":500000,"area":48,"rooms":2,"city":"Gdansk","property_type":"apartment"}`
	client := &scriptedClient{outcomes: []clientOutcome{{text: resp}}}

	raw := sampleRaw()
	raw.Structured.Street = ""
	got, err := newNormalizer(client).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Title != "2-Bedroom Apartment in Gdansk" {
		t.Errorf("Title = %q, want rebuilt title", got.Title)
	}
}

func TestNormalizeModelFallback(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []clientOutcome
		wantModels []string
		wantErr    domain.EnrichmentCategory
		wantFatal  bool
	}{
		{
			name:       "overload then success",
			outcomes:   []clientOutcome{{err: &domain.EnrichmentCallError{StatusCode: 529}}, {text: enrichedResponse}},
			wantModels: []string{"primary", "fallback"},
		},
		{
			name:       "transport then success",
			outcomes:   []clientOutcome{{err: &domain.EnrichmentCallError{Transport: true, Err: errors.New("eof")}}, {text: enrichedResponse}},
			wantModels: []string{"primary", "fallback"},
		},
		{
			name:       "rate limit is not swallowed",
			outcomes:   []clientOutcome{{err: &domain.EnrichmentCallError{StatusCode: 429}}},
			wantModels: []string{"primary"},
			wantErr:    domain.CategoryRateLimit,
		},
		{
			name: "second overload is fatal",
			outcomes: []clientOutcome{
				{err: &domain.EnrichmentCallError{StatusCode: 529}},
				{err: &domain.EnrichmentCallError{StatusCode: 529}},
			},
			wantModels: []string{"primary", "fallback"},
			wantErr:    domain.CategoryOverloaded,
			wantFatal:  true,
		},
		{
			name: "second transport failure is surfaced",
			outcomes: []clientOutcome{
				{err: &domain.EnrichmentCallError{Transport: true, Err: errors.New("eof")}},
				{err: &domain.EnrichmentCallError{Transport: true, Err: errors.New("eof")}},
			},
			wantModels: []string{"primary", "fallback"},
			wantErr:    domain.CategoryTransport,
		},
		{
			name:       "billing error is fatal",
			outcomes:   []clientOutcome{{err: &domain.EnrichmentCallError{StatusCode: 400, Body: "billing disabled"}}},
			wantModels: []string{"primary"},
			wantErr:    domain.CategoryConfiguration,
			wantFatal:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &scriptedClient{outcomes: tc.outcomes}
			got, err := newNormalizer(client).Normalize(context.Background(), sampleRaw())

			if strings.Join(client.models, ",") != strings.Join(tc.wantModels, ",") {
				t.Errorf("models called = %v, want %v", client.models, tc.wantModels)
			}
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Normalize() error = %v", err)
				}
				if got.Aux.String(domain.AuxModel) != tc.wantModels[len(tc.wantModels)-1] {
					t.Errorf("aux model = %v", got.Aux[domain.AuxModel])
				}
				return
			}

			var enrichErr *domain.EnrichmentError
			if !errors.As(err, &enrichErr) {
				t.Fatalf("Normalize() error = %v, want *domain.EnrichmentError", err)
			}
			if enrichErr.Category != tc.wantErr || enrichErr.Fatal != tc.wantFatal {
				t.Errorf("error = %+v, want category %s fatal %v", enrichErr, tc.wantErr, tc.wantFatal)
			}
		})
	}
}

func TestNormalizeStructuredFallback(t *testing.T) {
	tests := []struct {
		name    string
		outcome clientOutcome
	}{
		{"unclassified status", clientOutcome{err: &domain.EnrichmentCallError{StatusCode: 500}}},
		{"unrepairable text", clientOutcome{text: "Sorry, I can not help with that."}},
		{"contract violation", clientOutcome{text: `{"keywords": "not a list"}`}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &scriptedClient{outcomes: []clientOutcome{tc.outcome}}
			got, err := newNormalizer(client).Normalize(context.Background(), sampleRaw())
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !got.IsFallback() {
				t.Error("IsFallback() = false, want true")
			}
			if got.Rooms != 3 {
				t.Errorf("Rooms = %d, want 3 imputed from description", got.Rooms)
			}
			if got.Title != "3-Bedroom Apartment on Lipowa in Krakow" {
				t.Errorf("Title = %q", got.Title)
			}
			if got.Currency != "PLN" || got.Price != 750_000 {
				t.Errorf("currency/price = %q/%v", got.Currency, got.Price)
			}
			if len(got.ImageURLs) != 3 {
				t.Errorf("ImageURLs = %v, want 3 valid structured URLs", got.ImageURLs)
			}
			imputed, _ := got.Aux[domain.AuxImputed].([]string)
			if len(imputed) != 1 || imputed[0] != "rooms" {
				t.Errorf("imputed = %v, want [rooms]", got.Aux[domain.AuxImputed])
			}
		})
	}
}

func TestNormalizeNoUsableData(t *testing.T) {
	tests := []struct {
		name       string
		structured *domain.StructuredRecord
	}{
		{"no structured record", nil},
		{"structured without price", &domain.StructuredRecord{City: "Krakow", Area: 40}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &scriptedClient{outcomes: []clientOutcome{{err: &domain.EnrichmentCallError{StatusCode: 503}}}}
			raw := sampleRaw()
			raw.Structured = tc.structured

			_, err := newNormalizer(client).Normalize(context.Background(), raw)
			if !errors.Is(err, domain.ErrNoUsableData) {
				t.Fatalf("Normalize() error = %v, want ErrNoUsableData", err)
			}
			if !domain.IsFatal(err) {
				t.Error("domain.IsFatal() = false, want true")
			}
		})
	}
}

func TestNormalizeMissingCredentials(t *testing.T) {
	client := &scriptedClient{outcomes: []clientOutcome{{err: domain.ErrMissingCredentials}}}
	_, err := newNormalizer(client).Normalize(context.Background(), sampleRaw())

	var enrichErr *domain.EnrichmentError
	if !errors.As(err, &enrichErr) || enrichErr.Category != domain.CategoryCredentials || !enrichErr.Fatal {
		t.Fatalf("Normalize() error = %v, want fatal credentials error", err)
	}
	if len(client.models) != 1 {
		t.Errorf("models called = %v, want only the primary", client.models)
	}
}

func TestNormalizeImputesTypeFromText(t *testing.T) {
	resp := `{"title":"Penthouse with terrace","description":"Top floor penthouse","price":2500000,"area":140,"city":"Warszawa","property_type":"unknown"}`
	client := &scriptedClient{outcomes: []clientOutcome{{text: resp}}}

	raw := sampleRaw()
	raw.Structured.PropertyType = ""
	raw.Structured.Rooms = 0
	raw.Structured.Description = ""

	got, err := newNormalizer(client).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.PropertyType != domain.PropertyTypePenthouse {
		t.Errorf("PropertyType = %s, want penthouse", got.PropertyType)
	}
	if got.Rooms != 5 {
		t.Errorf("Rooms = %d, want 5 from the area bucket", got.Rooms)
	}
	if got.Title != "5-Bedroom Penthouse on Lipowa in Warszawa" {
		t.Errorf("Title = %q", got.Title)
	}
}

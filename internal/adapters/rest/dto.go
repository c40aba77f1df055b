package rest

import (
	"time"

	"listing-pipeline/internal/core/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// ListingResponse DTO объявления для выдачи
type ListingResponse struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id,omitempty"`
	SourceURL     string    `json:"source_url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	Area          float64   `json:"area"`
	Rooms         int       `json:"rooms"`
	City          string    `json:"city"`
	Street        string    `json:"street,omitempty"`
	PropertyType  string    `json:"property_type"`
	Status        string    `json:"status"`
	QualityScore  int       `json:"quality_score"`
	IsFullyParsed bool      `json:"is_fully_parsed"`
	HeroURL       string    `json:"hero_url,omitempty"`
	Geohash       string    `json:"geohash,omitempty"`
	ImageURLs     []string  `json:"image_urls"`
	Keywords      []string  `json:"keywords"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PaginatedListingsResponse список с пагинацией
type PaginatedListingsResponse struct {
	Data   []ListingResponse `json:"listings"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type ProcessingResponse struct {
	Processing bool `json:"processing"`
}

type IngestAcceptedResponse struct {
	Provider string `json:"provider"`
	Limit    int    `json:"limit"`
	TraceID  string `json:"trace_id"`
}

func toListingResponse(l domain.Listing) ListingResponse {
	resp := ListingResponse{
		ID:            l.ID.String(),
		SourceURL:     l.SourceURL,
		Title:         l.Title,
		Description:   l.Description,
		Price:         l.Price,
		Currency:      l.Currency,
		Area:          l.Area,
		Rooms:         l.Rooms,
		City:          l.City,
		PropertyType:  string(l.PropertyType),
		Status:        string(l.Status),
		QualityScore:  l.QualityScore,
		IsFullyParsed: l.IsFullyParsed,
		HeroURL:       l.Aux.String(domain.AuxHeroURL),
		Geohash:       l.Aux.String(domain.AuxGeohash),
		ImageURLs:     l.ImageURLs,
		Keywords:      l.Keywords,
		LastSeenAt:    l.LastSeenAt,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
	if l.ExternalID != nil {
		resp.ExternalID = *l.ExternalID
	}
	if l.Street != nil {
		resp.Street = *l.Street
	}
	// пустые массивы, а не null
	if resp.ImageURLs == nil {
		resp.ImageURLs = []string{}
	}
	if resp.Keywords == nil {
		resp.Keywords = []string{}
	}
	return resp
}

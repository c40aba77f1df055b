package domain

import "time"

// MaxHTMLBytes верхняя граница сырого HTML, которую принимает конвейер
const MaxHTMLBytes = 3 << 20

// RawScrapeRecord результат работы провайдера, живет до создания скелета
type RawScrapeRecord struct {
	Source     string
	ExternalID string
	SourceURL  string
	HTML       string
	Structured *StructuredRecord // nil, если на странице нет структурированного блока
	ScrapedAt  time.Time
}

// ImageCandidate URL изображения с подписью, если она нашлась
type ImageCandidate struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// StructuredRecord детерминированный результат разбора страницы без внешних вызовов
type StructuredRecord struct {
	ExternalID   string           `json:"external_id,omitempty"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	Price        float64          `json:"price"`
	Currency     string           `json:"currency,omitempty"`
	Area         float64          `json:"area"`
	Rooms        int              `json:"rooms"`
	City         string           `json:"city,omitempty"`
	Street       string           `json:"street,omitempty"`
	PropertyType PropertyType     `json:"property_type"`
	BuildingType string           `json:"building_type,omitempty"`
	Latitude     *float64         `json:"latitude,omitempty"`
	Longitude    *float64         `json:"longitude,omitempty"`
	Images       []ImageCandidate `json:"images,omitempty"`
}

// ImageURLs адреса кандидатов в исходном порядке
func (r *StructuredRecord) ImageURLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.Images))
	for _, img := range r.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

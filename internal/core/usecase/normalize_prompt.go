package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/extractor"
)

const enrichmentSystemPrompt = `You normalize real-estate listings scraped from a property portal.
Return exactly one JSON object and nothing else. Use English for text fields.
Fields:
  "title": short factual title, for example "3-Bedroom Apartment on Lipowa in Krakow"
  "description": cleaned description without contact details or advertising
  "price": number, total price without currency symbols
  "currency": ISO 4217 code
  "area": number, square meters
  "rooms": integer, number of rooms
  "city": city name
  "street": street name without the "ul." prefix, or null
  "property_type": one of apartment, house, loft, townhouse, studio, penthouse, villa, unknown
  "keywords": up to 10 short feature keywords
  "images": the best photos from IMAGE CANDIDATES as objects {"url", "caption", "is_hero"}, exterior or living room first
  "hero_url": url of the best photo, or null
  "is_fully_parsed": true when every field above was found in the source
Copy image URLs exactly as given. Never invent values: use null when a field is unknown.`

const pageTextLimit = 6000

// buildUserMessage данные объявления и список кандидатов изображений
func buildUserMessage(raw domain.RawScrapeRecord, imageCap int) string {
	var b strings.Builder

	if raw.Structured != nil {
		record := *raw.Structured
		record.Images = nil
		data, err := json.MarshalIndent(record, "", "  ")
		if err == nil {
			b.WriteString("LISTING DATA:\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}
	if raw.Structured == nil || raw.Structured.Description == "" {
		if text := extractor.VisibleText(raw.HTML, pageTextLimit); text != "" {
			b.WriteString("PAGE TEXT:\n")
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}
	if raw.SourceURL != "" {
		fmt.Fprintf(&b, "SOURCE URL: %s\n\n", raw.SourceURL)
	}

	candidates := imageCandidates(raw.Structured, imageCap)
	b.WriteString("IMAGE CANDIDATES:\n")
	if len(candidates) == 0 {
		b.WriteString("none\n")
	}
	for i, c := range candidates {
		if c.Caption != "" {
			fmt.Fprintf(&b, "%d. %s | %s\n", i+1, c.URL, c.Caption)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c.URL)
		}
	}
	return b.String()
}

func imageCandidates(record *domain.StructuredRecord, limit int) []domain.ImageCandidate {
	if record == nil || limit <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]domain.ImageCandidate, 0, limit)
	for _, img := range record.Images {
		u := strings.TrimSpace(img.URL)
		if !cleaning.IsValidImageURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, domain.ImageCandidate{URL: u, Caption: cleaning.ScrubUTF8(img.Caption)})
		if len(out) == limit {
			break
		}
	}
	return out
}

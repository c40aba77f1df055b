package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcloughlin/geohash"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/contracts"
	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/extractor"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/repair"
	"listing-pipeline/internal/core/vocabulary"
)

const geohashPrecision = 7

// NormalizeConfig модели и бюджеты вызова обогащения
type NormalizeConfig struct {
	PrimaryModel      string
	FallbackModel     string
	MaxTokens         int
	ImageCandidateCap int
}

// NormalizeListingUseCase превращает сырой скрейп в ListingTransport
type NormalizeListingUseCase struct {
	client port.EnrichmentClientPort
	rules  *listingRules
	cfg    NormalizeConfig
}

func NewNormalizeListingUseCase(client port.EnrichmentClientPort, vocab *vocabulary.Vocabulary, cfg NormalizeConfig) *NormalizeListingUseCase {
	return &NormalizeListingUseCase{
		client: client,
		rules:  newListingRules(vocab),
		cfg:    cfg,
	}
}

// Normalize возвращает domain.ErrNoUsableData, только если нет ни ответа обогащения,
// ни структурированных данных с положительной ценой. Ошибки обогащения, которые
// нельзя поглотить, возвращаются как *domain.EnrichmentError.
func (uc *NormalizeListingUseCase) Normalize(ctx context.Context, raw domain.RawScrapeRecord) (domain.ListingTransport, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":    "NormalizeListing",
		"external_id": raw.ExternalID,
		"source":      raw.Source,
	})
	ctx = contextkeys.ContextWithLogger(ctx, ucLogger)

	ucLogger.Info("Use case started", nil)

	payload, model, err := uc.enrich(ctx, raw)
	if err != nil {
		ucLogger.Error("Enrichment failed", err, nil)
		return domain.ListingTransport{}, err
	}

	var (
		transport  domain.ListingTransport
		candidate  string
		structured = raw.Structured
	)
	switch {
	case payload != nil:
		transport, candidate = uc.fromEnrichment(payload, structured)
		transport.Aux[domain.AuxModel] = model
		transport.Aux[domain.AuxFallback] = false
	case structured != nil && structured.Price > 0:
		ucLogger.Warn("Enrichment produced no data, falling back to structured record", nil)
		transport, candidate = uc.fromStructured(structured)
		transport.Aux[domain.AuxFallback] = true
	default:
		ucLogger.Warn("No usable data for listing", nil)
		return domain.ListingTransport{}, fmt.Errorf("normalize listing %s: %w", raw.ExternalID, domain.ErrNoUsableData)
	}

	uc.impute(&transport, candidate)

	if uc.rules.isStructuredTitle(candidate) {
		transport.Title = strings.TrimSpace(candidate)
	} else {
		transport.Title = buildTitle(transport)
	}

	if structured != nil {
		if structured.BuildingType != "" {
			transport.Aux[domain.AuxBuildingType] = structured.BuildingType
		}
		if structured.Latitude != nil && structured.Longitude != nil {
			lat, lon := *structured.Latitude, *structured.Longitude
			transport.Aux[domain.AuxCoordinates] = map[string]interface{}{"lat": lat, "lon": lon}
			transport.Aux[domain.AuxGeohash] = geohash.EncodeWithPrecision(lat, lon, geohashPrecision)
		}
	}

	ucLogger.Info("Use case finished", port.Fields{
		"fallback":      transport.IsFallback(),
		"title":         transport.Title,
		"property_type": transport.PropertyType,
		"images":        len(transport.ImageURLs),
	})
	return transport, nil
}

// enrich основная модель, затем запасная. payload nil без ошибки означает мягкую неудачу.
func (uc *NormalizeListingUseCase) enrich(ctx context.Context, raw domain.RawScrapeRecord) (map[string]interface{}, string, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	models := uc.models()
	message := buildUserMessage(raw, uc.cfg.ImageCandidateCap)

	for i, model := range models {
		isLast := i == len(models)-1
		resp, err := uc.client.Complete(ctx, domain.EnrichmentRequest{
			Model:        model,
			MaxTokens:    uc.cfg.MaxTokens,
			SystemPrompt: enrichmentSystemPrompt,
			UserMessage:  message,
		})
		if err != nil {
			classified, tryNext := ClassifyEnrichmentError(err, model, isLast)
			if tryNext {
				logger.Warn("Enrichment call failed, trying fallback model", port.Fields{
					"model":    model,
					"category": classified.Category,
					"error":    err.Error(),
				})
				continue
			}
			if classified != nil {
				return nil, model, classified
			}
			logger.Warn("Enrichment call failed with unclassified status, treating as no data", port.Fields{
				"model": model,
				"error": err.Error(),
			})
			return nil, model, nil
		}

		if resp.Truncated {
			logger.Warn("Enrichment response hit the token limit", port.Fields{"model": model, "output_tokens": resp.OutputTokens})
		}
		return uc.parseResponse(ctx, resp.Text), model, nil
	}
	return nil, "", nil
}

func (uc *NormalizeListingUseCase) models() []string {
	var models []string
	for _, m := range []string{uc.cfg.PrimaryModel, uc.cfg.FallbackModel} {
		m = strings.TrimSpace(m)
		if m == "" || (len(models) > 0 && models[0] == m) {
			continue
		}
		models = append(models, m)
	}
	return models
}

// parseResponse восстановление, очистка и проверка по схеме. nil при неудаче.
func (uc *NormalizeListingUseCase) parseResponse(ctx context.Context, text string) map[string]interface{} {
	logger := contextkeys.LoggerFromContext(ctx)

	obj, err := repair.Repair(ctx, text)
	if err != nil {
		obj, err = repair.Repair(ctx, cleaning.ScrubUTF8(text))
		if err != nil {
			return nil
		}
	}

	cleaned, _ := cleaning.CleanDeep(obj).(map[string]interface{})
	if err := contracts.Validate(contracts.EnrichmentResponseV1, cleaned); err != nil {
		logger.Warn("Enrichment response violates contract", port.Fields{"error": err.Error()})
		return nil
	}
	return cleaned
}

// fromEnrichment поля ответа, пропущенные моделью берутся из структурированной записи
func (uc *NormalizeListingUseCase) fromEnrichment(p map[string]interface{}, s *domain.StructuredRecord) (domain.ListingTransport, string) {
	if s == nil {
		s = &domain.StructuredRecord{}
	}

	t := domain.ListingTransport{
		Description:   firstNonEmpty(stringField(p, "description"), s.Description),
		Price:         firstPositive(numberField(p, "price"), s.Price),
		Currency:      strings.ToUpper(firstNonEmpty(stringField(p, "currency"), s.Currency)),
		Area:          firstPositive(extractor.PlausibleArea(numberField(p, "area")), s.Area),
		Rooms:         extractor.PlausibleRooms(int(numberField(p, "rooms"))),
		City:          firstNonEmpty(stringField(p, "city"), s.City),
		PropertyType:  domain.ParsePropertyType(strings.ToLower(stringField(p, "property_type"))),
		Keywords:      stringList(p, "keywords"),
		IsFullyParsed: boolField(p, "is_fully_parsed"),
		Aux:           domain.AuxPayload{},
	}
	if t.Rooms == 0 {
		t.Rooms = s.Rooms
	}
	if t.PropertyType == domain.PropertyTypeUnknown && s.PropertyType != "" {
		t.PropertyType = domain.ParsePropertyType(string(s.PropertyType))
	}
	if street := cleaning.StripStreetPrefix(firstNonEmpty(stringField(p, "street"), s.Street)); street != "" {
		t.Street = &street
	}

	t.Curated, t.HeroURL = curatedImages(p)
	for _, c := range t.Curated {
		t.ImageURLs = append(t.ImageURLs, c.URL)
	}
	if len(t.ImageURLs) == 0 {
		t.ImageURLs = cleaning.FilterImageURLs(s.ImageURLs())
	}
	if len(t.Curated) > 0 {
		t.Aux[domain.AuxCuratedImages] = t.Curated
	}
	if t.HeroURL != "" {
		t.Aux[domain.AuxHeroURL] = t.HeroURL
	}

	return t, firstNonEmpty(stringField(p, "title"), s.Title)
}

// fromStructured запасной путь без перевода и отбора изображений
func (uc *NormalizeListingUseCase) fromStructured(s *domain.StructuredRecord) (domain.ListingTransport, string) {
	t := domain.ListingTransport{
		Description:  s.Description,
		Price:        s.Price,
		Currency:     strings.ToUpper(s.Currency),
		Area:         s.Area,
		Rooms:        s.Rooms,
		City:         s.City,
		PropertyType: domain.ParsePropertyType(string(s.PropertyType)),
		ImageURLs:    cleaning.FilterImageURLs(s.ImageURLs()),
		Aux:          domain.AuxPayload{},
	}
	if street := cleaning.StripStreetPrefix(s.Street); street != "" {
		t.Street = &street
	}
	return t, s.Title
}

// impute локальная страховка, работает независимо от ответа обогащения
func (uc *NormalizeListingUseCase) impute(t *domain.ListingTransport, title string) {
	text := title + "\n" + t.Description
	var imputed []string

	if t.Rooms <= 0 {
		if n := uc.rules.imputeRooms(text, t.Area); n > 0 {
			t.Rooms = n
			imputed = append(imputed, "rooms")
		}
	}
	if t.PropertyType == "" || t.PropertyType == domain.PropertyTypeUnknown {
		t.PropertyType = uc.rules.imputeType(text)
		if t.PropertyType != domain.PropertyTypeUnknown {
			imputed = append(imputed, "property_type")
		}
	}
	if len(imputed) > 0 {
		t.Aux[domain.AuxImputed] = imputed
	}
}

func curatedImages(p map[string]interface{}) ([]domain.CuratedImage, string) {
	hero, _ := p["hero_url"].(string)
	hero = strings.TrimSpace(hero)

	seen := make(map[string]struct{})
	var out []domain.CuratedImage
	for _, key := range []string{"images", "gallery_urls"} {
		items, _ := p[key].([]interface{})
		for _, item := range items {
			var img domain.CuratedImage
			switch v := item.(type) {
			case string:
				img.URL = strings.TrimSpace(v)
			case map[string]interface{}:
				img.URL, _ = v["url"].(string)
				img.URL = strings.TrimSpace(img.URL)
				img.Caption, _ = v["caption"].(string)
				img.IsHero, _ = v["is_hero"].(bool)
			}
			if !cleaning.IsValidImageURL(img.URL) {
				continue
			}
			if _, dup := seen[img.URL]; dup {
				continue
			}
			seen[img.URL] = struct{}{}
			if hero == "" && img.IsHero {
				hero = img.URL
			}
			out = append(out, img)
		}
	}

	if !cleaning.IsValidImageURL(hero) {
		hero = ""
	}
	for i := range out {
		out[i].IsHero = out[i].URL == hero
	}
	return out, hero
}

func stringField(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}

func numberField(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case string:
		return extractor.ParseNumber(v)
	default:
		return 0
	}
}

func boolField(p map[string]interface{}, key string) bool {
	b, _ := p[key].(bool)
	return b
}

func stringList(p map[string]interface{}, key string) []string {
	items, _ := p[key].([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

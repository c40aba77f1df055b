// Package extractor разбирает HTML страницы объявления в StructuredRecord без сетевых вызовов.
package extractor

import (
	"strings"

	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/vocabulary"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Extractor детерминированный разборщик структурированных блоков страницы
type Extractor struct {
	vocab *vocabulary.Vocabulary
}

// New создает экстрактор, nil означает встроенный словарь
func New(vocab *vocabulary.Vocabulary) *Extractor {
	if vocab == nil {
		vocab = vocabulary.Default()
	}
	return &Extractor{vocab: vocab}
}

// Extract возвращает запись и true, если на странице есть распознаваемый блок данных
func (e *Extractor) Extract(html string) (*domain.StructuredRecord, bool) {
	doc, ok := parseDocument(html)
	if !ok {
		return nil, false
	}

	var rec *domain.StructuredRecord

	// Next.js кладет состояние страницы в __NEXT_DATA__
	if raw := doc.Find("script#__NEXT_DATA__").First().Text(); raw != "" && gjson.Valid(raw) {
		if ad := gjson.Get(raw, "props.pageProps.ad"); ad.IsObject() {
			rec = e.fromNextData(ad)
		}
	}

	if rec == nil {
		doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			rec = e.fromJSONLD(s.Text())
			return rec == nil
		})
	}

	if rec == nil {
		return nil, false
	}

	if og, exists := doc.Find(`meta[property="og:image"]`).First().Attr("content"); exists {
		rec.Images = append(rec.Images, domain.ImageCandidate{URL: og})
	}
	rec.Images = finalizeImages(rec.Images)

	return rec, true
}

func (e *Extractor) fromNextData(ad gjson.Result) *domain.StructuredRecord {
	characteristic := func(key string) gjson.Result {
		return ad.Get(`characteristics.#(key=="` + key + `").value`)
	}

	rec := &domain.StructuredRecord{
		ExternalID:  firstString(ad.Get("id"), ad.Get("publicId")),
		Title:       cleaning.ScrubUTF8(strings.TrimSpace(ad.Get("title").String())),
		Description: stripHTML(ad.Get("description").String()),
		Currency: firstString(
			ad.Get(`characteristics.#(key=="price").currency`),
			ad.Get("target.Price_currency"),
			ad.Get("price.currency"),
		),
	}

	rec.Price = firstNumber(ad.Get("target.Price"), characteristic("price"), ad.Get("price.value"), ad.Get("price"))
	rec.Area = validArea(firstNumber(ad.Get("target.Area"), characteristic("m"), ad.Get("area")))
	rec.Rooms = e.rooms(ad.Get("target.Rooms_num"), characteristic("rooms_num"), ad.Get("rooms"))

	rec.City = strings.TrimSpace(firstString(
		ad.Get("location.address.city.name"),
		ad.Get("target.City"),
		ad.Get("location.city"),
	))
	rec.Street = cleaning.StripStreetPrefix(firstString(
		ad.Get("location.address.street.name"),
		ad.Get("target.Street"),
		ad.Get("location.street"),
	))

	rec.BuildingType = firstString(ad.Get("target.Building_type"), characteristic("building_type"))
	rec.PropertyType = e.vocab.BuildingType(rec.BuildingType)

	if lat, lon := ad.Get("location.coordinates.latitude"), ad.Get("location.coordinates.longitude"); lat.Exists() && lon.Exists() {
		latV, lonV := lat.Float(), lon.Float()
		rec.Latitude, rec.Longitude = &latV, &lonV
	}

	ad.Get("images").ForEach(func(_, img gjson.Result) bool {
		rec.Images = append(rec.Images, imageCandidate(img))
		return true
	})

	return rec
}

func (e *Extractor) fromJSONLD(raw string) *domain.StructuredRecord {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return nil
	}

	// блок может быть объектом, массивом или @graph
	var node gjson.Result
	candidates := []gjson.Result{gjson.Parse(raw)}
	if root := candidates[0]; root.IsArray() {
		candidates = root.Array()
	} else if graph := root.Get("@graph"); graph.IsArray() {
		candidates = graph.Array()
	}
	for _, c := range candidates {
		if c.Get("offers").Exists() || c.Get("address").Exists() || c.Get("floorSize").Exists() {
			node = c
			break
		}
	}
	if !node.Exists() {
		return nil
	}

	offer := scalar(node.Get("offers"))
	rec := &domain.StructuredRecord{
		ExternalID:  firstString(node.Get("sku"), node.Get("identifier"), node.Get("@id")),
		Title:       cleaning.ScrubUTF8(strings.TrimSpace(node.Get("name").String())),
		Description: stripHTML(node.Get("description").String()),
		Price:       firstNumber(offer.Get("price"), node.Get("price")),
		Currency:    firstString(offer.Get("priceCurrency"), node.Get("priceCurrency")),
		Area:        validArea(firstNumber(node.Get("floorSize.value"), node.Get("floorSize"))),
		Rooms:       e.rooms(node.Get("numberOfRooms"), node.Get("numberOfBedrooms")),
		City:        strings.TrimSpace(firstString(node.Get("address.addressLocality"), node.Get("itemOffered.address.addressLocality"))),
		Street:      cleaning.StripStreetPrefix(firstString(node.Get("address.streetAddress"), node.Get("itemOffered.address.streetAddress"))),
	}
	rec.BuildingType = firstString(node.Get("@type"))
	rec.PropertyType = e.vocab.BuildingType(rec.BuildingType)

	if lat, lon := node.Get("geo.latitude"), node.Get("geo.longitude"); lat.Exists() && lon.Exists() {
		latV, lonV := lat.Float(), lon.Float()
		rec.Latitude, rec.Longitude = &latV, &lonV
	}

	images := node.Get("image")
	if images.IsArray() {
		images.ForEach(func(_, img gjson.Result) bool {
			rec.Images = append(rec.Images, imageCandidate(img))
			return true
		})
	} else if images.Exists() {
		rec.Images = append(rec.Images, imageCandidate(images))
	}

	return rec
}

// rooms принимает число, строку "3" или слово "THREE"
func (e *Extractor) rooms(values ...gjson.Result) int {
	for _, v := range values {
		v = scalar(v)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String {
			if n, ok := e.vocab.RoomsFromWord(v.Str); ok {
				return validRooms(n)
			}
		}
		if n := int(numberOf(v)); n > 0 {
			return validRooms(n)
		}
	}
	return 0
}

func imageCandidate(img gjson.Result) domain.ImageCandidate {
	if img.Type == gjson.String {
		return domain.ImageCandidate{URL: strings.TrimSpace(img.Str)}
	}
	return domain.ImageCandidate{
		URL: strings.TrimSpace(firstString(
			img.Get("large"), img.Get("url"), img.Get("contentUrl"), img.Get("medium"), img.Get("src"),
		)),
		Caption: cleaning.ScrubUTF8(strings.TrimSpace(firstString(
			img.Get("caption"), img.Get("alt"), img.Get("name"),
		))),
	}
}

// finalizeImages фильтрует кандидатов общим правилом и убирает повторы
func finalizeImages(images []domain.ImageCandidate) []domain.ImageCandidate {
	seen := make(map[string]struct{}, len(images))
	out := make([]domain.ImageCandidate, 0, len(images))
	for _, img := range images {
		if !cleaning.IsValidImageURL(img.URL) {
			continue
		}
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		out = append(out, img)
	}
	return out
}

func firstString(values ...gjson.Result) string {
	for _, v := range values {
		v = scalar(v)
		if s := strings.TrimSpace(v.String()); v.Exists() && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(values ...gjson.Result) float64 {
	for _, v := range values {
		if n := numberOf(v); n > 0 {
			return n
		}
	}
	return 0
}

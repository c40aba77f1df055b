package extractor

import (
	"strings"
	"testing"

	"listing-pipeline/internal/core/domain"
)

const nextDataPage = `<!DOCTYPE html><html><head>
<meta property="og:image" content="https://cdn.example.com/photos/og-cover.jpg">
</head><body>
<script id="__NEXT_DATA__" type="application/json">{
  "props": {"pageProps": {"ad": {
    "id": 65432101,
    "title": "Mieszkanie 3 pokoje, Lipowa",
    "description": "<p>Jasne mieszkanie<br/>z balkonem</p>",
    "target": {
      "Price": 1002000,
      "Area": "64.4",
      "Rooms_num": ["3"],
      "Building_type": ["block"]
    },
    "characteristics": [
      {"key": "price", "value": "1002000", "currency": "PLN"},
      {"key": "m", "value": "64.4"}
    ],
    "location": {
      "address": {"city": {"name": "Kraków"}, "street": {"name": "ul. Lipowa"}},
      "coordinates": {"latitude": 50.0495, "longitude": 19.9445}
    },
    "images": [
      {"large": "https://cdn.example.com/photos/1-large.jpg", "caption": "Salon"},
      {"large": "https://cdn.example.com/photos/1-large.jpg"},
      {"large": "https://cdn.example.com/static/logo.png"},
      {"medium": "https://cdn.example.com/photos/2-medium.jpg", "alt": "Kuchnia"},
      "data:image/png;base64,AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
    ]
  }}}
}</script></body></html>`

const jsonLDPage = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Agency"}</script>
<script type="application/ld+json">{
  "@context": "https://schema.org",
  "@type": "House",
  "name": "Dom wolnostojący z ogrodem",
  "description": "Dom na spokojnym osiedlu",
  "numberOfRooms": "FIVE",
  "floorSize": {"value": "180,5 m²"},
  "address": {"addressLocality": "Gdańsk", "streetAddress": "ulica Morska 12"},
  "offers": {"price": "1 450 000 zł", "priceCurrency": "PLN"},
  "image": ["https://cdn.example.com/house/1.jpg", "https://cdn.example.com/house/2.jpg"]
}</script></head><body></body></html>`

func TestExtractNextData(t *testing.T) {
	rec, ok := New(nil).Extract(nextDataPage)
	if !ok {
		t.Fatal("Extract() ok = false, want true")
	}

	if rec.ExternalID != "65432101" {
		t.Errorf("ExternalID = %q, want %q", rec.ExternalID, "65432101")
	}
	if rec.Price != 1_002_000 {
		t.Errorf("Price = %v, want 1002000", rec.Price)
	}
	if rec.Currency != "PLN" {
		t.Errorf("Currency = %q, want PLN", rec.Currency)
	}
	if rec.Area != 64.4 {
		t.Errorf("Area = %v, want 64.4", rec.Area)
	}
	if rec.Rooms != 3 {
		t.Errorf("Rooms = %d, want 3", rec.Rooms)
	}
	if rec.City != "Kraków" || rec.Street != "Lipowa" {
		t.Errorf("City, Street = %q, %q, want Kraków, Lipowa", rec.City, rec.Street)
	}
	if rec.PropertyType != domain.PropertyTypeApartment {
		t.Errorf("PropertyType = %q, want apartment", rec.PropertyType)
	}
	if rec.Description != "Jasne mieszkanie z balkonem" && rec.Description != "Jasne mieszkaniez balkonem" {
		t.Errorf("Description = %q, want tags stripped", rec.Description)
	}
	if strings.Contains(rec.Description, "<") {
		t.Errorf("Description still contains markup: %q", rec.Description)
	}
	if rec.Latitude == nil || *rec.Latitude != 50.0495 {
		t.Errorf("Latitude = %v, want 50.0495", rec.Latitude)
	}

	wantImages := []domain.ImageCandidate{
		{URL: "https://cdn.example.com/photos/1-large.jpg", Caption: "Salon"},
		{URL: "https://cdn.example.com/photos/2-medium.jpg", Caption: "Kuchnia"},
		{URL: "https://cdn.example.com/photos/og-cover.jpg"},
	}
	if len(rec.Images) != len(wantImages) {
		t.Fatalf("Images = %+v, want %+v", rec.Images, wantImages)
	}
	for i := range wantImages {
		if rec.Images[i] != wantImages[i] {
			t.Errorf("Images[%d] = %+v, want %+v", i, rec.Images[i], wantImages[i])
		}
	}
}

func TestExtractJSONLD(t *testing.T) {
	rec, ok := New(nil).Extract(jsonLDPage)
	if !ok {
		t.Fatal("Extract() ok = false, want true")
	}
	if rec.Price != 1_450_000 {
		t.Errorf("Price = %v, want 1450000", rec.Price)
	}
	if rec.Area != 180.5 {
		t.Errorf("Area = %v, want 180.5", rec.Area)
	}
	if rec.Rooms != 5 {
		t.Errorf("Rooms = %d, want 5", rec.Rooms)
	}
	if rec.City != "Gdańsk" || rec.Street != "Morska 12" {
		t.Errorf("City, Street = %q, %q, want Gdańsk, Morska 12", rec.City, rec.Street)
	}
	if rec.PropertyType != domain.PropertyTypeHouse {
		t.Errorf("PropertyType = %q, want house", rec.PropertyType)
	}
	if len(rec.Images) != 2 {
		t.Errorf("len(Images) = %d, want 2", len(rec.Images))
	}
}

func TestExtractWithoutStructuredBlock(t *testing.T) {
	pages := map[string]string{
		"empty":         "",
		"plain page":    "<html><body><h1>Mieszkanie</h1></body></html>",
		"broken json":   `<script id="__NEXT_DATA__">{"props": {</script>`,
		"no ad":         `<script id="__NEXT_DATA__">{"props": {"pageProps": {}}}</script>`,
		"irrelevant ld": `<script type="application/ld+json">{"@type":"Organization"}</script>`,
	}
	for name, html := range pages {
		t.Run(name, func(t *testing.T) {
			if rec, ok := New(nil).Extract(html); ok || rec != nil {
				t.Errorf("Extract() = %+v, %v, want nil, false", rec, ok)
			}
		})
	}
}

func TestExtractRejectsImplausibleValues(t *testing.T) {
	page := `<script id="__NEXT_DATA__">{"props":{"pageProps":{"ad":{
		"target": {"Price": 350000, "Area": 2, "Rooms_num": ["25"], "Building_type": ["castle"]},
		"location": {"address": {"city": {"name": "Lodz"}}}
	}}}}</script>`

	rec, ok := New(nil).Extract(page)
	if !ok {
		t.Fatal("Extract() ok = false, want true")
	}
	if rec.Area != 0 {
		t.Errorf("Area = %v, want 0 for implausible value", rec.Area)
	}
	if rec.Rooms != 0 {
		t.Errorf("Rooms = %d, want 0 for out-of-range value", rec.Rooms)
	}
	if rec.PropertyType != domain.PropertyTypeApartment {
		t.Errorf("PropertyType = %q, want apartment default", rec.PropertyType)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1 002 000 zł", 1_002_000},
		{"1 002 000 PLN", 1_002_000},
		{"1,002,000", 1_002_000},
		{"1.250.000 PLN", 1_250_000},
		{"$1,002,000.50", 1_002_000.5},
		{"64,4 m²", 64.4},
		{"64.4 m2", 64.4},
		{"1 234,56", 1234.56},
		{"Cena: 450000", 450_000},
		{"brak", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseNumber(tt.in); got != tt.want {
			t.Errorf("parseNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVisibleText(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body><h1>Dom</h1><script>var x=1;</script><p>Ogród   200 m2</p></body></html>`
	if got := VisibleText(html, 0); got != "Dom Ogród 200 m2" && got != "DomOgród 200 m2" {
		t.Errorf("VisibleText() = %q", got)
	}
	if got := VisibleText(html, 3); got != "Dom" {
		t.Errorf("VisibleText(limit 3) = %q, want %q", got, "Dom")
	}
}

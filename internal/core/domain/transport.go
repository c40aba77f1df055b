package domain

// CuratedImage изображение, отобранное обогащением
type CuratedImage struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	IsHero  bool   `json:"is_hero,omitempty"`
}

// ListingTransport результат нормализации. Значение неизменяемое по соглашению:
// срезы и payload не модифицируются после построения, изменения делаются копией.
type ListingTransport struct {
	Title         string
	Description   string
	Price         float64
	Currency      string
	Area          float64
	Rooms         int
	City          string
	Street        *string
	PropertyType  PropertyType
	Keywords      []string
	ImageURLs     []string
	Curated       []CuratedImage
	HeroURL       string
	IsFullyParsed bool
	Aux           AuxPayload
}

// IsFallback нормализация выполнена без обогащения, по структурированным данным
func (t ListingTransport) IsFallback() bool {
	return t.Aux.Bool(AuxFallback)
}

// ApplyTo переносит нормализованные поля в сущность. Статус, оценку и отпечаток
// выставляет сервис жизненного цикла.
func (t ListingTransport) ApplyTo(l *Listing) {
	l.Title = t.Title
	l.Description = t.Description
	l.Price = t.Price
	l.Currency = t.Currency
	l.Area = t.Area
	l.Rooms = t.Rooms
	l.City = t.City
	l.Street = t.Street
	l.PropertyType = t.PropertyType
	l.Keywords = append([]string(nil), t.Keywords...)
	l.ImageURLs = append([]string(nil), t.ImageURLs...)
	l.IsFullyParsed = t.IsFullyParsed

	aux := l.Aux.Clone()
	for k, v := range t.Aux {
		aux[k] = v
	}
	l.Aux = aux
}

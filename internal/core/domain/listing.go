package domain

import (
	"time"

	"github.com/google/uuid"
)

// PropertyType перечисление типов недвижимости
type PropertyType string

const (
	PropertyTypeApartment PropertyType = "apartment"
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeLoft      PropertyType = "loft"
	PropertyTypeTownhouse PropertyType = "townhouse"
	PropertyTypeStudio    PropertyType = "studio"
	PropertyTypePenthouse PropertyType = "penthouse"
	PropertyTypeVilla     PropertyType = "villa"
	PropertyTypeUnknown   PropertyType = "unknown"
)

// ParsePropertyType приводит строку к перечислению, неизвестное значение дает unknown
func ParsePropertyType(s string) PropertyType {
	switch t := PropertyType(s); t {
	case PropertyTypeApartment, PropertyTypeHouse, PropertyTypeLoft, PropertyTypeTownhouse,
		PropertyTypeStudio, PropertyTypePenthouse, PropertyTypeVilla:
		return t
	default:
		return PropertyTypeUnknown
	}
}

// ListingStatus жизненный статус объявления
type ListingStatus string

const (
	StatusPending    ListingStatus = "pending"    // скелет, ждет обогащения
	StatusAvailable  ListingStatus = "available"  // все критичные поля на месте
	StatusIncomplete ListingStatus = "incomplete" // часть критичных полей отсутствует
	StatusFailed     ListingStatus = "failed"     // отсутствуют все критичные поля
	StatusUnverified ListingStatus = "unverified" // обогащение не состоялось, запись помечена
)

// VisibleStatuses статусы, которые попадают в пользовательскую выдачу по умолчанию
var VisibleStatuses = []ListingStatus{StatusAvailable, StatusUnverified}

// Ключи вспомогательного payload
const (
	AuxOriginalHTML  = "original_html"
	AuxSourceURL     = "source_url"
	AuxStructured    = "structured"
	AuxScrapedAt     = "scraped_at"
	AuxModel         = "model"
	AuxFallback      = "ai_fallback"
	AuxImputed       = "imputed"
	AuxCuratedImages = "curated_images"
	AuxHeroURL       = "hero_url"
	AuxGeohash       = "geohash"
	AuxBuildingType  = "building_type"
	AuxCoordinates   = "coordinates"
)

// AuxPayload произвольные данные объявления, хранятся как jsonb
type AuxPayload map[string]interface{}

// Clone поверхностная копия
func (a AuxPayload) Clone() AuxPayload {
	out := make(AuxPayload, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Bool возвращает булево значение ключа, отсутствие трактуется как false
func (a AuxPayload) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

// String возвращает строковое значение ключа
func (a AuxPayload) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Listing долговечная сущность объявления
type Listing struct {
	ID            uuid.UUID
	ExternalID    *string
	Fingerprint   *string
	SourceURL     string
	Title         string
	Description   string
	Price         float64
	Currency      string
	Area          float64
	Rooms         int
	City          string
	Street        *string
	PropertyType  PropertyType
	Status        ListingStatus
	QualityScore  int
	IsFullyParsed bool
	Aux           AuxPayload
	ImageURLs     []string
	Keywords      []string
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListingFilter параметры выборки для пользовательских запросов
type ListingFilter struct {
	Query    string
	City     string
	Statuses []ListingStatus
	Limit    int
	Offset   int
}

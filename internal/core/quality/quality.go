// Package quality проверяет критичные поля нормализованного объявления, считает
// оценку полноты и выводит статус жизненного цикла.
package quality

import (
	"strings"

	"listing-pipeline/internal/core/domain"
)

// Критичные поля
const (
	FieldPrice = "price"
	FieldArea  = "area"
	FieldCity  = "city"
)

// Веса необязательных полей, вычитаются из MaxScore
const (
	MaxScore          = 100
	WeightStreet      = 20
	WeightRooms       = 10
	WeightDescription = 10
	WeightType        = 10
	WeightKeywords    = 5
	WeightImages      = 5
)

const unknownCity = "unknown"

var criticalFields = []string{FieldPrice, FieldArea, FieldCity}

// Evaluation итог проверки объявления
type Evaluation struct {
	Errors map[string]string
	Score  int
	Status domain.ListingStatus
}

// Validate возвращает ошибки критичных полей, пустая карта означает, что все на месте
func Validate(t domain.ListingTransport) map[string]string {
	errs := make(map[string]string)
	if t.Price <= 0 {
		errs[FieldPrice] = "price must be greater than zero"
	}
	if t.Area <= 0 {
		errs[FieldArea] = "area must be greater than zero"
	}
	city := strings.TrimSpace(t.City)
	if city == "" || strings.EqualFold(city, unknownCity) {
		errs[FieldCity] = "city is missing"
	}
	return errs
}

// Score оценка полноты необязательных полей от 0 до 100
func Score(t domain.ListingTransport) int {
	score := MaxScore
	if t.Street == nil || strings.TrimSpace(*t.Street) == "" {
		score -= WeightStreet
	}
	if t.Rooms <= 0 {
		score -= WeightRooms
	}
	if strings.TrimSpace(t.Description) == "" {
		score -= WeightDescription
	}
	if t.PropertyType == "" || t.PropertyType == domain.PropertyTypeUnknown {
		score -= WeightType
	}
	if len(t.Keywords) == 0 {
		score -= WeightKeywords
	}
	if len(t.ImageURLs) == 0 && len(t.Curated) == 0 {
		score -= WeightImages
	}

	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ResolveStatus чистая функция от набора ошибок критичных полей
func ResolveStatus(errs map[string]string) domain.ListingStatus {
	missing := 0
	for _, field := range criticalFields {
		if _, ok := errs[field]; ok {
			missing++
		}
	}

	switch missing {
	case 0:
		return domain.StatusAvailable
	case len(criticalFields):
		return domain.StatusFailed
	default:
		return domain.StatusIncomplete
	}
}

// Evaluate проверка, оценка и статус за один вызов
func Evaluate(t domain.ListingTransport) Evaluation {
	errs := Validate(t)
	return Evaluation{
		Errors: errs,
		Score:  Score(t),
		Status: ResolveStatus(errs),
	}
}

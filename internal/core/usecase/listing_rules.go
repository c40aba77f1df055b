package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/extractor"
	"listing-pipeline/internal/core/vocabulary"
)

const fallbackTitle = "Property Listing"

// корзины площади для оценки числа комнат: до maxArea включительно -> rooms
var areaRoomBuckets = []struct {
	maxArea float64
	rooms   int
}{
	{35, 1},
	{55, 2},
	{80, 3},
	{120, 4},
}

const roomsAboveBuckets = 5

var (
	reRoomCount     = regexp.MustCompile(`(?i)(\d{1,2})\s*-?\s*(?:bedrooms?|beds?\b|rooms?\b|pok)`)
	reStructuredLoc = regexp.MustCompile(`\b(?:on|in|at|near)\s+\p{Lu}\p{L}+`)
)

var titleCaser = cases.Title(language.English)

// listingRules детерминированные правила, не зависящие от ответа обогащения
type listingRules struct {
	vocab     *vocabulary.Vocabulary
	roomWords *regexp.Regexp
}

func newListingRules(vocab *vocabulary.Vocabulary) *listingRules {
	words := make([]string, 0, len(vocab.RoomWords))
	for w, n := range vocab.RoomWords {
		// "more" и составные ключи описывают диапазон, а не число
		if n > 10 || strings.ContainsAny(w, "_ ") {
			continue
		}
		words = append(words, regexp.QuoteMeta(w))
	}
	sort.Strings(words)

	var roomWords *regexp.Regexp
	if len(words) > 0 {
		roomWords = regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)[\s-]+(?:bedrooms?|rooms?)\b`)
	}
	return &listingRules{vocab: vocab, roomWords: roomWords}
}

// imputeRooms число комнат по тексту, затем по слову "студия", затем по площади.
// Возвращает 0, если выводить не из чего.
func (r *listingRules) imputeRooms(text string, area float64) int {
	for _, m := range reRoomCount.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && extractor.PlausibleRooms(n) > 0 {
			return n
		}
	}
	if r.roomWords != nil {
		if m := r.roomWords.FindStringSubmatch(text); m != nil {
			if n, ok := r.vocab.RoomsFromWord(m[1]); ok && extractor.PlausibleRooms(n) > 0 {
				return n
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range r.vocab.StudioKeywords {
		if containsWord(lower, kw) {
			return 1
		}
	}

	if area <= 0 {
		return 0
	}
	for _, b := range areaRoomBuckets {
		if area <= b.maxArea {
			return b.rooms
		}
	}
	return roomsAboveBuckets
}

// imputeType первый тип, ключевое слово которого встречается в тексте, в порядке словаря
func (r *listingRules) imputeType(text string) domain.PropertyType {
	lower := strings.ToLower(text)
	for _, tk := range r.vocab.TypeKeywords {
		for _, kw := range tk.Keywords {
			if containsWord(lower, strings.ToLower(kw)) {
				return tk.Type
			}
		}
	}
	return domain.PropertyTypeUnknown
}

// isStructuredTitle заголовок вида "... in Krakow" без рекламных слов
func (r *listingRules) isStructuredTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" || !reStructuredLoc.MatchString(title) {
		return false
	}
	lower := strings.ToLower(title)
	for _, fluff := range r.vocab.TitleFluff {
		if strings.Contains(lower, strings.ToLower(fluff)) {
			return false
		}
	}
	return true
}

// buildTitle "<N>-Bedroom <Type> on <Street> in <City>", отсутствующие части опускаются
func buildTitle(t domain.ListingTransport) string {
	var parts []string
	if t.Rooms > 0 {
		parts = append(parts, fmt.Sprintf("%d-Bedroom", t.Rooms))
	}
	if t.PropertyType != "" && t.PropertyType != domain.PropertyTypeUnknown {
		parts = append(parts, titleCaser.String(string(t.PropertyType)))
	}
	if t.Street != nil {
		if street := strings.TrimSpace(*t.Street); street != "" {
			parts = append(parts, "on", street)
		}
	}
	if city := strings.TrimSpace(t.City); city != "" && !strings.EqualFold(city, "unknown") {
		parts = append(parts, "in", city)
	}

	if len(parts) == 0 {
		return fallbackTitle
	}
	return strings.Join(parts, " ")
}

// containsWord вхождение kw, не окруженное буквами или цифрами
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if !letterBefore(text, start) && !letterAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func letterBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(last) || unicode.IsDigit(last)
}

func letterAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(next) || unicode.IsDigit(next)
}

// Package cleaning общие правила проверки и очистки данных. Все функции чистые,
// ими пользуются экстрактор, восстановление ответа, нормализация и загрузка медиа.
package cleaning

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minImageURLLength = 15
	maxImageURLLength = 2048
)

// маркеры служебных картинок, которые не являются фотографиями объекта
var rejectedImageMarkers = []string{"placeholder", "icon", "logo", "avatar"}

// IsValidImageURL единственное правило приемки URL изображения в системе
func IsValidImageURL(raw string) bool {
	u := strings.TrimSpace(raw)
	if len(u) < minImageURLLength || len(u) > maxImageURLLength {
		return false
	}

	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "data:") {
		return false
	}
	for _, marker := range rejectedImageMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// FilterImageURLs оставляет валидные URL без повторов, порядок сохраняется
func FilterImageURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if !IsValidImageURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// ScrubUTF8 удаляет невалидные UTF-8 последовательности и управляющие символы,
// кроме перевода строки, возврата каретки и табуляции
func ScrubUTF8(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// CleanDeep рекурсивно применяет ScrubUTF8 к строкам и ключам в результате json.Unmarshal
func CleanDeep(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return ScrubUTF8(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[ScrubUTF8(k)] = CleanDeep(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CleanDeep(item)
		}
		return out
	default:
		return v
	}
}

// префиксы улиц, которые не несут информации о конкретном адресе
var streetPrefixes = []string{"ulica ", "ul. ", "ul.", "ul "}

// StripStreetPrefix убирает ведущее сокращение "улица"
func StripStreetPrefix(street string) string {
	s := strings.TrimSpace(street)
	lower := strings.ToLower(s)
	for _, prefix := range streetPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

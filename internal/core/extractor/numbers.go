package extractor

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

const (
	minArea  = 5.0
	maxArea  = 10_000.0
	minRooms = 1
	maxRooms = 20
)

// ParseNumber достает число из строк вида "1 002 000 zł", "1,002,000", "64,4 m²".
// Ноль, если цифр нет.
func ParseNumber(raw string) float64 {
	return parseNumber(raw)
}

func parseNumber(raw string) float64 {
	var b strings.Builder
	started := false
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
			started = true
		case started && (r == ',' || r == '.'):
			b.WriteRune(r)
		case started && (r == ' ' || r == '\u00a0' || r == '\u202f' || r == '\''):
			// разделитель групп разрядов
		case started:
			return normalizeSeparators(b.String())
		}
	}
	return normalizeSeparators(b.String())
}

func normalizeSeparators(s string) float64 {
	s = strings.TrimRight(s, ",.")
	if s == "" {
		return 0
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// последний встреченный разделитель дробный
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// numberOf читает число из JSON-значения любого вида
func numberOf(r gjson.Result) float64 {
	r = scalar(r)
	switch r.Type {
	case gjson.Number:
		if r.Num < 0 {
			return 0
		}
		return r.Num
	case gjson.String:
		return parseNumber(r.Str)
	default:
		return 0
	}
}

// scalar первый элемент массива или само значение
func scalar(r gjson.Result) gjson.Result {
	if r.IsArray() {
		return r.Get("0")
	}
	return r
}

func validArea(v float64) float64 {
	if v < minArea || v > maxArea {
		return 0
	}
	return v
}

func validRooms(n int) int {
	if n < minRooms || n > maxRooms {
		return 0
	}
	return n
}

// PlausibleArea площадь вне 5..10000 м² считается неизвестной и дает 0
func PlausibleArea(v float64) float64 { return validArea(v) }

// PlausibleRooms число комнат вне 1..20 дает 0
func PlausibleRooms(n int) int { return validRooms(n) }

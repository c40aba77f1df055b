// Package fingerprint отпечаток физического объекта для поиска дубликатов.
// Отпечаток зависит только от города, улицы, цены, площади и числа комнат.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"listing-pipeline/internal/core/cleaning"
)

const (
	unknownCity   = "unknown"
	unknownStreet = "unknown-street"

	basePriceStep = 1000.0
)

// Calculate возвращает 32-символьный hex-дайджест. Ошибок не бывает: пустые значения
// заменяются фиксированными маркерами.
func Calculate(city string, street *string, price, area float64, rooms int) string {
	payload := fmt.Sprintf("%s|%s|%d|%d|%d",
		normalizeCity(city),
		normalizeStreet(street),
		PriceBucket(price),
		roundArea(area),
		max(rooms, 0),
	)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Derivable false для записей без цены и города: у таких отпечаток совпал бы
// со всеми остальными неразобранными записями
func Derivable(price float64, city string) bool {
	return !(price <= 0 && strings.TrimSpace(city) == "")
}

// PriceBucket округляет цену до 1000, а для цен от миллиона шаг растет в 10 раз
// с каждым порядком (три значащие цифры)
func PriceBucket(price float64) int64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	step := basePriceStep
	for price >= step*1000 {
		step *= 10
	}
	return int64(math.Round(price/step) * step)
}

func normalizeCity(city string) string {
	c := strings.ToLower(strings.TrimSpace(city))
	if c == "" {
		return unknownCity
	}
	return c
}

func normalizeStreet(street *string) string {
	if street == nil {
		return unknownStreet
	}
	s := strings.ToLower(cleaning.StripStreetPrefix(*street))
	if s == "" {
		return unknownStreet
	}
	return s
}

func roundArea(area float64) int64 {
	if area <= 0 || math.IsNaN(area) || math.IsInf(area, 0) {
		return 0
	}
	return int64(math.Round(area))
}

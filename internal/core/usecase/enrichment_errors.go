package usecase

import (
	"errors"
	"net/http"
	"strings"

	"listing-pipeline/internal/core/domain"
)

// StatusOverloaded нестандартный код "сервис перегружен"
const StatusOverloaded = 529

// маркеры тела ответа, при которых 400/404 означают ошибку конфигурации
var configurationMarkers = []string{"billing", "model", "credit"}

// ClassifyEnrichmentError разбирает неудачный вызов модели model.
// tryNext true: перейти к следующей модели. Возврат (nil, false) означает мягкую
// неудачу, попытка не дала данных и нормализация идет по запасному пути.
func ClassifyEnrichmentError(err error, model string, isLastModel bool) (classified *domain.EnrichmentError, tryNext bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, domain.ErrMissingCredentials) {
		return &domain.EnrichmentError{Category: domain.CategoryCredentials, Model: model, Fatal: true, Err: err}, false
	}

	var callErr *domain.EnrichmentCallError
	if !errors.As(err, &callErr) {
		// ошибка без HTTP-ответа, например отмена контекста или сбой клиента
		callErr = &domain.EnrichmentCallError{Transport: true, Err: err}
	}

	if callErr.Transport {
		e := &domain.EnrichmentError{Category: domain.CategoryTransport, Model: model, Retryable: true, Err: err}
		return e, !isLastModel
	}

	switch code := callErr.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &domain.EnrichmentError{Category: domain.CategoryRateLimit, StatusCode: code, Model: model, Retryable: true, Err: err}, false

	case code == StatusOverloaded:
		e := &domain.EnrichmentError{Category: domain.CategoryOverloaded, StatusCode: code, Model: model, Err: err}
		if isLastModel {
			e.Fatal = true
			return e, false
		}
		e.Retryable = true
		return e, true

	case (code == http.StatusBadRequest || code == http.StatusNotFound) && mentionsConfiguration(callErr.Body):
		return &domain.EnrichmentError{Category: domain.CategoryConfiguration, StatusCode: code, Model: model, Fatal: true, Err: err}, false

	default:
		return nil, false
	}
}

func mentionsConfiguration(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range configurationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

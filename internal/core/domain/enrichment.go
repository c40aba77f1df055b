package domain

import (
	"errors"
	"fmt"
)

// EnrichmentRequest один вызов внешнего сервиса обогащения
type EnrichmentRequest struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
	UserMessage  string
}

// EnrichmentResponse свободный текст ответа, ожидается JSON-объект
type EnrichmentResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Truncated    bool // ответ уперся в лимит токенов
}

// EnrichmentCallError сырой исход неудачного вызова, как его видит адаптер.
// Классификацию выполняет ядро.
type EnrichmentCallError struct {
	StatusCode int    // 0 для сетевых ошибок
	Body       string // тело ответа, если оно было
	Transport  bool   // ошибка до получения HTTP-ответа
	Err        error
}

func (e *EnrichmentCallError) Error() string {
	if e.Transport {
		return fmt.Sprintf("enrichment transport error: %v", e.Err)
	}
	return fmt.Sprintf("enrichment call failed with status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func (e *EnrichmentCallError) Unwrap() error { return e.Err }

// EnrichmentCategory класс ошибки обогащения
type EnrichmentCategory string

const (
	CategoryRateLimit     EnrichmentCategory = "rate_limit"
	CategoryOverloaded    EnrichmentCategory = "overloaded"
	CategoryTransport     EnrichmentCategory = "transport"
	CategoryConfiguration EnrichmentCategory = "configuration"
	CategoryCredentials   EnrichmentCategory = "credentials"
)

// EnrichmentError классифицированная ошибка, которую видит слой задач
type EnrichmentError struct {
	Category   EnrichmentCategory
	StatusCode int
	Model      string
	Retryable  bool
	Fatal      bool
	Err        error
}

func (e *EnrichmentError) Error() string {
	kind := "retryable"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s enrichment error (%s, model %s): %v", kind, e.Category, e.Model, e.Err)
	}
	return fmt.Sprintf("%s enrichment error (%s, model %s)", kind, e.Category, e.Model)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// IsFatal true для ошибок, повтор которых бессмысленен
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var enrichErr *EnrichmentError
	if errors.As(err, &enrichErr) {
		return enrichErr.Fatal
	}
	return errors.Is(err, ErrNoUsableData) || errors.Is(err, ErrMissingCredentials)
}

// IsRateLimited ошибка вызвана ограничением частоты запросов
func IsRateLimited(err error) bool {
	var enrichErr *EnrichmentError
	return errors.As(err, &enrichErr) && enrichErr.Category == CategoryRateLimit
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

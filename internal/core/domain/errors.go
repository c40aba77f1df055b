package domain

import "errors"

var (
	// ErrNoUsableData нет ни ответа обогащения, ни структурированных данных с положительной ценой
	ErrNoUsableData = errors.New("no usable listing data")
	// ErrMissingCredentials не настроен ключ сервиса обогащения
	ErrMissingCredentials = errors.New("enrichment credentials are not configured")
	ErrListingNotFound    = errors.New("listing not found")
	ErrUnknownProvider    = errors.New("unknown scrape provider")
	// ErrIngestRunning прогон загрузки уже идет
	ErrIngestRunning = errors.New("ingest is already running")
)

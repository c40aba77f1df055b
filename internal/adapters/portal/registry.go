package portal

import "listing-pipeline/internal/core/port"

// Registry провайдеры по ключу, ключ выбирается переменной INGEST_PROVIDER
func Registry(providers ...*Provider) map[string]port.ScrapeProviderPort {
	registry := make(map[string]port.ScrapeProviderPort, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return registry
}

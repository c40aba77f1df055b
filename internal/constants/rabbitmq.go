package constants

// Основной обменник задач конвейера
const (
	JobsExchange     = "listing_jobs_exchange"
	JobsExchangeType = "direct"
)

// Имена очередей
const (
	QueueEnrichment = "listing_enrichment_queue"
	QueueMedia      = "listing_media_queue"
)

// Ключи маршрутизации
const (
	RoutingKeyEnrichment = "listing.enrichment"
	RoutingKeyMedia      = "listing.media"
)

// Финальная "свалка" для задач, исчерпавших попытки или упавших фатально
const (
	FinalDLXExchange             = "listing_jobs_final_dlx"
	FinalDLQEnrichment           = "listing_enrichment_final_dlq"
	FinalDLQRoutingKeyEnrichment = "listing.enrichment.dlq"
	FinalDLQMedia                = "listing_media_final_dlq"
	FinalDLQRoutingKeyMedia      = "listing.media.dlq"
)

// Заголовки сообщений
const (
	HeaderAttempt       = "x-attempt"
	HeaderJobID         = "x-job-id"
	HeaderFailureReason = "x-failure-reason"
	HeaderFailedAt      = "x-failed-at"
	HeaderFailureKind   = "x-failure-category"
	HeaderTraceID       = "x-trace-id"
)

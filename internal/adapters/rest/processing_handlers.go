package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/port/usecases_port"
)

const ingestRunTimeout = 30 * time.Minute

type ProcessingHandler struct {
	processingUC usecases_port.GetProcessingStatusUseCase
}

func NewProcessingHandler(processingUC usecases_port.GetProcessingStatusUseCase) *ProcessingHandler {
	return &ProcessingHandler{processingUC: processingUC}
}

// GetProcessing обрабатывает GET /api/v1/processing
func (h *ProcessingHandler) GetProcessing(w http.ResponseWriter, r *http.Request) {
	processing, err := h.processingUC.Execute(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "Failed to read queue state")
		return
	}
	RespondWithJSON(w, http.StatusOK, ProcessingResponse{Processing: processing})
}

// IngestHandler запускает прогон загрузки в фоне. Занятость прогона проверяет use case,
// поэтому запуск по запросу не пересекается с прогоном по расписанию.
type IngestHandler struct {
	ingestUC        usecases_port.IngestListingsPort
	defaultProvider string
	defaultLimit    int
	// done вызывается после завершения фонового прогона, нужен тестам
	done func()
}

func NewIngestHandler(ingestUC usecases_port.IngestListingsPort, defaultProvider string, defaultLimit int) *IngestHandler {
	return &IngestHandler{
		ingestUC:        ingestUC,
		defaultProvider: defaultProvider,
		defaultLimit:    defaultLimit,
		done:            func() {},
	}
}

// TriggerIngest обрабатывает POST /api/v1/ingest?provider=&limit=
func (h *IngestHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = h.defaultProvider
	}
	limit, err := parseIntParam(r, "limit", h.defaultLimit)
	if err != nil || limit < 0 {
		WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}

	handlerLogger := logger.WithFields(port.Fields{"handler": "TriggerIngest", "provider": provider, "limit": limit})

	// прогон переживает запрос, но сохраняет логгер и trace id
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestRunTimeout)
	err = h.ingestUC.Start(runCtx, provider, limit, func(stats *domain.IngestStats, err error) {
		defer h.done()
		defer cancel()
		if err != nil {
			handlerLogger.Error("Background ingest failed", err, nil)
			return
		}
		handlerLogger.Info("Background ingest finished", port.Fields{"stats": stats})
	})
	if err != nil {
		cancel()
		switch {
		case errors.Is(err, domain.ErrUnknownProvider):
			WriteJSONError(w, http.StatusBadRequest, "Unknown provider")
		case errors.Is(err, domain.ErrIngestRunning):
			WriteJSONError(w, http.StatusConflict, "Ingest is already running")
		default:
			handlerLogger.Error("Failed to start ingest", err, nil)
			WriteJSONError(w, http.StatusInternalServerError, "Failed to start ingest")
		}
		return
	}

	handlerLogger.Info("Ingest accepted", nil)
	RespondWithJSON(w, http.StatusAccepted, IngestAcceptedResponse{
		Provider: provider,
		Limit:    limit,
		TraceID:  contextkeys.TraceIDFromContext(r.Context()),
	})
}

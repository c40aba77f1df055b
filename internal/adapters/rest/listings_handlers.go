package rest

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/port/usecases_port"
)

type ListingsHandler struct {
	getListingsUC usecases_port.GetListingsUseCase
	getListingUC  usecases_port.GetListingByIDUseCase
}

func NewListingsHandler(getListingsUC usecases_port.GetListingsUseCase,
	getListingUC usecases_port.GetListingByIDUseCase) *ListingsHandler {
	return &ListingsHandler{
		getListingsUC: getListingsUC,
		getListingUC:  getListingUC,
	}
}

// FindListings обрабатывает GET /api/v1/listings?q=&city=&limit=&offset=
func (h *ListingsHandler) FindListings(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())
	query := r.URL.Query()

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid 'offset' parameter")
		return
	}

	filter := domain.ListingFilter{
		Query:  query.Get("q"),
		City:   query.Get("city"),
		Limit:  limit,
		Offset: offset,
	}

	handlerLogger := logger.WithFields(port.Fields{"handler": "FindListings"})

	page, err := h.getListingsUC.Execute(r.Context(), filter)
	if err != nil {
		handlerLogger.Error("Use case failed", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve listings")
		return
	}

	response := PaginatedListingsResponse{
		Data:   make([]ListingResponse, len(page.Listings)),
		Total:  page.TotalCount,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for i, l := range page.Listings {
		response.Data[i] = toListingResponse(l)
	}

	RespondWithJSON(w, http.StatusOK, response)
}

// GetListing обрабатывает GET /api/v1/listings/{listingID}
func (h *ListingsHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())

	listingID, err := uuid.Parse(chi.URLParam(r, "listingID"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid listing ID format")
		return
	}

	handlerLogger := logger.WithFields(port.Fields{"handler": "GetListing", "listing_id": listingID.String()})

	listing, err := h.getListingUC.Execute(r.Context(), listingID)
	if err != nil {
		if errors.Is(err, domain.ErrListingNotFound) {
			WriteJSONError(w, http.StatusNotFound, "Listing not found")
			return
		}
		handlerLogger.Error("Use case failed", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve listing")
		return
	}

	RespondWithJSON(w, http.StatusOK, toListingResponse(*listing))
}

// Healthz проверка живости процесса
func Healthz(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/adapter/handler/pb"
	"github.com/rl1809/stock-sync/internal/core/service"
	"github.com/rl1809/stock-sync/internal/port"
)

type HTTPHandler struct {
	engine   *service.ReconciliationEngine
	products port.ProductStore
	history  port.HistoryStore
	ping     func(ctx context.Context) error
	logger   zerolog.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPHandler serves the sync endpoint and read-only inventory views.
// ping may be nil; it backs the health check.
func NewHTTPHandler(engine *service.ReconciliationEngine, products port.ProductStore, history port.HistoryStore, ping func(ctx context.Context) error, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine:   engine,
		products: products,
		history:  history,
		ping:     ping,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", h.Sync)
		r.Get("/products/low-stock", h.LowStock)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/products/{id}/adjustments", h.Adjustments)
		r.Get("/products/{id}/locations", h.Locations)
	})
	return r
}

func (h *HTTPHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req pb.SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.ActorID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}

	resp := pb.NewSubmitBatchResponse(replay(r.Context(), h.engine, &req))

	h.logger.Info().
		Str("device_id", req.DeviceID).
		Int("succeeded", resp.Succeeded).
		Int("failed", resp.Failed).
		Msg("batch replayed")

	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.products.FindByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", id).Msg("find product")
		writeError(w, http.StatusInternalServerError, "database_error", "failed to load product")
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListLowStock(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list low stock")
		writeError(w, http.StatusInternalServerError, "database_error", "failed to list low stock products")
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) Adjustments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.history.ListAdjustments(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", id).Msg("list adjustments")
		writeError(w, http.StatusInternalServerError, "database_error", "failed to list adjustments")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) Locations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.history.ListLocationHistory(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", id).Msg("list location history")
		writeError(w, http.StatusInternalServerError, "database_error", "failed to list location history")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

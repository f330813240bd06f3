// Package api serves the stored trips, the aggregate statistics and the
// anomaly audit over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/cache"
	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/trip"
)

// TripStore is the read side of the database used by the handlers
type TripStore interface {
	ListTrips(ctx context.Context, f database.TripFilter) ([]trip.Trip, error)
	GetTrip(ctx context.Context, id string) (*trip.Trip, error)
	Stats(ctx context.Context) (*database.Stats, error)
	ListHourlySummary(ctx context.Context) ([]database.HourlySummary, error)
	ListAnomalies(ctx context.Context, runID string, limit int) ([]database.AnomalyRecord, error)
}

// StatsCache holds computed statistics between requests
type StatsCache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Handler manages HTTP request handlers
type Handler struct {
	store   TripStore
	cache   StatsCache
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHandler creates a new HTTP handler. cache and metrics may be nil.
func NewHandler(store TripStore, statsCache StatsCache, logger *zap.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   store,
		cache:   statsCache,
		logger:  logger.Named("api"),
		metrics: metrics,
	}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/", h.Root).Methods("GET")

	router.HandleFunc("/api/trips", h.ListTrips).Methods("GET")
	router.HandleFunc("/api/trips/{id}", h.GetTrip).Methods("GET")

	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/api/stats/hourly", h.GetHourlyStats).Methods("GET")

	router.HandleFunc("/api/anomalies", h.ListAnomalies).Methods("GET")

	if h.metrics != nil {
		router.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "NYC Taxi Mobility API is running"})
}

// ListTrips handles GET /api/trips
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTripFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	trips, err := h.store.ListTrips(r.Context(), filter)
	if err != nil {
		h.internalError(w, "failed to list trips", err)
		return
	}

	respondJSON(w, http.StatusOK, trips)
}

// GetTrip handles GET /api/trips/{id}
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	t, err := h.store.GetTrip(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Trip not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to get trip", err)
		return
	}

	respondJSON(w, http.StatusOK, t)
}

// GetStats handles GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var stats database.Stats
	if h.cached(r.Context(), cache.KeyOverall, &stats) {
		respondJSON(w, http.StatusOK, stats)
		return
	}

	computed, err := h.store.Stats(r.Context())
	if err != nil {
		h.internalError(w, "failed to compute stats", err)
		return
	}

	h.remember(r.Context(), cache.KeyOverall, computed)
	respondJSON(w, http.StatusOK, computed)
}

// GetHourlyStats handles GET /api/stats/hourly
func (h *Handler) GetHourlyStats(w http.ResponseWriter, r *http.Request) {
	var rows []database.HourlySummary
	if h.cached(r.Context(), cache.KeyHourly, &rows) {
		respondJSON(w, http.StatusOK, rows)
		return
	}

	rows, err := h.store.ListHourlySummary(r.Context())
	if err != nil {
		h.internalError(w, "failed to list hourly summary", err)
		return
	}

	h.remember(r.Context(), cache.KeyHourly, rows)
	respondJSON(w, http.StatusOK, rows)
}

type anomalyResponse struct {
	database.AnomalyRecord
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ListAnomalies handles GET /api/anomalies
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.ListAnomalies(r.Context(), q.Get("run_id"), limit)
	if err != nil {
		h.internalError(w, "failed to list anomalies", err)
		return
	}

	resp := make([]anomalyResponse, len(rows))
	for i, row := range rows {
		resp[i] = anomalyResponse{AnomalyRecord: row}
		if len(row.Payload) > 0 {
			resp[i].Payload = json.RawMessage(row.Payload)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// cached reports whether key was found in the cache and decoded into dst.
// Cache errors are logged and treated as a miss.
func (h *Handler) cached(ctx context.Context, key string, dst interface{}) bool {
	if h.cache == nil {
		return false
	}

	hit, err := h.cache.Get(ctx, key, dst)
	if err != nil {
		h.logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		h.countLookup("error")
		return false
	}
	if hit {
		h.countLookup("hit")
	} else {
		h.countLookup("miss")
	}
	return hit
}

func (h *Handler) remember(ctx context.Context, key string, value interface{}) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, key, value); err != nil {
		h.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *Handler) countLookup(result string) {
	if h.metrics != nil {
		h.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

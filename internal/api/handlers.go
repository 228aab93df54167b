package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bus-arrivals/internal/headway"
	"bus-arrivals/internal/interp"
	"bus-arrivals/internal/transit"
)

// ArrivalRepository serves archived arrivals.
type ArrivalRepository interface {
	ArrivalsFor(ctx context.Context, routeID, stopID string) ([]transit.ArrivalEvent, error)
	Ping(ctx context.Context) error
}

// PositionSource serves interpolated positions from a running replay.
type PositionSource interface {
	Current() float64
	Snapshot(t float64) []interp.EntityPosition
}

type Handler struct {
	arrivals  ArrivalRepository
	positions PositionSource
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type ArrivalsResponse struct {
	RouteID  string                 `json:"routeId"`
	StopID   string                 `json:"stopId,omitempty"`
	Arrivals []transit.ArrivalEvent `json:"arrivals"`
	Count    int                    `json:"count"`
}

type HeadwaysResponse struct {
	RouteID string            `json:"routeId"`
	Stops   []headway.Summary `json:"stops"`
}

type PositionsResponse struct {
	Time      int64                   `json:"time"` // epoch ms
	Positions []interp.EntityPosition `json:"positions"`
	Count     int                     `json:"count"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"replay":    h.positions != nil,
	}
	status := http.StatusOK
	if h.arrivals != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.arrivals.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "error"
			body["database"] = "disconnected"
			body["error"] = err.Error()
		} else {
			body["database"] = "connected"
		}
	}
	writeJSON(w, status, body)
}

// GetArrivals handles GET /api/routes/{routeID}/arrivals?stop_id=
func (h *Handler) GetArrivals(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	stopID := r.URL.Query().Get("stop_id")
	if h.arrivals == nil {
		writeError(w, http.StatusServiceUnavailable, "arrival archive not configured", nil)
		return
	}
	events, err := h.arrivals.ArrivalsFor(r.Context(), routeID, stopID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve arrivals", map[string]any{
			"routeId":  routeID,
			"internal": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ArrivalsResponse{RouteID: routeID, StopID: stopID, Arrivals: events, Count: len(events)})
}

// GetHeadways handles GET /api/routes/{routeID}/headways
func (h *Handler) GetHeadways(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	if h.arrivals == nil {
		writeError(w, http.StatusServiceUnavailable, "arrival archive not configured", nil)
		return
	}
	events, err := h.arrivals.ArrivalsFor(r.Context(), routeID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve arrivals", map[string]any{
			"routeId":  routeID,
			"internal": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, HeadwaysResponse{RouteID: routeID, Stops: headway.ByStop(events)})
}

// GetPositions handles GET /api/positions?t=<epoch ms>. Without t the
// replay's current time is used.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if h.positions == nil {
		writeError(w, http.StatusServiceUnavailable, "replay not running", nil)
		return
	}
	t := h.positions.Current()
	if v := r.URL.Query().Get("t"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "t must be epoch milliseconds", map[string]any{"t": v})
			return
		}
		t = float64(ms)
	}
	positions := h.positions.Snapshot(t)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, PositionsResponse{Time: int64(t), Positions: positions, Count: len(positions)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

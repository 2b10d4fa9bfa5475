/*
handlers.go - HTTP handlers for the planning engine

PURPOSE:
  Exposes the engine's two operations over REST. Handles HTTP parsing,
  JSON serialization, identity extraction and error mapping; all domain
  logic lives in planning.Service.

ENDPOINTS:
  GET  /api/grid             Merged grid with rollups for a filter scope
  POST /api/grid/distribute  Aggregate edit write-back
  POST /api/seed             Demo dataset loader (dev only)
  GET  /api/health           Liveness

ERROR MAPPING:
  400  validation errors, unknown/uneditable rows
  409  concurrent edit conflicts
  504  query/write budget exceeded
  200  distributions, including PARTIAL failures - the report payload
       carries failed_keys and sum_invariant_held so partial results are
       explicit, never hidden behind a transport-level status
  200  grids over partially resolvable data - the payload's
       dropped_records field carries the excluded count
  500  everything else

IDENTITY:
  The engine does not authenticate. X-User-ID stamps audit fields on
  override writes; absent headers stamp "anonymous".

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
	"github.com/crest/planning-engine/planning"
)

// Handler holds all dependencies for HTTP handlers. Seed is optional and
// dev-only; when nil the seed endpoint 404s.
type Handler struct {
	Service *planning.Service
	Seed    func(r *http.Request) error
}

func NewHandler(service *planning.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// GRID
// =============================================================================

// GetGrid returns the merged grid for the scope in the query string.
// GET /api/grid?product=P1&customers=C1,C2&location=L1&unit=kg&from=2025-01-01&to=2025-12-31
func (h *Handler) GetGrid(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter scope", err)
		return
	}

	unit := engine.Unit(r.URL.Query().Get("unit"))
	if unit == "" {
		unit = engine.UnitBase
	}

	// Partial data still renders: the view covers the resolvable subset
	// and dropped_records carries the count.
	view, err := h.Service.Grid(r.Context(), scope, unit)
	if err != nil && !errors.Is(err, engine.ErrPartialData) {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toGridDTO(view))
}

func scopeFromQuery(r *http.Request) (engine.FilterScope, error) {
	q := r.URL.Query()
	scope := engine.FilterScope{
		Product:          engine.ProductID(q.Get("product")),
		Location:         engine.LocationKey(q.Get("location")),
		Brand:            q.Get("brand"),
		Category:         q.Get("category"),
		ResolvedLocation: engine.LocationKey(q.Get("resolved_location")),
	}
	if customers := q.Get("customers"); customers != "" {
		for _, c := range strings.Split(customers, ",") {
			if c = strings.TrimSpace(c); c != "" {
				scope.Customers = append(scope.Customers, engine.CustomerKey(c))
			}
		}
	}
	var err error
	if scope.Range.From, err = parseDateParam(q.Get("from")); err != nil {
		return scope, err
	}
	if scope.Range.To, err = parseDateParam(q.Get("to")); err != nil {
		return scope, err
	}
	return scope, nil
}

func parseDateParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// PostDistribute executes an aggregate edit.
// POST /api/grid/distribute
func (h *Handler) PostDistribute(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	scope, err := scopeFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter scope", err)
		return
	}

	newValue, err := decimal.NewFromString(req.NewValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new_value", err)
		return
	}

	edit := engine.DistributionEdit{
		Row:      engine.RowType(req.Row),
		Period:   engine.PeriodLabel(req.Period),
		NewValue: newValue,
	}
	for _, k := range req.Keys {
		edit.Keys = append(edit.Keys, engine.SeriesKey{
			Customer: engine.CustomerKey(k.Customer),
			Product:  engine.ProductID(k.Product),
		})
	}

	identity := engine.Identity{UserID: r.Header.Get("X-User-ID")}
	if identity.UserID == "" {
		identity.UserID = "anonymous"
	}

	report, err := h.Service.Distribute(r.Context(), identity, scope, edit)
	if err != nil && !errors.Is(err, engine.ErrDistribution) {
		writeEngineError(w, err)
		return
	}

	// Partial failure still returns the report: failed_keys and
	// sum_invariant_held tell the caller exactly what committed.
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// HEALTH + SEED
// =============================================================================

// GetHealth is the liveness endpoint.
// GET /api/health
func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostSeed loads the demo dataset when a seeder is wired (dev only).
// POST /api/seed
func (h *Handler) PostSeed(w http.ResponseWriter, r *http.Request) {
	if h.Seed == nil {
		writeError(w, http.StatusNotFound, "Seeding not enabled", nil)
		return
	}
	if err := h.Seed(r); err != nil {
		writeError(w, http.StatusInternalServerError, "Seed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent edit conflict; retry with fresh data", err)
	case errors.Is(err, engine.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "Operation timed out; narrow the scope", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

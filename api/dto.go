/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP surface. These decouple the internal
  domain model from the external contract; decimals cross the wire as
  strings so no precision is lost in transit.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
	"github.com/crest/planning-engine/planning"
)

// =============================================================================
// GRID RESPONSES
// =============================================================================

// RollupDTO carries the three rollups for one row.
type RollupDTO struct {
	YTD   string `json:"ytd"`
	YTG   string `json:"ytg"`
	Total string `json:"total"`
}

// SeriesRowDTO is one detail row of the grid.
type SeriesRowDTO struct {
	Customer string            `json:"customer"`
	Product  string            `json:"product"`
	Row      string            `json:"row"`
	Values   map[string]string `json:"values"`
	Rollup   RollupDTO         `json:"rollup"`
}

// AggregateRowDTO is one "all series in scope" row.
type AggregateRowDTO struct {
	Row    string            `json:"row"`
	Values map[string]string `json:"values"`
	Rollup RollupDTO         `json:"rollup"`
}

// SeriesKeyDTO identifies one contributing series.
type SeriesKeyDTO struct {
	Customer string `json:"customer"`
	Product  string `json:"product"`
}

// GridDTO is the full grid response.
type GridDTO struct {
	Unit       string            `json:"unit"`
	ActiveYear int               `json:"active_year"`
	Periods    []string          `json:"periods"`
	Rows       []SeriesRowDTO    `json:"rows"`
	Aggregates []AggregateRowDTO `json:"aggregates"`
	Keys       []SeriesKeyDTO    `json:"contributing_keys"`
	Dropped    int               `json:"dropped_records"`
}

func toGridDTO(view *planning.GridView) GridDTO {
	dto := GridDTO{
		Unit:       string(view.Unit),
		ActiveYear: view.ActiveYear,
		Dropped:    view.Dropped,
		Periods:    make([]string, len(view.Periods)),
		Rows:       make([]SeriesRowDTO, len(view.Rows)),
		Aggregates: make([]AggregateRowDTO, len(view.Aggregates)),
		Keys:       make([]SeriesKeyDTO, len(view.Keys)),
	}
	for i, p := range view.Periods {
		dto.Periods[i] = string(p)
	}
	for i, row := range view.Rows {
		dto.Rows[i] = SeriesRowDTO{
			Customer: string(row.Key.Customer),
			Product:  string(row.Key.Product),
			Row:      string(row.Row),
			Values:   valuesToDTO(row.Values),
			Rollup:   rollupToDTO(row.Rollup),
		}
	}
	for i, agg := range view.Aggregates {
		dto.Aggregates[i] = AggregateRowDTO{
			Row:    string(agg.Row),
			Values: valuesToDTO(agg.Values),
			Rollup: rollupToDTO(agg.Rollup),
		}
	}
	for i, key := range view.Keys {
		dto.Keys[i] = SeriesKeyDTO{Customer: string(key.Customer), Product: string(key.Product)}
	}
	return dto
}

func valuesToDTO(values map[engine.PeriodLabel]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(values))
	for p, v := range values {
		out[string(p)] = v.String()
	}
	return out
}

func rollupToDTO(r engine.RollupResult) RollupDTO {
	return RollupDTO{YTD: r.YTD.String(), YTG: r.YTG.String(), Total: r.Total.String()}
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// DistributeRequest is an aggregate edit from the client.
type DistributeRequest struct {
	Row      string         `json:"row"`
	Period   string         `json:"period"`
	NewValue string         `json:"new_value"`
	Keys     []SeriesKeyDTO `json:"contributing_keys"`
}

// DistributionReportDTO mirrors engine.DistributionReport. The sum
// invariant flag is part of the contract: clients must see partial
// failures, not infer them.
type DistributionReportDTO struct {
	BatchID          string         `json:"batch_id"`
	RecordsAttempted int            `json:"records_attempted"`
	RecordsSucceeded int            `json:"records_succeeded"`
	FailedKeys       []SeriesKeyDTO `json:"failed_keys"`
	SumInvariantHeld bool           `json:"sum_invariant_held"`
}

func toReportDTO(r engine.DistributionReport) DistributionReportDTO {
	dto := DistributionReportDTO{
		BatchID:          r.BatchID,
		RecordsAttempted: r.RecordsAttempted,
		RecordsSucceeded: r.RecordsSucceeded,
		SumInvariantHeld: r.SumInvariantHeld,
		FailedKeys:       make([]SeriesKeyDTO, len(r.FailedKeys)),
	}
	for i, k := range r.FailedKeys {
		dto.FailedKeys[i] = SeriesKeyDTO{Customer: string(k.Customer), Product: string(k.Product)}
	}
	return dto
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

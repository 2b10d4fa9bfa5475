/*
Package engine provides the forecast reconciliation and distribution core.

PURPOSE:
  This package contains the domain types and algorithms for merging
  multiple demand time-series sources (statistical forecast, sales plan,
  commercial overrides, actuals) into one canonical per-period view,
  rolling it up under unit-conversion multipliers, and redistributing
  aggregate-level edits back across the granular records that compose
  them.

KEY CONCEPTS IN THIS FILE (types.go):
  - SeriesKey: (customer, product) tuple identifying one logical series
  - ForecastRecord: externally produced forecast row, read-only here
  - OverrideRecord: human/engine owned manual corrections
  - FilterScope: immutable description of the active query context
  - MergedSeries: derived per-key, per-period view (request-scoped)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all metric values, never float64
  2. Purity: merge and rollup are pure functions of their inputs
  3. Explicit scope: FilterScope is passed by value into every call;
     there is no ambient filter state
  4. Presence over zero: optional source fields use decimal.NullDecimal
     so "never edited" and "edited to zero" stay distinguishable

SEE ALSO:
  - merge.go: multi-source merge with field precedence
  - rollup.go: YTD/YTG/Total with zero suppression
  - distribute.go: aggregate edit write-back
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerKey string
type ProductID string
type LocationKey string

// SeriesKey identifies one logical time series in the merged view.
// Location is intentionally absent: the merged grid is keyed by
// (customer, product); location is resolved only at write time.
type SeriesKey struct {
	Customer CustomerKey
	Product  ProductID
}

func (k SeriesKey) String() string {
	return string(k.Customer) + "/" + string(k.Product)
}

// CompositeKey is the full storage key of one override row.
type CompositeKey struct {
	Customer CustomerKey
	Product  ProductID
	Location LocationKey
}

func (k CompositeKey) Series() SeriesKey {
	return SeriesKey{Customer: k.Customer, Product: k.Product}
}

// =============================================================================
// UNITS - Display/conversion units for rollups
// =============================================================================

type Unit string

const (
	// UnitBase is already expressed in target units; no multiplier applies.
	UnitBase Unit = "units"

	// UnitKG converts via the product's kilogram multiplier.
	UnitKG Unit = "kg"

	// UnitRevenue converts via the product's price multiplier.
	UnitRevenue Unit = "revenue"
)

// UnitMultipliers holds the per-product conversion factors.
// Unknown products resolve to zero multipliers, which degrades rollups
// to zero rather than failing (see attributes.go and the zero-suppression
// rule in rollup.go).
type UnitMultipliers struct {
	KG      decimal.Decimal
	Revenue decimal.Decimal
}

// For returns the multiplier for a unit and whether one applies at all.
// UnitBase needs no conversion.
func (m UnitMultipliers) For(unit Unit) (decimal.Decimal, bool) {
	switch unit {
	case UnitKG:
		return m.KG, true
	case UnitRevenue:
		return m.Revenue, true
	default:
		return decimal.NewFromInt(1), false
	}
}

// =============================================================================
// SOURCE RECORDS
// =============================================================================

// ForecastRecord is one row of the upstream forecasting pipeline, keyed by
// (product, customer, location, period date). The engine reads every field;
// it writes only DemandPlanner.
type ForecastRecord struct {
	Product  ProductID
	Customer CustomerKey
	Location LocationKey
	Date     time.Time

	Forecast                decimal.Decimal
	Actual                  decimal.Decimal
	SalesPlan               decimal.Decimal
	DemandPlanner           decimal.Decimal
	ForecastLastYear        decimal.Decimal
	ApprovedCommercialInput decimal.Decimal
	UpperBound              decimal.Decimal
	LowerBound              decimal.Decimal
	FittedHistory           decimal.Decimal

	// DaysOfSupply is a time-based metric: a day count, never subject to
	// unit conversion (see the exemption list in rows.go).
	DaysOfSupply decimal.Decimal
}

// OverrideRecord carries the manual corrections for one composite key and
// period. Created on first commercial write for a key, updated thereafter,
// jointly owned by human reviewers and the distribution engine.
type OverrideRecord struct {
	ID       string
	Product  ProductID
	Customer CustomerKey
	Location LocationKey
	Date     time.Time

	// ManagerOverride is the highest-priority manual forecast.
	// Null until a key account manager first touches the row.
	ManagerOverride decimal.NullDecimal

	// CommercialInput is the reviewer-entered forecast, below the
	// manager override in precedence.
	CommercialInput decimal.NullDecimal

	// Gap is derived elsewhere; carried through untouched.
	Gap decimal.Decimal

	// Audit fields stamped on every engine write.
	ReviewedBy string
	ReviewedAt time.Time

	// Version supports optimistic concurrency on upserts.
	Version int64
}

// =============================================================================
// FILTER SCOPE - Immutable query context
// =============================================================================

// FilterScope describes the active slice of the plan. A zero-value scope is
// invalid for queries: at least one of Product, Customers, Location or Brand
// must be set (see planning.Service).
//
// ResolvedLocation is the location implied by a brand/category filter when
// the upstream catalog has already narrowed it down; the location resolution
// chain consults it before falling back to override history.
type FilterScope struct {
	Product   ProductID
	Location  LocationKey
	Customers []CustomerKey
	Brand     string
	Category  string

	ResolvedLocation LocationKey

	Range DateRange
}

// IsEmpty reports whether the scope constrains nothing at all.
func (s FilterScope) IsEmpty() bool {
	return s.Product == "" && s.Location == "" && len(s.Customers) == 0 &&
		s.Brand == "" && s.Category == ""
}

// WantsCustomer reports whether the scope includes the given customer.
// An empty customer list means "all customers".
func (s FilterScope) WantsCustomer(c CustomerKey) bool {
	if len(s.Customers) == 0 {
		return true
	}
	for _, want := range s.Customers {
		if want == c {
			return true
		}
	}
	return false
}

// =============================================================================
// MERGED SERIES - Derived, request-scoped view
// =============================================================================

// PeriodBucket is the metric bundle for one canonical period of one series.
// Buckets are created lazily; a period present in only one source still
// produces a bucket with zeros for the other source's fields.
type PeriodBucket struct {
	CalculatedForecast      decimal.Decimal
	ManagerAdjustment       decimal.Decimal
	EffectiveForecast       decimal.Decimal
	ApprovedCommercialInput decimal.Decimal
	ActualValue             decimal.Decimal
	DaysOfSupply            decimal.Decimal

	// Presence flags for precedence resolution; set during merge,
	// consumed by finalize.
	managerSet      bool
	commercialSet   bool
	commercialInput decimal.Decimal
}

// MergedSeries is the canonical per-period view for one (customer, product).
// Rebuilt on every query; never cached across requests.
type MergedSeries struct {
	Key     SeriesKey
	Periods map[PeriodLabel]*PeriodBucket
}

// Bucket returns the bucket for a period, creating it lazily.
func (s *MergedSeries) Bucket(p PeriodLabel) *PeriodBucket {
	b, ok := s.Periods[p]
	if !ok {
		b = &PeriodBucket{}
		s.Periods[p] = b
	}
	return b
}

// Labels returns the series' period labels in canonical chronological order.
func (s *MergedSeries) Labels() []PeriodLabel {
	labels := make([]PeriodLabel, 0, len(s.Periods))
	for p := range s.Periods {
		labels = append(labels, p)
	}
	SortLabels(labels)
	return labels
}

// =============================================================================
// DISTRIBUTION EDIT - Transient write-back operation
// =============================================================================

// DistributionEdit is an edit made on an aggregate value: the caller saw the
// sum of Keys' values for Period and typed NewValue over it. Keys must be
// the exact set of series visible under the current filter scope.
type DistributionEdit struct {
	Row      RowType
	Period   PeriodLabel
	NewValue decimal.Decimal
	Keys     []SeriesKey
}

// DistributionReport is the outcome of one distribution.
// SumInvariantHeld is false whenever FailedKeys is non-empty: the persisted
// sum no longer equals NewValue and the caller must be told so.
type DistributionReport struct {
	BatchID          string
	RecordsAttempted int
	RecordsSucceeded int
	FailedKeys       []SeriesKey
	SumInvariantHeld bool
}

// Identity stamps audit fields on override writes. The engine does not
// authenticate; it trusts the caller's identity context.
type Identity struct {
	UserID string
}

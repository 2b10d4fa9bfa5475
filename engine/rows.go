/*
rows.go - The RowType table: one definition of row semantics

PURPOSE:
  Every row the dashboard shows maps to exactly one metric field of the
  period bucket. This table is the single source of that mapping and is
  consumed by BOTH the rollup calculator (read path) and the distribution
  engine (write path), so row semantics cannot silently diverge between
  display and write-back.

RULES ENCODED HERE:
  - Selector: which bucket field a row reads. Rollups for a given row use
    exactly one field path; rows are never summed across metrics.
  - Editable: only rows backed by an override field accept aggregate edits.
  - TimeBased: day-count rows are NEVER unit-converted, regardless of the
    requested unit. This is an explicit exemption list, not something
    inferred from unit names.

SEE ALSO:
  - rollup.go: read-path consumer
  - distribute.go: write-path consumer
*/
package engine

import "github.com/shopspring/decimal"

// RowType names one row of the planning grid.
type RowType string

const (
	RowCalculatedForecast RowType = "calculated_forecast"
	RowManagerAdjustment  RowType = "manager_adjustment"
	RowEffectiveForecast  RowType = "effective_forecast"
	RowApprovedInput      RowType = "approved_commercial_input"
	RowActuals            RowType = "actuals"
	RowDaysOfSupply       RowType = "days_of_supply"
)

// OverrideField names the override-record field a write lands on.
type OverrideField string

const (
	FieldManagerOverride OverrideField = "manager_override"
	FieldCommercialInput OverrideField = "commercial_input"
)

type rowSpec struct {
	Selector  func(*PeriodBucket) decimal.Decimal
	Editable  bool
	Target    OverrideField // meaningful only when Editable
	TimeBased bool
}

var rowTable = map[RowType]rowSpec{
	RowCalculatedForecast: {
		Selector: func(b *PeriodBucket) decimal.Decimal { return b.CalculatedForecast },
	},
	RowManagerAdjustment: {
		Selector: func(b *PeriodBucket) decimal.Decimal { return b.ManagerAdjustment },
		Editable: true,
		Target:   FieldManagerOverride,
	},
	RowEffectiveForecast: {
		Selector: func(b *PeriodBucket) decimal.Decimal { return b.EffectiveForecast },
	},
	RowApprovedInput: {
		Selector: func(b *PeriodBucket) decimal.Decimal { return b.ApprovedCommercialInput },
	},
	RowActuals: {
		Selector: func(b *PeriodBucket) decimal.Decimal { return b.ActualValue },
	},
	RowDaysOfSupply: {
		Selector:  func(b *PeriodBucket) decimal.Decimal { return b.DaysOfSupply },
		TimeBased: true,
	},
}

// AllRows lists every row type in display order.
func AllRows() []RowType {
	return []RowType{
		RowCalculatedForecast,
		RowManagerAdjustment,
		RowEffectiveForecast,
		RowApprovedInput,
		RowActuals,
		RowDaysOfSupply,
	}
}

// RowSelector returns the field selector for a row.
// Unknown rows return (nil, false); callers must treat that as a
// validation failure, never default to some other field.
func RowSelector(row RowType) (func(*PeriodBucket) decimal.Decimal, bool) {
	spec, ok := rowTable[row]
	if !ok {
		return nil, false
	}
	return spec.Selector, true
}

// RowEditTarget returns the override field an editable row writes to.
func RowEditTarget(row RowType) (OverrideField, bool) {
	spec, ok := rowTable[row]
	if !ok || !spec.Editable {
		return "", false
	}
	return spec.Target, true
}

// RowIsTimeBased reports whether a row is on the unit-conversion
// exemption list.
func RowIsTimeBased(row RowType) bool {
	return rowTable[row].TimeBased
}

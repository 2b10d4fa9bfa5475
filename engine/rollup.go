/*
rollup.go - YTD / YTG / Total rollups with zero suppression

PURPOSE:
  Computes the three rollups for one merged series, one row, one unit:

    YTD   = sum of the row across ALL periods in the active year
    YTG   = sum of the row across the TRAILING 3 periods, by canonical
            chronological order (not insertion order)
    Total = YTD + YTG

ZERO SUPPRESSION:
  Each window's sum is first taken in raw units. If that raw sum is
  exactly zero, the rollup is zero and the multiplier is never applied -
  a nonzero multiplier alone must not fabricate nonzero output.

CONVERSION ORDER:
  When a unit requires conversion, each per-period value is multiplied
  BEFORE summing, not after. Time-based rows (day counts) are exempt from
  conversion entirely; see the exemption list in rows.go.

CROSS-SERIES AGGREGATION:
  "All customers" rollups sum each series' own YTD/YTG/Total and then sum
  those results. Summing raw values across series and multiplying once
  would be wrong: different series carry different multipliers.
*/
package engine

import "github.com/shopspring/decimal"

// YTGWindow is the number of trailing periods in the year-to-go rollup.
const YTGWindow = 3

// RollupResult holds the three rollups for one series/row/unit combination.
type RollupResult struct {
	YTD   decimal.Decimal
	YTG   decimal.Decimal
	Total decimal.Decimal
}

// Rollup computes YTD/YTG/Total for one series. activeYear selects the
// YTD window; mult carries the product's conversion factors.
func Rollup(series *MergedSeries, row RowType, unit Unit, mult UnitMultipliers, activeYear int) (RollupResult, error) {
	sel, ok := RowSelector(row)
	if !ok {
		return RollupResult{}, ErrUnknownRow
	}

	labels := series.Labels()

	var ytdLabels []PeriodLabel
	for _, l := range labels {
		if YearOf(l) == activeYear {
			ytdLabels = append(ytdLabels, l)
		}
	}

	ytgLabels := labels
	if len(ytgLabels) > YTGWindow {
		ytgLabels = ytgLabels[len(ytgLabels)-YTGWindow:]
	}

	ytd := windowSum(series, sel, ytdLabels, row, unit, mult)
	ytg := windowSum(series, sel, ytgLabels, row, unit, mult)

	return RollupResult{YTD: ytd, YTG: ytg, Total: ytd.Add(ytg)}, nil
}

// windowSum applies the zero-suppression rule: raw sum first, and only a
// nonzero raw sum earns a converted result.
func windowSum(series *MergedSeries, sel func(*PeriodBucket) decimal.Decimal, labels []PeriodLabel, row RowType, unit Unit, mult UnitMultipliers) decimal.Decimal {
	raw := decimal.Zero
	converted := decimal.Zero

	factor, needsConversion := mult.For(unit)
	if RowIsTimeBased(row) {
		needsConversion = false
	}

	for _, l := range labels {
		v := sel(series.Periods[l])
		raw = raw.Add(v)
		if needsConversion {
			converted = converted.Add(v.Mul(factor))
		} else {
			converted = converted.Add(v)
		}
	}

	if raw.IsZero() {
		return decimal.Zero
	}
	return converted
}

// AggregateRollup sums per-series rollups across many series, resolving
// each series' own multipliers from the attribute resolver.
func AggregateRollup(series []*MergedSeries, row RowType, unit Unit, resolver *AttributeResolver, activeYear int) (RollupResult, error) {
	var total RollupResult
	for _, s := range series {
		r, err := Rollup(s, row, unit, resolver.Resolve(s.Key.Product), activeYear)
		if err != nil {
			return RollupResult{}, err
		}
		total.YTD = total.YTD.Add(r.YTD)
		total.YTG = total.YTG.Add(r.YTG)
		total.Total = total.Total.Add(r.Total)
	}
	return total, nil
}

// AggregatePeriod returns the raw (unconverted) sum of one row across many
// series for a single period. This is the number an aggregate edit is typed
// over; keeping it raw keeps the write path precision-safe.
func AggregatePeriod(series []*MergedSeries, row RowType, period PeriodLabel) (decimal.Decimal, error) {
	sel, ok := RowSelector(row)
	if !ok {
		return decimal.Zero, ErrUnknownRow
	}
	sum := decimal.Zero
	for _, s := range series {
		if b, ok := s.Periods[period]; ok {
			sum = sum.Add(sel(b))
		}
	}
	return sum, nil
}

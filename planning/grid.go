package planning

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
)

// =============================================================================
// GRID VIEW - Row-oriented presentation of the merged series
// =============================================================================

// SeriesRow is one row of the grid: one (customer, product) series, one
// row type, with per-period values and the three rollups.
type SeriesRow struct {
	Key    engine.SeriesKey
	Row    engine.RowType
	Values map[engine.PeriodLabel]decimal.Decimal
	Rollup engine.RollupResult
}

// AggregateRow is the "all series in scope" line the dashboard shows above
// the detail rows; this is the value aggregate edits are typed over.
type AggregateRow struct {
	Row    engine.RowType
	Values map[engine.PeriodLabel]decimal.Decimal
	Rollup engine.RollupResult
}

// GridView is the full response for one grid query.
type GridView struct {
	Unit       engine.Unit
	ActiveYear int
	Periods    []engine.PeriodLabel
	Rows       []SeriesRow
	Aggregates []AggregateRow

	// Keys is the contributing-key set of this view, in deterministic
	// order. A subsequent aggregate edit must send exactly this set back.
	Keys []engine.SeriesKey

	// Dropped counts records that could not be attributed to a customer.
	Dropped int
}

func buildGrid(merged engine.MergeResult, resolver *engine.AttributeResolver, unit engine.Unit, activeYear int) (*GridView, error) {
	view := &GridView{Unit: unit, ActiveYear: activeYear, Dropped: merged.Dropped}

	seriesList := make([]*engine.MergedSeries, 0, len(merged.Series))
	for _, s := range merged.Series {
		seriesList = append(seriesList, s)
	}
	sort.Slice(seriesList, func(i, j int) bool {
		a, b := seriesList[i].Key, seriesList[j].Key
		if a.Customer != b.Customer {
			return a.Customer < b.Customer
		}
		return a.Product < b.Product
	})

	periodSet := make(map[engine.PeriodLabel]bool)
	for _, s := range seriesList {
		view.Keys = append(view.Keys, s.Key)
		for _, l := range s.Labels() {
			periodSet[l] = true
		}
	}
	for l := range periodSet {
		view.Periods = append(view.Periods, l)
	}
	engine.SortLabels(view.Periods)

	for _, s := range seriesList {
		mult := resolver.Resolve(s.Key.Product)
		for _, row := range engine.AllRows() {
			sel, _ := engine.RowSelector(row)
			values := make(map[engine.PeriodLabel]decimal.Decimal, len(s.Periods))
			for label, bucket := range s.Periods {
				values[label] = sel(bucket)
			}
			rollup, err := engine.Rollup(s, row, unit, mult, activeYear)
			if err != nil {
				return nil, err
			}
			view.Rows = append(view.Rows, SeriesRow{
				Key:    s.Key,
				Row:    row,
				Values: values,
				Rollup: rollup,
			})
		}
	}

	for _, row := range engine.AllRows() {
		values := make(map[engine.PeriodLabel]decimal.Decimal, len(view.Periods))
		for _, label := range view.Periods {
			sum, err := engine.AggregatePeriod(seriesList, row, label)
			if err != nil {
				return nil, err
			}
			values[label] = sum
		}
		rollup, err := engine.AggregateRollup(seriesList, row, unit, resolver, activeYear)
		if err != nil {
			return nil, err
		}
		view.Aggregates = append(view.Aggregates, AggregateRow{
			Row:    row,
			Values: values,
			Rollup: rollup,
		})
	}

	return view, nil
}

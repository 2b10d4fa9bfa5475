/*
merge.go - Multi-source record merge

PURPOSE:
  Combines forecast-source and override-source records, already filtered to
  the active scope, into one MergedSeries per (customer, product), keyed by
  canonical period label.

FIELD PRECEDENCE:
  calculated_forecast       = sum of forecast across rows in the bucket
  manager_adjustment        = sum of manager_override across rows that
                              carry one (several locations can land in
                              the same bucket), else 0
  effective_forecast        = manager_adjustment, else commercial_input,
                              else forecast - first match wins, never averaged
  approved_commercial_input = summed independently of effective_forecast
  actual_value              = actual; NO fallback to forecast when absent
                              ("no data yet" must not read as "predicted")

GUARANTEES:
  - Pure function of its inputs; no side effects
  - Deterministic: same inputs produce identical output
  - A record with an empty customer key is dropped and counted, never
    aggregated into a wrong bucket
*/
package engine

// MergeResult is the outcome of one merge pass. Dropped counts records
// that could not be attributed to a customer; callers surface it as a
// PartialDataError when non-zero.
type MergeResult struct {
	Series  map[SeriesKey]*MergedSeries
	Dropped int
}

// Merge builds the canonical per-period view from both sources. Records
// outside rng are skipped silently (they are filtered, not broken).
func Merge(forecasts []ForecastRecord, overrides []OverrideRecord, rng DateRange) MergeResult {
	out := MergeResult{Series: make(map[SeriesKey]*MergedSeries)}

	bucketFor := func(customer CustomerKey, product ProductID, label PeriodLabel) *PeriodBucket {
		key := SeriesKey{Customer: customer, Product: product}
		series, ok := out.Series[key]
		if !ok {
			series = &MergedSeries{Key: key, Periods: make(map[PeriodLabel]*PeriodBucket)}
			out.Series[key] = series
		}
		return series.Bucket(label)
	}

	for _, rec := range forecasts {
		if rec.Customer == "" {
			out.Dropped++
			continue
		}
		if !rng.InRange(rec.Date) {
			continue
		}
		b := bucketFor(rec.Customer, rec.Product, LabelFor(rec.Date))
		b.CalculatedForecast = b.CalculatedForecast.Add(rec.Forecast)
		b.ApprovedCommercialInput = b.ApprovedCommercialInput.Add(rec.ApprovedCommercialInput)
		b.ActualValue = b.ActualValue.Add(rec.Actual)
		b.DaysOfSupply = b.DaysOfSupply.Add(rec.DaysOfSupply)
	}

	for _, rec := range overrides {
		if rec.Customer == "" {
			out.Dropped++
			continue
		}
		if !rng.InRange(rec.Date) {
			continue
		}
		// A series can hold override rows at several locations for the same
		// period. They sum into the bucket, like the forecast-side fields:
		// the merged aggregate then always equals the persisted per-row sum,
		// independent of the order the store returned the rows in.
		b := bucketFor(rec.Customer, rec.Product, LabelFor(rec.Date))
		if rec.ManagerOverride.Valid {
			b.ManagerAdjustment = b.ManagerAdjustment.Add(rec.ManagerOverride.Decimal)
			b.managerSet = true
		}
		if rec.CommercialInput.Valid {
			b.commercialInput = b.commercialInput.Add(rec.CommercialInput.Decimal)
			b.commercialSet = true
		}
	}

	// Resolve effective_forecast per bucket now that both sources landed.
	for _, series := range out.Series {
		for _, b := range series.Periods {
			switch {
			case b.managerSet:
				b.EffectiveForecast = b.ManagerAdjustment
			case b.commercialSet:
				b.EffectiveForecast = b.commercialInput
			default:
				b.EffectiveForecast = b.CalculatedForecast
			}
		}
	}

	return out
}

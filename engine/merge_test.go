package engine_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func nd(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func jan(day int) time.Time {
	return time.Date(2025, time.January, day, 0, 0, 0, 0, time.UTC)
}

func forecastRec(customer, product string, date time.Time, forecast float64) engine.ForecastRecord {
	return engine.ForecastRecord{
		Product:  engine.ProductID(product),
		Customer: engine.CustomerKey(customer),
		Location: "L1",
		Date:     date,
		Forecast: d(forecast),
	}
}

func bucketOf(t *testing.T, result engine.MergeResult, customer, product string, period engine.PeriodLabel) *engine.PeriodBucket {
	t.Helper()
	series, ok := result.Series[engine.SeriesKey{Customer: engine.CustomerKey(customer), Product: engine.ProductID(product)}]
	if !ok {
		t.Fatalf("no series for %s/%s", customer, product)
	}
	bucket, ok := series.Periods[period]
	if !ok {
		t.Fatalf("no bucket for %s/%s @ %s", customer, product, period)
	}
	return bucket
}

// =============================================================================
// FIELD PRECEDENCE
// =============================================================================

func TestMerge_EffectiveForecast_FallsBackToForecast(t *testing.T) {
	// GIVEN: forecast=100, no commercial input, no manager override
	// THEN:  effective_forecast = 100
	result := engine.Merge(
		[]engine.ForecastRecord{forecastRec("C1", "P1", jan(1), 100)},
		nil, engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.EffectiveForecast.Equal(d(100)) {
		t.Errorf("effective = %v, want 100", b.EffectiveForecast)
	}
}

func TestMerge_EffectiveForecast_CommercialInputBeatsForecast(t *testing.T) {
	// GIVEN: forecast=100, commercial_input=80, manager_override absent
	// THEN:  effective_forecast = 80
	result := engine.Merge(
		[]engine.ForecastRecord{forecastRec("C1", "P1", jan(1), 100)},
		[]engine.OverrideRecord{{
			Product: "P1", Customer: "C1", Location: "L1", Date: jan(1),
			CommercialInput: nd(80),
		}},
		engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.EffectiveForecast.Equal(d(80)) {
		t.Errorf("effective = %v, want 80", b.EffectiveForecast)
	}
}

func TestMerge_EffectiveForecast_ManagerOverrideBeatsEverything(t *testing.T) {
	// GIVEN: forecast=100, commercial_input=80, manager_override=50
	// THEN:  effective_forecast = 50; first match wins, never averaged
	result := engine.Merge(
		[]engine.ForecastRecord{forecastRec("C1", "P1", jan(1), 100)},
		[]engine.OverrideRecord{{
			Product: "P1", Customer: "C1", Location: "L1", Date: jan(1),
			ManagerOverride: nd(50),
			CommercialInput: nd(80),
		}},
		engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.EffectiveForecast.Equal(d(50)) {
		t.Errorf("effective = %v, want 50", b.EffectiveForecast)
	}
	if !b.ManagerAdjustment.Equal(d(50)) {
		t.Errorf("manager_adjustment = %v, want 50", b.ManagerAdjustment)
	}
}

func TestMerge_ManagerOverrideOfZero_IsStillAnOverride(t *testing.T) {
	// Edited-to-zero must not read as never-edited.
	result := engine.Merge(
		[]engine.ForecastRecord{forecastRec("C1", "P1", jan(1), 100)},
		[]engine.OverrideRecord{{
			Product: "P1", Customer: "C1", Location: "L1", Date: jan(1),
			ManagerOverride: nd(0),
		}},
		engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.EffectiveForecast.IsZero() {
		t.Errorf("effective = %v, want 0 (explicit zero override)", b.EffectiveForecast)
	}
}

// =============================================================================
// BUCKET CONSTRUCTION
// =============================================================================

func TestMerge_LazyBuckets_MissingSourceFieldsAreZero(t *testing.T) {
	// A period present only in the override source still produces a full
	// bucket, with zeros for the forecast-side fields.
	result := engine.Merge(nil,
		[]engine.OverrideRecord{{
			Product: "P1", Customer: "C1", Location: "L1",
			Date:            time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			ManagerOverride: nd(42),
		}},
		engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "mar-25")
	if !b.CalculatedForecast.IsZero() || !b.ActualValue.IsZero() || !b.ApprovedCommercialInput.IsZero() {
		t.Error("forecast-side fields should be zero in an override-only bucket")
	}
	if !b.EffectiveForecast.Equal(d(42)) {
		t.Errorf("effective = %v, want 42", b.EffectiveForecast)
	}
}

func TestMerge_SameBucketSumsAcrossSourceRows(t *testing.T) {
	// Two forecast rows landing in the same period bucket sum.
	result := engine.Merge(
		[]engine.ForecastRecord{
			forecastRec("C1", "P1", jan(1), 60),
			forecastRec("C1", "P1", jan(15), 40),
		},
		nil, engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.CalculatedForecast.Equal(d(100)) {
		t.Errorf("calculated = %v, want 100", b.CalculatedForecast)
	}
}

func TestMerge_ActualAbsent_NoFallbackToForecast(t *testing.T) {
	// "No data yet" must not read as "predicted value".
	result := engine.Merge(
		[]engine.ForecastRecord{forecastRec("C1", "P1", jan(1), 100)},
		nil, engine.DateRange{})

	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.ActualValue.IsZero() {
		t.Errorf("actual = %v, want 0 when source actual is absent", b.ActualValue)
	}
}

func TestMerge_UnresolvableCustomer_DroppedAndCounted(t *testing.T) {
	result := engine.Merge(
		[]engine.ForecastRecord{
			forecastRec("C1", "P1", jan(1), 100),
			forecastRec("", "P1", jan(1), 999), // no customer key
		},
		[]engine.OverrideRecord{
			{Product: "P1", Customer: "", Location: "L1", Date: jan(1), ManagerOverride: nd(7)},
		},
		engine.DateRange{})

	if result.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", result.Dropped)
	}
	if len(result.Series) != 1 {
		t.Errorf("series count = %d, want 1", len(result.Series))
	}
	b := bucketOf(t, result, "C1", "P1", "jan-25")
	if !b.CalculatedForecast.Equal(d(100)) {
		t.Errorf("dropped record leaked into a bucket: calculated = %v", b.CalculatedForecast)
	}
}

func TestMerge_DateRangeFilters(t *testing.T) {
	from := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	result := engine.Merge(
		[]engine.ForecastRecord{
			forecastRec("C1", "P1", jan(1), 100),
			forecastRec("C1", "P1", time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), 30),
		},
		nil, engine.DateRange{From: &from})

	series := result.Series[engine.SeriesKey{Customer: "C1", Product: "P1"}]
	if series == nil {
		t.Fatal("expected series for C1/P1")
	}
	if _, ok := series.Periods["jan-25"]; ok {
		t.Error("jan-25 should have been filtered out")
	}
	if _, ok := series.Periods["mar-25"]; !ok {
		t.Error("mar-25 should have survived the filter")
	}
}

// =============================================================================
// DETERMINISM
// =============================================================================

func TestMerge_OverridesAcrossLocations_SumOrderIndependently(t *testing.T) {
	// One series, same period, override rows at two locations. The bucket
	// must carry their sum, whichever order the store returned them in.
	rows := []engine.OverrideRecord{
		{Product: "P1", Customer: "C1", Location: "L1", Date: jan(1),
			ManagerOverride: nd(10), CommercialInput: nd(3)},
		{Product: "P1", Customer: "C1", Location: "L2", Date: jan(1),
			ManagerOverride: nd(20), CommercialInput: nd(4)},
	}
	reversed := []engine.OverrideRecord{rows[1], rows[0]}

	forward := bucketOf(t, engine.Merge(nil, rows, engine.DateRange{}), "C1", "P1", "jan-25")
	backward := bucketOf(t, engine.Merge(nil, reversed, engine.DateRange{}), "C1", "P1", "jan-25")

	if !forward.ManagerAdjustment.Equal(d(30)) {
		t.Errorf("manager_adjustment = %v, want 30 (10 + 20)", forward.ManagerAdjustment)
	}
	if !backward.ManagerAdjustment.Equal(forward.ManagerAdjustment) {
		t.Errorf("order-dependent merge: %v vs %v", forward.ManagerAdjustment, backward.ManagerAdjustment)
	}
	if !forward.EffectiveForecast.Equal(d(30)) || !backward.EffectiveForecast.Equal(d(30)) {
		t.Errorf("effective = %v / %v, want 30 both ways", forward.EffectiveForecast, backward.EffectiveForecast)
	}

	// Commercial-only rows collapse the same way.
	commercial := []engine.OverrideRecord{
		{Product: "P1", Customer: "C1", Location: "L1", Date: jan(1), CommercialInput: nd(3)},
		{Product: "P1", Customer: "C1", Location: "L2", Date: jan(1), CommercialInput: nd(4)},
	}
	b := bucketOf(t, engine.Merge(nil, commercial, engine.DateRange{}), "C1", "P1", "jan-25")
	if !b.EffectiveForecast.Equal(d(7)) {
		t.Errorf("commercial effective = %v, want 7 (3 + 4)", b.EffectiveForecast)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	forecasts := []engine.ForecastRecord{
		forecastRec("C1", "P1", jan(1), 100),
		forecastRec("C2", "P1", jan(1), 50),
	}
	overrides := []engine.OverrideRecord{
		{Product: "P1", Customer: "C1", Location: "L1", Date: jan(1), CommercialInput: nd(80)},
	}

	first := engine.Merge(forecasts, overrides, engine.DateRange{})
	second := engine.Merge(forecasts, overrides, engine.DateRange{})

	if !reflect.DeepEqual(first, second) {
		t.Error("merging the same inputs twice should produce identical output")
	}
}

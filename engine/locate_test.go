package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/crest/planning-engine/engine"
)

func override(customer, product, location string) engine.OverrideRecord {
	return engine.OverrideRecord{
		Customer: engine.CustomerKey(customer),
		Product:  engine.ProductID(product),
		Location: engine.LocationKey(location),
		Date:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolveLocation_ExplicitScopeWins(t *testing.T) {
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	scope := engine.FilterScope{Location: "L-explicit", ResolvedLocation: "L-brand"}
	overrides := []engine.OverrideRecord{override("C1", "P1", "L-history")}

	loc, err := engine.ResolveLocation(key, scope, overrides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "L-explicit" {
		t.Errorf("loc = %q, want L-explicit", loc)
	}
}

func TestResolveLocation_BrandResolvedBeatsHistory(t *testing.T) {
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	scope := engine.FilterScope{Brand: "acme", ResolvedLocation: "L-brand"}
	overrides := []engine.OverrideRecord{override("C1", "P1", "L-history")}

	loc, err := engine.ResolveLocation(key, scope, overrides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "L-brand" {
		t.Errorf("loc = %q, want L-brand", loc)
	}
}

func TestResolveLocation_SameSeriesHistoryBeatsSameCustomer(t *testing.T) {
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	overrides := []engine.OverrideRecord{
		override("C1", "P9", "L-other-product"),
		override("C1", "P1", "L-same-series"),
	}

	loc, err := engine.ResolveLocation(key, engine.FilterScope{}, overrides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "L-same-series" {
		t.Errorf("loc = %q, want L-same-series", loc)
	}
}

func TestResolveLocation_AnyProductForCustomerAsLastResort(t *testing.T) {
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	overrides := []engine.OverrideRecord{
		override("C2", "P1", "L-wrong-customer"),
		override("C1", "P9", "L-other-product"),
	}

	loc, err := engine.ResolveLocation(key, engine.FilterScope{}, overrides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "L-other-product" {
		t.Errorf("loc = %q, want L-other-product", loc)
	}
}

func TestResolveLocation_Unresolved_NeverGuesses(t *testing.T) {
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	overrides := []engine.OverrideRecord{override("C2", "P2", "L-unrelated")}

	_, err := engine.ResolveLocation(key, engine.FilterScope{}, overrides)
	if !errors.Is(err, engine.ErrLocationUnresolved) {
		t.Fatalf("err = %v, want ErrLocationUnresolved", err)
	}

	var unresolved *engine.UnresolvedLocationError
	if !errors.As(err, &unresolved) || unresolved.Key != key {
		t.Errorf("error should identify the unresolved key, got %v", err)
	}
}

func TestResolveLocation_DeterministicAmongCandidates(t *testing.T) {
	// Multiple historical locations: resolution must not depend on the
	// order the store returned them in.
	key := engine.SeriesKey{Customer: "C1", Product: "P1"}
	forward := []engine.OverrideRecord{
		override("C1", "P1", "L2"),
		override("C1", "P1", "L1"),
	}
	backward := []engine.OverrideRecord{forward[1], forward[0]}

	locA, _ := engine.ResolveLocation(key, engine.FilterScope{}, forward)
	locB, _ := engine.ResolveLocation(key, engine.FilterScope{}, backward)
	if locA != locB || locA != "L1" {
		t.Errorf("resolution order-dependent: %q vs %q, want L1 both times", locA, locB)
	}
}

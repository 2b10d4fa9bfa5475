/*
locate.go - Location resolution chain

PURPOSE:
  Edits arrive under brand/hierarchy-level filters as often as under an
  explicit location, but override rows are stored per location. This chain
  resolves the implicit location for one (customer, product) series.

STRATEGY ORDER (first success wins):
  1. Explicit location in the filter scope
  2. Location pre-resolved upstream by a brand/category filter
  3. Any existing override row for the same (customer, product), any period
  4. Any existing override row for the same customer, any product
  5. Unresolved: the caller surfaces the error, never guesses silently

Each strategy is a pure function over the same inputs; there is no
exception-driven fallback.
*/
package engine

import "sort"

// LocationStrategy is one pure resolution attempt. Returning ok=false
// passes control to the next strategy in the chain.
type LocationStrategy func(key SeriesKey, scope FilterScope, overrides []OverrideRecord) (LocationKey, bool)

func explicitLocation(_ SeriesKey, scope FilterScope, _ []OverrideRecord) (LocationKey, bool) {
	return scope.Location, scope.Location != ""
}

func scopeResolvedLocation(_ SeriesKey, scope FilterScope, _ []OverrideRecord) (LocationKey, bool) {
	return scope.ResolvedLocation, scope.ResolvedLocation != ""
}

func overrideSameSeries(key SeriesKey, _ FilterScope, overrides []OverrideRecord) (LocationKey, bool) {
	return firstOverrideLocation(overrides, func(o OverrideRecord) bool {
		return o.Customer == key.Customer && o.Product == key.Product
	})
}

func overrideSameCustomer(key SeriesKey, _ FilterScope, overrides []OverrideRecord) (LocationKey, bool) {
	return firstOverrideLocation(overrides, func(o OverrideRecord) bool {
		return o.Customer == key.Customer
	})
}

// firstOverrideLocation picks the lexicographically smallest matching
// location so resolution stays deterministic regardless of query order.
func firstOverrideLocation(overrides []OverrideRecord, match func(OverrideRecord) bool) (LocationKey, bool) {
	var candidates []LocationKey
	for _, o := range overrides {
		if o.Location != "" && match(o) {
			candidates = append(candidates, o.Location)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return candidates[0], true
}

// locationChain is the fixed strategy order.
var locationChain = []LocationStrategy{
	explicitLocation,
	scopeResolvedLocation,
	overrideSameSeries,
	overrideSameCustomer,
}

// ResolveLocation runs the chain and returns the first hit, or an
// UnresolvedLocationError when every strategy declines.
func ResolveLocation(key SeriesKey, scope FilterScope, overrides []OverrideRecord) (LocationKey, error) {
	for _, strategy := range locationChain {
		if loc, ok := strategy(key, scope, overrides); ok {
			return loc, nil
		}
	}
	return "", &UnresolvedLocationError{Key: key}
}

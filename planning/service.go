/*
Package planning orchestrates the reconciliation engine end to end.

PURPOSE:
  The engine package is pure computation over snapshots; this package is
  where a request becomes a computation: validate the filter scope, pull
  one consistent snapshot from the record source, run merge + rollups,
  and hand distribution edits to the distributor with the same snapshot
  for location resolution.

FLOW:
  Grid:        scope -> Query -> Merge -> Rollup -> GridView
  Distribute:  edit  -> Query (snapshot for location resolution)
                     -> Distributor -> report -> caller re-queries Grid

SEE ALSO:
  - grid.go: GridView assembly
  - engine/: the underlying pure components
*/
package planning

import (
	"context"
	"time"

	"github.com/crest/planning-engine/engine"
)

// Service wires the engine to a record source and an override store.
type Service struct {
	Source      engine.RecordSource
	Distributor *engine.Distributor

	// ActiveYear selects the YTD window. Zero means "the current year at
	// call time".
	ActiveYear int
}

func NewService(source engine.RecordSource, overrides engine.OverrideStore) *Service {
	return &Service{
		Source:      source,
		Distributor: engine.NewDistributor(overrides),
	}
}

func (s *Service) activeYear() int {
	if s.ActiveYear != 0 {
		return s.ActiveYear
	}
	return time.Now().UTC().Year()
}

// validateScope rejects a scope that constrains nothing: an unbounded grid
// query would sweep the whole plan.
func validateScope(scope engine.FilterScope) error {
	if scope.IsEmpty() {
		return &engine.ValidationError{
			Field:  "filter_scope",
			Reason: "at least one of product, customer, location or brand is required",
		}
	}
	return nil
}

// Grid builds the merged, rolled-up view for a scope and unit.
//
// Records that could not be attributed to a customer are dropped and
// counted; the computation still succeeds on the resolvable subset, and
// the drop is reported as a *PartialDataError RETURNED ALONGSIDE the
// view. Callers must check for ErrPartialData before treating a non-nil
// error as fatal.
func (s *Service) Grid(ctx context.Context, scope engine.FilterScope, unit engine.Unit) (*GridView, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	snapshot, err := s.Source.Query(ctx, scope)
	if err != nil {
		return nil, err
	}

	merged := engine.Merge(snapshot.Forecasts, snapshot.Overrides, scope.Range)
	resolver := engine.NewAttributeResolver(snapshot.Attributes)

	view, err := buildGrid(merged, resolver, unit, s.activeYear())
	if err != nil {
		return nil, err
	}
	if merged.Dropped > 0 {
		return view, &engine.PartialDataError{
			Dropped: merged.Dropped,
			Reason:  "records without a customer key were excluded",
		}
	}
	return view, nil
}

// Distribute executes an aggregate edit. The same scope the user was
// looking at must be passed in: its keys define the contributing set and
// its filters drive location resolution.
func (s *Service) Distribute(ctx context.Context, identity engine.Identity, scope engine.FilterScope, edit engine.DistributionEdit) (engine.DistributionReport, error) {
	if err := validateScope(scope); err != nil {
		return engine.DistributionReport{}, err
	}

	snapshot, err := s.Source.Query(ctx, scope)
	if err != nil {
		return engine.DistributionReport{}, err
	}

	return s.Distributor.Distribute(ctx, identity, scope, edit, snapshot.Overrides)
}

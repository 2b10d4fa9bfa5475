/*
errors.go - Centralized error types for the planning engine

PURPOSE:
  All error types in one place. Callers branch on sentinel errors with
  errors.Is() and dig into structured errors with errors.As().

ERROR CATEGORIES:
  1. Validation errors - the request itself is wrong (reject before querying)
  2. Partial data errors - some records could not be resolved; the
     computation proceeds on the resolvable subset and reports the count
  3. Distribution errors - writes in a distribution batch failed
  4. Conflict errors - a concurrent edit touched an overlapping key
  5. Timeout errors - a query or write exceeded its budget

PROPAGATION POLICY:
  Merge/rollup problems on individual records are recovered locally
  (record dropped, counted) and never abort the whole computation.
  Distribution errors are always surfaced, never silently retried beyond
  a bounded number of attempts.
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when the filter scope or edit request is
	// malformed (e.g. no product/customer/location context at all).
	ErrValidation = errors.New("validation failed")

	// ErrPartialData is returned when some records could not be matched to
	// a location or customer. The resolvable subset was still processed.
	ErrPartialData = errors.New("partial data")

	// ErrDistribution is returned when one or more writes in a
	// distribution batch failed. Committed writes are not rolled back
	// unless the store supports atomic batches.
	ErrDistribution = errors.New("distribution failed")

	// ErrConflict is returned when a concurrent edit touched an
	// overlapping key. Retry with fresh data; never overwrite blindly.
	ErrConflict = errors.New("concurrent edit conflict")

	// ErrTimeout is returned when an upstream query or write exceeded its
	// budget. Narrow the scope (fewer periods/products) and retry.
	ErrTimeout = errors.New("operation timed out")

	// ErrLocationUnresolved is returned when the resolution chain
	// exhausted every strategy without finding a location.
	ErrLocationUnresolved = errors.New("location unresolved")

	// ErrUnknownRow is returned for a row type absent from the row table.
	ErrUnknownRow = errors.New("unknown row type")

	// ErrRowNotEditable is returned when a distribution targets a row
	// that is not backed by an override field.
	ErrRowNotEditable = errors.New("row is not editable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes what about the request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PartialDataError reports how many records were dropped and why.
type PartialDataError struct {
	Dropped int
	Reason  string
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("partial data: %d record(s) dropped: %s", e.Dropped, e.Reason)
}

func (e *PartialDataError) Unwrap() error { return ErrPartialData }

// DistributionError reports which contributing keys failed to persist.
// When FailedKeys is non-empty the distribution sum invariant no longer
// holds for this edit.
type DistributionError struct {
	BatchID    string
	FailedKeys []SeriesKey
	Cause      error
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("distribution %s: %d key(s) failed to persist: %v",
		e.BatchID, len(e.FailedKeys), e.Cause)
}

func (e *DistributionError) Unwrap() error { return ErrDistribution }

// ConflictError identifies the key and period a concurrent edit collided on.
type ConflictError struct {
	Key    SeriesKey
	Period PeriodLabel
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s @ %s: record changed since read", e.Key, e.Period)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TimeoutError names the stage that blew its budget.
type TimeoutError struct {
	Stage string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out; narrow the scope and retry", e.Stage)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// UnresolvedLocationError identifies the series the chain gave up on.
type UnresolvedLocationError struct {
	Key SeriesKey
}

func (e *UnresolvedLocationError) Error() string {
	return fmt.Sprintf("no location resolvable for %s", e.Key)
}

func (e *UnresolvedLocationError) Unwrap() error { return ErrLocationUnresolved }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with
// fresh data.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownRow) ||
		errors.Is(err, ErrRowNotEditable)
}

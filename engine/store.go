/*
store.go - Persistence boundary for the planning engine

PURPOSE:
  Defines the interfaces between the engine and the datastore. The engine
  never talks SQL; it consumes these contracts. Implementations:
  - engine/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite-backed, production-shaped

SNAPSHOT CONTRACT:
  Query returns a consistent snapshot of the underlying records: one merge
  or rollup computation must never straddle two data versions. The memory
  store copies under a read lock; the SQLite store reads inside a single
  transaction.

WRITE CONTRACT:
  Upsert creates the override row on first write for a composite key and
  period, updates it thereafter, stamps audit fields, and bumps the row
  version. A non-negative ExpectedVersion makes the write conditional:
  a version mismatch fails with ErrConflict, never last-writer-wins.

  BatchUpsert is preferred when the store can make the batch atomic
  (Atomic() == true). Stores that cannot guarantee atomicity apply ops
  sequentially and report per-op failures; the engine then does its own
  best-effort sequencing and partial-failure reporting.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY SIDE
// =============================================================================

// QueryResult is the snapshot one computation runs over.
type QueryResult struct {
	Forecasts  []ForecastRecord
	Overrides  []OverrideRecord
	Attributes map[ProductID]UnitMultipliers
}

// RecordSource serves read-side snapshots for a filter scope.
type RecordSource interface {
	Query(ctx context.Context, scope FilterScope) (QueryResult, error)
}

// =============================================================================
// WRITE SIDE
// =============================================================================

// UpsertOp is one single-record write in a distribution batch.
type UpsertOp struct {
	// OpID makes the write idempotent at the store boundary; retries of
	// the same logical op reuse the same id.
	OpID string

	Key    CompositeKey
	Period PeriodLabel
	Field  OverrideField
	Value  decimal.Decimal

	// ExpectedVersion < 0 means unconditional; >= 0 demands the current
	// row version match (0 = row must not exist yet).
	ExpectedVersion int64

	ReviewedBy string
	ReviewedAt time.Time
}

// BatchResult reports per-op outcomes of a batch write.
type BatchResult struct {
	Succeeded []UpsertOp
	Failed    []FailedOp
}

// FailedOp pairs an op with the error that stopped it.
type FailedOp struct {
	Op  UpsertOp
	Err error
}

// OverrideStore persists override records.
type OverrideStore interface {
	// Upsert writes a single field of one override row.
	Upsert(ctx context.Context, op UpsertOp) error

	// BatchUpsert writes many ops. When Atomic() is true the batch is
	// all-or-nothing; otherwise ops apply sequentially and the result
	// lists each failure.
	BatchUpsert(ctx context.Context, ops []UpsertOp) (BatchResult, error)

	// Atomic reports whether BatchUpsert is all-or-nothing.
	Atomic() bool
}

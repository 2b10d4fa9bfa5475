/*
distribute.go - Aggregate edit write-back

PURPOSE:
  Takes an edit made on an aggregate value (the sum shown for N series
  under the current filter) and redistributes it across the underlying
  override records, persisting one write per contributing key.

SPLIT RULE:
  Equal split: new_value / N, independent of each key's prior value.
  The typed value is validated to the input-data precision (2 decimal
  places), shares are rounded to that precision, and the rounding
  remainder is assigned to the first key in deterministic (sorted)
  order, so the persisted sum equals the typed value exactly and no
  share is ever finer-grained than the input.
  Proportional-to-prior-share splitting is a known alternative that has
  not been adopted; see DESIGN.md.

CONCURRENCY:
  Contributing keys are locked for the duration of the edit via striped
  per-key mutexes, acquired in sorted order. Two concurrent edits sharing
  a key therefore serialize. Store-level version conflicts (edits from
  other processes) surface as ConflictError and are retried a bounded
  number of times, never silently overwritten.

FAILURE SEMANTICS:
  Partial failure is reported, not swallowed. When FailedKeys is
  non-empty the report marks the sum invariant as violated; committed
  writes are not rolled back unless the store's batch is atomic.
*/
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sharePrecision matches the precision of the input data.
const sharePrecision = 2

// defaultConflictRetries bounds retries on store-level version conflicts.
const defaultConflictRetries = 2

// Distributor executes aggregate edits against an override store.
type Distributor struct {
	Store OverrideStore

	// ConflictRetries overrides defaultConflictRetries when > 0.
	ConflictRetries int

	// Clock is swappable for tests; defaults to time.Now.
	Clock func() time.Time

	locks keyLockSet
}

func NewDistributor(store OverrideStore) *Distributor {
	return &Distributor{Store: store, Clock: time.Now}
}

// Distribute splits edit.NewValue equally across edit.Keys and persists the
// target field on each key's override record for edit.Period. The overrides
// slice is the read snapshot used for location resolution.
//
// The returned report is meaningful even when err is non-nil: partial
// failures return both a populated report and a *DistributionError.
func (d *Distributor) Distribute(ctx context.Context, identity Identity, scope FilterScope, edit DistributionEdit, overrides []OverrideRecord) (DistributionReport, error) {
	report := DistributionReport{BatchID: uuid.NewString()}

	field, editable := RowEditTarget(edit.Row)
	if !editable {
		if _, known := RowSelector(edit.Row); !known {
			return report, ErrUnknownRow
		}
		return report, ErrRowNotEditable
	}
	if len(edit.Keys) == 0 {
		return report, &ValidationError{Field: "contributing_keys", Reason: "no contributing keys in scope"}
	}
	if _, _, err := ParseLabel(edit.Period); err != nil {
		return report, &ValidationError{Field: "period", Reason: err.Error()}
	}
	// The typed value must already be at share precision; otherwise the
	// remainder assignment would persist a finer-grained share than the
	// input data carries.
	if !edit.NewValue.Round(sharePrecision).Equal(edit.NewValue) {
		return report, &ValidationError{Field: "new_value", Reason: "more than 2 decimal places"}
	}

	keys := sortedKeys(edit.Keys)
	shares := equalShares(edit.NewValue, len(keys))

	unlock := d.locks.acquire(keys)
	defer unlock()

	now := d.Clock().UTC()

	// Resolve each key's location up front; unresolvable keys fail the
	// whole batch before any write lands, otherwise they become failed
	// keys of a sequential pass.
	ops := make([]UpsertOp, 0, len(keys))
	var unresolved []SeriesKey
	for i, key := range keys {
		loc, err := ResolveLocation(key, scope, overrides)
		if err != nil {
			unresolved = append(unresolved, key)
			continue
		}
		ops = append(ops, UpsertOp{
			OpID:            uuid.NewString(),
			Key:             CompositeKey{Customer: key.Customer, Product: key.Product, Location: loc},
			Period:          edit.Period,
			Field:           field,
			Value:           shares[i],
			ExpectedVersion: -1,
			ReviewedBy:      identity.UserID,
			ReviewedAt:      now,
		})
	}

	report.RecordsAttempted = len(keys)

	if d.Store.Atomic() {
		if len(unresolved) > 0 {
			// Nothing was written; report every key as failed.
			report.FailedKeys = keys
			return report, &DistributionError{BatchID: report.BatchID, FailedKeys: keys, Cause: &UnresolvedLocationError{Key: unresolved[0]}}
		}
		return d.distributeAtomic(ctx, report, keys, ops)
	}
	return d.distributeSequential(ctx, report, unresolved, ops)
}

func (d *Distributor) distributeAtomic(ctx context.Context, report DistributionReport, keys []SeriesKey, ops []UpsertOp) (DistributionReport, error) {
	result, err := d.Store.BatchUpsert(ctx, ops)
	if err != nil {
		if isDeadline(ctx, err) {
			report.FailedKeys = keys
			return report, &TimeoutError{Stage: "distribution batch write"}
		}
		report.FailedKeys = keys
		return report, &DistributionError{BatchID: report.BatchID, FailedKeys: keys, Cause: err}
	}
	for _, f := range result.Failed {
		report.FailedKeys = append(report.FailedKeys, f.Op.Key.Series())
	}
	report.RecordsSucceeded = len(result.Succeeded)
	report.SumInvariantHeld = len(report.FailedKeys) == 0
	if !report.SumInvariantHeld {
		return report, &DistributionError{BatchID: report.BatchID, FailedKeys: report.FailedKeys, Cause: result.Failed[0].Err}
	}
	return report, nil
}

func (d *Distributor) distributeSequential(ctx context.Context, report DistributionReport, unresolved []SeriesKey, ops []UpsertOp) (DistributionReport, error) {
	report.FailedKeys = append(report.FailedKeys, unresolved...)

	var firstErr error
	if len(unresolved) > 0 {
		firstErr = &UnresolvedLocationError{Key: unresolved[0]}
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			// Remaining ops are never attempted; they count as failed.
			report.FailedKeys = append(report.FailedKeys, op.Key.Series())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := d.upsertWithRetry(ctx, op); err != nil {
			report.FailedKeys = append(report.FailedKeys, op.Key.Series())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.RecordsSucceeded++
	}

	report.SumInvariantHeld = len(report.FailedKeys) == 0
	if !report.SumInvariantHeld {
		if errors.Is(firstErr, context.DeadlineExceeded) {
			return report, &TimeoutError{Stage: "distribution write"}
		}
		return report, &DistributionError{BatchID: report.BatchID, FailedKeys: report.FailedKeys, Cause: firstErr}
	}
	return report, nil
}

// upsertWithRetry retries conflicted writes a bounded number of times.
// Anything non-retryable fails immediately.
func (d *Distributor) upsertWithRetry(ctx context.Context, op UpsertOp) error {
	retries := d.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = d.Store.Upsert(ctx, op)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// =============================================================================
// SHARE COMPUTATION
// =============================================================================

// equalShares splits value into n shares at sharePrecision, assigning the
// rounding remainder to the first share so the shares sum to value exactly.
func equalShares(value decimal.Decimal, n int) []decimal.Decimal {
	base := value.Div(decimal.NewFromInt(int64(n))).Round(sharePrecision)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = base
	}
	remainder := value.Sub(base.Mul(decimal.NewFromInt(int64(n))))
	shares[0] = shares[0].Add(remainder)
	return shares
}

// sortedKeys returns a deduplicated, deterministically ordered copy.
// Sorted order fixes both remainder assignment and lock acquisition order;
// deduplication keeps a repeated key from double-counting a share (and
// from self-deadlocking on its own lock).
func sortedKeys(keys []SeriesKey) []SeriesKey {
	seen := make(map[SeriesKey]bool, len(keys))
	out := make([]SeriesKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Customer != out[j].Customer {
			return out[i].Customer < out[j].Customer
		}
		return out[i].Product < out[j].Product
	})
	return out
}

// =============================================================================
// PER-KEY LOCKS
// =============================================================================

// keyLockSet hands out one mutex per series key. Locks are acquired in
// sorted key order, which is deadlock-free across concurrent edits.
type keyLockSet struct {
	mu    sync.Mutex
	locks map[SeriesKey]*sync.Mutex
}

func (s *keyLockSet) lockFor(key SeriesKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[SeriesKey]*sync.Mutex)
	}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// acquire locks every key (assumed sorted) and returns the release func.
func (s *keyLockSet) acquire(keys []SeriesKey) func() {
	held := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		l := s.lockFor(key)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
	memstore "github.com/crest/planning-engine/engine/store"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// flakyStore fails writes for selected customers, for partial-failure tests.
type flakyStore struct {
	*memstore.Memory
	failCustomers map[engine.CustomerKey]bool
}

func (f *flakyStore) Upsert(ctx context.Context, op engine.UpsertOp) error {
	if f.failCustomers[op.Key.Customer] {
		return errors.New("simulated write failure")
	}
	return f.Memory.Upsert(ctx, op)
}

// conflictThenSucceed returns ConflictError a fixed number of times before
// letting the write through.
type conflictThenSucceed struct {
	*memstore.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictThenSucceed) Upsert(ctx context.Context, op engine.UpsertOp) error {
	c.mu.Lock()
	remaining := c.conflicts
	if remaining > 0 {
		c.conflicts--
	}
	c.mu.Unlock()
	if remaining > 0 {
		return &engine.ConflictError{Key: op.Key.Series(), Period: op.Period}
	}
	return c.Memory.Upsert(ctx, op)
}

func seriesKeys(customers ...string) []engine.SeriesKey {
	keys := make([]engine.SeriesKey, len(customers))
	for i, c := range customers {
		keys[i] = engine.SeriesKey{Customer: engine.CustomerKey(c), Product: "P1"}
	}
	return keys
}

func managerValue(t *testing.T, store *memstore.Memory, customer string, period engine.PeriodLabel) decimal.Decimal {
	t.Helper()
	rec, ok := store.GetOverride(engine.CompositeKey{
		Customer: engine.CustomerKey(customer), Product: "P1", Location: "L1",
	}, period)
	if !ok {
		t.Fatalf("no override row persisted for %s", customer)
	}
	if !rec.ManagerOverride.Valid {
		t.Fatalf("manager_override not set for %s", customer)
	}
	return rec.ManagerOverride.Decimal
}

// =============================================================================
// SUM INVARIANT
// =============================================================================

func TestDistribute_EqualSplit_TwoCustomerScenario(t *testing.T) {
	// GIVEN: C1.forecast=100, C2.forecast=50 under P1 for jan-25
	// WHEN:  the aggregate manager adjustment for jan-25 is edited to 300
	// THEN:  equal split persists 150 to each and reports 2 successes
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(300),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.RecordsSucceeded != 2 || report.RecordsAttempted != 2 {
		t.Errorf("attempted/succeeded = %d/%d, want 2/2", report.RecordsAttempted, report.RecordsSucceeded)
	}
	if !report.SumInvariantHeld {
		t.Error("sum invariant should hold on full success")
	}
	for _, customer := range []string{"C1", "C2"} {
		if v := managerValue(t, store, customer, "jan-25"); !v.Equal(decimal.NewFromInt(150)) {
			t.Errorf("%s share = %v, want 150", customer, v)
		}
	}
}

func TestDistribute_RoundingRemainder_AssignedToFirstKey(t *testing.T) {
	// 100 across 3 keys: 33.33 each leaves 0.01, which goes to the first
	// key in sorted order so the persisted sum is exactly 100.
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	_, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(100),
			Keys:     seriesKeys("C3", "C1", "C2"), // deliberately unsorted
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c1 := managerValue(t, store, "C1", "jan-25")
	c2 := managerValue(t, store, "C2", "jan-25")
	c3 := managerValue(t, store, "C3", "jan-25")

	if !c1.Equal(decimal.NewFromFloat(33.34)) {
		t.Errorf("C1 (first in sorted order) = %v, want 33.34", c1)
	}
	if !c2.Equal(decimal.NewFromFloat(33.33)) || !c3.Equal(decimal.NewFromFloat(33.33)) {
		t.Errorf("C2/C3 = %v/%v, want 33.33 each", c2, c3)
	}
	if sum := c1.Add(c2).Add(c3); !sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("persisted sum = %v, want exactly 100", sum)
	}
}

func TestDistribute_AuditFieldsStamped(t *testing.T) {
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	_, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "kam-7"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "feb-25",
			NewValue: decimal.NewFromInt(10),
			Keys:     seriesKeys("C1"),
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetOverride(engine.CompositeKey{Customer: "C1", Product: "P1", Location: "L1"}, "feb-25")
	if rec.ReviewedBy != "kam-7" {
		t.Errorf("reviewed_by = %q, want kam-7", rec.ReviewedBy)
	}
	if rec.ReviewedAt.IsZero() {
		t.Error("reviewed_at should be stamped")
	}
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

func TestDistribute_PartialFailure_ReportedNotSwallowed(t *testing.T) {
	// GIVEN: the same two-customer setup, but C2's write fails
	// THEN:  failedKeys=[C2], recordsSucceeded=1, and the sum invariant
	//        is explicitly marked violated in the report
	store := &flakyStore{
		Memory:        memstore.NewMemory(),
		failCustomers: map[engine.CustomerKey]bool{"C2": true},
	}
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(300),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)

	var distErr *engine.DistributionError
	if !errors.As(err, &distErr) {
		t.Fatalf("err = %v, want DistributionError", err)
	}
	if report.RecordsSucceeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.RecordsSucceeded)
	}
	if len(report.FailedKeys) != 1 || report.FailedKeys[0].Customer != "C2" {
		t.Errorf("failedKeys = %v, want [C2/P1]", report.FailedKeys)
	}
	if report.SumInvariantHeld {
		t.Error("sum invariant violation must be visible in the report")
	}

	// C1's committed write is not rolled back on a non-atomic store.
	if v := managerValue(t, store.Memory, "C1", "jan-25"); !v.Equal(decimal.NewFromInt(150)) {
		t.Errorf("C1 = %v, want 150", v)
	}
}

func TestDistribute_UnresolvedLocation_IsAFailedKey(t *testing.T) {
	// C2 has no explicit location, no brand resolution and no override
	// history: its share cannot be persisted and must be reported.
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1"} // no location context

	overrides := []engine.OverrideRecord{override("C1", "P1", "L1")}

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(100),
			Keys:     seriesKeys("C1", "C2"),
		}, overrides)

	if !errors.Is(err, engine.ErrDistribution) {
		t.Fatalf("err = %v, want ErrDistribution", err)
	}
	if report.RecordsSucceeded != 1 {
		t.Errorf("succeeded = %d, want 1 (C1 resolves via history)", report.RecordsSucceeded)
	}
	if len(report.FailedKeys) != 1 || report.FailedKeys[0].Customer != "C2" {
		t.Errorf("failedKeys = %v, want [C2/P1]", report.FailedKeys)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestDistribute_RejectsNonEditableAndUnknownRows(t *testing.T) {
	dist := engine.NewDistributor(memstore.NewMemory())
	scope := engine.FilterScope{Product: "P1", Location: "L1"}
	edit := engine.DistributionEdit{
		Period:   "jan-25",
		NewValue: decimal.NewFromInt(100),
		Keys:     seriesKeys("C1"),
	}

	edit.Row = engine.RowCalculatedForecast
	if _, err := dist.Distribute(context.Background(), engine.Identity{}, scope, edit, nil); !errors.Is(err, engine.ErrRowNotEditable) {
		t.Errorf("err = %v, want ErrRowNotEditable", err)
	}

	edit.Row = engine.RowType("nonsense")
	if _, err := dist.Distribute(context.Background(), engine.Identity{}, scope, edit, nil); !errors.Is(err, engine.ErrUnknownRow) {
		t.Errorf("err = %v, want ErrUnknownRow", err)
	}
}

func TestDistribute_RejectsEmptyKeySetAndBadPeriod(t *testing.T) {
	dist := engine.NewDistributor(memstore.NewMemory())
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	_, err := dist.Distribute(context.Background(), engine.Identity{}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(100),
		}, nil)
	if !errors.Is(err, engine.ErrValidation) {
		t.Errorf("empty key set: err = %v, want ErrValidation", err)
	}

	_, err = dist.Distribute(context.Background(), engine.Identity{}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "january-2025",
			NewValue: decimal.NewFromInt(100),
			Keys:     seriesKeys("C1"),
		}, nil)
	if !errors.Is(err, engine.ErrValidation) {
		t.Errorf("bad period: err = %v, want ErrValidation", err)
	}
}

func TestDistribute_RejectsValueFinerThanSharePrecision(t *testing.T) {
	// 10.005 over 2 keys would pin a 3-decimal share on the first key;
	// the edit is rejected before any split happens.
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	_, err := dist.Distribute(context.Background(), engine.Identity{}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.RequireFromString("10.005"),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	if _, ok := store.GetOverride(engine.CompositeKey{Customer: "C1", Product: "P1", Location: "L1"}, "jan-25"); ok {
		t.Error("rejected edit must not write")
	}

	// Exactly two decimal places is fine.
	_, err = dist.Distribute(context.Background(), engine.Identity{UserID: "p"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.RequireFromString("10.01"),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c1 := managerValue(t, store, "C1", "jan-25")
	c2 := managerValue(t, store, "C2", "jan-25")
	if sum := c1.Add(c2); !sum.Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("persisted sum = %v, want exactly 10.01", sum)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestDistribute_ConflictRetriedBoundedTimes(t *testing.T) {
	store := &conflictThenSucceed{Memory: memstore.NewMemory(), conflicts: 2}
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(100),
			Keys:     seriesKeys("C1"),
		}, nil)
	if err != nil {
		t.Fatalf("two conflicts should be absorbed by retries, got %v", err)
	}
	if report.RecordsSucceeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.RecordsSucceeded)
	}
}

func TestDistribute_ConflictBeyondRetryBudget_Surfaces(t *testing.T) {
	store := &conflictThenSucceed{Memory: memstore.NewMemory(), conflicts: 10}
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	_, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(100),
			Keys:     seriesKeys("C1"),
		}, nil)
	if !errors.Is(err, engine.ErrDistribution) {
		t.Fatalf("err = %v, want ErrDistribution wrapping the conflict", err)
	}
}

func TestDistribute_OverlappingEditsSerialize(t *testing.T) {
	// Two concurrent edits over the same keys must not interleave: the
	// final persisted sum equals one edit's value, never a mix.
	store := memstore.NewMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	edit := func(total int64) engine.DistributionEdit {
		return engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(total),
			Keys:     seriesKeys("C1", "C2"),
		}
	}

	var wg sync.WaitGroup
	for _, total := range []int64{300, 600} {
		wg.Add(1)
		go func(total int64) {
			defer wg.Done()
			_, _ = dist.Distribute(context.Background(), engine.Identity{UserID: "p"}, scope, edit(total), nil)
		}(total)
	}
	wg.Wait()

	sum := managerValue(t, store, "C1", "jan-25").Add(managerValue(t, store, "C2", "jan-25"))
	if !sum.Equal(decimal.NewFromInt(300)) && !sum.Equal(decimal.NewFromInt(600)) {
		t.Errorf("persisted sum = %v, want 300 or 600 (no interleaving)", sum)
	}
}

// =============================================================================
// ATOMIC BATCHES
// =============================================================================

func TestDistribute_AtomicStore_UsesBatchUpsert(t *testing.T) {
	store := memstore.NewAtomicMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1", Location: "L1"}

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(300),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.RecordsSucceeded != 2 || !report.SumInvariantHeld {
		t.Errorf("report = %+v, want full success", report)
	}
	if v := managerValue(t, store.Memory, "C2", "jan-25"); !v.Equal(decimal.NewFromInt(150)) {
		t.Errorf("C2 = %v, want 150", v)
	}
}

func TestDistribute_AtomicStore_UnresolvedLocationWritesNothing(t *testing.T) {
	// With an atomic store the batch is all-or-nothing: one unresolvable
	// key aborts before any write lands.
	store := memstore.NewAtomicMemory()
	dist := engine.NewDistributor(store)
	scope := engine.FilterScope{Product: "P1"} // no location context at all

	report, err := dist.Distribute(context.Background(),
		engine.Identity{UserID: "planner-1"}, scope,
		engine.DistributionEdit{
			Row:      engine.RowManagerAdjustment,
			Period:   "jan-25",
			NewValue: decimal.NewFromInt(300),
			Keys:     seriesKeys("C1", "C2"),
		}, nil)

	if !errors.Is(err, engine.ErrDistribution) {
		t.Fatalf("err = %v, want ErrDistribution", err)
	}
	if report.RecordsSucceeded != 0 {
		t.Errorf("succeeded = %d, want 0 on an aborted atomic batch", report.RecordsSucceeded)
	}
	if _, ok := store.Memory.GetOverride(engine.CompositeKey{Customer: "C1", Product: "P1", Location: "L1"}, "jan-25"); ok {
		t.Error("no write should have landed")
	}
}

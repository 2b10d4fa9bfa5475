// Package store provides in-memory implementations of the engine's
// persistence boundary, for tests and development.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
)

// =============================================================================
// MEMORY STORE - RecordSource + OverrideStore in one
// =============================================================================

type overrideKey struct {
	Key    engine.CompositeKey
	Period engine.PeriodLabel
}

type Memory struct {
	mu         sync.RWMutex
	forecasts  []engine.ForecastRecord
	overrides  map[overrideKey]*engine.OverrideRecord
	attributes map[engine.ProductID]engine.UnitMultipliers
	appliedOps map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		overrides:  make(map[overrideKey]*engine.OverrideRecord),
		attributes: make(map[engine.ProductID]engine.UnitMultipliers),
		appliedOps: make(map[string]bool),
	}
}

// SeedForecasts loads externally-produced forecast rows.
func (m *Memory) SeedForecasts(recs ...engine.ForecastRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts = append(m.forecasts, recs...)
}

// SeedAttributes loads product reference data.
func (m *Memory) SeedAttributes(attrs map[engine.ProductID]engine.UnitMultipliers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, a := range attrs {
		m.attributes[p] = a
	}
}

// SeedOverride loads a pre-existing override row (e.g. prior KAM edits).
func (m *Memory) SeedOverride(rec engine.OverrideRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	k := overrideKey{
		Key:    engine.CompositeKey{Customer: rec.Customer, Product: rec.Product, Location: rec.Location},
		Period: engine.LabelFor(rec.Date),
	}
	copied := rec
	m.overrides[k] = &copied
}

// Query returns a consistent snapshot: everything is copied under one read
// lock so a merge computation never straddles two data versions.
func (m *Memory) Query(_ context.Context, scope engine.FilterScope) (engine.QueryResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result engine.QueryResult
	for _, rec := range m.forecasts {
		if m.matches(scope, rec.Product, rec.Customer, rec.Location) {
			result.Forecasts = append(result.Forecasts, rec)
		}
	}
	for _, rec := range m.overrides {
		if m.matches(scope, rec.Product, rec.Customer, rec.Location) {
			result.Overrides = append(result.Overrides, *rec)
		}
	}
	result.Attributes = make(map[engine.ProductID]engine.UnitMultipliers, len(m.attributes))
	for p, a := range m.attributes {
		result.Attributes[p] = a
	}
	return result, nil
}

// matches applies product/customer filters. Location is deliberately NOT a
// hard filter on reads: the merged grid is keyed by (customer, product) and
// the write path resolves locations separately.
func (m *Memory) matches(scope engine.FilterScope, product engine.ProductID, customer engine.CustomerKey, _ engine.LocationKey) bool {
	if scope.Product != "" && scope.Product != product {
		return false
	}
	return scope.WantsCustomer(customer)
}

// GetOverride returns a copy of one override row, for tests and handlers.
func (m *Memory) GetOverride(key engine.CompositeKey, period engine.PeriodLabel) (engine.OverrideRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.overrides[overrideKey{Key: key, Period: period}]
	if !ok {
		return engine.OverrideRecord{}, false
	}
	return *rec, true
}

// Upsert writes one field of one override row, creating the row on first
// write. A non-negative ExpectedVersion that does not match the current row
// version fails with a ConflictError.
func (m *Memory) Upsert(_ context.Context, op engine.UpsertOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(op)
}

func (m *Memory) upsertLocked(op engine.UpsertOp) error {
	if op.OpID != "" && m.appliedOps[op.OpID] {
		return nil // idempotent replay
	}

	k := overrideKey{Key: op.Key, Period: op.Period}
	rec, exists := m.overrides[k]

	currentVersion := int64(0)
	if exists {
		currentVersion = rec.Version
	}
	if op.ExpectedVersion >= 0 && op.ExpectedVersion != currentVersion {
		return &engine.ConflictError{Key: op.Key.Series(), Period: op.Period}
	}

	if !exists {
		monthIdx, year, err := engine.ParseLabel(op.Period)
		if err != nil {
			return err
		}
		rec = &engine.OverrideRecord{
			ID:       uuid.NewString(),
			Product:  op.Key.Product,
			Customer: op.Key.Customer,
			Location: op.Key.Location,
			Date:     time.Date(year, time.Month(monthIdx+1), 1, 0, 0, 0, 0, time.UTC),
		}
		m.overrides[k] = rec
	}

	switch op.Field {
	case engine.FieldManagerOverride:
		rec.ManagerOverride = decimal.NewNullDecimal(op.Value)
	case engine.FieldCommercialInput:
		rec.CommercialInput = decimal.NewNullDecimal(op.Value)
	default:
		return &engine.ValidationError{Field: "field", Reason: "unknown override field " + string(op.Field)}
	}

	rec.ReviewedBy = op.ReviewedBy
	rec.ReviewedAt = op.ReviewedAt
	rec.Version++

	if op.OpID != "" {
		m.appliedOps[op.OpID] = true
	}
	return nil
}

// BatchUpsert applies ops sequentially. Memory alone is NOT atomic; wrap it
// in AtomicMemory for all-or-nothing semantics.
func (m *Memory) BatchUpsert(ctx context.Context, ops []engine.UpsertOp) (engine.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result engine.BatchResult
	for _, op := range ops {
		if err := m.upsertLocked(op); err != nil {
			result.Failed = append(result.Failed, engine.FailedOp{Op: op, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, op)
	}
	return result, nil
}

func (m *Memory) Atomic() bool { return false }

// =============================================================================
// ATOMIC MEMORY STORE - snapshot + rollback batch semantics
// =============================================================================

// AtomicMemory wraps Memory with all-or-nothing batches, simulated with a
// snapshot and rollback on first failure.
type AtomicMemory struct {
	*Memory
}

func NewAtomicMemory() *AtomicMemory {
	return &AtomicMemory{Memory: NewMemory()}
}

func (am *AtomicMemory) Atomic() bool { return true }

func (am *AtomicMemory) BatchUpsert(_ context.Context, ops []engine.UpsertOp) (engine.BatchResult, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	snapshot := am.snapshotLocked()

	var result engine.BatchResult
	for _, op := range ops {
		if err := am.upsertLocked(op); err != nil {
			am.restoreLocked(snapshot)
			return engine.BatchResult{}, err
		}
		result.Succeeded = append(result.Succeeded, op)
	}
	return result, nil
}

type memorySnapshot struct {
	overrides  map[overrideKey]*engine.OverrideRecord
	appliedOps map[string]bool
}

func (am *AtomicMemory) snapshotLocked() memorySnapshot {
	overrides := make(map[overrideKey]*engine.OverrideRecord, len(am.overrides))
	for k, v := range am.overrides {
		copied := *v
		overrides[k] = &copied
	}
	ops := make(map[string]bool, len(am.appliedOps))
	for k, v := range am.appliedOps {
		ops[k] = v
	}
	return memorySnapshot{overrides: overrides, appliedOps: ops}
}

func (am *AtomicMemory) restoreLocked(s memorySnapshot) {
	am.overrides = s.overrides
	am.appliedOps = s.appliedOps
}

/*
Package sqlite provides a SQLite-backed implementation of the planning
engine's persistence boundary.

PURPOSE:
  Implements engine.RecordSource and engine.OverrideStore on SQLite. The
  same patterns carry to PostgreSQL - only minor dialect differences.

KEY TABLES:
  forecast_records:   externally-produced forecast rows (read-only here,
                      loaded by the seed/import path)
  override_records:   manual corrections, versioned for optimistic
                      concurrency, audit-stamped on every write
  product_attributes: per-product unit-conversion multipliers
  applied_ops:        idempotency ledger for distribution writes

SNAPSHOT READS:
  Query runs inside a single read transaction so one merge/rollup
  computation observes one consistent data version.

ATOMIC BATCHES:
  BatchUpsert wraps the whole distribution batch in one transaction;
  Atomic() is true, so a failed batch leaves nothing behind.

DECIMALS:
  Metric values are stored as TEXT and parsed with shopspring/decimal.
  REAL columns would reintroduce the float drift the engine exists to
  avoid.

WAL MODE:
  The database is opened with WAL so readers do not block the single
  writer.

USAGE:
  st, err := sqlite.New("./data/plan.db")
  if err != nil { log.Fatal(err) }
  defer st.Close()

SEE ALSO:
  - engine/store.go: interface definitions
  - engine/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/engine"
)

// Store implements engine.RecordSource and engine.OverrideStore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes
	// writers the way SQLite expects.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Externally produced forecast rows. The engine reads these; only the
	-- seed/import path writes them.
	CREATE TABLE IF NOT EXISTS forecast_records (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		customer_key TEXT NOT NULL,
		location_key TEXT NOT NULL,
		period_date TEXT NOT NULL,
		forecast TEXT NOT NULL DEFAULT '0',
		actual TEXT NOT NULL DEFAULT '0',
		sales_plan TEXT NOT NULL DEFAULT '0',
		demand_planner TEXT NOT NULL DEFAULT '0',
		forecast_last_year TEXT NOT NULL DEFAULT '0',
		approved_commercial_input TEXT NOT NULL DEFAULT '0',
		upper_bound TEXT NOT NULL DEFAULT '0',
		lower_bound TEXT NOT NULL DEFAULT '0',
		fitted_history TEXT NOT NULL DEFAULT '0',
		days_of_supply TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_product
		ON forecast_records(product_id);
	CREATE INDEX IF NOT EXISTS idx_forecast_customer
		ON forecast_records(customer_key);
	CREATE INDEX IF NOT EXISTS idx_forecast_product_customer_date
		ON forecast_records(product_id, customer_key, period_date);

	-- Manual corrections. One row per composite key and period, versioned
	-- for optimistic concurrency.
	CREATE TABLE IF NOT EXISTS override_records (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		customer_key TEXT NOT NULL,
		location_key TEXT NOT NULL,
		period_label TEXT NOT NULL,
		period_date TEXT NOT NULL,
		manager_override TEXT,
		commercial_input TEXT,
		gap TEXT NOT NULL DEFAULT '0',
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		UNIQUE(product_id, customer_key, location_key, period_label)
	);

	CREATE INDEX IF NOT EXISTS idx_override_customer
		ON override_records(customer_key);
	CREATE INDEX IF NOT EXISTS idx_override_customer_product
		ON override_records(customer_key, product_id);

	-- Per-product unit-conversion multipliers.
	CREATE TABLE IF NOT EXISTS product_attributes (
		product_id TEXT PRIMARY KEY,
		kg_multiplier TEXT NOT NULL DEFAULT '0',
		revenue_multiplier TEXT NOT NULL DEFAULT '0'
	);

	-- Idempotency ledger: a distribution op applies at most once.
	CREATE TABLE IF NOT EXISTS applied_ops (
		op_id TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SEED / IMPORT
// =============================================================================

// InsertForecast loads one upstream forecast row.
func (s *Store) InsertForecast(ctx context.Context, rec engine.ForecastRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecast_records (
			id, product_id, customer_key, location_key, period_date,
			forecast, actual, sales_plan, demand_planner, forecast_last_year,
			approved_commercial_input, upper_bound, lower_bound,
			fitted_history, days_of_supply
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(rec.Product), string(rec.Customer), string(rec.Location),
		rec.Date.UTC().Format(time.RFC3339),
		rec.Forecast.String(), rec.Actual.String(), rec.SalesPlan.String(),
		rec.DemandPlanner.String(), rec.ForecastLastYear.String(),
		rec.ApprovedCommercialInput.String(), rec.UpperBound.String(),
		rec.LowerBound.String(), rec.FittedHistory.String(),
		rec.DaysOfSupply.String(),
	)
	return err
}

// UpsertAttributes loads or replaces one product's multipliers.
func (s *Store) UpsertAttributes(ctx context.Context, product engine.ProductID, m engine.UnitMultipliers) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_attributes (product_id, kg_multiplier, revenue_multiplier)
		VALUES (?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			kg_multiplier = excluded.kg_multiplier,
			revenue_multiplier = excluded.revenue_multiplier`,
		string(product), m.KG.String(), m.Revenue.String(),
	)
	return err
}

// =============================================================================
// QUERY SIDE
// =============================================================================

// Query returns a consistent snapshot of forecasts, overrides and product
// attributes for the scope. All three reads share one transaction.
func (s *Store) Query(ctx context.Context, scope engine.FilterScope) (engine.QueryResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return engine.QueryResult{}, mapCtxErr(ctx, err)
	}
	defer tx.Rollback()

	var result engine.QueryResult

	result.Forecasts, err = s.queryForecasts(ctx, tx, scope)
	if err != nil {
		return engine.QueryResult{}, mapCtxErr(ctx, err)
	}
	result.Overrides, err = s.queryOverrides(ctx, tx, scope)
	if err != nil {
		return engine.QueryResult{}, mapCtxErr(ctx, err)
	}
	result.Attributes, err = s.queryAttributes(ctx, tx)
	if err != nil {
		return engine.QueryResult{}, mapCtxErr(ctx, err)
	}
	return result, nil
}

func scopeClause(scope engine.FilterScope) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if scope.Product != "" {
		where += " AND product_id = ?"
		args = append(args, string(scope.Product))
	}
	if len(scope.Customers) > 0 {
		where += " AND customer_key IN (?" + repeat(",?", len(scope.Customers)-1) + ")"
		for _, c := range scope.Customers {
			args = append(args, string(c))
		}
	}
	return where, args
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func (s *Store) queryForecasts(ctx context.Context, tx *sql.Tx, scope engine.FilterScope) ([]engine.ForecastRecord, error) {
	where, args := scopeClause(scope)
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, customer_key, location_key, period_date,
		       forecast, actual, sales_plan, demand_planner,
		       forecast_last_year, approved_commercial_input,
		       upper_bound, lower_bound, fitted_history, days_of_supply
		FROM forecast_records`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ForecastRecord
	for rows.Next() {
		var rec engine.ForecastRecord
		var product, customer, location, date string
		var vals [10]string
		if err := rows.Scan(&product, &customer, &location, &date,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4],
			&vals[5], &vals[6], &vals[7], &vals[8], &vals[9]); err != nil {
			return nil, err
		}
		rec.Product = engine.ProductID(product)
		rec.Customer = engine.CustomerKey(customer)
		rec.Location = engine.LocationKey(location)
		rec.Date, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, fmt.Errorf("bad period_date %q: %w", date, err)
		}
		dst := []*decimal.Decimal{
			&rec.Forecast, &rec.Actual, &rec.SalesPlan, &rec.DemandPlanner,
			&rec.ForecastLastYear, &rec.ApprovedCommercialInput,
			&rec.UpperBound, &rec.LowerBound, &rec.FittedHistory,
			&rec.DaysOfSupply,
		}
		for i, raw := range vals {
			d, derr := decimal.NewFromString(raw)
			if derr != nil {
				return nil, fmt.Errorf("bad decimal %q: %w", raw, derr)
			}
			*dst[i] = d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) queryOverrides(ctx context.Context, tx *sql.Tx, scope engine.FilterScope) ([]engine.OverrideRecord, error) {
	where, args := scopeClause(scope)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, customer_key, location_key, period_date,
		       manager_override, commercial_input, gap,
		       reviewed_by, reviewed_at, version
		FROM override_records`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.OverrideRecord
	for rows.Next() {
		var rec engine.OverrideRecord
		var product, customer, location, date, gap string
		var manager, commercial, reviewedAt sql.NullString
		if err := rows.Scan(&rec.ID, &product, &customer, &location, &date,
			&manager, &commercial, &gap, &rec.ReviewedBy, &reviewedAt,
			&rec.Version); err != nil {
			return nil, err
		}
		rec.Product = engine.ProductID(product)
		rec.Customer = engine.CustomerKey(customer)
		rec.Location = engine.LocationKey(location)
		rec.Date, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, fmt.Errorf("bad period_date %q: %w", date, err)
		}
		if rec.ManagerOverride, err = parseNullDecimal(manager); err != nil {
			return nil, err
		}
		if rec.CommercialInput, err = parseNullDecimal(commercial); err != nil {
			return nil, err
		}
		if rec.Gap, err = decimal.NewFromString(gap); err != nil {
			return nil, fmt.Errorf("bad gap %q: %w", gap, err)
		}
		if reviewedAt.Valid && reviewedAt.String != "" {
			rec.ReviewedAt, err = time.Parse(time.RFC3339, reviewedAt.String)
			if err != nil {
				return nil, fmt.Errorf("bad reviewed_at %q: %w", reviewedAt.String, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) queryAttributes(ctx context.Context, tx *sql.Tx) (map[engine.ProductID]engine.UnitMultipliers, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, kg_multiplier, revenue_multiplier
		FROM product_attributes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[engine.ProductID]engine.UnitMultipliers)
	for rows.Next() {
		var product, kg, revenue string
		if err := rows.Scan(&product, &kg, &revenue); err != nil {
			return nil, err
		}
		var m engine.UnitMultipliers
		if m.KG, err = decimal.NewFromString(kg); err != nil {
			return nil, fmt.Errorf("bad kg_multiplier %q: %w", kg, err)
		}
		if m.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, fmt.Errorf("bad revenue_multiplier %q: %w", revenue, err)
		}
		attrs[engine.ProductID(product)] = m
	}
	return attrs, rows.Err()
}

func parseNullDecimal(v sql.NullString) (decimal.NullDecimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("bad decimal %q: %w", v.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// =============================================================================
// WRITE SIDE
// =============================================================================

// Upsert writes one field of one override row inside its own transaction.
func (s *Store) Upsert(ctx context.Context, op engine.UpsertOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapCtxErr(ctx, err)
	}
	defer tx.Rollback()

	if err := s.upsertInTx(ctx, tx, op); err != nil {
		return mapCtxErr(ctx, err)
	}
	return tx.Commit()
}

// BatchUpsert applies the whole batch in one transaction: all-or-nothing.
func (s *Store) BatchUpsert(ctx context.Context, ops []engine.UpsertOp) (engine.BatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.BatchResult{}, mapCtxErr(ctx, err)
	}
	defer tx.Rollback()

	var result engine.BatchResult
	for _, op := range ops {
		if err := s.upsertInTx(ctx, tx, op); err != nil {
			return engine.BatchResult{}, mapCtxErr(ctx, err)
		}
		result.Succeeded = append(result.Succeeded, op)
	}
	if err := tx.Commit(); err != nil {
		return engine.BatchResult{}, mapCtxErr(ctx, err)
	}
	return result, nil
}

func (s *Store) Atomic() bool { return true }

func (s *Store) upsertInTx(ctx context.Context, tx *sql.Tx, op engine.UpsertOp) error {
	if op.OpID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM applied_ops WHERE op_id = ?`, op.OpID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil // idempotent replay
		}
	}

	var column string
	switch op.Field {
	case engine.FieldManagerOverride:
		column = "manager_override"
	case engine.FieldCommercialInput:
		column = "commercial_input"
	default:
		return &engine.ValidationError{Field: "field", Reason: "unknown override field " + string(op.Field)}
	}

	var id string
	var version int64
	err := tx.QueryRowContext(ctx, `
		SELECT id, version FROM override_records
		WHERE product_id = ? AND customer_key = ? AND location_key = ? AND period_label = ?`,
		string(op.Key.Product), string(op.Key.Customer),
		string(op.Key.Location), string(op.Period)).Scan(&id, &version)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if op.ExpectedVersion > 0 {
			return &engine.ConflictError{Key: op.Key.Series(), Period: op.Period}
		}
		monthIdx, year, perr := engine.ParseLabel(op.Period)
		if perr != nil {
			return perr
		}
		periodDate := time.Date(year, time.Month(monthIdx+1), 1, 0, 0, 0, 0, time.UTC)
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO override_records (
				id, product_id, customer_key, location_key,
				period_label, period_date, `+column+`,
				reviewed_by, reviewed_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			uuid.NewString(), string(op.Key.Product), string(op.Key.Customer),
			string(op.Key.Location), string(op.Period),
			periodDate.Format(time.RFC3339), op.Value.String(),
			op.ReviewedBy, op.ReviewedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		return s.markApplied(ctx, tx, op)

	case err != nil:
		return err
	}

	if op.ExpectedVersion >= 0 && op.ExpectedVersion != version {
		return &engine.ConflictError{Key: op.Key.Series(), Period: op.Period}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE override_records
		SET `+column+` = ?, reviewed_by = ?, reviewed_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		op.Value.String(), op.ReviewedBy,
		op.ReviewedAt.UTC().Format(time.RFC3339), id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.ConflictError{Key: op.Key.Series(), Period: op.Period}
	}
	return s.markApplied(ctx, tx, op)
}

func (s *Store) markApplied(ctx context.Context, tx *sql.Tx, op engine.UpsertOp) error {
	if op.OpID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO applied_ops (op_id, applied_at) VALUES (?, ?)`,
		op.OpID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// mapCtxErr surfaces deadline expiry as the engine's timeout error.
func mapCtxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &engine.TimeoutError{Stage: "store operation"}
	}
	return err
}

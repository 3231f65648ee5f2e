package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no order matches a lookup.
var ErrNotFound = errors.New("order: not found")

const schema = `
CREATE TABLE IF NOT EXISTS lab_orders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id    TEXT NOT NULL,
	patient_name TEXT NOT NULL DEFAULT '',
	test_type    TEXT NOT NULL,
	status       TEXT NOT NULL,
	result_value TEXT NOT NULL DEFAULT '',
	result_units TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_lab_orders_sample ON lab_orders (sample_id);
`

const selectColumns = "id, sample_id, patient_name, test_type, status, result_value, result_units"

// Store persists lab orders in a sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("order: open database: %w", err)
	}

	// modernc sqlite serializes on a single connection; more would just
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("order: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("order: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new order and fills in its assigned id. The test type
// is stored uppercase and the status defaults to pending when unset.
func (s *Store) Create(ctx context.Context, o *LabOrder) error {
	if o.Status == "" {
		o.Status = StatusPending
	}
	o.TestType = strings.ToUpper(o.TestType)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lab_orders (sample_id, patient_name, test_type, status, result_value, result_units)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.SampleID, o.PatientName, o.TestType, string(o.Status), o.ResultValue, o.ResultUnits)
	if err != nil {
		return fmt.Errorf("order: insert: %w", err)
	}

	o.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order: insert id: %w", err)
	}
	return nil
}

// Update rewrites the stored row for o.
func (s *Store) Update(ctx context.Context, o *LabOrder) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lab_orders
		 SET sample_id = ?, patient_name = ?, test_type = ?, status = ?, result_value = ?, result_units = ?
		 WHERE id = ?`,
		o.SampleID, o.PatientName, o.TestType, string(o.Status), o.ResultValue, o.ResultUnits, o.ID)
	if err != nil {
		return fmt.Errorf("order: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BySampleAndTest finds the order for a (sample id, test type) pair. The
// match is case insensitive on both keys.
func (s *Store) BySampleAndTest(ctx context.Context, sampleID, testType string) (*LabOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM lab_orders
		 WHERE UPPER(sample_id) = UPPER(?) AND UPPER(test_type) = UPPER(?)
		 LIMIT 1`,
		sampleID, testType)
	return scanOrder(row)
}

// PendingBySample lists the pending orders for a sample id, matched case
// insensitively. Instruments query this set before running a sample.
func (s *Store) PendingBySample(ctx context.Context, sampleID string) ([]LabOrder, error) {
	return s.list(ctx,
		`SELECT `+selectColumns+` FROM lab_orders
		 WHERE UPPER(sample_id) = UPPER(?) AND status = ?
		 ORDER BY id`,
		sampleID, string(StatusPending))
}

// All lists every stored order.
func (s *Store) All(ctx context.Context) ([]LabOrder, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM lab_orders ORDER BY id`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]LabOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order: query: %w", err)
	}
	defer rows.Close()

	var orders []LabOrder
	for rows.Next() {
		var o LabOrder
		if err := rows.Scan(&o.ID, &o.SampleID, &o.PatientName, &o.TestType,
			(*string)(&o.Status), &o.ResultValue, &o.ResultUnits); err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return orders, nil
}

func scanOrder(row *sql.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.SampleID, &o.PatientName, &o.TestType,
		(*string)(&o.Status), &o.ResultValue, &o.ResultUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order: scan: %w", err)
	}
	return &o, nil
}

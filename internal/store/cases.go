package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"decisiond/internal/model"
)

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept second-precision timestamps written by other tools.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// LockCase serializes mutations of one case on the SQLite backend. The
// returned func releases the lock. On PostgreSQL it is a no-op; row locks
// taken inside the transaction do the work there.
func (s *DB) LockCase(caseID string) func() { return s.lockCase(caseID) }

// CreateCase inserts a new case.
func (s *DB) CreateCase(ctx context.Context, c *model.Case) error {
	return s.insertCase(ctx, s.sql, c)
}

// CreateCaseTx inserts a new case inside a transaction, so the record
// and its creation audit event commit together.
func (s *DB) CreateCaseTx(ctx context.Context, tx *sql.Tx, c *model.Case) error {
	return s.insertCase(ctx, tx, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *DB) insertCase(ctx context.Context, ex execer, c *model.Case) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal case metadata: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.Rebind(`
		INSERT INTO cases (case_id, vertical, status, priority, policy_version,
			customer_id, created_at, updated_at, sla_deadline, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.CaseID, c.Vertical, string(c.Status), string(c.Priority), c.PolicyVersion,
		c.CustomerID, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
		fmtTimePtr(c.SLADeadline), string(meta))
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

const caseColumns = `case_id, vertical, status, priority, policy_version,
	customer_id, created_at, updated_at, sla_deadline, metadata_json`

func scanCase(row interface{ Scan(...any) error }) (model.Case, error) {
	var c model.Case
	var status, priority, createdAt, updatedAt string
	var customerID, slaDeadline, metaJSON sql.NullString
	err := row.Scan(&c.CaseID, &c.Vertical, &status, &priority, &c.PolicyVersion,
		&customerID, &createdAt, &updatedAt, &slaDeadline, &metaJSON)
	if err != nil {
		return c, err
	}
	c.Status = model.CaseStatus(status)
	c.Priority = model.CasePriority(priority)
	c.CustomerID = customerID.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.SLADeadline = parseTimePtr(slaDeadline)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return c, fmt.Errorf("unmarshal case metadata: %w", err)
		}
	}
	return c, nil
}

// GetCase loads a case by ID.
func (s *DB) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	row := s.sql.QueryRowContext(ctx,
		s.Rebind(`SELECT `+caseColumns+` FROM cases WHERE case_id = ?`), caseID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return c, &NotFoundError{Kind: "case", ID: caseID}
	}
	if err != nil {
		return c, fmt.Errorf("query case: %w", err)
	}
	return c, nil
}

// GetCaseTx loads a case inside a transaction, taking a row lock on the
// PostgreSQL backend so concurrent transitions serialize.
func (s *DB) GetCaseTx(ctx context.Context, tx *sql.Tx, caseID string) (model.Case, error) {
	q := `SELECT ` + caseColumns + ` FROM cases WHERE case_id = ?`
	if s.isPostgres {
		q += ` FOR UPDATE`
	}
	row := tx.QueryRowContext(ctx, s.Rebind(q), caseID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return c, &NotFoundError{Kind: "case", ID: caseID}
	}
	if err != nil {
		return c, fmt.Errorf("query case for update: %w", err)
	}
	return c, nil
}

// UpdateCaseStatusTx moves a case from one status to another inside a
// transaction. The WHERE clause re-checks the expected status so a racing
// writer surfaces as ConflictError rather than a silent overwrite.
func (s *DB) UpdateCaseStatusTx(ctx context.Context, tx *sql.Tx, caseID string, from, to model.CaseStatus) error {
	res, err := tx.ExecContext(ctx, s.Rebind(`
		UPDATE cases SET status = ?, updated_at = ? WHERE case_id = ? AND status = ?`),
		string(to), fmtTime(time.Now()), caseID, string(from))
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if n == 0 {
		current, err := s.GetCaseTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		return &ConflictError{CaseID: caseID, Expected: string(from), Actual: string(current.Status)}
	}
	return nil
}

// UpdateCaseSLADeadline sets the case-level SLA deadline.
func (s *DB) UpdateCaseSLADeadline(ctx context.Context, caseID string, deadline *time.Time) error {
	_, err := s.sql.ExecContext(ctx, s.Rebind(`
		UPDATE cases SET sla_deadline = ?, updated_at = ? WHERE case_id = ?`),
		fmtTimePtr(deadline), fmtTime(time.Now()), caseID)
	if err != nil {
		return fmt.Errorf("update case sla deadline: %w", err)
	}
	return nil
}

// UpdateCaseSLADeadlineTx sets or clears the case-level SLA deadline
// inside a transaction, so it commits with the transition it belongs to.
func (s *DB) UpdateCaseSLADeadlineTx(ctx context.Context, tx *sql.Tx, caseID string, deadline *time.Time) error {
	_, err := tx.ExecContext(ctx, s.Rebind(`
		UPDATE cases SET sla_deadline = ?, updated_at = ? WHERE case_id = ?`),
		fmtTimePtr(deadline), fmtTime(time.Now()), caseID)
	if err != nil {
		return fmt.Errorf("update case sla deadline: %w", err)
	}
	return nil
}

// CaseFilter narrows ListCases.
type CaseFilter struct {
	Status   model.CaseStatus
	Vertical string
	Limit    int
	Offset   int
}

// ListCases returns cases matching the filter, newest first.
func (s *DB) ListCases(ctx context.Context, f CaseFilter) ([]model.Case, error) {
	q := `SELECT ` + caseColumns + ` FROM cases WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Vertical != "" {
		q += ` AND vertical = ?`
		args = append(args, f.Vertical)
	}
	q += ` ORDER BY created_at DESC, case_id DESC`
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.sql.QueryContext(ctx, s.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListCasesByStatusOlderThan returns cases stuck in a status whose
// updated_at is before the cutoff. The reaper uses it to re-drive
// processing and expire overdue reviews.
func (s *DB) ListCasesByStatusOlderThan(ctx context.Context, status model.CaseStatus, cutoff time.Time) ([]model.Case, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT `+caseColumns+` FROM cases WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`),
		string(status), fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale cases: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListCasesPastSLA returns non-terminal cases whose SLA deadline has
// passed.
func (s *DB) ListCasesPastSLA(ctx context.Context, now time.Time) ([]model.Case, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT `+caseColumns+` FROM cases
		WHERE sla_deadline IS NOT NULL AND sla_deadline < ?
		  AND status NOT IN ('approved', 'rejected', 'expired')
		ORDER BY sla_deadline ASC`),
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list cases past sla: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

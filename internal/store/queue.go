package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"decisiond/internal/model"
)

// CreateAssignment places a case on a review queue.
func (s *DB) CreateAssignment(ctx context.Context, a *model.QueueAssignment) error {
	return s.insertAssignment(ctx, s.sql, a)
}

// CreateAssignmentTx places a case on a review queue inside a
// transaction, so the assignment commits with the transition that
// routed it.
func (s *DB) CreateAssignmentTx(ctx context.Context, tx *sql.Tx, a *model.QueueAssignment) error {
	return s.insertAssignment(ctx, tx, a)
}

func (s *DB) insertAssignment(ctx context.Context, ex execer, a *model.QueueAssignment) error {
	_, err := ex.ExecContext(ctx, s.Rebind(`
		INSERT INTO queue_assignments (assignment_id, case_id, queue, assigned_role,
			assigned_to_user, claimed_at, sla_deadline, priority, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.AssignmentID, a.CaseID, a.Queue, a.AssignedRole,
		a.AssignedToUser, fmtTimePtr(a.ClaimedAt), fmtTimePtr(a.SLADeadline),
		a.Priority, fmtTime(a.CreatedAt), fmtTimePtr(a.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert queue assignment: %w", err)
	}
	return nil
}

const assignmentColumns = `assignment_id, case_id, queue, assigned_role,
	assigned_to_user, claimed_at, sla_deadline, priority, created_at, completed_at`

func scanAssignment(row interface{ Scan(...any) error }) (model.QueueAssignment, error) {
	var a model.QueueAssignment
	var user, claimedAt, slaDeadline, completedAt sql.NullString
	var createdAt string
	err := row.Scan(&a.AssignmentID, &a.CaseID, &a.Queue, &a.AssignedRole,
		&user, &claimedAt, &slaDeadline, &a.Priority, &createdAt, &completedAt)
	if err != nil {
		return a, err
	}
	a.AssignedToUser = user.String
	a.ClaimedAt = parseTimePtr(claimedAt)
	a.SLADeadline = parseTimePtr(slaDeadline)
	a.CreatedAt = parseTime(createdAt)
	a.CompletedAt = parseTimePtr(completedAt)
	return a, nil
}

// GetAssignment loads an assignment by ID.
func (s *DB) GetAssignment(ctx context.Context, assignmentID string) (model.QueueAssignment, error) {
	row := s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT `+assignmentColumns+` FROM queue_assignments WHERE assignment_id = ?`),
		assignmentID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return a, &NotFoundError{Kind: "assignment", ID: assignmentID}
	}
	if err != nil {
		return a, fmt.Errorf("query assignment: %w", err)
	}
	return a, nil
}

// OpenAssignmentForCase returns the unfinished assignment for a case, if
// one exists.
func (s *DB) OpenAssignmentForCase(ctx context.Context, caseID string) (model.QueueAssignment, error) {
	row := s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT `+assignmentColumns+` FROM queue_assignments
		WHERE case_id = ? AND completed_at IS NULL
		ORDER BY created_at DESC LIMIT 1`),
		caseID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return a, &NotFoundError{Kind: "assignment for case", ID: caseID}
	}
	if err != nil {
		return a, fmt.Errorf("query case assignment: %w", err)
	}
	return a, nil
}

// ListQueue returns unclaimed assignments on a queue: highest priority
// first, then tightest SLA (no deadline sorts last), then oldest.
func (s *DB) ListQueue(ctx context.Context, queue string, limit int) ([]model.QueueAssignment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT `+assignmentColumns+` FROM queue_assignments
		WHERE queue = ? AND claimed_at IS NULL AND completed_at IS NULL
		ORDER BY priority DESC,
			CASE WHEN sla_deadline IS NULL THEN 1 ELSE 0 END,
			sla_deadline ASC, created_at ASC
		LIMIT ?`),
		queue, limit)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []model.QueueAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// QueueDepth counts unclaimed assignments on a queue.
func (s *DB) QueueDepth(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT COUNT(*) FROM queue_assignments
		WHERE queue = ? AND claimed_at IS NULL AND completed_at IS NULL`),
		queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// ClaimAssignment marks an assignment as claimed by a user. A second
// claim loses with ClaimConflictError; the WHERE clause is the arbiter so
// two replicas cannot both win.
func (s *DB) ClaimAssignment(ctx context.Context, assignmentID, userID string) (model.QueueAssignment, error) {
	res, err := s.sql.ExecContext(ctx, s.Rebind(`
		UPDATE queue_assignments SET claimed_at = ?, assigned_to_user = ?
		WHERE assignment_id = ? AND claimed_at IS NULL AND completed_at IS NULL`),
		fmtTime(time.Now()), userID, assignmentID)
	if err != nil {
		return model.QueueAssignment{}, fmt.Errorf("claim assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.QueueAssignment{}, fmt.Errorf("claim assignment: %w", err)
	}
	if n == 0 {
		a, err := s.GetAssignment(ctx, assignmentID)
		if err != nil {
			return model.QueueAssignment{}, err
		}
		return model.QueueAssignment{}, &ClaimConflictError{
			AssignmentID: assignmentID, ClaimedBy: a.AssignedToUser}
	}
	return s.GetAssignment(ctx, assignmentID)
}

// CompleteAssignment closes an assignment after a review decision.
func (s *DB) CompleteAssignment(ctx context.Context, assignmentID string) error {
	res, err := s.sql.ExecContext(ctx, s.Rebind(`
		UPDATE queue_assignments SET completed_at = ?
		WHERE assignment_id = ? AND completed_at IS NULL`),
		fmtTime(time.Now()), assignmentID)
	if err != nil {
		return fmt.Errorf("complete assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "open assignment", ID: assignmentID}
	}
	return nil
}

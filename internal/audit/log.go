// Package audit maintains the append-only, hash-chained audit trail for
// every case. Each case has its own chain: an event's prev_hash is the
// hash of the case's previous event, starting from GenesisHash. Events
// are written inside the same transaction as the state change they
// describe, so a committed transition always has its audit record.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"decisiond/internal/model"
	"decisiond/internal/store"
)

// Event types recorded in the trail. Every committed status change is a
// state_transition event; the others annotate the pipeline around it.
const (
	EventCaseCreated       = "case.created"
	EventStateTransition   = "state_transition"
	EventAgentsCompleted   = "case.agents_completed"
	EventPolicyApplied     = "case.policy_applied"
	EventReviewAssigned    = "case.review_assigned"
	EventReviewClaimed     = "case.review_claimed"
	EventProcessingFailed  = "case.processing_failed"
	EventAgentError        = "agent.error"
	EventTransitionRefused = "transition.refused"
	EventDocumentUploaded  = "document.uploaded"
	EventEvidenceAdded     = "evidence.added"
	EventRuleEvalError     = "rule_eval_error"
	EventPolicyActivated   = "policy.activated"
	EventPolicyConfigError = "policy.config_error"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Log appends and reads audit events in the platform database.
type Log struct {
	db *store.DB
}

// NewLog wires the audit log onto the shared database.
func NewLog(db *store.DB) *Log {
	return &Log{db: db}
}

// NewEvent builds an event skeleton with ID and timestamp assigned.
func NewEvent(caseID, eventType string, actor model.Actor) *model.AuditEvent {
	return &model.AuditEvent{
		EventID:   "evt_" + uuid.NewString(),
		CaseID:    caseID,
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Actor:     actor,
	}
}

// Append links the event onto its case's chain and inserts it. When tx is
// non-nil the write joins that transaction; callers recording a state
// change pass the transition's transaction so audit and status commit or
// roll back together. Standalone appends run in their own short
// transaction serialized against in-flight transitions, so two events can
// never link to the same prev_hash.
func (l *Log) Append(ctx context.Context, tx *sql.Tx, event *model.AuditEvent) error {
	if tx != nil {
		return l.append(ctx, tx, event)
	}

	unlock := l.db.LockCase(event.CaseID)
	defer unlock()

	own, err := l.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer own.Rollback()
	if l.db.IsPostgres() {
		// Block until any transition holding the case row commits.
		if _, err := own.ExecContext(ctx, l.db.Rebind(
			`SELECT case_id FROM cases WHERE case_id = ? FOR UPDATE`),
			event.CaseID); err != nil {
			return fmt.Errorf("lock case for audit append: %w", err)
		}
	}
	if err := l.append(ctx, own, event); err != nil {
		return err
	}
	if err := own.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

func (l *Log) append(ctx context.Context, q querier, event *model.AuditEvent) error {
	var lastHash sql.NullString
	err := q.QueryRowContext(ctx, l.db.Rebind(`
		SELECT event_hash FROM audit_events WHERE case_id = ?
		ORDER BY id DESC LIMIT 1`),
		event.CaseID).Scan(&lastHash)
	if err == sql.ErrNoRows || !lastHash.Valid || lastHash.String == "" {
		event.PrevHash = GenesisHash
	} else if err != nil {
		return fmt.Errorf("query last event hash: %w", err)
	} else {
		event.PrevHash = lastHash.String
	}
	event.EventHash = ComputeEventHash(event)

	actorJSON, err := json.Marshal(event.Actor)
	if err != nil {
		return fmt.Errorf("marshal actor: %w", err)
	}
	payloadJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var from, to sql.NullString
	if event.Transition != nil {
		from = sql.NullString{String: string(event.Transition.From), Valid: true}
		to = sql.NullString{String: string(event.Transition.To), Valid: true}
	}

	_, err = q.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO audit_events (event_id, case_id, timestamp, event_type, actor_json,
			transition_from, transition_to, policy_version, policy_rule_matched,
			payload_json, prev_hash, event_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.EventID, event.CaseID,
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		event.EventType, string(actorJSON), from, to,
		event.PolicyVersion, event.PolicyRuleMatched,
		string(payloadJSON), event.PrevHash, event.EventHash)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetCaseHistory returns a case's full audit trail in append order. Row
// id order is insertion order, which is chain order; timestamps can tie
// or skew when events are built concurrently.
func (l *Log) GetCaseHistory(ctx context.Context, caseID string) ([]model.AuditEvent, error) {
	rows, err := l.db.SQL().QueryContext(ctx, l.db.Rebind(`
		SELECT payload_json FROM audit_events WHERE case_id = ?
		ORDER BY id ASC`),
		caseID)
	if err != nil {
		return nil, fmt.Errorf("query case history: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var event model.AuditEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CaseIDs returns every case that has audit events, for full-database
// verification.
func (l *Log) CaseIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.SQL().QueryContext(ctx,
		`SELECT DISTINCT case_id FROM audit_events ORDER BY case_id`)
	if err != nil {
		return nil, fmt.Errorf("query audited cases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// VerifyCase checks one case's chain.
func (l *Log) VerifyCase(ctx context.Context, caseID string) (ChainStatus, error) {
	events, err := l.GetCaseHistory(ctx, caseID)
	if err != nil {
		return ChainStatus{}, err
	}
	return VerifyChainStatus(caseID, events), nil
}

// ReplayedState is the case state derived purely from the audit trail.
type ReplayedState struct {
	CaseID        string           `json:"case_id"`
	Status        model.CaseStatus `json:"status"`
	PolicyVersion string           `json:"policy_version,omitempty"`
	Transitions   int              `json:"transitions"`
	EventCount    int              `json:"event_count"`
	LastEventAt   time.Time        `json:"last_event_at"`
}

// Replay folds a case's audit trail into its derived state. A correct
// trail replays to the case's stored status; divergence means a state
// change was made without its audit record.
func Replay(events []model.AuditEvent) ReplayedState {
	var state ReplayedState
	for _, event := range events {
		state.CaseID = event.CaseID
		state.EventCount++
		state.LastEventAt = event.Timestamp
		if event.PolicyVersion != "" {
			state.PolicyVersion = event.PolicyVersion
		}
		switch event.EventType {
		case EventCaseCreated:
			state.Status = model.StatusDraft
		}
		if event.Transition != nil {
			state.Status = event.Transition.To
			state.Transitions++
		}
	}
	return state
}

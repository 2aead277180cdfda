// Package casework drives the case lifecycle: creation against the
// active policy, guarded state transitions, the agent processing
// pipeline, and human review. Every status change is validated by the
// policy state machine and committed in the same transaction as its
// audit event.
package casework

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"decisiond/internal/agent"
	"decisiond/internal/audit"
	"decisiond/internal/evidence"
	"decisiond/internal/metrics"
	"decisiond/internal/model"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

// Manager coordinates cases across the store, policy engine, agent
// orchestrator and audit log.
type Manager struct {
	db       *store.DB
	log      *audit.Log
	policies *policy.Store
	engine   *policy.Engine
	orch     *agent.Orchestrator
	evidence *evidence.Service
	logger   *slog.Logger
}

// NewManager wires a case manager.
func NewManager(db *store.DB, log *audit.Log, policies *policy.Store, engine *policy.Engine, orch *agent.Orchestrator, evd *evidence.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:       db,
		log:      log,
		policies: policies,
		engine:   engine,
		orch:     orch,
		evidence: evd,
		logger:   logger,
	}
}

// CreateCaseInput is the caller-supplied portion of a new case.
type CreateCaseInput struct {
	Vertical   string             `json:"vertical"`
	Priority   model.CasePriority `json:"priority"`
	CustomerID string             `json:"customer_id"`
	Metadata   map[string]any     `json:"metadata"`
}

// CreateCase opens a new draft case bound to the vertical's active
// policy version. The binding is permanent: later activations do not
// move in-flight cases.
func (m *Manager) CreateCase(ctx context.Context, in CreateCaseInput, actor model.Actor) (model.Case, error) {
	if in.Vertical == "" {
		return model.Case{}, &ValidationError{Field: "vertical", Message: "is required"}
	}
	if in.Priority == "" {
		in.Priority = model.PriorityNormal
	}
	if !in.Priority.Valid() {
		return model.Case{}, &ValidationError{Field: "priority",
			Message: fmt.Sprintf("unknown priority %q", in.Priority)}
	}

	pol, err := m.policies.GetActive(ctx, in.Vertical)
	if err != nil {
		return model.Case{}, err
	}

	now := time.Now().UTC()
	c := model.Case{
		CaseID:        "case_" + uuid.NewString()[:12],
		Vertical:      in.Vertical,
		Status:        model.StatusDraft,
		Priority:      in.Priority,
		PolicyVersion: pol.PolicyID,
		CustomerID:    in.CustomerID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      in.Metadata,
	}

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return model.Case{}, fmt.Errorf("begin create case: %w", err)
	}
	defer tx.Rollback()

	if err := m.db.CreateCaseTx(ctx, tx, &c); err != nil {
		return model.Case{}, err
	}
	event := audit.NewEvent(c.CaseID, audit.EventCaseCreated, actor)
	event.PolicyVersion = c.PolicyVersion
	event.Metadata = map[string]any{
		"vertical": c.Vertical,
		"priority": string(c.Priority),
	}
	if err := m.log.Append(ctx, tx, event); err != nil {
		return model.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Case{}, fmt.Errorf("commit create case: %w", err)
	}

	m.logger.Info("case created",
		"case_id", c.CaseID, "vertical", c.Vertical, "policy_version", c.PolicyVersion)
	return c, nil
}

// GetCase loads a case by ID.
func (m *Manager) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	return m.db.GetCase(ctx, caseID)
}

// ListCases returns cases matching the filter.
func (m *Manager) ListCases(ctx context.Context, f store.CaseFilter) ([]model.Case, error) {
	return m.db.ListCases(ctx, f)
}

// SubmitCase moves a case into the submitted state. The guard restricts
// this to the customer or API actors, from draft or needs_more_info.
// Submitting an already-submitted case is a no-op returning current
// state.
func (m *Manager) SubmitCase(ctx context.Context, caseID string, actor model.Actor) (model.Case, error) {
	c, err := m.db.GetCase(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if c.Status == model.StatusSubmitted {
		return c, nil
	}
	return m.transition(ctx, caseID, transitionOpts{
		to:    model.StatusSubmitted,
		actor: actor,
	})
}

// Process runs a submitted case through the decision pipeline: evidence
// collection, the agent ensemble, policy rule evaluation, and the
// matched rule's action. Any pipeline failure after the case has entered
// processing parks it in manual review rather than leaving it stuck.
func (m *Manager) Process(ctx context.Context, caseID string) (model.Case, error) {
	start := time.Now()
	system := model.Actor{Type: model.ActorSystem}

	c, err := m.transition(ctx, caseID, transitionOpts{
		to:    model.StatusProcessing,
		actor: system,
	})
	if err != nil {
		return model.Case{}, err
	}

	c, perr := m.runPipeline(ctx, c)
	if perr != nil {
		c, err = m.failProcessing(ctx, c, perr)
		if err != nil {
			return model.Case{}, err
		}
	}

	metrics.ProcessingObserved(time.Since(start))
	return c, nil
}

// runPipeline executes the processing steps for a case already in the
// processing state.
func (m *Manager) runPipeline(ctx context.Context, c model.Case) (model.Case, error) {
	pol, err := m.policies.Get(ctx, c.PolicyVersion)
	if err != nil {
		return c, err
	}

	collected, err := m.evidence.CollectAndStore(ctx, &c)
	if err != nil {
		return c, err
	}

	recs, err := m.orch.RunAll(ctx, c.CaseID, collected)
	if err != nil {
		return c, err
	}
	for _, rec := range recs {
		for _, flag := range rec.Recommendation.RiskFlags {
			if flag != "agent_error" {
				continue
			}
			ev := audit.NewEvent(c.CaseID, audit.EventAgentError, model.Actor{Type: model.ActorSystem})
			ev.PolicyVersion = c.PolicyVersion
			ev.Metadata = map[string]any{"agent": rec.AgentName}
			if err := m.log.Append(ctx, nil, ev); err != nil {
				return c, err
			}
		}
	}

	dec, err := m.orch.Synthesize(c.CaseID, pol.VotingStrategy.Type, pol.VotingStrategy.Config, recs)
	if err != nil {
		return c, err
	}
	dec, err = m.db.SaveEnsemble(ctx, dec)
	if err != nil {
		return c, err
	}

	event := audit.NewEvent(c.CaseID, audit.EventAgentsCompleted, model.Actor{Type: model.ActorSystem})
	event.PolicyVersion = c.PolicyVersion
	event.AgentRecommendation = &dec
	event.Metadata = map[string]any{
		"attempt":    dec.Attempt,
		"action":     string(dec.Final.Action),
		"confidence": dec.Final.Confidence,
		"risk_score": dec.Final.RiskScore,
	}
	if err := m.log.Append(ctx, nil, event); err != nil {
		return c, err
	}

	match, err := m.engine.EvaluateRules(ctx, nil, pol, &c, &dec, collected)
	if err != nil {
		return c, err
	}
	m.logger.Info("policy rule matched",
		"case_id", c.CaseID, "policy_version", pol.PolicyID,
		"rule", match.Rule.Name, "action", string(match.Action))

	return m.executeDecision(ctx, c, pol, match, &dec, collected)
}

// executeDecision applies the matched rule's action: terminal actions
// close the case, everything else routes it to human review.
func (m *Manager) executeDecision(ctx context.Context, c model.Case, pol *policy.Policy, match policy.RuleMatch, dec *model.EnsembleDecision, collected []model.Evidence) (model.Case, error) {
	system := model.Actor{Type: model.ActorSystem}
	opts := transitionOpts{
		actor:            system,
		ensemble:         dec,
		evidenceSnapshot: evidence.Snapshot(collected),
		ruleMatched:      match.Rule.Name,
	}

	switch match.Action {
	case model.ActionApprove:
		opts.to = model.StatusApproved
	case model.ActionReject:
		opts.to = model.StatusRejected
	default:
		// manual_review, escalate and request_more_info all need a
		// human: route to the manual review queue per the matched rule.
		opts.to = model.StatusUnderReviewManual
		opts.assignment = m.buildAssignment(&c, match.AssigneeRole, match.SLAHours)
		if opts.assignment != nil {
			opts.slaDeadline = opts.assignment.SLADeadline
		}
	}
	return m.transition(ctx, c.CaseID, opts)
}

// failProcessing records the failure and parks the case in manual
// review so a human picks it up.
func (m *Manager) failProcessing(ctx context.Context, c model.Case, cause error) (model.Case, error) {
	m.logger.Error("case processing failed",
		"case_id", c.CaseID, "error", cause)

	system := model.Actor{Type: model.ActorSystem}
	event := audit.NewEvent(c.CaseID, audit.EventProcessingFailed, system)
	event.PolicyVersion = c.PolicyVersion
	event.Metadata = map[string]any{"error": cause.Error()}
	if err := m.log.Append(ctx, nil, event); err != nil {
		return model.Case{}, err
	}

	role, sla := m.fallbackRouting(ctx, c.PolicyVersion)
	assignment := m.buildAssignment(&c, role, sla)
	var deadline *time.Time
	if assignment != nil {
		deadline = assignment.SLADeadline
	}
	return m.transition(ctx, c.CaseID, transitionOpts{
		to:          model.StatusUnderReviewManual,
		actor:       system,
		assignment:  assignment,
		slaDeadline: deadline,
	})
}

// fallbackRouting derives queue routing for a failed case from the
// policy's default rule, so failures land on the same queue as ordinary
// manual reviews.
func (m *Manager) fallbackRouting(ctx context.Context, policyVersion string) (string, *int) {
	pol, err := m.policies.Get(ctx, policyVersion)
	if err != nil {
		return "", nil
	}
	for _, r := range pol.Rules {
		if r.Condition == "*" {
			return r.AssigneeRole, r.SLAHours
		}
	}
	return "", nil
}

func (m *Manager) buildAssignment(c *model.Case, role string, slaHours *int) *model.QueueAssignment {
	if role == "" {
		return nil
	}
	a := &model.QueueAssignment{
		AssignmentID: "asn_" + uuid.NewString()[:12],
		CaseID:       c.CaseID,
		Queue:        "queue_" + role,
		AssignedRole: role,
		Priority:     c.Priority.QueueWeight(),
		CreatedAt:    time.Now().UTC(),
	}
	if slaHours != nil {
		deadline := time.Now().UTC().Add(time.Duration(*slaHours) * time.Hour)
		a.SLADeadline = &deadline
	}
	return a
}

// ReviewCase applies a human review decision to a case under review.
func (m *Manager) ReviewCase(ctx context.Context, caseID string, decision model.ReviewDecision, reviewer model.Actor) (model.Case, error) {
	var to model.CaseStatus
	switch decision.Action {
	case model.ActionApprove:
		to = model.StatusApproved
	case model.ActionReject:
		to = model.StatusRejected
	case model.ActionRequestMoreInfo:
		to = model.StatusNeedsMoreInfo
	default:
		return model.Case{}, &ValidationError{Field: "action",
			Message: fmt.Sprintf("%q is not a review action", decision.Action)}
	}
	if len(strings.TrimSpace(decision.Reasoning.Rationale)) < model.MinRationaleLen {
		return model.Case{}, &ValidationError{Field: "reasoning.rationale",
			Message: fmt.Sprintf("must be at least %d characters", model.MinRationaleLen)}
	}
	reasoning := decision.Reasoning
	reasoning.Decision = decision.Action

	snapshot := map[string]any(nil)
	if latest, err := m.evidence.Latest(ctx, caseID); err == nil {
		snapshot = evidence.Snapshot(latest)
	}
	var ensemble *model.EnsembleDecision
	if dec, err := m.db.LatestEnsemble(ctx, caseID); err == nil {
		ensemble = &dec
	} else if !store.IsNotFound(err) {
		return model.Case{}, err
	}

	c, err := m.transition(ctx, caseID, transitionOpts{
		to:               to,
		actor:            reviewer,
		reasoning:        &reasoning,
		evidenceSnapshot: snapshot,
		ensemble:         ensemble,
	})
	if err != nil {
		return model.Case{}, err
	}

	// Close out the open queue assignment, if any.
	if a, err := m.db.OpenAssignmentForCase(ctx, caseID); err == nil {
		if err := m.db.CompleteAssignment(ctx, a.AssignmentID); err != nil {
			m.logger.Warn("completing assignment failed",
				"case_id", caseID, "assignment_id", a.AssignmentID, "error", err)
		}
	} else if !store.IsNotFound(err) {
		m.logger.Warn("looking up open assignment failed", "case_id", caseID, "error", err)
	}

	return c, nil
}

// ParkStuck moves a case that never left processing into manual review
// via the failure path. Cases already out of processing are left alone.
func (m *Manager) ParkStuck(ctx context.Context, caseID string) (model.Case, error) {
	c, err := m.db.GetCase(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if c.Status != model.StatusProcessing {
		return c, nil
	}
	return m.failProcessing(ctx, c, fmt.Errorf("processing did not complete"))
}

// ExpireCase moves a case past its SLA deadline into the terminal
// expired state.
func (m *Manager) ExpireCase(ctx context.Context, caseID string) (model.Case, error) {
	return m.transition(ctx, caseID, transitionOpts{
		to:    model.StatusExpired,
		actor: model.Actor{Type: model.ActorSystem},
	})
}

type transitionOpts struct {
	to               model.CaseStatus
	actor            model.Actor
	reasoning        *model.Reasoning
	evidenceSnapshot map[string]any
	ensemble         *model.EnsembleDecision
	ruleMatched      string
	slaDeadline      *time.Time
	assignment       *model.QueueAssignment
}

// transition performs a guarded status change. The audit event is
// appended before the status write, in the same transaction, so the
// trail and the case can never disagree. Per-case locking serializes
// concurrent transitions; a lost status race surfaces as ConflictError.
func (m *Manager) transition(ctx context.Context, caseID string, o transitionOpts) (model.Case, error) {
	unlock := m.db.LockCase(caseID)
	locked := true
	release := func() {
		if locked {
			locked = false
			unlock()
		}
	}
	defer release()

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return model.Case{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	c, err := m.db.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	from := c.Status

	pol, err := m.policies.Get(ctx, c.PolicyVersion)
	if err != nil {
		return model.Case{}, err
	}
	if err := m.engine.CheckTransition(&pol.StateMachine, caseID, from, o.to, o.actor); err != nil {
		tx.Rollback()
		// The refusal event appends outside this transaction and takes
		// the case lock itself.
		release()
		m.recordRefusal(ctx, caseID, from, o.to, o.actor, err)
		return model.Case{}, err
	}

	event := audit.NewEvent(caseID, audit.EventStateTransition, o.actor)
	event.Transition = &model.StateTransition{From: from, To: o.to}
	event.Reasoning = o.reasoning
	event.EvidenceSnapshot = o.evidenceSnapshot
	event.AgentRecommendation = o.ensemble
	event.PolicyVersion = c.PolicyVersion
	event.PolicyRuleMatched = o.ruleMatched
	if err := m.log.Append(ctx, tx, event); err != nil {
		return model.Case{}, err
	}

	if err := m.db.UpdateCaseStatusTx(ctx, tx, caseID, from, o.to); err != nil {
		return model.Case{}, err
	}
	if o.to.IsTerminal() {
		err = m.db.UpdateCaseSLADeadlineTx(ctx, tx, caseID, nil)
	} else if o.slaDeadline != nil {
		err = m.db.UpdateCaseSLADeadlineTx(ctx, tx, caseID, o.slaDeadline)
	}
	if err != nil {
		return model.Case{}, err
	}

	if o.assignment != nil {
		if err := m.db.CreateAssignmentTx(ctx, tx, o.assignment); err != nil {
			return model.Case{}, err
		}
		assigned := audit.NewEvent(caseID, audit.EventReviewAssigned, o.actor)
		assigned.PolicyVersion = c.PolicyVersion
		assigned.Metadata = map[string]any{
			"assignment_id": o.assignment.AssignmentID,
			"queue":         o.assignment.Queue,
			"assigned_role": o.assignment.AssignedRole,
		}
		if err := m.log.Append(ctx, tx, assigned); err != nil {
			return model.Case{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Case{}, fmt.Errorf("commit transition: %w", err)
	}

	metrics.CaseTransitioned(string(from), string(o.to))
	m.logger.Info("case transitioned",
		"case_id", caseID, "from", string(from), "to", string(o.to),
		"actor", o.actor.GuardName())

	return m.db.GetCase(ctx, caseID)
}

// recordRefusal writes a transition.refused event outside the rolled
// back transaction. Refusals are diagnostic; a failure to record one is
// logged, not surfaced.
func (m *Manager) recordRefusal(ctx context.Context, caseID string, from, to model.CaseStatus, actor model.Actor, cause error) {
	event := audit.NewEvent(caseID, audit.EventTransitionRefused, actor)
	event.Metadata = map[string]any{
		"from":  string(from),
		"to":    string(to),
		"error": cause.Error(),
	}
	if err := m.log.Append(ctx, nil, event); err != nil {
		m.logger.Warn("recording refused transition failed", "case_id", caseID, "error", err)
	}
}

// Package model defines the domain types shared across the decision
// platform: cases, evidence, agent recommendations, ensemble decisions,
// policies, audit events and queue assignments.
package model

import "time"

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	StatusDraft                 CaseStatus = "draft"
	StatusSubmitted             CaseStatus = "submitted"
	StatusProcessing            CaseStatus = "processing"
	StatusUnderReview           CaseStatus = "under_review"
	StatusUnderReviewIdentity   CaseStatus = "under_review.identity_check"
	StatusUnderReviewFraud      CaseStatus = "under_review.fraud_check"
	StatusUnderReviewCompliance CaseStatus = "under_review.compliance_check"
	StatusUnderReviewManual     CaseStatus = "under_review.manual_review"
	StatusApproved              CaseStatus = "approved"
	StatusRejected              CaseStatus = "rejected"
	StatusNeedsMoreInfo         CaseStatus = "needs_more_info"
	StatusExpired               CaseStatus = "expired"
)

// IsTerminal reports whether the status is a terminal state.
func (s CaseStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CasePriority is the business priority of a case.
type CasePriority string

const (
	PriorityLow    CasePriority = "low"
	PriorityNormal CasePriority = "normal"
	PriorityHigh   CasePriority = "high"
	PriorityUrgent CasePriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p CasePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// QueueWeight converts the priority into the numeric ordering used for
// queue assignments (higher = served first).
func (p CasePriority) QueueWeight() int {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityLow:
		return 25
	default:
		return 50
	}
}

// ActionType is a recommendation or policy action.
type ActionType string

const (
	ActionApprove         ActionType = "approve"
	ActionReject          ActionType = "reject"
	ActionManualReview    ActionType = "manual_review"
	ActionEscalate        ActionType = "escalate"
	ActionRequestMoreInfo ActionType = "request_more_info"
)

// Restrictiveness returns the total ordering used to break ties in voting:
// reject > escalate > manual_review > request_more_info > approve.
func (a ActionType) Restrictiveness() int {
	switch a {
	case ActionReject:
		return 5
	case ActionEscalate:
		return 4
	case ActionManualReview:
		return 3
	case ActionRequestMoreInfo:
		return 2
	case ActionApprove:
		return 1
	}
	return 0
}

// ActorType identifies the kind of actor performing an action.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorHuman  ActorType = "human"
	ActorAPI    ActorType = "api"
)

// Actor is who performed an action, as recorded in the audit log and
// checked by the state-machine guard.
type Actor struct {
	Type      ActorType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// GuardName maps the actor onto the names used in state-machine
// allowed_actors lists.
func (a Actor) GuardName() string {
	switch a.Type {
	case ActorSystem:
		return "system"
	case ActorHuman:
		return "reviewer"
	case ActorAPI:
		return "api"
	}
	return string(a.Type)
}

// Case is the unit of decision work, bound to a policy version at creation.
type Case struct {
	CaseID        string         `json:"case_id"`
	Vertical      string         `json:"vertical"`
	Status        CaseStatus     `json:"status"`
	Priority      CasePriority   `json:"priority"`
	PolicyVersion string         `json:"policy_version"`
	CustomerID    string         `json:"customer_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	SLADeadline   *time.Time     `json:"sla_deadline,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// OCRStatus is the OCR lifecycle state of a document.
type OCRStatus string

const (
	OCRPending    OCRStatus = "pending"
	OCRProcessing OCRStatus = "processing"
	OCRCompleted  OCRStatus = "completed"
	OCRFailed     OCRStatus = "failed"
)

// Document is an uploaded file attached to a case. Only ocr_status mutates
// after creation.
type Document struct {
	DocumentID      string    `json:"document_id"`
	CaseID          string    `json:"case_id"`
	DocumentType    string    `json:"document_type"`
	DocumentSubtype string    `json:"document_subtype,omitempty"`
	FilePath        string    `json:"file_path"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	MimeType        string    `json:"mime_type"`
	UploadedAt      time.Time `json:"uploaded_at"`
	OCRStatus       OCRStatus `json:"ocr_status"`
}

// Evidence is an immutable, versioned fact bundle about a case. Higher
// versions supersede earlier ones for the same (case_id, evidence_type).
type Evidence struct {
	EvidenceID   string         `json:"evidence_id"`
	CaseID       string         `json:"case_id"`
	EvidenceType string         `json:"evidence_type"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	Data         map[string]any `json:"data"`
}

// ConfidenceBreakdown carries component-level confidence scores.
type ConfidenceBreakdown struct {
	Overall    float64            `json:"overall"`
	Components map[string]float64 `json:"components,omitempty"`
}

// Recommendation is the payload an agent produces for a case.
type Recommendation struct {
	Action              ActionType           `json:"action"`
	Confidence          float64              `json:"confidence"`
	Reasoning           string               `json:"reasoning"`
	RiskScore           *int                 `json:"risk_score,omitempty"`
	RiskFlags           []string             `json:"risk_flags,omitempty"`
	ConfidenceBreakdown *ConfidenceBreakdown `json:"confidence_breakdown,omitempty"`
	RequiredActions     []string             `json:"required_actions,omitempty"`
}

// RiskScoreOr returns the recommendation's risk score, or def when unset.
func (r Recommendation) RiskScoreOr(def int) int {
	if r.RiskScore == nil {
		return def
	}
	return *r.RiskScore
}

// IntPtr is a convenience for optional risk scores.
func IntPtr(v int) *int { return &v }

// AgentRecommendation is a persisted, append-only agent output.
type AgentRecommendation struct {
	RecommendationID string         `json:"recommendation_id"`
	CaseID           string         `json:"case_id"`
	AgentName        string         `json:"agent_name"`
	AgentVersion     string         `json:"agent_version"`
	Timestamp        time.Time      `json:"timestamp"`
	Recommendation   Recommendation `json:"recommendation"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// AgentVote is one agent's contribution to an ensemble decision.
type AgentVote struct {
	Agent      string     `json:"agent"`
	Action     ActionType `json:"action"`
	Confidence float64    `json:"confidence"`
	Weight     float64    `json:"weight"`
}

// VotingDetails summarises how the ensemble vote went.
type VotingDetails struct {
	ApproveVotes       int     `json:"approve_votes"`
	RejectVotes        int     `json:"reject_votes"`
	ManualReviewVotes  int     `json:"manual_review_votes"`
	EscalateVotes      int     `json:"escalate_votes"`
	WeightedConfidence float64 `json:"weighted_confidence"`
	ConsensusLevel     string  `json:"consensus_level"`
}

// EnsembleRecommendation is the synthesised final recommendation.
type EnsembleRecommendation struct {
	Action        ActionType    `json:"action"`
	Confidence    float64       `json:"confidence"`
	Reasoning     string        `json:"reasoning"`
	RiskScore     int           `json:"risk_score"`
	RiskFlags     []string      `json:"risk_flags"`
	VotingDetails VotingDetails `json:"voting_details"`
}

// EnsembleDecision is a persisted ensemble result. Decisions are versioned
// per processing run by Attempt; the highest attempt is current.
type EnsembleDecision struct {
	EnsembleID     string                 `json:"ensemble_id"`
	CaseID         string                 `json:"case_id"`
	Attempt        int                    `json:"attempt"`
	Timestamp      time.Time              `json:"timestamp"`
	VotingStrategy string                 `json:"voting_strategy"`
	AgentVotes     []AgentVote            `json:"agent_votes"`
	Final          EnsembleRecommendation `json:"final_recommendation"`
}

// StateTransition records a from→to status change.
type StateTransition struct {
	From CaseStatus `json:"from_state"`
	To   CaseStatus `json:"to_state"`
}

// StructuredReasoning carries the checkbox portion of a human decision.
type StructuredReasoning struct {
	IdentityVerified *bool           `json:"identity_verified,omitempty"`
	AddressVerified  *bool           `json:"address_verified,omitempty"`
	SanctionsClear   *bool           `json:"sanctions_clear,omitempty"`
	RiskAcceptable   *bool           `json:"risk_acceptable,omitempty"`
	CustomChecks     map[string]bool `json:"custom_checks,omitempty"`
}

// Reasoning is the rationale attached to a human review decision.
// Rationale must be at least MinRationaleLen characters.
type Reasoning struct {
	Decision         ActionType           `json:"decision"`
	Rationale        string               `json:"rationale"`
	StructuredChecks *StructuredReasoning `json:"structured_checks,omitempty"`
	ReviewerNotes    string               `json:"reviewer_notes,omitempty"`
}

// MinRationaleLen is the minimum length of a review rationale.
const MinRationaleLen = 50

// AuditEvent is one append-only record in a case's audit trail.
type AuditEvent struct {
	EventID             string            `json:"event_id"`
	CaseID              string            `json:"case_id"`
	Timestamp           time.Time         `json:"timestamp"`
	EventType           string            `json:"event_type"`
	Actor               Actor             `json:"actor"`
	Transition          *StateTransition  `json:"transition,omitempty"`
	Reasoning           *Reasoning        `json:"reasoning,omitempty"`
	EvidenceSnapshot    map[string]any    `json:"evidence_snapshot,omitempty"`
	AgentRecommendation *EnsembleDecision `json:"agent_recommendation,omitempty"`
	PolicyVersion       string            `json:"policy_version,omitempty"`
	PolicyRuleMatched   string            `json:"policy_rule_matched,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`

	// Hash chain for tamper evidence.
	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`
}

// QueueAssignment routes a case to a human role for review.
type QueueAssignment struct {
	AssignmentID   string     `json:"assignment_id"`
	CaseID         string     `json:"case_id"`
	Queue          string     `json:"queue"`
	AssignedRole   string     `json:"assigned_role"`
	AssignedToUser string     `json:"assigned_to_user,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	SLADeadline    *time.Time `json:"sla_deadline,omitempty"`
	Priority       int        `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// User is an operator account used for human review.
type User struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// ReviewDecision is a human review submission.
type ReviewDecision struct {
	Action    ActionType `json:"action"`
	Reasoning Reasoning  `json:"reasoning"`
}

// Package policy defines policy documents (rules, voting strategy, state
// machine), their storage and caching, and the engine that evaluates
// rules and guards state transitions.
package policy

import (
	"time"

	"decisiond/internal/model"
	"decisiond/internal/vote"
)

// Policy is a versioned decision policy for one vertical. Once a case
// binds a policy version the document is immutable; changes ship as a new
// version that supersedes the old one.
type Policy struct {
	PolicyID       string         `json:"policy_id" yaml:"policy_id"`
	PolicyName     string         `json:"policy_name" yaml:"policy_name"`
	Version        string         `json:"version" yaml:"version"`
	Vertical       string         `json:"vertical" yaml:"vertical"`
	Active         bool           `json:"active" yaml:"active"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
	CreatedBy      string         `json:"created_by" yaml:"created_by"`
	VotingStrategy VotingStrategy `json:"voting_strategy" yaml:"voting_strategy"`
	Rules          []Rule         `json:"rules" yaml:"rules"`
	StateMachine   StateMachine   `json:"state_machine" yaml:"state_machine"`
}

// VotingStrategy selects and configures the ensemble voter.
type VotingStrategy struct {
	Type   string      `json:"type" yaml:"type"`
	Config vote.Config `json:"config" yaml:"config"`
}

// Rule maps a condition over the evaluation context to an action. Lower
// priority numbers run first; the first true condition wins.
type Rule struct {
	Priority           int              `json:"priority" yaml:"priority"`
	Name               string           `json:"name" yaml:"name"`
	Condition          string           `json:"condition" yaml:"condition"`
	Action             model.ActionType `json:"action" yaml:"action"`
	AssigneeRole       string           `json:"assignee_role,omitempty" yaml:"assignee_role,omitempty"`
	SLAHours           *int             `json:"sla_hours,omitempty" yaml:"sla_hours,omitempty"`
	MandatoryReasoning bool             `json:"mandatory_reasoning,omitempty" yaml:"mandatory_reasoning,omitempty"`
}

// StateMachine is the guarded transition table. Transition keys are
// "from → to" with literal states or wildcards: "from → *", "* → to",
// and substate patterns like "under_review.* → approved".
type StateMachine struct {
	States         []string                  `json:"states" yaml:"states"`
	Transitions    map[string]TransitionRule `json:"transitions" yaml:"transitions"`
	TerminalStates []string                  `json:"terminal_states" yaml:"terminal_states"`
}

// TransitionRule names the actors allowed to perform a transition.
type TransitionRule struct {
	AllowedActors []string `json:"allowed_actors" yaml:"allowed_actors"`
}

// RuleMatch is the outcome of rule evaluation.
type RuleMatch struct {
	Rule         Rule             `json:"rule"`
	Action       model.ActionType `json:"action"`
	AssigneeRole string           `json:"assignee_role,omitempty"`
	SLAHours     *int             `json:"sla_hours,omitempty"`
}

// Simulation is a what-if evaluation of a policy against a case's stored
// ensemble decision.
type Simulation struct {
	CaseID          string           `json:"case_id"`
	PolicyVersion   string           `json:"policy_version"`
	MatchedRule     string           `json:"matched_rule"`
	Action          model.ActionType `json:"action"`
	AssigneeRole    string           `json:"assignee_role,omitempty"`
	CurrentStatus   model.CaseStatus `json:"current_status"`
	WouldAutoDecide bool             `json:"would_auto_decide"`
}

package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"decisiond/internal/model"
	"decisiond/internal/ruledsl"
	"decisiond/internal/vote"
)

// LoadFile reads and validates a policy document from a YAML file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks a policy document's structure: every condition must
// parse, a wildcard default rule must exist, the voting strategy must be
// known, and every transition key must be well formed. Invalid policies
// are rejected at load so rule evaluation can assume a usable document.
func Validate(p *Policy) error {
	if p.PolicyID == "" {
		return &ConfigError{Message: "policy_id is required"}
	}
	if p.Vertical == "" {
		return &ConfigError{PolicyID: p.PolicyID, Message: "vertical is required"}
	}

	switch p.VotingStrategy.Type {
	case vote.StrategyWeighted, vote.StrategyConservative, vote.StrategyRiskWeighted:
	default:
		return &ConfigError{PolicyID: p.PolicyID,
			Message: fmt.Sprintf("unknown voting strategy %q", p.VotingStrategy.Type)}
	}

	if len(p.Rules) == 0 {
		return &ConfigError{PolicyID: p.PolicyID, Message: "policy has no rules"}
	}
	hasDefault := false
	for _, r := range p.Rules {
		if r.Name == "" {
			return &ConfigError{PolicyID: p.PolicyID, Message: "rule without a name"}
		}
		if r.Condition == "*" {
			hasDefault = true
		}
		if _, err := ruledsl.ParseStrict(r.Condition); err != nil {
			return &ConfigError{PolicyID: p.PolicyID,
				Message: fmt.Sprintf("rule %q condition: %v", r.Name, err)}
		}
		switch r.Action {
		case model.ActionApprove, model.ActionReject, model.ActionManualReview,
			model.ActionEscalate, model.ActionRequestMoreInfo:
		default:
			return &ConfigError{PolicyID: p.PolicyID,
				Message: fmt.Sprintf("rule %q has unknown action %q", r.Name, r.Action)}
		}
	}
	if !hasDefault {
		return &ConfigError{PolicyID: p.PolicyID, Message: "policy has no default '*' rule"}
	}

	for key, tr := range p.StateMachine.Transitions {
		if _, _, err := splitTransitionKey(key); err != nil {
			return &ConfigError{PolicyID: p.PolicyID, Message: err.Error()}
		}
		if len(tr.AllowedActors) == 0 {
			return &ConfigError{PolicyID: p.PolicyID,
				Message: fmt.Sprintf("transition %q has no allowed_actors", key)}
		}
	}
	return nil
}

// splitTransitionKey parses "from → to", accepting the ASCII "->" as
// well. Both sides may be literals, "*", or substate wildcards like
// "under_review.*".
func splitTransitionKey(key string) (from, to string, err error) {
	sep := " → "
	idx := strings.Index(key, sep)
	if idx < 0 {
		sep = " -> "
		idx = strings.Index(key, sep)
	}
	if idx < 0 {
		return "", "", fmt.Errorf("transition key %q is not of the form \"from → to\"", key)
	}
	from = strings.TrimSpace(key[:idx])
	to = strings.TrimSpace(key[idx+len(sep):])
	if from == "" || to == "" {
		return "", "", fmt.Errorf("transition key %q has an empty side", key)
	}
	return from, to, nil
}

// DefaultKYCPolicy is the built-in policy installed by bootstrap when the
// kyc vertical has none.
func DefaultKYCPolicy() *Policy {
	hours := func(h int) *int { return &h }
	return &Policy{
		PolicyID:   "pol_kyc_v1",
		PolicyName: "KYC Individual Verification",
		Version:    "1.0",
		Vertical:   "kyc",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  "system",
		VotingStrategy: VotingStrategy{
			Type: vote.StrategyRiskWeighted,
			Config: vote.Config{
				HighRiskThreshold: 70,
				LowRiskThreshold:  30,
				AgentWeights: map[string]float64{
					"compliance_agent": 2.0,
					"identity_agent":   1.0,
					"fraud_agent":      1.0,
					"risk_agent":       1.5,
				},
			},
		},
		Rules: []Rule{
			{
				Priority:           1,
				Name:               "Sanctions Hit",
				Condition:          "compliance.sanctions_screening.status == 'hit'",
				Action:             model.ActionEscalate,
				AssigneeRole:       "senior_compliance_officer",
				SLAHours:           hours(2),
				MandatoryReasoning: true,
			},
			{
				Priority:  2,
				Name:      "High Confidence Auto-Approve",
				Condition: "ensemble.confidence > 0.95 and ensemble.risk_score < 20",
				Action:    model.ActionApprove,
			},
			{
				Priority:     3,
				Name:         "Low Confidence Manual Review",
				Condition:    "ensemble.confidence < 0.70",
				Action:       model.ActionManualReview,
				AssigneeRole: "kyc_analyst",
				SLAHours:     hours(24),
			},
			{
				Priority:     99,
				Name:         "Default Manual Review",
				Condition:    "*",
				Action:       model.ActionManualReview,
				AssigneeRole: "kyc_analyst",
				SLAHours:     hours(24),
			},
		},
		StateMachine: StateMachine{
			States: []string{
				"draft", "submitted", "processing",
				"under_review", "under_review.identity_check",
				"under_review.fraud_check", "under_review.compliance_check",
				"under_review.manual_review",
				"approved", "rejected", "needs_more_info", "expired",
			},
			Transitions: map[string]TransitionRule{
				"draft → submitted":               {AllowedActors: []string{"customer", "api"}},
				"submitted → processing":          {AllowedActors: []string{"system"}},
				"processing → under_review.*":     {AllowedActors: []string{"system", "workflow_engine"}},
				"processing → approved":           {AllowedActors: []string{"system", "workflow_engine"}},
				"processing → rejected":           {AllowedActors: []string{"system", "workflow_engine"}},
				"under_review.* → approved":       {AllowedActors: []string{"workflow_engine", "reviewer"}},
				"under_review.* → rejected":       {AllowedActors: []string{"workflow_engine", "reviewer"}},
				"under_review.* → needs_more_info": {AllowedActors: []string{"reviewer"}},
				"needs_more_info → submitted":     {AllowedActors: []string{"customer", "api"}},
				"* → expired":                     {AllowedActors: []string{"system"}},
			},
			TerminalStates: []string{"approved", "rejected", "expired"},
		},
	}
}

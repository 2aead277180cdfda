package policy

import (
	"fmt"
	"strings"

	"decisiond/internal/model"
)

// NoActivePolicyError is returned when a vertical has no active policy.
type NoActivePolicyError struct {
	Vertical string
}

func (e *NoActivePolicyError) Error() string {
	return fmt.Sprintf("no active policy for vertical %q", e.Vertical)
}

// IsNoActivePolicy returns true if the error indicates a missing active
// policy.
func IsNoActivePolicy(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*NoActivePolicyError)
	return ok
}

// ConfigError is returned when a policy document is structurally invalid:
// missing default rule, unparseable condition, malformed state machine.
type ConfigError struct {
	PolicyID string
	Message  string
}

func (e *ConfigError) Error() string {
	if e.PolicyID == "" {
		return "policy config: " + e.Message
	}
	return fmt.Sprintf("policy %s config: %s", e.PolicyID, e.Message)
}

// IsConfigError returns true if the error indicates a bad policy document.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ConfigError)
	return ok
}

// StateRefusedError is returned when a guarded transition is refused.
type StateRefusedError struct {
	CaseID        string
	From          model.CaseStatus
	To            model.CaseStatus
	Actor         string
	AllowedActors []string
}

func (e *StateRefusedError) Error() string {
	allowed := "none"
	if len(e.AllowedActors) > 0 {
		allowed = strings.Join(e.AllowedActors, ", ")
	}
	return fmt.Sprintf("transition %s → %s refused for actor %q (allowed: %s)",
		e.From, e.To, e.Actor, allowed)
}

// IsStateRefused returns true if the error indicates a refused transition.
func IsStateRefused(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*StateRefusedError)
	return ok
}

package policy

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"decisiond/internal/audit"
	"decisiond/internal/metrics"
	"decisiond/internal/model"
	"decisiond/internal/ruledsl"
)

// Engine evaluates policy rules and guards state transitions. Parsed
// rule conditions are cached per policy version; policies are immutable
// once stored, so the cache never needs invalidation.
type Engine struct {
	log    *audit.Log
	logger *slog.Logger

	mu       sync.RWMutex
	compiled map[string][]compiledRule // policy version → rules, priority asc
}

type compiledRule struct {
	rule Rule
	expr ruledsl.Expr
}

// NewEngine wires an engine. log may be nil in tests; rule_eval_error
// events are then only logged.
func NewEngine(log *audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:      log,
		logger:   logger,
		compiled: make(map[string][]compiledRule),
	}
}

// compile parses and caches a policy's rules sorted by priority.
func (e *Engine) compile(p *Policy) ([]compiledRule, error) {
	e.mu.RLock()
	rules, ok := e.compiled[p.PolicyID]
	e.mu.RUnlock()
	if ok {
		return rules, nil
	}

	sorted := make([]Rule, len(p.Rules))
	copy(sorted, p.Rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	rules = make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		expr, err := ruledsl.Parse(r.Condition)
		if err != nil {
			return nil, &ConfigError{PolicyID: p.PolicyID,
				Message: "rule " + r.Name + ": " + err.Error()}
		}
		rules = append(rules, compiledRule{rule: r, expr: expr})
	}

	e.mu.Lock()
	e.compiled[p.PolicyID] = rules
	e.mu.Unlock()
	return rules, nil
}

// BuildContext assembles the rule evaluation context from the case, the
// ensemble decision, and the latest evidence snapshot. Each evidence
// type's data becomes a top-level root (identity, address, compliance,
// risk_assessment).
func BuildContext(c *model.Case, ensemble *model.EnsembleDecision, evidence []model.Evidence) map[string]any {
	riskFlags := make([]any, 0, len(ensemble.Final.RiskFlags))
	for _, f := range ensemble.Final.RiskFlags {
		riskFlags = append(riskFlags, f)
	}
	ctx := map[string]any{
		"case": map[string]any{
			"priority": string(c.Priority),
			"vertical": c.Vertical,
			"status":   string(c.Status),
		},
		"ensemble": map[string]any{
			"confidence": ensemble.Final.Confidence,
			"risk_score": ensemble.Final.RiskScore,
			"risk_flags": riskFlags,
			"action":     string(ensemble.Final.Action),
		},
	}
	for _, ev := range evidence {
		ctx[ev.EvidenceType] = ev.Data
	}
	return ctx
}

// EvaluateRules returns the first rule, in priority order, whose
// condition is true for the context. A condition that fails to evaluate
// counts as false: the error is recorded as a rule_eval_error audit event
// and evaluation continues. A policy with no matching rule is a config
// error; the validator's default-rule requirement makes that unreachable
// for stored policies.
func (e *Engine) EvaluateRules(ctx context.Context, tx *sql.Tx, p *Policy, c *model.Case, ensemble *model.EnsembleDecision, evidence []model.Evidence) (RuleMatch, error) {
	rules, err := e.compile(p)
	if err != nil {
		return RuleMatch{}, err
	}
	evalCtx := BuildContext(c, ensemble, evidence)

	for _, cr := range rules {
		ok, err := ruledsl.EvalBool(cr.expr, evalCtx)
		if err != nil {
			e.logger.Warn("rule condition failed to evaluate",
				"policy_id", p.PolicyID, "rule", cr.rule.Name, "error", err)
			metrics.RuleEvalFailed(p.PolicyID, cr.rule.Name)
			if e.log != nil {
				event := audit.NewEvent(c.CaseID, audit.EventRuleEvalError, model.Actor{Type: model.ActorSystem})
				event.PolicyVersion = c.PolicyVersion
				event.Metadata = map[string]any{
					"rule":      cr.rule.Name,
					"condition": cr.rule.Condition,
					"error":     err.Error(),
				}
				if aerr := e.log.Append(ctx, tx, event); aerr != nil {
					return RuleMatch{}, aerr
				}
			}
			continue
		}
		if ok {
			metrics.RuleMatched(p.PolicyID, cr.rule.Name)
			return RuleMatch{
				Rule:         cr.rule,
				Action:       cr.rule.Action,
				AssigneeRole: cr.rule.AssigneeRole,
				SLAHours:     cr.rule.SLAHours,
			}, nil
		}
	}
	return RuleMatch{}, &ConfigError{PolicyID: p.PolicyID, Message: "no rule matched and no default rule fired"}
}

// CheckTransition applies the state-machine guard. Matching precedence:
// exact "from → to", then substate wildcards ("from.* → to" or
// "from → to.*"), then "from → *", then "* → to". The first matching
// entry decides; a transition with no entry is refused.
func (e *Engine) CheckTransition(sm *StateMachine, caseID string, from, to model.CaseStatus, actor model.Actor) error {
	allowed, found := matchTransition(sm, string(from), string(to))
	if !found {
		return &StateRefusedError{CaseID: caseID, From: from, To: to, Actor: actor.GuardName()}
	}
	name := actor.GuardName()
	for _, a := range allowed {
		if a == name {
			return nil
		}
		// workflow_engine entries cover the system pipeline itself.
		if a == "workflow_engine" && actor.Type == model.ActorSystem {
			return nil
		}
	}
	return &StateRefusedError{CaseID: caseID, From: from, To: to, Actor: name, AllowedActors: allowed}
}

func matchTransition(sm *StateMachine, from, to string) ([]string, bool) {
	type matcher func(keyFrom, keyTo string) bool
	exact := func(kf, kt string) bool { return kf == from && kt == to }
	substate := func(kf, kt string) bool {
		return (matchPattern(kf, from) && kt == to) ||
			(kf == from && matchPattern(kt, to)) ||
			(matchPattern(kf, from) && matchPattern(kt, to) && (kf != from || kt != to))
	}
	fromAny := func(kf, kt string) bool { return kf == from && kt == "*" }
	anyTo := func(kf, kt string) bool { return kf == "*" && kt == to }

	// Iterate keys in sorted order so overlapping patterns within one
	// precedence tier always resolve the same way.
	keys := make([]string, 0, len(sm.Transitions))
	for key := range sm.Transitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, m := range []matcher{exact, substate, fromAny, anyTo} {
		for _, key := range keys {
			kf, kt, err := splitTransitionKey(key)
			if err != nil {
				continue
			}
			if m(kf, kt) {
				return sm.Transitions[key].AllowedActors, true
			}
		}
	}
	return nil, false
}

// matchPattern matches a state against a literal or a substate wildcard
// like "under_review.*", which matches "under_review" and any
// "under_review.x".
func matchPattern(pattern, state string) bool {
	if pattern == state {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		base := strings.TrimSuffix(pattern, ".*")
		return state == base || strings.HasPrefix(state, base+".")
	}
	return false
}

// RequiredActors returns the allowed_actors for a from→to pair, for
// error reporting.
func RequiredActors(sm *StateMachine, from, to model.CaseStatus) []string {
	allowed, _ := matchTransition(sm, string(from), string(to))
	return allowed
}

// Simulate evaluates a policy against a case's stored ensemble decision
// without touching case state.
func (e *Engine) Simulate(ctx context.Context, p *Policy, c *model.Case, ensemble *model.EnsembleDecision, evidence []model.Evidence) (Simulation, error) {
	match, err := e.EvaluateRules(ctx, nil, p, c, ensemble, evidence)
	if err != nil {
		return Simulation{}, err
	}
	return Simulation{
		CaseID:          c.CaseID,
		PolicyVersion:   p.PolicyID,
		MatchedRule:     match.Rule.Name,
		Action:          match.Action,
		AssigneeRole:    match.AssigneeRole,
		CurrentStatus:   c.Status,
		WouldAutoDecide: match.Action == model.ActionApprove || match.Action == model.ActionReject,
	}, nil
}

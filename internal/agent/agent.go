// Package agent holds the deterministic analysis agents and the
// orchestrator that fans a case's evidence out to all of them. Agents are
// pure: they read evidence, they return a recommendation, and they never
// touch case state. All state changes happen in the casework layer after
// the ensemble vote.
package agent

import (
	"context"
	"strings"

	"decisiond/internal/model"
)

// Agent analyzes a case's evidence snapshot and returns a recommendation.
// Implementations must be safe for concurrent use and must not mutate the
// evidence they are given.
type Agent interface {
	Name() string
	Version() string
	Analyze(ctx context.Context, evidence []model.Evidence) (model.Recommendation, error)
}

// Registry is the fixed set of agents run for every case, in a stable
// order so persisted recommendations and synthesized reasoning are
// reproducible across runs.
type Registry struct {
	agents []Agent
}

// DefaultRegistry returns the standard four-agent lineup.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&IdentityAgent{},
		&FraudAgent{},
		&ComplianceAgent{},
		&RiskAgent{},
	)
}

// NewRegistry builds a registry from an explicit agent list, preserving
// order. Used by tests to substitute failing agents.
func NewRegistry(agents ...Agent) *Registry {
	return &Registry{agents: agents}
}

// Agents returns the registered agents in registration order.
func (r *Registry) Agents() []Agent { return r.agents }

// evidenceByType returns the first evidence item of the given type, or nil.
// Evidence lists are snapshots, so "first" is deterministic.
func evidenceByType(evidence []model.Evidence, evidenceType string) *model.Evidence {
	for i := range evidence {
		if evidence[i].EvidenceType == evidenceType {
			return &evidence[i]
		}
	}
	return nil
}

// dataField resolves a dot-separated path inside an evidence data map,
// returning def when the evidence is nil or any segment is missing.
func dataField(ev *model.Evidence, path string, def any) any {
	if ev == nil {
		return def
	}
	var cur any = ev.Data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[seg]
		if !ok {
			return def
		}
	}
	return cur
}

func fieldBool(ev *model.Evidence, path string, def bool) bool {
	if b, ok := dataField(ev, path, def).(bool); ok {
		return b
	}
	return def
}

func fieldFloat(ev *model.Evidence, path string, def float64) float64 {
	switch v := dataField(ev, path, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func fieldString(ev *model.Evidence, path string, def string) string {
	if s, ok := dataField(ev, path, def).(string); ok {
		return s
	}
	return def
}

func fieldMap(ev *model.Evidence, path string) map[string]any {
	if m, ok := dataField(ev, path, nil).(map[string]any); ok {
		return m
	}
	return nil
}

func fieldStrings(ev *model.Evidence, path string) []string {
	switch v := dataField(ev, path, nil).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

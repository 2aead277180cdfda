package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"decisiond/internal/metrics"
	"decisiond/internal/model"
	"decisiond/internal/vote"
)

// DefaultAgentBudget bounds a full fan-out. Individual agents that blow
// the budget are replaced by a degraded recommendation rather than
// failing the case.
const DefaultAgentBudget = 30 * time.Second

// RecommendationSaver persists agent recommendations as they are
// produced. The store package implements it.
type RecommendationSaver interface {
	SaveRecommendation(ctx context.Context, rec model.AgentRecommendation) error
}

// Orchestrator fans a case's evidence out to every registered agent and
// synthesizes the ensemble decision from their recommendations.
type Orchestrator struct {
	registry *Registry
	saver    RecommendationSaver
	logger   *slog.Logger
	budget   time.Duration
}

// NewOrchestrator wires an orchestrator. saver may be nil in tests that
// only care about in-memory results.
func NewOrchestrator(registry *Registry, saver RecommendationSaver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		saver:    saver,
		logger:   logger,
		budget:   DefaultAgentBudget,
	}
}

// SetBudget overrides the fan-out time budget. Tests shrink it.
func (o *Orchestrator) SetBudget(d time.Duration) { o.budget = d }

// RunAll runs every agent concurrently over the evidence snapshot and
// returns one recommendation per agent, in registry order. An agent that
// returns an error, panics, or misses the budget contributes a degraded
// manual-review recommendation instead; the fan-out itself never fails.
func (o *Orchestrator) RunAll(ctx context.Context, caseID string, evidence []model.Evidence) ([]model.AgentRecommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	agents := o.registry.Agents()
	recs := make([]model.AgentRecommendation, len(agents))

	var wg sync.WaitGroup
	for i, ag := range agents {
		wg.Add(1)
		go func(i int, ag Agent) {
			defer wg.Done()
			recs[i] = o.runAgent(ctx, ag, caseID, evidence)
		}(i, ag)
	}
	wg.Wait()

	if o.saver != nil {
		for _, rec := range recs {
			if err := o.saver.SaveRecommendation(ctx, rec); err != nil {
				return nil, fmt.Errorf("failed to save recommendation from %s: %w", rec.AgentName, err)
			}
		}
	}
	return recs, nil
}

// runAgent executes one agent with panic isolation. A panicking agent is
// indistinguishable from a failing one at the ensemble level.
func (o *Orchestrator) runAgent(ctx context.Context, ag Agent, caseID string, evidence []model.Evidence) (rec model.AgentRecommendation) {
	start := time.Now()

	rec = model.AgentRecommendation{
		RecommendationID: "rec_" + uuid.NewString()[:12],
		CaseID:           caseID,
		AgentName:        ag.Name(),
		AgentVersion:     ag.Version(),
		Timestamp:        time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent panicked",
				"agent", ag.Name(), "case_id", caseID, "panic", fmt.Sprint(r))
			metrics.AgentRunObserved(ag.Name(), time.Since(start), false)
			rec.Recommendation = degradedRecommendation(ag.Name())
			rec.ProcessingTimeMS = 0
		}
	}()

	type result struct {
		data model.Recommendation
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("agent %s panicked: %v", ag.Name(), r)}
			}
		}()
		data, err := ag.Analyze(ctx, evidence)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		o.logger.Error("agent timed out", "agent", ag.Name(), "case_id", caseID)
		metrics.AgentRunObserved(ag.Name(), time.Since(start), false)
		rec.Recommendation = degradedRecommendation(ag.Name())
		return rec
	case res := <-done:
		if res.err != nil {
			o.logger.Error("agent failed",
				"agent", ag.Name(), "case_id", caseID, "error", res.err)
			metrics.AgentRunObserved(ag.Name(), time.Since(start), false)
			rec.Recommendation = degradedRecommendation(ag.Name())
			return rec
		}
		elapsed := time.Since(start)
		metrics.AgentRunObserved(ag.Name(), elapsed, true)
		rec.Recommendation = res.data
		rec.ProcessingTimeMS = elapsed.Milliseconds()
		return rec
	}
}

// degradedRecommendation is the substitute for an agent that could not
// complete: lowest confidence, maximum risk, and a flag the policy layer
// can match on.
func degradedRecommendation(agentName string) model.Recommendation {
	return model.Recommendation{
		Action:     model.ActionManualReview,
		Confidence: 0.0,
		Reasoning:  fmt.Sprintf("Agent %s encountered an error and could not complete analysis.", agentName),
		RiskScore:  model.IntPtr(100),
		RiskFlags:  []string{"agent_error"},
	}
}

// Synthesize combines agent recommendations into an ensemble decision
// using the policy's voting strategy. The caller assigns Attempt when
// persisting.
func (o *Orchestrator) Synthesize(caseID, strategy string, cfg vote.Config, recs []model.AgentRecommendation) (model.EnsembleDecision, error) {
	res, err := vote.Cast(strategy, recs, cfg)
	if err != nil {
		return model.EnsembleDecision{}, err
	}
	metrics.EnsembleDecided(strategy, string(res.Final.Action))
	return model.EnsembleDecision{
		EnsembleID:     "ens_" + uuid.NewString()[:12],
		CaseID:         caseID,
		Timestamp:      time.Now().UTC(),
		VotingStrategy: strategy,
		AgentVotes:     res.AgentVotes,
		Final:          res.Final,
	}, nil
}

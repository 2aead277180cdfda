// Package vote implements the ensemble voting strategies that combine
// individual agent recommendations into a single decision. Each strategy is
// a pure function over the recommendation list and its configuration, so
// the same inputs always produce the same ensemble.
package vote

import (
	"fmt"
	"sort"
	"strings"

	"decisiond/internal/model"
)

// Strategy names accepted in policy voting_strategy.type.
const (
	StrategyWeighted     = "weighted"
	StrategyConservative = "conservative"
	StrategyRiskWeighted = "risk_weighted"
)

// Config is the strategy configuration carried by a policy.
type Config struct {
	AgentWeights      map[string]float64 `json:"agent_weights,omitempty" yaml:"agent_weights,omitempty"`
	HighRiskThreshold int                `json:"high_risk_threshold,omitempty" yaml:"high_risk_threshold,omitempty"`
	LowRiskThreshold  int                `json:"low_risk_threshold,omitempty" yaml:"low_risk_threshold,omitempty"`
}

// Result is the outcome of running a strategy.
type Result struct {
	AgentVotes []model.AgentVote
	Final      model.EnsembleRecommendation
}

// UnknownStrategyError reports a voting_strategy.type the voter does not
// implement. Policies carrying one are a configuration error.
type UnknownStrategyError struct{ Strategy string }

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown voting strategy %q", e.Strategy)
}

// Cast runs the named strategy over the recommendations.
// Recommendations must be in registry order; reasoning synthesis and vote
// listings preserve that order.
func Cast(strategy string, recs []model.AgentRecommendation, cfg Config) (Result, error) {
	switch strategy {
	case StrategyWeighted:
		return weighted(recs, cfg), nil
	case StrategyConservative:
		return conservative(recs), nil
	case StrategyRiskWeighted:
		return riskWeighted(recs, cfg), nil
	}
	return Result{}, &UnknownStrategyError{Strategy: strategy}
}

func weighted(recs []model.AgentRecommendation, cfg Config) Result {
	votes := collectVotes(recs, cfg.AgentWeights)

	actionWeights := map[model.ActionType]float64{}
	var totalWeight, weightedConf float64
	for _, v := range votes {
		actionWeights[v.Action] += v.Weight
		weightedConf += v.Confidence * v.Weight
		totalWeight += v.Weight
	}
	finalConf := 0.0
	if totalWeight > 0 {
		finalConf = weightedConf / totalWeight
	}

	finalAction := winningAction(actionWeights)

	details := countVotes(votes, finalConf)
	details.ConsensusLevel = consensusLevel(actionWeights[finalAction], totalWeight)

	risk, flags := AggregateRisk(recs)
	return Result{
		AgentVotes: votes,
		Final: model.EnsembleRecommendation{
			Action:        finalAction,
			Confidence:    finalConf,
			Reasoning:     SynthesizeReasoning(recs, finalAction),
			RiskScore:     risk,
			RiskFlags:     flags,
			VotingDetails: details,
		},
	}
}

func conservative(recs []model.AgentRecommendation) Result {
	votes := collectVotes(recs, nil)

	// Most restrictive recommendation wins; its confidence carries over.
	var chosen *model.AgentRecommendation
	for i := range recs {
		if chosen == nil ||
			recs[i].Recommendation.Action.Restrictiveness() > chosen.Recommendation.Action.Restrictiveness() {
			chosen = &recs[i]
		}
	}

	var finalAction model.ActionType = model.ActionManualReview
	var finalConf float64
	reasoning := "Conservative strategy: no recommendations available."
	if chosen != nil {
		finalAction = chosen.Recommendation.Action
		finalConf = chosen.Recommendation.Confidence
		reasoning = fmt.Sprintf("Conservative strategy: %s recommended %s, which is the most restrictive action.",
			chosen.AgentName, finalAction)
	}

	details := countVotes(votes, finalConf)
	details.ConsensusLevel = "conservative"

	risk, flags := AggregateRisk(recs)
	return Result{
		AgentVotes: votes,
		Final: model.EnsembleRecommendation{
			Action:        finalAction,
			Confidence:    finalConf,
			Reasoning:     reasoning,
			RiskScore:     risk,
			RiskFlags:     flags,
			VotingDetails: details,
		},
	}
}

func riskWeighted(recs []model.AgentRecommendation, cfg Config) Result {
	highThreshold := cfg.HighRiskThreshold
	if highThreshold == 0 {
		highThreshold = 70
	}
	lowThreshold := cfg.LowRiskThreshold
	if lowThreshold == 0 {
		lowThreshold = 30
	}

	risk, flags := AggregateRisk(recs)
	votes := collectVotes(recs, cfg.AgentWeights)

	actionCounts := map[model.ActionType]float64{}
	actionWeights := map[model.ActionType]float64{}
	var totalWeight, weightedConf float64
	for _, v := range votes {
		actionCounts[v.Action]++
		actionWeights[v.Action] += v.Weight
		weightedConf += v.Confidence * v.Weight
		totalWeight += v.Weight
	}
	finalConf := 0.0
	if totalWeight > 0 {
		finalConf = weightedConf / totalWeight
	}

	var finalAction model.ActionType
	var consensus string
	switch {
	case risk >= highThreshold:
		// High risk: unanimous approval or the case goes to a human.
		if int(actionCounts[model.ActionApprove]) == len(recs) && len(recs) > 0 {
			finalAction = model.ActionApprove
			consensus = "unanimous"
		} else {
			finalAction = model.ActionManualReview
			consensus = "not_unanimous"
		}
	case risk <= lowThreshold:
		finalAction = winningAction(actionCounts)
		consensus = "majority"
	default:
		finalAction = winningAction(actionWeights)
		consensus = "weighted"
	}

	details := countVotes(votes, finalConf)
	details.ConsensusLevel = consensus

	return Result{
		AgentVotes: votes,
		Final: model.EnsembleRecommendation{
			Action:        finalAction,
			Confidence:    finalConf,
			Reasoning:     SynthesizeReasoning(recs, finalAction),
			RiskScore:     risk,
			RiskFlags:     flags,
			VotingDetails: details,
		},
	}
}

func collectVotes(recs []model.AgentRecommendation, weights map[string]float64) []model.AgentVote {
	votes := make([]model.AgentVote, 0, len(recs))
	for _, rec := range recs {
		w := 1.0
		if weights != nil {
			if v, ok := weights[rec.AgentName]; ok {
				w = v
			}
		}
		votes = append(votes, model.AgentVote{
			Agent:      rec.AgentName,
			Action:     rec.Recommendation.Action,
			Confidence: rec.Recommendation.Confidence,
			Weight:     w,
		})
	}
	return votes
}

// winningAction picks the action with the highest total weight; ties break
// toward the more restrictive action.
func winningAction(weights map[model.ActionType]float64) model.ActionType {
	var winner model.ActionType
	best := -1.0
	for action, w := range weights {
		if w > best || (w == best && action.Restrictiveness() > winner.Restrictiveness()) {
			winner = action
			best = w
		}
	}
	if winner == "" {
		return model.ActionManualReview
	}
	return winner
}

func countVotes(votes []model.AgentVote, weightedConf float64) model.VotingDetails {
	d := model.VotingDetails{WeightedConfidence: weightedConf}
	for _, v := range votes {
		switch v.Action {
		case model.ActionApprove:
			d.ApproveVotes++
		case model.ActionReject:
			d.RejectVotes++
		case model.ActionManualReview:
			d.ManualReviewVotes++
		case model.ActionEscalate:
			d.EscalateVotes++
		}
	}
	return d
}

func consensusLevel(winning, total float64) string {
	switch {
	case total > 0 && winning == total:
		return "unanimous"
	case winning > total*0.7:
		return "strong_majority"
	case winning > total*0.5:
		return "majority"
	default:
		return "divided"
	}
}

// AggregateRisk combines risk across recommendations: the maximum score
// (50 when no agent set one) and the deduplicated union of flags, sorted
// for deterministic output.
func AggregateRisk(recs []model.AgentRecommendation) (int, []string) {
	score := -1
	seen := map[string]bool{}
	for _, rec := range recs {
		if rec.Recommendation.RiskScore != nil && *rec.Recommendation.RiskScore > score {
			score = *rec.Recommendation.RiskScore
		}
		for _, f := range rec.Recommendation.RiskFlags {
			seen[f] = true
		}
	}
	if score < 0 {
		score = 50
	}
	flags := make([]string, 0, len(seen))
	for f := range seen {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return score, flags
}

// SynthesizeReasoning builds the deterministic ensemble reasoning string:
// per agent, its chosen action, integer confidence percent, and the first
// sentence of its reasoning, in the order the recommendations arrived.
func SynthesizeReasoning(recs []model.AgentRecommendation, final model.ActionType) string {
	points := make([]string, 0, len(recs))
	for _, rec := range recs {
		name := strings.TrimSuffix(rec.AgentName, "_agent")
		if name != "" {
			name = strings.ToUpper(name[:1]) + name[1:]
		}
		first := rec.Recommendation.Reasoning
		if idx := strings.Index(first, "."); idx >= 0 {
			first = first[:idx]
		}
		points = append(points, fmt.Sprintf("%s (%s, %d%% confident): %s",
			name, rec.Recommendation.Action, int(rec.Recommendation.Confidence*100), first))
	}
	return fmt.Sprintf("Ensemble decision: %s. %s", final, strings.Join(points, " | "))
}

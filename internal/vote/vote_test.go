package vote

import (
	"strings"
	"testing"

	"decisiond/internal/model"
)

func rec(agent string, action model.ActionType, conf float64, risk int, flags ...string) model.AgentRecommendation {
	return model.AgentRecommendation{
		AgentName:    agent,
		AgentVersion: "1.0.0",
		Recommendation: model.Recommendation{
			Action:     action,
			Confidence: conf,
			Reasoning:  "Synthetic reasoning for " + agent + ". Extra detail omitted from summaries.",
			RiskScore:  model.IntPtr(risk),
			RiskFlags:  flags,
		},
	}
}

func TestWeightedMajority(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 10),
		rec("identity_agent", model.ActionApprove, 0.8, 20),
		rec("risk_agent", model.ActionManualReview, 0.7, 40),
	}
	res, err := Cast(StrategyWeighted, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionApprove {
		t.Errorf("action = %s, want approve", res.Final.Action)
	}
	wantConf := (0.9 + 0.8 + 0.7) / 3
	if diff := res.Final.Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", res.Final.Confidence, wantConf)
	}
	if res.Final.VotingDetails.ApproveVotes != 2 || res.Final.VotingDetails.ManualReviewVotes != 1 {
		t.Errorf("vote counts = %+v", res.Final.VotingDetails)
	}
	if res.Final.VotingDetails.ConsensusLevel != "majority" {
		t.Errorf("consensus = %q, want majority", res.Final.VotingDetails.ConsensusLevel)
	}
}

func TestWeightedRespectsAgentWeights(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 10),
		rec("risk_agent", model.ActionReject, 0.9, 90),
	}
	cfg := Config{AgentWeights: map[string]float64{"risk_agent": 3.0}}
	res, err := Cast(StrategyWeighted, recs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionReject {
		t.Errorf("action = %s, want reject when risk_agent carries 3x weight", res.Final.Action)
	}
}

func TestWeightedTieBreaksRestrictive(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 10),
		rec("risk_agent", model.ActionManualReview, 0.9, 60),
	}
	res, err := Cast(StrategyWeighted, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionManualReview {
		t.Errorf("action = %s, want manual_review on equal-weight tie", res.Final.Action)
	}
}

func TestConservativePicksMostRestrictive(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.95, 5),
		rec("identity_agent", model.ActionApprove, 0.92, 10),
		rec("compliance_agent", model.ActionReject, 0.99, 95, "sanctions_hit"),
	}
	res, err := Cast(StrategyConservative, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionReject {
		t.Errorf("action = %s, want reject", res.Final.Action)
	}
	if res.Final.Confidence != 0.99 {
		t.Errorf("confidence = %v, want the restrictive agent's 0.99", res.Final.Confidence)
	}
	if !strings.Contains(res.Final.Reasoning, "compliance_agent") {
		t.Errorf("reasoning %q should name the deciding agent", res.Final.Reasoning)
	}
}

func TestRiskWeightedHighRiskNeedsUnanimity(t *testing.T) {
	// Risk 90 with a split vote: manual review regardless of weights.
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 20),
		rec("risk_agent", model.ActionApprove, 0.8, 90),
		rec("compliance_agent", model.ActionManualReview, 0.7, 60),
	}
	res, err := Cast(StrategyRiskWeighted, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionManualReview {
		t.Errorf("action = %s, want manual_review for split high-risk vote", res.Final.Action)
	}
	if res.Final.VotingDetails.ConsensusLevel != "not_unanimous" {
		t.Errorf("consensus = %q", res.Final.VotingDetails.ConsensusLevel)
	}

	// Unanimous approval clears even high risk.
	recs[2] = rec("compliance_agent", model.ActionApprove, 0.7, 90)
	res, err = Cast(StrategyRiskWeighted, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionApprove {
		t.Errorf("action = %s, want approve for unanimous high-risk vote", res.Final.Action)
	}
}

func TestRiskWeightedLowRiskMajority(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 5),
		rec("identity_agent", model.ActionApprove, 0.9, 10),
		rec("risk_agent", model.ActionManualReview, 0.6, 15),
	}
	res, err := Cast(StrategyRiskWeighted, recs, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Final.Action != model.ActionApprove {
		t.Errorf("action = %s, want approve by simple majority at low risk", res.Final.Action)
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := Cast("quorum", nil, Config{})
	var uerr *UnknownStrategyError
	if err == nil {
		t.Fatal("want error for unknown strategy")
	}
	if !strings.Contains(err.Error(), "quorum") {
		t.Errorf("error %q should name the strategy", err)
	}
	if se, ok := err.(*UnknownStrategyError); !ok || se.Strategy != "quorum" {
		t.Errorf("err = %#v, want %T", err, uerr)
	}
}

func TestAggregateRisk(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("a", model.ActionApprove, 0.9, 10, "shared_flag"),
		rec("b", model.ActionApprove, 0.9, 70, "shared_flag", "high_value"),
	}
	score, flags := AggregateRisk(recs)
	if score != 70 {
		t.Errorf("score = %d, want max 70", score)
	}
	if len(flags) != 2 || flags[0] != "high_value" || flags[1] != "shared_flag" {
		t.Errorf("flags = %v, want deduplicated sorted union", flags)
	}

	// No scores at all defaults to 50.
	none := []model.AgentRecommendation{{AgentName: "a", Recommendation: model.Recommendation{Action: model.ActionApprove}}}
	score, _ = AggregateRisk(none)
	if score != 50 {
		t.Errorf("score = %d, want default 50", score)
	}
}

func TestSynthesizeReasoningDeterministic(t *testing.T) {
	recs := []model.AgentRecommendation{
		rec("document_agent", model.ActionApprove, 0.9, 10),
		rec("risk_agent", model.ActionManualReview, 0.65, 55),
	}
	got := SynthesizeReasoning(recs, model.ActionApprove)
	want := "Ensemble decision: approve. " +
		"Document (approve, 90% confident): Synthetic reasoning for document_agent | " +
		"Risk (manual_review, 65% confident): Synthetic reasoning for risk_agent"
	if got != want {
		t.Errorf("reasoning mismatch:\n got: %s\nwant: %s", got, want)
	}
	if again := SynthesizeReasoning(recs, model.ActionApprove); again != got {
		t.Error("reasoning not deterministic across calls")
	}
}

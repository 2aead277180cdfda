package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"decisiond/internal/model"
)

func identityEvidence(data map[string]any) model.Evidence {
	return model.Evidence{
		EvidenceID:   "ev_identity",
		CaseID:       "case_1",
		EvidenceType: "identity",
		Version:      1,
		Data:         data,
	}
}

func TestIdentityAgentApproveHighConfidence(t *testing.T) {
	ev := identityEvidence(map[string]any{
		"verified":   true,
		"confidence": 0.95,
		"extracted_fields": map[string]any{
			"full_name":     "Jane Example",
			"date_of_birth": "1990-04-01",
			"id_number":     "X123456",
			"expiry_date":   time.Now().AddDate(3, 0, 0).Format("2006-01-02"),
		},
	})
	rec, err := (&IdentityAgent{}).Analyze(context.Background(), []model.Evidence{ev})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionApprove {
		t.Errorf("action = %s, want approve: %s", rec.Action, rec.Reasoning)
	}
	if rec.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", rec.Confidence)
	}
	if rec.RiskScoreOr(-1) != 0 {
		t.Errorf("risk = %d, want 0", rec.RiskScoreOr(-1))
	}
}

func TestIdentityAgentExpiredDocumentRejects(t *testing.T) {
	ev := identityEvidence(map[string]any{
		"verified":   true,
		"confidence": 0.95,
		"extracted_fields": map[string]any{
			"full_name":     "Jane Example",
			"date_of_birth": "1990-04-01",
			"id_number":     "X123456",
			"expiry_date":   "2019-01-01",
		},
	})
	rec, err := (&IdentityAgent{}).Analyze(context.Background(), []model.Evidence{ev})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionReject {
		t.Errorf("action = %s, want reject", rec.Action)
	}
	if !hasFlag(rec.RiskFlags, "id_expired") {
		t.Errorf("flags = %v, want id_expired", rec.RiskFlags)
	}
}

func TestIdentityAgentMissingFieldsRequestsMoreInfo(t *testing.T) {
	ev := identityEvidence(map[string]any{
		"verified":   true,
		"confidence": 0.9,
		"extracted_fields": map[string]any{
			"full_name": "Jane Example",
		},
	})
	rec, err := (&IdentityAgent{}).Analyze(context.Background(), []model.Evidence{ev})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionRequestMoreInfo {
		t.Errorf("action = %s, want request_more_info", rec.Action)
	}
	if !strings.Contains(rec.Reasoning, "date_of_birth") || !strings.Contains(rec.Reasoning, "id_number") {
		t.Errorf("reasoning %q should list missing fields", rec.Reasoning)
	}
}

func TestIdentityAgentNoEvidence(t *testing.T) {
	rec, err := (&IdentityAgent{}).Analyze(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionManualReview || rec.RiskScoreOr(0) != 100 {
		t.Errorf("rec = %+v, want manual_review with risk 100", rec)
	}
}

func TestFraudAgentEscalatesOnMultipleIndicators(t *testing.T) {
	ev := identityEvidence(map[string]any{
		"confidence": 0.5,
		"validation_checks": map[string]any{
			"format_valid":   false,
			"checksum_valid": true,
		},
	})
	rec, err := (&FraudAgent{}).Analyze(context.Background(), []model.Evidence{ev})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionEscalate {
		t.Errorf("action = %s, want escalate for two indicators", rec.Action)
	}
	if rec.Confidence != 0.3 {
		t.Errorf("confidence = %v, want 0.3", rec.Confidence)
	}
}

func TestComplianceAgentSanctionsHit(t *testing.T) {
	ev := model.Evidence{
		EvidenceType: "compliance",
		Data: map[string]any{
			"sanctions_screening": map[string]any{
				"status":        "hit",
				"checked_lists": []any{"OFAC", "UN", "EU"},
			},
		},
	}
	rec, err := (&ComplianceAgent{}).Analyze(context.Background(), []model.Evidence{ev})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != model.ActionEscalate {
		t.Errorf("action = %s, want escalate", rec.Action)
	}
	if rec.RiskScoreOr(0) != 100 || !hasFlag(rec.RiskFlags, "sanctions_hit") {
		t.Errorf("risk = %d flags = %v", rec.RiskScoreOr(0), rec.RiskFlags)
	}
	if rec.Confidence != 0.99 {
		t.Errorf("confidence = %v, want 0.99", rec.Confidence)
	}
}

func TestRiskAgentSanctionsOverridesToMax(t *testing.T) {
	evidence := []model.Evidence{
		identityEvidence(map[string]any{"confidence": 0.95}),
		{
			EvidenceType: "compliance",
			Data: map[string]any{
				"sanctions_screening": map[string]any{"status": "hit"},
			},
		},
	}
	rec, err := (&RiskAgent{}).Analyze(context.Background(), evidence)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RiskScoreOr(0) != 100 {
		t.Errorf("risk = %d, want 100", rec.RiskScoreOr(0))
	}
	if rec.Action != model.ActionEscalate {
		t.Errorf("action = %s, want escalate", rec.Action)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// panicAgent and slowAgent exercise fan-out isolation.

type panicAgent struct{}

func (panicAgent) Name() string    { return "panic_agent" }
func (panicAgent) Version() string { return "0.0.1" }
func (panicAgent) Analyze(context.Context, []model.Evidence) (model.Recommendation, error) {
	panic("boom")
}

type slowAgent struct{ delay time.Duration }

func (a slowAgent) Name() string    { return "slow_agent" }
func (a slowAgent) Version() string { return "0.0.1" }
func (a slowAgent) Analyze(ctx context.Context, _ []model.Evidence) (model.Recommendation, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return model.Recommendation{}, ctx.Err()
	}
	return model.Recommendation{Action: model.ActionApprove, Confidence: 0.9}, nil
}

func TestRunAllIsolatesPanickingAgent(t *testing.T) {
	registry := NewRegistry(&IdentityAgent{}, panicAgent{}, &ComplianceAgent{})
	o := NewOrchestrator(registry, nil, nil)

	recs, err := o.RunAll(context.Background(), "case_1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(recs))
	}

	byName := map[string]model.AgentRecommendation{}
	for _, r := range recs {
		byName[r.AgentName] = r
	}

	degraded := byName["panic_agent"].Recommendation
	if degraded.Action != model.ActionManualReview || degraded.Confidence != 0.0 {
		t.Errorf("degraded rec = %+v", degraded)
	}
	if degraded.RiskScoreOr(0) != 100 || !hasFlag(degraded.RiskFlags, "agent_error") {
		t.Errorf("degraded risk = %d flags = %v", degraded.RiskScoreOr(0), degraded.RiskFlags)
	}

	// The healthy agents still produced their real recommendations.
	if byName["identity_agent"].Recommendation.Action != model.ActionManualReview {
		t.Errorf("identity rec = %+v", byName["identity_agent"].Recommendation)
	}
	if hasFlag(byName["compliance_agent"].Recommendation.RiskFlags, "agent_error") {
		t.Error("healthy agent should not carry agent_error")
	}
}

func TestRunAllTimesOutSlowAgent(t *testing.T) {
	registry := NewRegistry(slowAgent{delay: time.Second}, &ComplianceAgent{})
	o := NewOrchestrator(registry, nil, nil)
	o.SetBudget(20 * time.Millisecond)

	recs, err := o.RunAll(context.Background(), "case_1", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		if r.AgentName == "slow_agent" {
			if !hasFlag(r.Recommendation.RiskFlags, "agent_error") {
				t.Errorf("slow agent rec = %+v, want degraded", r.Recommendation)
			}
		}
	}
}

func TestRunAllPreservesRegistryOrder(t *testing.T) {
	o := NewOrchestrator(DefaultRegistry(), nil, nil)
	recs, err := o.RunAll(context.Background(), "case_1", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"identity_agent", "fraud_agent", "compliance_agent", "risk_agent"}
	if len(recs) != len(want) {
		t.Fatalf("got %d recommendations", len(recs))
	}
	for i, name := range want {
		if recs[i].AgentName != name {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].AgentName, name)
		}
	}
}

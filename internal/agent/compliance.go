package agent

import (
	"context"
	"fmt"
	"strings"

	"decisiond/internal/model"
)

// ComplianceAgent screens the compliance evidence for sanctions and PEP
// hits. A sanctions hit escalates regardless of what other agents think;
// the vote layer sees its risk score of 100.
type ComplianceAgent struct{}

func (a *ComplianceAgent) Name() string    { return "compliance_agent" }
func (a *ComplianceAgent) Version() string { return "1.0.0" }

func (a *ComplianceAgent) Analyze(ctx context.Context, evidence []model.Evidence) (model.Recommendation, error) {
	ev := evidenceByType(evidence, "compliance")
	if ev == nil {
		return model.Recommendation{
			Action:     model.ActionManualReview,
			Confidence: 0.0,
			Reasoning:  "No compliance screening performed. Manual review required.",
			RiskScore:  model.IntPtr(100),
			RiskFlags:  []string{"no_compliance_check"},
		}, nil
	}

	sanctionsStatus := fieldString(ev, "sanctions_screening.status", "unknown")
	pepStatus := fieldString(ev, "pep_screening.status", "clear")
	checkedLists := strings.Join(fieldStrings(ev, "sanctions_screening.checked_lists"), ", ")

	var action model.ActionType
	var reasoning string
	var confidence float64
	riskScore := 0
	var riskFlags []string

	switch {
	case sanctionsStatus == "hit":
		riskFlags = append(riskFlags, "sanctions_hit")
		riskScore = 100
		action = model.ActionEscalate
		reasoning = fmt.Sprintf("SANCTIONS HIT: Individual matches sanctioned entity. Lists checked: %s. Immediate escalation required.", checkedLists)
		confidence = 0.99
	case sanctionsStatus == "potential_match":
		riskFlags = append(riskFlags, "potential_sanctions_match")
		riskScore = 70
		action = model.ActionManualReview
		reasoning = "Potential sanctions match found. Manual review required to confirm or clear."
		confidence = 0.7
	case pepStatus == "hit":
		riskFlags = append(riskFlags, "pep_match")
		riskScore = 60
		action = model.ActionManualReview
		reasoning = "Individual identified as Politically Exposed Person (PEP). Enhanced due diligence required."
		confidence = 0.8
	case sanctionsStatus == "clear":
		action = model.ActionApprove
		reasoning = fmt.Sprintf("Compliance screening passed. No sanctions or PEP matches found. Lists checked: %s.", checkedLists)
		confidence = 0.98
	default:
		riskFlags = append(riskFlags, "screening_incomplete")
		riskScore = 50
		action = model.ActionManualReview
		reasoning = "Compliance screening status unclear. Manual review required."
		confidence = 0.5
	}

	sanctionsComponent := 0.0
	if sanctionsStatus == "clear" {
		sanctionsComponent = 1.0
	}
	pepComponent := 0.5
	if pepStatus == "clear" {
		pepComponent = 1.0
	}

	return model.Recommendation{
		Action:     action,
		Confidence: confidence,
		Reasoning:  reasoning,
		RiskScore:  model.IntPtr(riskScore),
		RiskFlags:  riskFlags,
		ConfidenceBreakdown: &model.ConfidenceBreakdown{
			Overall: confidence,
			Components: map[string]float64{
				"sanctions_screening": sanctionsComponent,
				"pep_screening":       pepComponent,
			},
		},
	}, nil
}

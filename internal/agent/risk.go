package agent

import (
	"context"
	"fmt"
	"strings"

	"decisiond/internal/model"
)

// RiskAgent folds risk signals from every evidence type into a single
// score: identity extraction confidence, address verification, sanctions
// status, plus any explicit risk_assessment evidence.
type RiskAgent struct{}

func (a *RiskAgent) Name() string    { return "risk_agent" }
func (a *RiskAgent) Version() string { return "1.0.0" }

func (a *RiskAgent) Analyze(ctx context.Context, evidence []model.Evidence) (model.Recommendation, error) {
	factors := map[string]float64{}
	totalRisk := 0
	var riskFlags []string

	identityEv := evidenceByType(evidence, "identity")
	if identityEv != nil {
		if fieldFloat(identityEv, "confidence", 0.5) < 0.7 {
			factors["low_identity_confidence"] = 20
			riskFlags = append(riskFlags, "low_identity_confidence")
			totalRisk += 20
		}
	} else {
		factors["missing_identity"] = 50
		riskFlags = append(riskFlags, "missing_identity")
		totalRisk += 50
	}

	if addressEv := evidenceByType(evidence, "address"); addressEv != nil {
		if !fieldBool(addressEv, "verified", false) {
			factors["address_unverified"] = 15
			riskFlags = append(riskFlags, "address_unverified")
			totalRisk += 15
		}
	}

	if complianceEv := evidenceByType(evidence, "compliance"); complianceEv != nil {
		if fieldString(complianceEv, "sanctions_screening.status", "unknown") == "hit" {
			factors["sanctions_hit"] = 100
			riskFlags = append(riskFlags, "sanctions_hit")
			totalRisk = 100
		}
	}

	if riskEv := evidenceByType(evidence, "risk_assessment"); riskEv != nil {
		explicit := int(fieldFloat(riskEv, "risk_score", 0))
		if explicit > totalRisk {
			totalRisk = explicit
		}
		riskFlags = append(riskFlags, fieldStrings(riskEv, "risk_flags")...)
	}

	riskScore := totalRisk
	if riskScore > 100 {
		riskScore = 100
	}

	var action model.ActionType
	var reasoning string
	var confidence float64
	switch {
	case riskScore >= 80:
		action = model.ActionEscalate
		reasoning = fmt.Sprintf("HIGH RISK (score: %d). Escalation required. Risk factors: %s.",
			riskScore, strings.Join(riskFlags, ", "))
		confidence = 0.9
	case riskScore >= 50:
		action = model.ActionManualReview
		reasoning = fmt.Sprintf("MEDIUM RISK (score: %d). Manual review recommended. Risk factors: %s.",
			riskScore, strings.Join(riskFlags, ", "))
		confidence = 0.75
	case riskScore >= 30:
		action = model.ActionManualReview
		reasoning = fmt.Sprintf("LOW-MEDIUM RISK (score: %d). Quick review suggested.", riskScore)
		confidence = 0.8
	default:
		action = model.ActionApprove
		reasoning = fmt.Sprintf("LOW RISK (score: %d). Risk within acceptable parameters.", riskScore)
		confidence = 0.9
	}

	return model.Recommendation{
		Action:     action,
		Confidence: confidence,
		Reasoning:  reasoning,
		RiskScore:  model.IntPtr(riskScore),
		RiskFlags:  riskFlags,
		ConfidenceBreakdown: &model.ConfidenceBreakdown{
			Overall:    confidence,
			Components: factors,
		},
	}, nil
}

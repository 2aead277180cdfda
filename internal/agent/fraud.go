package agent

import (
	"context"
	"fmt"
	"strings"

	"decisiond/internal/model"
)

// FraudAgent looks for document-tampering signals in identity evidence:
// format and checksum validation failures and poor capture quality.
type FraudAgent struct{}

func (a *FraudAgent) Name() string    { return "fraud_agent" }
func (a *FraudAgent) Version() string { return "1.0.0" }

func (a *FraudAgent) Analyze(ctx context.Context, evidence []model.Evidence) (model.Recommendation, error) {
	ev := evidenceByType(evidence, "identity")
	if ev == nil {
		return model.Recommendation{
			Action:     model.ActionManualReview,
			Confidence: 0.5,
			Reasoning:  "No identity evidence available for fraud analysis.",
			RiskScore:  model.IntPtr(50),
			RiskFlags:  []string{"no_fraud_analysis"},
		}, nil
	}

	formatValid := fieldBool(ev, "validation_checks.format_valid", true)
	checksumValid := fieldBool(ev, "validation_checks.checksum_valid", true)
	confidence := fieldFloat(ev, "confidence", 0.9)

	var indicators []string
	riskScore := 10 // base risk
	if !formatValid {
		indicators = append(indicators, "invalid_format")
		riskScore += 30
	}
	if !checksumValid {
		indicators = append(indicators, "checksum_mismatch")
		riskScore += 40
	}
	if confidence < 0.6 {
		indicators = append(indicators, "poor_image_quality")
		riskScore += 20
	}
	if riskScore > 100 {
		riskScore = 100
	}

	var action model.ActionType
	var reasoning string
	var finalConfidence float64
	switch {
	case len(indicators) >= 2:
		action = model.ActionEscalate
		reasoning = fmt.Sprintf("Multiple fraud indicators detected: %s. Escalation to fraud team required.",
			strings.Join(indicators, ", "))
		finalConfidence = 0.3
	case len(indicators) == 1:
		action = model.ActionManualReview
		reasoning = fmt.Sprintf("Potential fraud indicator: %s. Manual review recommended.", indicators[0])
		finalConfidence = 0.6
	default:
		action = model.ActionApprove
		reasoning = "No fraud indicators detected. Document appears authentic."
		finalConfidence = 0.95
	}

	return model.Recommendation{
		Action:     action,
		Confidence: finalConfidence,
		Reasoning:  reasoning,
		RiskScore:  model.IntPtr(riskScore),
		RiskFlags:  indicators,
	}, nil
}

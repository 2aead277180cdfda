package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"decisiond/internal/model"
)

// IdentityAgent validates identity evidence: required fields, document
// expiry, and extraction confidence.
type IdentityAgent struct{}

func (a *IdentityAgent) Name() string    { return "identity_agent" }
func (a *IdentityAgent) Version() string { return "1.0.0" }

var identityRequiredFields = []string{"full_name", "date_of_birth", "id_number"}

func (a *IdentityAgent) Analyze(ctx context.Context, evidence []model.Evidence) (model.Recommendation, error) {
	ev := evidenceByType(evidence, "identity")
	if ev == nil {
		return model.Recommendation{
			Action:     model.ActionManualReview,
			Confidence: 0.0,
			Reasoning:  "No identity evidence found. Manual review required.",
			RiskScore:  model.IntPtr(100),
			RiskFlags:  []string{"missing_identity"},
		}, nil
	}

	verified := fieldBool(ev, "verified", false)
	confidence := fieldFloat(ev, "confidence", 0.0)
	extracted := fieldMap(ev, "extracted_fields")

	var missing []string
	for _, f := range identityRequiredFields {
		if _, ok := extracted[f]; !ok {
			missing = append(missing, f)
		}
	}

	expiry := fieldString(ev, "extracted_fields.expiry_date", "")
	expired := false
	if expiry != "" {
		if t, err := time.Parse(time.RFC3339, strings.Replace(expiry, "Z", "+00:00", 1)); err == nil {
			expired = t.Before(time.Now())
		} else if t, err := time.Parse("2006-01-02", expiry); err == nil {
			expired = t.Before(time.Now())
		}
	}

	riskScore := 0
	var riskFlags []string
	if len(missing) > 0 {
		riskScore += 30
		riskFlags = append(riskFlags, "incomplete_identity_data")
	}
	if !verified {
		riskScore += 40
		riskFlags = append(riskFlags, "identity_not_verified")
	}
	if expired {
		riskScore += 50
		riskFlags = append(riskFlags, "id_expired")
	}
	if confidence < 0.7 {
		riskScore += 20
		riskFlags = append(riskFlags, "low_extraction_confidence")
	}
	if riskScore > 100 {
		riskScore = 100
	}

	var action model.ActionType
	var reasoning string
	switch {
	case expired:
		action = model.ActionReject
		reasoning = fmt.Sprintf("Identity document has expired (expiry: %s). Cannot proceed.", expiry)
	case len(missing) > 0:
		action = model.ActionRequestMoreInfo
		reasoning = fmt.Sprintf("Missing required identity fields: %s. Additional documentation needed.",
			strings.Join(missing, ", "))
	case verified && confidence > 0.9 && len(riskFlags) == 0:
		action = model.ActionApprove
		reasoning = "Identity verified with high confidence. All required fields present and valid."
	case confidence < 0.6:
		action = model.ActionManualReview
		reasoning = fmt.Sprintf("Identity extraction confidence is low (%d%%). Manual verification recommended.",
			int(confidence*100))
	default:
		action = model.ActionApprove
		reasoning = fmt.Sprintf("Identity verified. Confidence: %d%%.", int(confidence*100))
	}

	return model.Recommendation{
		Action:     action,
		Confidence: confidence,
		Reasoning:  reasoning,
		RiskScore:  model.IntPtr(riskScore),
		RiskFlags:  riskFlags,
	}, nil
}

package ruledsl

import "testing"

func evalCtx() map[string]any {
	return map[string]any{
		"case": map[string]any{
			"priority": "normal",
			"vertical": "kyc",
			"status":   "processing",
		},
		"ensemble": map[string]any{
			"confidence": 0.96,
			"risk_score": float64(10),
			"risk_flags": []any{},
			"action":     "approve",
		},
		"compliance": map[string]any{
			"sanctions_screening": map[string]any{
				"status":        "clear",
				"checked_lists": []any{"OFAC", "UN"},
			},
		},
	}
}

func mustParse(t *testing.T, cond string) Expr {
	t.Helper()
	expr, err := Parse(cond)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", cond, err)
	}
	return expr
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"wildcard", "*", true},
		{"confidence-strict-gt", "ensemble.confidence > 0.95", true},
		{"confidence-eq-boundary", "ensemble.confidence > 0.96", false},
		{"risk-strict-lt", "ensemble.risk_score < 20", true},
		{"and-both", "ensemble.confidence > 0.95 and ensemble.risk_score < 20", true},
		{"and-short-circuit", "ensemble.risk_score > 50 and ensemble.confidence > 0", false},
		{"or", "ensemble.risk_score > 50 or ensemble.confidence > 0.9", true},
		{"uppercase-keywords", "ensemble.confidence > 0.9 AND ensemble.risk_score < 20", true},
		{"string-eq", "compliance.sanctions_screening.status == 'clear'", true},
		{"string-neq", `compliance.sanctions_screening.status != "hit"`, true},
		{"contains-hit", "compliance.sanctions_screening.checked_lists.contains('OFAC')", true},
		{"contains-miss", "compliance.sanctions_screening.checked_lists.contains('EU')", false},
		{"empty-true", "ensemble.risk_flags.empty()", true},
		{"len", "len(compliance.sanctions_screening.checked_lists) >= 2", true},
		{"parens", "(ensemble.risk_score > 50 or ensemble.risk_score < 20) and case.vertical == 'kyc'", true},
		{"null-literal", "address == null", true},
		{"bool-literal", "true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(mustParse(t, tt.cond), evalCtx())
			if err != nil {
				t.Fatalf("EvalBool(%q) error: %v", tt.cond, err)
			}
			if got != tt.want {
				t.Errorf("EvalBool(%q) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestMissingPathYieldsNull(t *testing.T) {
	// Every comparison against a missing path must be false, never an error.
	conds := []string{
		"identity.verified == true",
		"compliance.pep_screening.status == 'hit'",
		"ensemble.no_such_field > 0.5",
		"address.verified == true",
	}
	for _, cond := range conds {
		got, err := EvalBool(mustParse(t, cond), evalCtx())
		if err != nil {
			t.Fatalf("EvalBool(%q) error: %v", cond, err)
		}
		if got {
			t.Errorf("EvalBool(%q) = true, want false", cond)
		}
	}

	// Missing path == null is true: the path resolves to null.
	got, err := EvalBool(mustParse(t, "identity.verified == null"), evalCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("missing path should compare equal to null")
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"ensemble.flags.explode()",   // unknown function
		"ensemble.confidence >",      // missing operand
		"(ensemble.confidence > 0.5", // unbalanced paren
		"ensemble.confidence = 0.5",  // single equals
		"'unterminated",
	}
	for _, cond := range bad {
		if _, err := Parse(cond); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", cond)
		} else if !IsEvalError(err) {
			t.Errorf("Parse(%q) returned %T, want *EvalError", cond, err)
		}
	}
}

func TestUnknownRootFailsAtEvalNotParse(t *testing.T) {
	conds := []string{
		"frobnicate.confidence > 1",
		"ensemble.confidence > 0.9 and frobnicate.level == 2",
		"len(frobnicate.items) > 0",
		"frobnicate.lists.contains('OFAC')",
	}
	for _, cond := range conds {
		expr, err := Parse(cond)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", cond, err)
		}
		if _, err := EvalBool(expr, evalCtx()); !IsEvalError(err) {
			t.Errorf("EvalBool(%q) err = %v, want *EvalError", cond, err)
		}
		// The strict variant catches the same typo before storage.
		if _, err := ParseStrict(cond); !IsEvalError(err) {
			t.Errorf("ParseStrict(%q) err = %v, want *EvalError", cond, err)
		}
	}

	if _, err := ParseStrict("ensemble.confidence > 0.9"); err != nil {
		t.Errorf("ParseStrict rejected a valid condition: %v", err)
	}
}

func TestNullOrderingIsFalse(t *testing.T) {
	conds := []string{
		"identity.confidence > 0",
		"identity.confidence < 0",
		"identity.confidence >= 0",
		"identity.confidence <= 0",
	}
	for _, cond := range conds {
		got, err := EvalBool(mustParse(t, cond), evalCtx())
		if err != nil {
			t.Fatalf("EvalBool(%q) error: %v", cond, err)
		}
		if got {
			t.Errorf("EvalBool(%q) = true, want false for null operand", cond)
		}
	}
}

package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/greenlight-sh/greenlight/internal/idgen"
)

func seedRule(t *testing.T, store Store, r *SOPRule) *SOPRule {
	t.Helper()
	if r.ID == "" {
		r.ID = idgen.WithPrefix("rule_")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return r
}

func newEvaluator(store Store) *Evaluator {
	// Zero TTL so tests always see fresh rules.
	return NewEvaluator(store).WithCacheTTL(0)
}

func TestEvaluate_DefaultDenyWithoutRules(t *testing.T) {
	e := newEvaluator(NewMemoryStore())

	res, err := e.Evaluate(context.Background(), "file_read", nil, 1, 0.99)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Approved {
		t.Error("zero applicable rules must deny")
	}
	if len(res.Reasons) == 0 {
		t.Error("denial must carry a reason")
	}
}

func TestEvaluate_ConfidenceFloor(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "file_read", Name: "reads",
		RequiredConfidence: 0.5, MaxRiskLevel: 1, Enabled: true,
	})
	e := newEvaluator(store)

	// Cold-start confidence 0.3 under the 0.5 floor: denied despite minimal risk.
	res, _ := e.Evaluate(context.Background(), "file_read", nil, 1, 0.3)
	if res.Approved {
		t.Error("confidence below floor must deny")
	}

	res, _ = e.Evaluate(context.Background(), "file_read", nil, 1, 0.724)
	if !res.Approved {
		t.Errorf("confidence above floor must approve: %v", res.Reasons)
	}
}

func TestEvaluate_RiskCeiling(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "file_write", Name: "writes",
		RequiredConfidence: 0.5, MaxRiskLevel: 2, Enabled: true,
	})
	e := newEvaluator(store)

	res, _ := e.Evaluate(context.Background(), "file_write", nil, 3, 0.99)
	if res.Approved {
		t.Error("risk above ceiling must deny")
	}
	res, _ = e.Evaluate(context.Background(), "file_write", nil, 2, 0.99)
	if !res.Approved {
		t.Errorf("risk at ceiling must approve: %v", res.Reasons)
	}
}

func TestEvaluate_VerificationAlwaysDenies(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "file_delete", Name: "deletes",
		RequiredConfidence: 0.0, MaxRiskLevel: 5,
		RequiresVerification: true, Enabled: true,
	})
	e := newEvaluator(store)

	// Perfect confidence and minimal risk still deny.
	res, _ := e.Evaluate(context.Background(), "file_delete", nil, 1, 1.0)
	if res.Approved {
		t.Error("verification rule must never auto-approve")
	}
	found := false
	for _, r := range res.Reasons {
		if strings.Contains(r, "verification") {
			found = true
		}
	}
	if !found {
		t.Errorf("denial must mention verification: %v", res.Reasons)
	}
}

func TestEvaluate_VerificationVetoesOtherApprovals(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "config_update", Name: "permissive",
		RequiredConfidence: 0.1, MaxRiskLevel: 5, Enabled: true, Position: 0,
	})
	seedRule(t, store, &SOPRule{
		RequestType: "config_update", Name: "verify-secrets",
		Conditions:         []Condition{{Attribute: "key", Op: OpEquals, Values: []string{"db_password"}}},
		RequiredConfidence: 0.0, MaxRiskLevel: 5,
		RequiresVerification: true, Enabled: true, Position: 1,
	})
	e := newEvaluator(store)

	// Non-secret key: only the permissive rule applies.
	res, _ := e.Evaluate(context.Background(), "config_update", map[string]string{"key": "timeout"}, 3, 0.9)
	if !res.Approved {
		t.Errorf("permissive rule should approve: %v", res.Reasons)
	}

	// Secret key: the verification rule applies and vetoes the approval.
	res, _ = e.Evaluate(context.Background(), "config_update", map[string]string{"key": "db_password"}, 3, 0.9)
	if res.Approved {
		t.Error("explicit deny must override another rule's approval")
	}
}

func TestEvaluate_FailingRuleDoesNotVetoApproval(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "file_read", Name: "strict",
		RequiredConfidence: 0.95, MaxRiskLevel: 1, Enabled: true, Position: 0,
	})
	seedRule(t, store, &SOPRule{
		RequestType: "file_read", Name: "lenient",
		RequiredConfidence: 0.5, MaxRiskLevel: 2, Enabled: true, Position: 1,
	})
	e := newEvaluator(store)

	// The strict rule fails on confidence, but the lenient one approves.
	res, _ := e.Evaluate(context.Background(), "file_read", nil, 1, 0.7)
	if !res.Approved {
		t.Errorf("independent approval must carry: %v", res.Reasons)
	}
	if res.Evaluated != 2 {
		t.Errorf("both rules are applicable, evaluated=%d", res.Evaluated)
	}
}

func TestEvaluate_DisabledAndNonMatchingRulesSkipped(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "file_read", Name: "disabled",
		RequiredConfidence: 0.0, MaxRiskLevel: 5, Enabled: false,
	})
	seedRule(t, store, &SOPRule{
		RequestType: "file_read", Name: "scoped",
		Conditions:         []Condition{{Attribute: "path", Op: OpExists}},
		RequiredConfidence: 0.0, MaxRiskLevel: 5, Enabled: true,
	})
	e := newEvaluator(store)

	// No path attribute: scoped rule doesn't apply, disabled rule is ignored.
	res, _ := e.Evaluate(context.Background(), "file_read", nil, 1, 1.0)
	if res.Approved || res.Evaluated != 0 {
		t.Errorf("expected zero applicable rules, got %+v", res)
	}
}

func TestEvaluate_NeverEscalatesRisk(t *testing.T) {
	store := NewMemoryStore()
	seedRule(t, store, &SOPRule{
		RequestType: "service_stop", Name: "ops",
		RequiredConfidence: 0.0, MaxRiskLevel: 3, Enabled: true,
	})
	e := newEvaluator(store)

	// There is no code path that approves a request whose risk exceeds the
	// ceiling of every applicable rule.
	for risk := 4; risk <= 5; risk++ {
		res, _ := e.Evaluate(context.Background(), "service_stop", nil, risk, 1.0)
		if res.Approved {
			t.Errorf("risk %d above every ceiling must deny", risk)
		}
	}
}

func TestConditionMatches(t *testing.T) {
	attrs := map[string]string{"path": "/var/log/app.log", "service": "indexer"}

	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{Attribute: "path", Op: OpExists}, true},
		{Condition{Attribute: "missing", Op: OpExists}, false},
		{Condition{Attribute: "service", Op: OpEquals, Values: []string{"indexer"}}, true},
		{Condition{Attribute: "service", Op: OpEquals, Values: []string{"other"}}, false},
		{Condition{Attribute: "service", Op: OpOneOf, Values: []string{"a", "indexer"}}, true},
		{Condition{Attribute: "service", Op: OpOneOf, Values: []string{"a", "b"}}, false},
		{Condition{Attribute: "service", Op: "regex"}, false}, // unknown op never matches
	}
	for _, tt := range tests {
		if got := tt.cond.Matches(attrs); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.cond, got, tt.want)
		}
	}
}

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T, mode FailMode, policies ...Policy) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(mode, 16)
	require.NoError(t, err)
	require.NoError(t, e.Load(policies))
	return e
}

func baseCtx() *EvalContext {
	return &EvalContext{
		Hook:     HookBeforeToolCall,
		AgentID:  "main",
		ToolName: "exec",
		Time:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		Trust:    TrustInfo{Score: 50, Tier: "standard"},
	}
}

func denyPolicy(id string, conds ...Condition) Policy {
	return Policy{
		ID: id, Name: id, Version: "1.0.0",
		Rules: []Rule{{ID: "r1", Conditions: conds, Effect: Effect{Action: ActionDeny, Reason: id + " denied"}}},
	}
}

func TestEvaluate_NoPoliciesAllows(t *testing.T) {
	e := newTestEvaluator(t, FailOpen)
	v := e.Evaluate(context.Background(), baseCtx())
	assert.Equal(t, ActionAllow, v.Action)
	assert.Empty(t, v.MatchedPolicies)
}

func TestEvaluate_ScopeFiltering(t *testing.T) {
	p := denyPolicy("scoped", Condition{Type: "tool", Tool: "exec"})
	p.Scope = Scope{Hooks: []string{HookMessageSending}}
	e := newTestEvaluator(t, FailOpen, p)

	v := e.Evaluate(context.Background(), baseCtx())
	assert.Equal(t, ActionAllow, v.Action, "hook outside scope never matches")

	ec := baseCtx()
	ec.Hook = HookMessageSending
	v = e.Evaluate(context.Background(), ec)
	assert.Equal(t, ActionDeny, v.Action)
}

func TestEvaluate_ScopeAgentGlob(t *testing.T) {
	p := denyPolicy("glob", Condition{Type: "tool", Tool: "exec"})
	p.Scope = Scope{Agents: []string{"research-*"}}
	e := newTestEvaluator(t, FailOpen, p)

	ec := baseCtx()
	ec.AgentID = "research-7"
	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), ec).Action)

	ec.AgentID = "main"
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action)
}

func TestEvaluate_FirstMatchShortCircuitsPerPolicy(t *testing.T) {
	p := Policy{
		ID: "p", Name: "p", Version: "1.0.0",
		Rules: []Rule{
			{ID: "warn-first", Conditions: []Condition{{Type: "tool", Tool: "exec"}},
				Effect: Effect{Action: ActionWarn, Reason: "first"}},
			{ID: "deny-later", Conditions: []Condition{{Type: "tool", Tool: "exec"}},
				Effect: Effect{Action: ActionDeny, Reason: "second"}},
		},
	}
	e := newTestEvaluator(t, FailOpen, p)
	v := e.Evaluate(context.Background(), baseCtx())

	require.Len(t, v.MatchedPolicies, 1)
	assert.Equal(t, "warn-first", v.MatchedPolicies[0].RuleID)
	assert.Equal(t, ActionWarn, v.Action)
	assert.Equal(t, "first", v.Reason)
}

func TestEvaluate_PrecedenceAcrossPolicies(t *testing.T) {
	audit := Policy{ID: "a", Name: "a", Version: "1.0.0",
		Rules: []Rule{{ID: "r", Conditions: []Condition{{Type: "tool", Tool: "exec"}},
			Effect: Effect{Action: ActionAudit}}}}
	warn := Policy{ID: "b", Name: "b", Version: "1.0.0",
		Rules: []Rule{{ID: "r", Conditions: []Condition{{Type: "tool", Tool: "exec"}},
			Effect: Effect{Action: ActionWarn, Reason: "careful"}}}}
	deny := denyPolicy("c", Condition{Type: "tool", Tool: "exec"})

	e := newTestEvaluator(t, FailOpen, audit, warn, deny)
	v := e.Evaluate(context.Background(), baseCtx())

	assert.Equal(t, ActionDeny, v.Action)
	assert.Len(t, v.MatchedPolicies, 3, "all matches recorded even when overridden")
	assert.Equal(t, "careful", v.Reason, "reason comes from the first deny or warn in order")
}

func TestEvaluate_ToolConditionParamMatch(t *testing.T) {
	p := denyPolicy("rm", Condition{
		Type: "tool", Tool: "exec",
		ParamMatch: map[string]string{"command": `rm\s+-rf`},
	})
	e := newTestEvaluator(t, FailOpen, p)

	ec := baseCtx()
	ec.ToolParams = map[string]any{"command": "rm -rf /tmp/scratch"}
	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), ec).Action)

	ec.ToolParams = map[string]any{"command": "ls -la"}
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action)

	ec.ToolParams = nil
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action,
		"missing param never matches")
}

func TestEvaluate_TrustCondition(t *testing.T) {
	max := 25.0
	p := denyPolicy("low-trust", Condition{Type: "trust", MaxScore: &max})
	e := newTestEvaluator(t, FailOpen, p)

	ec := baseCtx()
	ec.Trust = TrustInfo{Score: 10, Tier: "restricted"}
	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), ec).Action)

	ec.Trust = TrustInfo{Score: 25, Tier: "standard"}
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action,
		"maxScore bound is exclusive")
}

func TestEvaluate_TimeConditionWrapsMidnight(t *testing.T) {
	p := denyPolicy("night", Condition{Type: "time", Window: "23:00-08:00"})
	e := newTestEvaluator(t, FailOpen, p)

	ec := baseCtx()
	ec.Time = time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), ec).Action)

	ec.Time = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action)
}

func TestEvaluate_FrequencyCondition(t *testing.T) {
	p := denyPolicy("burst", Condition{Type: "frequency", MaxCount: 2, WindowSeconds: 3600})
	e := newTestEvaluator(t, FailOpen, p)

	ec := baseCtx()
	for i := 0; i < 2; i++ {
		assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action)
		e.Frequency().Record(ec.AgentID, ec.Hook)
	}
	e.Frequency().Record(ec.AgentID, ec.Hook)
	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), ec).Action,
		"third occurrence inside the window exceeds maxCount")
}

func TestEvaluate_ExprCondition(t *testing.T) {
	p := denyPolicy("cel", Condition{Type: "expr", Expr: `tool == "exec" && trust.score < 60.0`})
	e := newTestEvaluator(t, FailOpen, p)

	assert.Equal(t, ActionDeny, e.Evaluate(context.Background(), baseCtx()).Action)

	ec := baseCtx()
	ec.Trust.Score = 90
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), ec).Action)
}

func TestLoad_RejectsMalformedExpression(t *testing.T) {
	e, err := NewEvaluator(FailOpen, 16)
	require.NoError(t, err)
	err = e.Load([]Policy{denyPolicy("bad", Condition{Type: "expr", Expr: `tool ==`})})
	assert.Error(t, err)
}

func TestEvaluate_FaultingPolicySkippedFailOpen(t *testing.T) {
	bad := denyPolicy("bad", Condition{Type: "tool", Tool: "exec",
		ParamMatch: map[string]string{"command": `([`}})
	good := denyPolicy("good", Condition{Type: "tool", Tool: "other"})

	e := newTestEvaluator(t, FailOpen, bad, good)
	ec := baseCtx()
	ec.ToolParams = map[string]any{"command": "anything"}
	v := e.Evaluate(context.Background(), ec)
	assert.Equal(t, ActionAllow, v.Action, "faulting policy skipped, rest evaluated")
}

func TestEvaluate_FaultForcesDenyFailClosed(t *testing.T) {
	bad := denyPolicy("bad", Condition{Type: "tool", Tool: "exec",
		ParamMatch: map[string]string{"command": `([`}})
	e := newTestEvaluator(t, FailClosed, bad)
	ec := baseCtx()
	ec.ToolParams = map[string]any{"command": "anything"}
	v := e.Evaluate(context.Background(), ec)
	assert.Equal(t, ActionDeny, v.Action)
	assert.NotEmpty(t, v.Reason)
}

func TestEvaluate_SubsetRestrictsToIDs(t *testing.T) {
	a := denyPolicy("a", Condition{Type: "tool", Tool: "exec"})
	b := denyPolicy("b", Condition{Type: "tool", Tool: "exec"})
	e := newTestEvaluator(t, FailOpen, a, b)

	v := e.EvaluateSubset(context.Background(), baseCtx(), []string{"b"})
	require.Len(t, v.MatchedPolicies, 1)
	assert.Equal(t, "b", v.MatchedPolicies[0].PolicyID)
}

func TestEvaluate_ControlsCarriedOnMatch(t *testing.T) {
	p := denyPolicy("ctl", Condition{Type: "tool", Tool: "exec"})
	p.Controls = []string{"A.8.3", "A.5.15"}
	e := newTestEvaluator(t, FailOpen, p)
	v := e.Evaluate(context.Background(), baseCtx())
	require.Len(t, v.MatchedPolicies, 1)
	assert.Equal(t, []string{"A.8.3", "A.5.15"}, v.MatchedPolicies[0].Controls)
}

// Property: the aggregated action always equals the strongest matched
// action, regardless of policy order.
func TestEvaluate_PrecedenceProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	actions := []Action{ActionAllow, ActionAudit, ActionWarn, ActionDeny}
	properties.Property("verdict is the max-precedence match", prop.ForAll(
		func(picks []int) bool {
			var policies []Policy
			strongest := ActionAllow
			for i, pick := range picks {
				a := actions[pick%len(actions)]
				if a.Stronger(strongest) {
					strongest = a
				}
				policies = append(policies, Policy{
					ID: string(rune('a' + i)), Name: "p", Version: "1.0.0",
					Rules: []Rule{{ID: "r", Conditions: []Condition{{Type: "tool", Tool: "exec"}},
						Effect: Effect{Action: a}}},
				})
			}
			e, err := NewEvaluator(FailOpen, 16)
			if err != nil || e.Load(policies) != nil {
				return false
			}
			return e.Evaluate(context.Background(), baseCtx()).Action == strongest
		},
		gen.SliceOfN(6, gen.IntRange(0, 3)),
	))
	properties.TestingRun(t)
}

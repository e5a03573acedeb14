package governance

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/audit"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/crossagent"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/redact"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/trust"
)

type fixture struct {
	engine    *Engine
	evaluator *policy.Evaluator
	trust     *trust.Manager
	trail     *audit.Trail
	redactor  *redact.Engine
	vault     *redact.Vault
}

func newFixture(t *testing.T, policies ...policy.Policy) *fixture {
	t.Helper()
	dir := t.TempDir()

	evaluator, err := policy.NewEvaluator(policy.FailOpen, 16)
	require.NoError(t, err)
	require.NoError(t, evaluator.Load(policies))

	tm, err := trust.NewManager(trust.Options{Path: filepath.Join(dir, "trust.json")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tm.Close() })

	vault := redact.NewVault(time.Hour, time.Hour)
	t.Cleanup(vault.Close)
	redactor := redact.NewEngine(redact.NewCatalog(), vault, redact.Allowlist{})

	trail := audit.NewTrail(audit.Options{Enabled: true, Dir: filepath.Join(dir, "audit")})
	t.Cleanup(func() { _ = trail.Close() })

	eng := NewEngine(
		Options{Enabled: true, FailMode: policy.FailOpen},
		evaluator, tm, crossagent.NewManager(tm), redactor, trail, nil,
	)
	return &fixture{engine: eng, evaluator: evaluator, trust: tm, trail: trail, redactor: redactor, vault: vault}
}

func denyExecPolicy() policy.Policy {
	return policy.Policy{
		ID: "no-rm", Name: "no-rm", Version: "1.0.0",
		Rules: []policy.Rule{{
			ID: "rm",
			Conditions: []policy.Condition{{
				Type: "tool", Tool: "exec",
				ParamMatch: map[string]string{"command": `rm\s+-rf`},
			}},
			Effect: policy.Effect{Action: policy.ActionDeny, Reason: "destructive command"},
		}},
		Controls: []string{"A.8.3"},
	}
}

func TestBeforeToolCall_DenyBlocksAndAudits(t *testing.T) {
	f := newFixture(t, denyExecPolicy())

	d := f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "rm -rf /"})
	assert.True(t, d.Block)
	assert.Equal(t, "destructive command", d.Reason)

	entries, err := f.trail.Search(audit.Query{Verdict: policy.ActionDeny})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Controls, "A.8.3")
	assert.Contains(t, entries[0].Controls, "A.5.24")
	assert.Equal(t, "high", entries[0].Risk)
	assert.NotEmpty(t, entries[0].TimestampISO)
	assert.GreaterOrEqual(t, entries[0].ElapsedMicros, int64(0),
		"measured evaluation latency lands in the record")
}

func TestBeforeToolCall_AllowedCallPassesAndRecordsSuccess(t *testing.T) {
	f := newFixture(t, denyExecPolicy())

	d := f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "ls -la"})
	assert.False(t, d.Block)
	assert.Equal(t, policy.ActionAllow, d.Verdict.Action)
	assert.Equal(t, 1, f.trust.Get("main").SuccessCount)
}

func TestBeforeToolCall_DenyRecordsViolation(t *testing.T) {
	f := newFixture(t, denyExecPolicy())
	before := f.trust.Get("main").Score
	f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "rm -rf /"})
	rec := f.trust.Get("main")
	assert.Equal(t, 1, rec.ViolationCount)
	assert.Less(t, rec.Score, before)
}

func TestToolResultRoundTrip_PlaceholderResolution(t *testing.T) {
	f := newFixture(t)

	secret := "sk-proj-abcdefghijklmnopqrstuvwxyz123456"
	redacted, _ := f.engine.AfterToolResult(context.Background(), "main", "s1", "exec",
		"API_KEY="+secret)
	redactedStr, ok := redacted.(string)
	require.True(t, ok)
	assert.NotContains(t, redactedStr, secret, "agent never sees the live secret")
	assert.Contains(t, redactedStr, "[REDACTED:credential:")

	placeholder := redactedStr[strings.Index(redactedStr, "[REDACTED"):]
	d := f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "deploy --key " + placeholder})
	require.False(t, d.Block)
	assert.Contains(t, d.Params["command"], secret, "placeholder resolved before dispatch")
}

func TestBeforeToolCall_UnresolvablePlaceholderBlocks(t *testing.T) {
	f := newFixture(t)
	d := f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "deploy --key [REDACTED:credential:0123456789ab]"})
	assert.True(t, d.Block)
	assert.Equal(t, "Unresolvable", d.Reason)
}

func TestMessageSending_OutboundRedaction(t *testing.T) {
	f := newFixture(t)
	d := f.engine.MessageSending(context.Background(), "main", "s1", "twitter",
		"ping me at alice@example.com")
	assert.False(t, d.Block)
	assert.NotContains(t, d.Text, "alice@example.com")
	assert.Contains(t, d.Text, "[REDACTED:pii:")
}

func TestEvaluate_CrossAgentCeilingApplied(t *testing.T) {
	max := 70.0
	lowTrustDeny := policy.Policy{
		ID: "low-trust", Name: "low-trust", Version: "1.0.0",
		Rules: []policy.Rule{{
			ID:         "cap",
			Conditions: []policy.Condition{{Type: "trust", MaxScore: &max}},
			Effect:     policy.Effect{Action: policy.ActionDeny, Reason: "insufficient trust"},
		}},
	}
	f := newFixture(t, lowTrustDeny)
	f.trust.SetScore("parent", 60)
	f.trust.SetScore("child", 90)

	ec := &policy.EvalContext{
		Hook:       policy.HookBeforeToolCall,
		AgentID:    "child",
		SessionKey: "agent:parent:subagent:child:2e1a9c7b-0000-4000-8000-abcdefabcdef",
		ToolName:   "exec",
	}
	v := f.engine.Evaluate(context.Background(), ec)
	assert.Equal(t, policy.ActionDeny, v.Action, "child capped to parent score 60, below 70")
	require.NotNil(t, ec.CrossAgent)
	assert.Equal(t, 60.0, ec.Trust.Score)
	assert.Equal(t, trust.TierTrusted, ec.Trust.Tier)
}

func TestEvaluate_DisabledEngineAllows(t *testing.T) {
	f := newFixture(t, denyExecPolicy())
	f.engine.opts.Enabled = false
	d := f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "rm -rf /"})
	assert.False(t, d.Block)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, denyExecPolicy())
	f.engine.BeforeToolCall(context.Background(), "main", "s1", "exec",
		map[string]any{"command": "ls"})
	st := f.engine.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 1, st.Policies)
	assert.Contains(t, st.Agents, "main")
}

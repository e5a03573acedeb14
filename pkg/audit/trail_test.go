package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
)

func newTestTrail(t *testing.T, opts Options) *Trail {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = filepath.Join(t.TempDir(), "audit")
	}
	opts.Enabled = true
	tr := NewTrail(opts)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func denyVerdict(controls ...string) *policy.Verdict {
	return &policy.Verdict{
		Action: policy.ActionDeny,
		Reason: "destructive command",
		MatchedPolicies: []policy.Matched{
			{PolicyID: "no-rm", RuleID: "rm-rf", Effect: policy.Effect{Action: policy.ActionDeny}, Controls: controls},
		},
	}
}

func evalCtx() *policy.EvalContext {
	return &policy.EvalContext{
		Hook:       policy.HookBeforeToolCall,
		AgentID:    "main",
		SessionKey: "s1",
		ToolName:   "exec",
		ToolParams: map[string]any{"command": "rm -rf /", "api_key": "sk-live-123"},
		Message:    "private text",
		Trust:      policy.TrustInfo{Score: 42, Tier: "standard"},
	}
}

func TestRecord_ControlsFromPoliciesPlusDenyBaseline(t *testing.T) {
	tr := newTestTrail(t, Options{})
	tr.Record(evalCtx(), denyVerdict("A.8.3"), 0)
	require.NoError(t, tr.Flush())

	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.ElementsMatch(t, []string{"A.8.3", "A.5.24", "A.5.28"}, entries[0].Controls)
}

func TestRecord_NoBaselineControlsOnAllow(t *testing.T) {
	tr := newTestTrail(t, Options{})
	v := &policy.Verdict{Action: policy.ActionAllow, MatchedPolicies: []policy.Matched{
		{PolicyID: "p", RuleID: "r", Controls: []string{"A.9.1"}},
	}}
	tr.Record(evalCtx(), v, 0)
	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"A.9.1"}, entries[0].Controls)
	assert.NotContains(t, entries[0].Controls, "A.5.24")
}

func TestRecord_ParamKeyRedaction(t *testing.T) {
	tr := newTestTrail(t, Options{})
	tr.Record(evalCtx(), denyVerdict(), 0)
	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "[REDACTED]", entries[0].ToolParams["api_key"])
	assert.Equal(t, "rm -rf /", entries[0].ToolParams["command"])
}

func TestRecord_MinimalLevelDropsParamsAndMessage(t *testing.T) {
	tr := newTestTrail(t, Options{Level: LevelMinimal})
	tr.Record(evalCtx(), denyVerdict(), 0)
	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ToolParams)
	assert.Empty(t, entries[0].Matched)
	assert.Empty(t, entries[0].Message)
	assert.Equal(t, policy.ActionDeny, entries[0].Verdict)
}

func TestRecord_VerboseLevelKeepsMessage(t *testing.T) {
	tr := newTestTrail(t, Options{Level: LevelVerbose})
	tr.Record(evalCtx(), denyVerdict(), 0)
	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "private text", entries[0].Message)
}

func TestRecord_TimestampAndLatencyFields(t *testing.T) {
	tr := newTestTrail(t, Options{})
	fixed := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Record(evalCtx(), denyVerdict(), 1234*time.Microsecond)
	entries, err := tr.Search(Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, fixed.UnixMilli(), e.TS)
	assert.Equal(t, "2026-08-24T12:30:00Z", e.TimestampISO)
	assert.Equal(t, int64(1234), e.ElapsedMicros)
	assert.Equal(t, "high", e.Risk)
}

func TestRiskGrading(t *testing.T) {
	cases := []struct {
		action policy.Action
		tier   string
		want   string
	}{
		{policy.ActionDeny, "trusted", "high"},
		{policy.ActionWarn, "trusted", "medium"},
		{policy.ActionAudit, "standard", "low"},
		{policy.ActionAllow, "standard", "none"},
		{policy.ActionAllow, "restricted", "low"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, riskFor(c.action, c.tier), "%s under %s", c.action, c.tier)
	}
}

func TestFlush_WritesDayFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	tr := newTestTrail(t, Options{Dir: dir})
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Record(evalCtx(), denyVerdict(), 0)
	require.NoError(t, tr.Flush())

	_, err := os.Stat(filepath.Join(dir, "2026-08-24.jsonl"))
	assert.NoError(t, err)
}

func TestAutoFlushAtThreshold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	tr := newTestTrail(t, Options{Dir: dir})

	for i := 0; i < flushThreshold; i++ {
		tr.Record(evalCtx(), denyVerdict(), 0)
	}
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "reaching the threshold flushes without an explicit call")
}

func TestRetentionSweep(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	oldDay := time.Now().UTC().AddDate(0, 0, -40).Format("2006-01-02")
	newDay := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, os.WriteFile(filepath.Join(dir, oldDay+".jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, newDay+".jsonl"), []byte("{}\n"), 0o644))

	newTestTrail(t, Options{Dir: dir, RetentionDays: 30})

	_, err := os.Stat(filepath.Join(dir, oldDay+".jsonl"))
	assert.True(t, os.IsNotExist(err), "expired file removed")
	_, err = os.Stat(filepath.Join(dir, newDay+".jsonl"))
	assert.NoError(t, err)
}

func TestSearch_Filters(t *testing.T) {
	tr := newTestTrail(t, Options{})

	ecA := evalCtx()
	tr.Record(ecA, denyVerdict(), 0)
	ecB := evalCtx()
	ecB.AgentID = "research"
	tr.Record(ecB, &policy.Verdict{Action: policy.ActionAllow}, 0)

	entries, err := tr.Search(Query{AgentID: "research"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, policy.ActionAllow, entries[0].Verdict)

	entries, err = tr.Search(Query{Verdict: policy.ActionDeny})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "main", entries[0].AgentID)

	entries, err = tr.Search(Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSearch_TimeWindow(t *testing.T) {
	tr := newTestTrail(t, Options{})
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.Record(evalCtx(), denyVerdict(), 0)
	tr.now = func() time.Time { return base.Add(time.Hour) }
	tr.Record(evalCtx(), denyVerdict(), 0)

	entries, err := tr.Search(Query{Since: base.Add(30 * time.Minute).UnixMilli()})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = tr.Search(Query{Until: base.Add(30 * time.Minute).UnixMilli()})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDisabledTrailRecordsNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	tr := NewTrail(Options{Enabled: false, Dir: dir})
	tr.Record(evalCtx(), denyVerdict(), 0)
	require.NoError(t, tr.Flush())
	_, err := os.ReadDir(dir)
	assert.True(t, os.IsNotExist(err))
}

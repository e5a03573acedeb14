package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/patterns"
)

func testSet(t *testing.T) *patterns.Set {
	t.Helper()
	return patterns.NewRegistry().Merged()
}

func buildChain(t *testing.T, evs []events.Event) *chain.Chain {
	t.Helper()
	chains := chain.NewReconstructor(chain.Config{}).Build(evs)
	require.Len(t, chains, 1)
	return chains[0]
}

func msgIn(ts int64, seq uint64, text string) events.Event {
	return events.Event{
		ID: text, TS: ts, Seq: seq, Agent: "main", Session: "s1",
		Type: events.TypeMsgIn, Payload: events.Payload{Text: text, Role: "user"},
	}
}

func msgOut(ts int64, seq uint64, text string) events.Event {
	return events.Event{
		ID: text, TS: ts, Seq: seq, Agent: "main", Session: "s1",
		Type: events.TypeMsgOut, Payload: events.Payload{Text: text, Role: "assistant"},
	}
}

func toolCall(ts int64, seq uint64, tool, command string) events.Event {
	return events.Event{
		ID: "call", TS: ts, Seq: seq, Agent: "main", Session: "s1",
		Type: events.TypeToolCall,
		Payload: events.Payload{
			ToolName:   tool,
			ToolParams: map[string]any{"command": command},
		},
	}
}

func toolResult(ts int64, seq uint64, tool, result string, isErr bool) events.Event {
	return events.Event{
		ID: "result", TS: ts, Seq: seq, Agent: "main", Session: "s1",
		Type: events.TypeToolResult,
		Payload: events.Payload{
			ToolName: tool, ToolResult: result, ToolError: isErr,
		},
	}
}

// The canonical doom-loop scenario: three identical failing exec calls, then
// a completion claim. Exactly one doom-loop finding (high, loopSize 3)
// and one hallucination finding for the closing message.
func TestDoomLoopScenario(t *testing.T) {
	var evs []events.Event
	ts := int64(1_000_000)
	seq := uint64(1)
	evs = append(evs, msgIn(ts, seq, "check disk"))
	for i := 0; i < 3; i++ {
		ts += 1000
		seq++
		evs = append(evs, toolCall(ts, seq, "exec", "ssh backup df -h"))
		ts += 500
		seq++
		evs = append(evs, toolResult(ts, seq, "exec", "Connection refused", true))
	}
	ts += 1000
	seq++
	evs = append(evs, msgOut(ts, seq, "Disk looks fine."))

	c := buildChain(t, evs)
	findings := Run(All(), c, testSet(t), time.Now())

	var doom, hall []*Finding
	for _, f := range findings {
		switch f.Signal.Kind {
		case KindDoomLoop:
			doom = append(doom, f)
		case KindHallucination:
			hall = append(hall, f)
		}
	}
	require.Len(t, doom, 1)
	assert.Equal(t, SeverityHigh, doom[0].Signal.Severity)
	assert.Equal(t, 3, doom[0].Signal.Evidence["loopSize"])
	require.Len(t, hall, 1)
	assert.Equal(t, "exec", hall[0].Signal.Evidence["failedTool"])
}

func TestDoomLoop_FiveIsCritical(t *testing.T) {
	var evs []events.Event
	ts := int64(1_000_000)
	seq := uint64(1)
	evs = append(evs, msgIn(ts, seq, "try again"))
	for i := 0; i < 5; i++ {
		ts += 1000
		seq++
		evs = append(evs, toolCall(ts, seq, "exec", "curl http://svc/health"))
		ts += 500
		seq++
		evs = append(evs, toolResult(ts, seq, "exec", "timeout", true))
	}
	c := buildChain(t, evs)
	sigs := (DoomLoopDetector{}).Detect(c, testSet(t))
	require.Len(t, sigs, 1)
	assert.Equal(t, SeverityCritical, sigs[0].Severity)
}

func TestDoomLoop_SuccessBreaksLoop(t *testing.T) {
	var evs []events.Event
	ts := int64(1_000_000)
	seq := uint64(1)
	evs = append(evs, msgIn(ts, seq, "go"))
	for i := 0; i < 4; i++ {
		ts += 1000
		seq++
		evs = append(evs, toolCall(ts, seq, "exec", "make build"))
		ts += 500
		seq++
		// The third attempt succeeds.
		evs = append(evs, toolResult(ts, seq, "exec", "out", i != 2))
	}
	c := buildChain(t, evs)
	sigs := (DoomLoopDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs)
}

func TestDoomLoop_DissimilarParamsSplitRuns(t *testing.T) {
	var evs []events.Event
	ts := int64(1_000_000)
	seq := uint64(1)
	evs = append(evs, msgIn(ts, seq, "go"))
	cmds := []string{"ssh a df", "rsync --dry-run /x /y", "tar czf out.tgz dir"}
	for _, cmd := range cmds {
		ts += 1000
		seq++
		evs = append(evs, toolCall(ts, seq, "exec", cmd))
		ts += 500
		seq++
		evs = append(evs, toolResult(ts, seq, "exec", "fail", true))
	}
	c := buildChain(t, evs)
	sigs := (DoomLoopDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs, "strategy changes are not a doom loop")
}

func TestHallucination_RecoveredToolSuppresses(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "deploy"),
		toolCall(ts+1000, 2, "exec", "deploy.sh"),
		toolResult(ts+1500, 3, "exec", "boom", true),
		toolCall(ts+2000, 4, "exec", "deploy.sh --retry"),
		toolResult(ts+2500, 5, "exec", "ok", false),
		msgOut(ts+3000, 6, "Done."),
	}
	c := buildChain(t, evs)
	sigs := (HallucinationDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs)
}

// The canonical correction scenario: a bare "nein" after an agent question is
// an answer, not a correction.
func TestCorrection_QuestionAbsorbsShortNegative(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "help"),
		msgOut(ts+1000, 2, "Soll ich die Datei überschreiben?"),
		msgIn(ts+2000, 3, "nein"),
	}
	c := buildChain(t, evs)
	findings := Run(All(), c, testSet(t), time.Now())
	assert.Empty(t, findings)
}

func TestCorrection_ShortNegativeAfterAssertion(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "fix the config"),
		msgOut(ts+1000, 2, "I have updated the production config."),
		msgIn(ts+2000, 3, "no"),
	}
	c := buildChain(t, evs)
	sigs := (CorrectionDetector{}).Detect(c, testSet(t))
	require.Len(t, sigs, 1)
	assert.Equal(t, SeverityMedium, sigs[0].Severity)
}

func TestCorrection_ExplicitIndicator(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgOut(ts, 1, "The cron job runs hourly."),
		msgIn(ts+1000, 2, "that's wrong, it runs daily"),
	}
	c := buildChain(t, evs)
	sigs := (CorrectionDetector{}).Detect(c, testSet(t))
	assert.Len(t, sigs, 1)
}

func TestDissatisfaction_SatisfactionOverrideCancels(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgOut(ts, 1, "Applied the patch."),
		msgIn(ts+1000, 2, "this was frustrating but thanks, it works"),
	}
	c := buildChain(t, evs)
	sigs := (DissatisfactionDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs)
}

func TestDissatisfaction_ResolutionDowngrades(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "this is not working at all"),
		msgOut(ts+1000, 2, "Let me retry with sudo."),
		msgIn(ts+2000, 3, "ok it works now"),
	}
	c := buildChain(t, evs)
	sigs := (DissatisfactionDetector{}).Detect(c, testSet(t))
	require.Len(t, sigs, 1)
	assert.Equal(t, SeverityLow, sigs[0].Severity)
}

func TestUnverifiedClaim(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "status?"),
		msgOut(ts+1000, 2, "the service is running and CPU is at 85%"),
	}
	c := buildChain(t, evs)
	sigs := (UnverifiedClaimDetector{}).Detect(c, testSet(t))
	require.Len(t, sigs, 1)
	assert.Equal(t, KindUnverifiedClaim, sigs[0].Kind)
}

func TestUnverifiedClaim_ToolResultSubstantiates(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "status?"),
		toolCall(ts+500, 2, "exec", "systemctl status svc"),
		toolResult(ts+900, 3, "exec", "active (running)", false),
		msgOut(ts+1000, 4, "the service is running"),
	}
	c := buildChain(t, evs)
	sigs := (UnverifiedClaimDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs)
}

func TestUnverifiedClaim_OpinionSuppresses(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgIn(ts, 1, "status?"),
		msgOut(ts+1000, 2, "I think the service is running"),
	}
	c := buildChain(t, evs)
	sigs := (UnverifiedClaimDetector{}).Detect(c, testSet(t))
	assert.Empty(t, sigs)
}

func TestRun_FindingIDsDeterministic(t *testing.T) {
	ts := int64(1_000_000)
	evs := []events.Event{
		msgOut(ts, 1, "The cron job runs hourly."),
		msgIn(ts+1000, 2, "that's wrong"),
	}
	c := buildChain(t, evs)
	a := Run(All(), c, testSet(t), time.UnixMilli(1))
	b := Run(All(), c, testSet(t), time.UnixMilli(2))
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}

func TestParamSimilarity(t *testing.T) {
	a := map[string]any{"command": "ssh backup df -h"}
	b := map[string]any{"command": "ssh backup df -h"}
	assert.Equal(t, 1.0, paramSimilarity(a, b))

	c := map[string]any{"command": "ssh backup df -h -x"}
	assert.GreaterOrEqual(t, paramSimilarity(a, c), 0.8)

	d := map[string]any{"command": "tar czf out.tgz dir"}
	assert.Less(t, paramSimilarity(a, d), 0.8)

	e := map[string]any{"path": "/etc/hosts", "mode": "read"}
	f := map[string]any{"path": "/etc/hosts", "mode": "read"}
	assert.Equal(t, 1.0, paramSimilarity(e, f))
}

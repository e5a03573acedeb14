package detect

import (
	"fmt"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/patterns"
)

// similarityThreshold is the minimum param similarity for two tool calls
// to count as "the same attempt".
const similarityThreshold = 0.8

// DoomLoopDetector finds runs of >=3 near-identical tool calls where every
// result is an error. One successful result between failures breaks the
// loop.
type DoomLoopDetector struct{}

type callRecord struct {
	callIdx   int
	resultIdx int
	tool      string
	params    map[string]any
	isError   bool
	errText   string
}

func (DoomLoopDetector) Detect(c *chain.Chain, _ *patterns.Set) []Signal {
	records := pairCalls(c)

	var out []Signal
	run := []callRecord{}
	flush := func() {
		if len(run) >= 3 {
			out = append(out, doomSignal(run))
		}
		run = nil
	}

	for _, r := range records {
		if !r.isError {
			flush()
			continue
		}
		if len(run) > 0 {
			prev := run[len(run)-1]
			if prev.tool != r.tool || paramSimilarity(prev.params, r.params) < similarityThreshold {
				flush()
			}
		}
		run = append(run, r)
	}
	flush()
	return out
}

func doomSignal(run []callRecord) Signal {
	sev := SeverityHigh
	if len(run) >= 5 {
		sev = SeverityCritical
	}
	first := run[0]
	last := run[len(run)-1]
	lastIdx := last.resultIdx
	if lastIdx < 0 {
		lastIdx = last.callIdx
	}
	return Signal{
		Kind:       KindDoomLoop,
		Severity:   sev,
		EventRange: [2]int{first.callIdx, lastIdx},
		Summary:    fmt.Sprintf("%d consecutive failing %q calls with no strategy change", len(run), first.tool),
		Evidence: map[string]any{
			"loopSize":  len(run),
			"tool":      first.tool,
			"lastError": excerpt(last.errText),
		},
	}
}

// pairCalls matches each tool.call with the next tool.result for the same
// tool. Calls without a result are recorded with resultIdx -1 and do not
// count as errors.
func pairCalls(c *chain.Chain) []callRecord {
	var out []callRecord
	for i, ev := range c.Events {
		if ev.Type != events.TypeToolCall {
			continue
		}
		rec := callRecord{
			callIdx:   i,
			resultIdx: -1,
			tool:      ev.Payload.ToolName,
			params:    ev.Payload.ToolParams,
		}
		for j := i + 1; j < len(c.Events); j++ {
			next := c.Events[j]
			if next.Type == events.TypeToolCall {
				break
			}
			if next.Type == events.TypeToolResult &&
				(next.Payload.ToolName == "" || next.Payload.ToolName == rec.tool) {
				rec.resultIdx = j
				rec.isError = next.Payload.ToolError
				rec.errText = next.Payload.ToolResult
				break
			}
		}
		out = append(out, rec)
	}
	return out
}

// HallucinationDetector finds a completion-claim msg.out following a tool
// error with no successful recovery of the same tool in between.
type HallucinationDetector struct{}

func (HallucinationDetector) Detect(c *chain.Chain, ps *patterns.Set) []Signal {
	var out []Signal
	for i, ev := range c.Events {
		if ev.Type != events.TypeMsgOut || !ps.IsCompletionClaim(ev.Payload.Text) {
			continue
		}
		failedTool, failIdx := unrecoveredFailure(c, i)
		if failIdx < 0 {
			continue
		}
		out = append(out, Signal{
			Kind:       KindHallucination,
			Severity:   SeverityHigh,
			EventRange: [2]int{failIdx, i},
			Summary:    fmt.Sprintf("completion claim after unrecovered %q failure", failedTool),
			Evidence: map[string]any{
				"claim":      excerpt(ev.Payload.Text),
				"failedTool": failedTool,
			},
		})
	}
	return out
}

// unrecoveredFailure returns the latest tool error before index end whose
// tool never succeeded again before end.
func unrecoveredFailure(c *chain.Chain, end int) (string, int) {
	recovered := map[string]bool{}
	for i := end - 1; i >= 0; i-- {
		ev := c.Events[i]
		if ev.Type != events.TypeToolResult {
			continue
		}
		tool := ev.Payload.ToolName
		if !ev.Payload.ToolError {
			recovered[tool] = true
			continue
		}
		if !recovered[tool] {
			return tool, i
		}
	}
	return "", -1
}

// CorrectionDetector finds a user correction immediately after an agent
// assertion. A bare short negative is only a correction when the agent's
// message was not a question.
type CorrectionDetector struct{}

func (CorrectionDetector) Detect(c *chain.Chain, ps *patterns.Set) []Signal {
	var out []Signal
	for i, ev := range c.Events {
		if ev.Type != events.TypeMsgIn {
			continue
		}
		prevIdx := previousMessage(c, i)
		if prevIdx < 0 || c.Events[prevIdx].Type != events.TypeMsgOut {
			continue
		}
		text := ev.Payload.Text
		agentText := c.Events[prevIdx].Payload.Text

		isCorrection := ps.IsCorrection(text)
		if !isCorrection && ps.IsShortNegative(text) && !ps.IsQuestion(agentText) {
			isCorrection = true
		}
		if !isCorrection {
			continue
		}
		out = append(out, Signal{
			Kind:       KindCorrection,
			Severity:   SeverityMedium,
			EventRange: [2]int{prevIdx, i},
			Summary:    "user corrected the agent's previous assertion",
			Evidence: map[string]any{
				"assertion":  excerpt(agentText),
				"correction": excerpt(text),
			},
		})
	}
	return out
}

// previousMessage returns the index of the closest earlier message event.
func previousMessage(c *chain.Chain, from int) int {
	for i := from - 1; i >= 0; i-- {
		if c.Events[i].Type.IsMessage() {
			return i
		}
	}
	return -1
}

// resolutionWindow is the number of trailing events inspected for
// resolution indicators after a dissatisfaction hit.
const resolutionWindow = 4

// DissatisfactionDetector finds user dissatisfaction. A satisfaction
// override in the same message cancels; a resolution indicator shortly
// after downgrades the severity.
type DissatisfactionDetector struct{}

func (DissatisfactionDetector) Detect(c *chain.Chain, ps *patterns.Set) []Signal {
	var out []Signal
	for i, ev := range c.Events {
		if ev.Type != events.TypeMsgIn {
			continue
		}
		text := ev.Payload.Text
		if !ps.IsDissatisfaction(text) || ps.HasSatisfaction(text) {
			continue
		}

		sev := SeverityMedium
		last := i
		for j := i + 1; j < len(c.Events) && j <= i+resolutionWindow; j++ {
			if c.Events[j].Type.IsMessage() && ps.HasResolution(c.Events[j].Payload.Text) {
				sev = SeverityLow
				last = j
				break
			}
		}

		out = append(out, Signal{
			Kind:       KindDissatisfaction,
			Severity:   sev,
			EventRange: [2]int{i, last},
			Summary:    "user expressed dissatisfaction",
			Evidence: map[string]any{
				"message":  excerpt(text),
				"resolved": sev == SeverityLow,
			},
		})
	}
	return out
}

// UnverifiedClaimDetector finds system-state claims in agent output that
// no successful tool result earlier in the chain substantiates. Opinion
// markers suppress the signal.
type UnverifiedClaimDetector struct{}

func (UnverifiedClaimDetector) Detect(c *chain.Chain, ps *patterns.Set) []Signal {
	var out []Signal
	for i, ev := range c.Events {
		if ev.Type != events.TypeMsgOut {
			continue
		}
		text := ev.Payload.Text
		if !ps.IsSystemStateClaim(text) || ps.IsOpinion(text) {
			continue
		}
		if successfulResultBefore(c, i) {
			continue
		}
		out = append(out, Signal{
			Kind:       KindUnverifiedClaim,
			Severity:   SeverityMedium,
			EventRange: [2]int{i, i},
			Summary:    "system-state claim without a substantiating tool result",
			Evidence: map[string]any{
				"claim": excerpt(text),
			},
		})
	}
	return out
}

func successfulResultBefore(c *chain.Chain, end int) bool {
	for i := end - 1; i >= 0; i-- {
		ev := c.Events[i]
		if ev.Type == events.TypeToolResult && !ev.Payload.ToolError {
			return true
		}
	}
	return false
}

// Package governance composes the policy evaluator, trust manager,
// cross-agent graph, redaction layers and audit trail into the hook
// handlers the agent runtime calls.
package governance

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/audit"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/claims"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/crossagent"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/redact"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/trust"
)

// Options tune the engine.
type Options struct {
	Enabled   bool
	FailMode  policy.FailMode
	MaxEvalUs int64 // evaluation latency budget, logged when exceeded
}

// Engine is the synchronous decision point for the agent runtime.
type Engine struct {
	opts      Options
	evaluator *policy.Evaluator
	trust     *trust.Manager
	cross     *crossagent.Manager
	redactor  *redact.Engine
	trail     *audit.Trail
	validator *claims.Validator

	now      func() time.Time
	logger   *slog.Logger
	evalTime metric.Float64Histogram
	overruns metric.Int64Counter
}

// NewEngine wires the governance components. redactor, trail and
// validator may be nil when their subsystems are disabled.
func NewEngine(opts Options, evaluator *policy.Evaluator, tm *trust.Manager, cross *crossagent.Manager, redactor *redact.Engine, trail *audit.Trail, validator *claims.Validator) *Engine {
	if opts.MaxEvalUs <= 0 {
		opts.MaxEvalUs = 5000
	}
	meter := otel.Meter("governance")
	evalTime, _ := meter.Float64Histogram("governance.eval.duration_us")
	overruns, _ := meter.Int64Counter("governance.eval.budget_overruns")
	return &Engine{
		opts:      opts,
		evaluator: evaluator,
		trust:     tm,
		cross:     cross,
		redactor:  redactor,
		trail:     trail,
		validator: validator,
		now:       time.Now,
		logger:    slog.Default().With("component", "governance"),
		evalTime:  evalTime,
		overruns:  overruns,
	}
}

// Evaluate enriches the context, applies the effective policy set and
// returns the aggregated verdict. Every decision is audited, and the
// outcome feeds back into the agent's trust record.
func (e *Engine) Evaluate(ctx context.Context, ec *policy.EvalContext) *policy.Verdict {
	if !e.opts.Enabled {
		return &policy.Verdict{Action: policy.ActionAllow, Trust: ec.Trust}
	}
	started := e.now()

	rec := e.trust.ApplyDecay(ec.AgentID)
	ec.Trust = policy.TrustInfo{Score: rec.Score, Tier: rec.Tier}
	if ec.Time.IsZero() {
		ec.Time = started
	}
	ec.Timestamp = started.UnixMilli()

	e.cross.EnrichContext(ec)
	effective := e.cross.ResolveEffectivePolicies(ec.AgentID, e.evaluator.Policies())
	if ec.CrossAgent != nil {
		ec.CrossAgent.InheritedPolicyIDs = effective
	}

	verdict := e.evaluator.EvaluateSubset(ctx, ec, effective)

	elapsed := e.now().Sub(started)
	elapsedUs := float64(elapsed.Microseconds())
	e.evalTime.Record(ctx, elapsedUs)
	if elapsed.Microseconds() > e.opts.MaxEvalUs {
		e.overruns.Add(ctx, 1)
		e.logger.Warn("evaluation exceeded latency budget",
			"hook", ec.Hook, "agent", ec.AgentID,
			"elapsedUs", elapsed.Microseconds(), "budgetUs", e.opts.MaxEvalUs)
	}

	if e.trail != nil {
		e.trail.Record(ec, verdict, elapsed)
	}
	e.learn(ec, verdict)
	return verdict
}

// learn feeds the verdict back into trust: denials are violations,
// allowed tool calls are successes.
func (e *Engine) learn(ec *policy.EvalContext, v *policy.Verdict) {
	switch v.Action {
	case policy.ActionDeny:
		e.trust.RecordViolation(ec.AgentID, ec.ToolName)
	case policy.ActionAllow, policy.ActionAudit:
		if ec.Hook == policy.HookBeforeToolCall && ec.ToolName != "" {
			e.trust.RecordSuccess(ec.AgentID, ec.ToolName)
		}
	}
	e.evaluator.Frequency().Record(ec.AgentID, ec.Hook)
}

// ToolCallDecision is the result of the before_tool_call hook.
type ToolCallDecision struct {
	Verdict *policy.Verdict
	Params  map[string]any // placeholder-resolved params, nil on block
	Block   bool
	Reason  string
}

// BeforeToolCall resolves redaction placeholders in the call's params
// and evaluates policy. An unresolvable placeholder blocks the call
// regardless of the policy verdict.
func (e *Engine) BeforeToolCall(ctx context.Context, agent, session, tool string, params map[string]any) ToolCallDecision {
	ec := &policy.EvalContext{
		Hook:       policy.HookBeforeToolCall,
		AgentID:    agent,
		SessionKey: session,
		ToolName:   tool,
		ToolParams: params,
	}

	resolved := params
	if e.redactor != nil && params != nil {
		var unresolved []string
		resolved, unresolved = e.redactor.ResolveToolParams(params)
		if len(unresolved) > 0 {
			v := &policy.Verdict{Action: policy.ActionDeny, Reason: "Unresolvable"}
			if e.trail != nil {
				e.trail.Record(ec, v, 0)
			}
			return ToolCallDecision{Verdict: v, Block: true, Reason: "Unresolvable"}
		}
		ec.ToolParams = resolved
	}

	verdict := e.Evaluate(ctx, ec)
	if verdict.Action == policy.ActionDeny {
		return ToolCallDecision{Verdict: verdict, Block: true, Reason: verdict.Reason}
	}
	return ToolCallDecision{Verdict: verdict, Params: resolved}
}

// AfterToolResult scans the result and replaces live secrets with vault
// placeholders before the agent sees it.
func (e *Engine) AfterToolResult(ctx context.Context, agent, session, tool string, result any) (any, *policy.Verdict) {
	redacted := result
	if e.redactor != nil {
		redacted = e.redactor.RedactToolResult(result)
	}
	verdict := e.Evaluate(ctx, &policy.EvalContext{
		Hook:       policy.HookAfterToolResult,
		AgentID:    agent,
		SessionKey: session,
		ToolName:   tool,
	})
	return redacted, verdict
}

// MessageDecision is the result of the message_sending hook.
type MessageDecision struct {
	Verdict *policy.Verdict
	Text    string // outbound-redacted text
	Block   bool
	Flagged bool
	Reason  string
	Issues  []claims.Issue
}

// MessageSending applies outbound redaction, policy evaluation, and the
// claim validator for external destinations.
func (e *Engine) MessageSending(ctx context.Context, agent, session, channel, text string) MessageDecision {
	out := text
	if e.redactor != nil {
		out = e.redactor.RedactOutbound(text, channel, "", agent)
	}

	verdict := e.Evaluate(ctx, &policy.EvalContext{
		Hook:       policy.HookMessageSending,
		AgentID:    agent,
		SessionKey: session,
		Message:    out,
	})
	if verdict.Action == policy.ActionDeny {
		return MessageDecision{Verdict: verdict, Block: true, Reason: verdict.Reason}
	}

	d := MessageDecision{Verdict: verdict, Text: out}
	if e.validator != nil {
		cv := e.validator.Validate(ctx, out, e.validator.IsExternal(channel, ""))
		d.Issues = cv.Issues
		switch cv.Kind {
		case claims.VerdictBlock:
			d.Block = true
			d.Reason = "claim validation failed"
		case claims.VerdictFlag:
			d.Flagged = true
		}
	}
	return d
}

// Status summarizes the engine for the CLI.
type Status struct {
	Enabled  bool                    `json:"enabled"`
	FailMode policy.FailMode         `json:"failMode"`
	Policies int                     `json:"policies"`
	Agents   map[string]trust.Record `json:"agents"`
}

// Status reports loaded policies and current trust records.
func (e *Engine) Status() Status {
	return Status{
		Enabled:  e.opts.Enabled,
		FailMode: e.opts.FailMode,
		Policies: len(e.evaluator.Policies()),
		Agents:   e.trust.Snapshot(),
	}
}

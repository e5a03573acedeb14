package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// FailMode decides the verdict when evaluation itself faults.
type FailMode string

const (
	FailOpen   FailMode = "open"   // default allow on internal error
	FailClosed FailMode = "closed" // default deny on internal error
)

// Evaluator matches evaluation contexts against an indexed policy set.
// Policies are evaluated in load order; rules in declaration order with
// per-policy short-circuit on first match.
type Evaluator struct {
	mu       sync.RWMutex
	policies []Policy
	byID     map[string]int

	env      *cel.Env
	programs map[string]cel.Program // CEL source → compiled program

	freq     *FrequencyTracker
	failMode FailMode
	logger   *slog.Logger
}

// NewEvaluator builds an evaluator with the given fail mode and frequency
// buffer size.
func NewEvaluator(failMode FailMode, freqSize int) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("hook", types.StringType),
			decls.NewVariable("agent", types.StringType),
			decls.NewVariable("tool", types.StringType),
			decls.NewVariable("message", types.StringType),
			decls.NewVariable("params", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("trust", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL env: %w", err)
	}
	if failMode != FailClosed {
		failMode = FailOpen
	}
	return &Evaluator{
		byID:     make(map[string]int),
		env:      env,
		programs: make(map[string]cel.Program),
		freq:     NewFrequencyTracker(freqSize),
		failMode: failMode,
		logger:   slog.Default().With("component", "policy"),
	}, nil
}

// Load replaces the active policy set. CEL expressions are compiled
// eagerly so malformed policies fail at load, not at evaluation.
func (e *Evaluator) Load(policies []Policy) error {
	programs := make(map[string]cel.Program)
	for _, p := range policies {
		for _, r := range p.Rules {
			for _, c := range r.Conditions {
				if c.Type != "expr" || c.Expr == "" {
					continue
				}
				if _, done := programs[c.Expr]; done {
					continue
				}
				ast, issues := e.env.Compile(c.Expr)
				if issues != nil && issues.Err() != nil {
					return fmt.Errorf("policy %s rule %s: compile %q: %w", p.ID, r.ID, c.Expr, issues.Err())
				}
				prg, err := e.env.Program(ast)
				if err != nil {
					return fmt.Errorf("policy %s rule %s: program %q: %w", p.ID, r.ID, c.Expr, err)
				}
				programs[c.Expr] = prg
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = policies
	e.byID = make(map[string]int, len(policies))
	for i, p := range policies {
		e.byID[p.ID] = i
	}
	e.programs = programs
	return nil
}

// Policies returns a snapshot of the loaded set.
func (e *Evaluator) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Get returns a policy by ID.
func (e *Evaluator) Get(id string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i, ok := e.byID[id]
	if !ok {
		return Policy{}, false
	}
	return e.policies[i], true
}

// Frequency exposes the tracker so hooks can record occurrences.
func (e *Evaluator) Frequency() *FrequencyTracker { return e.freq }

// Evaluate aggregates all scope-matching policies into one verdict. A
// faulting policy is skipped; under FailClosed any fault forces deny.
func (e *Evaluator) Evaluate(ctx context.Context, ec *EvalContext) *Verdict {
	return e.EvaluateSubset(ctx, ec, nil)
}

// EvaluateSubset is Evaluate restricted to the given policy IDs (nil
// means all loaded policies). The cross-agent manager uses the subset
// form to apply inherited policies.
func (e *Evaluator) EvaluateSubset(ctx context.Context, ec *EvalContext, ids []string) *Verdict {
	e.mu.RLock()
	policies := e.policies
	programs := e.programs
	e.mu.RUnlock()

	verdict := &Verdict{
		Action:          ActionAllow,
		MatchedPolicies: []Matched{},
		Trust:           ec.Trust,
		EnrichedCtx:     ec,
	}

	var idFilter map[string]bool
	if ids != nil {
		idFilter = make(map[string]bool, len(ids))
		for _, id := range ids {
			idFilter[id] = true
		}
	}

	faulted := false
	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			faulted = true
			break
		}
		if idFilter != nil && !idFilter[p.ID] {
			continue
		}
		if !scopeMatches(p.Scope, ec) {
			continue
		}

		m, err := e.evalPolicy(p, ec, programs)
		if err != nil {
			e.logger.Warn("policy evaluation fault, skipping policy", "policy", p.ID, "error", err)
			faulted = true
			continue
		}
		if m == nil {
			continue
		}

		verdict.MatchedPolicies = append(verdict.MatchedPolicies, *m)
		if m.Effect.Action.Stronger(verdict.Action) {
			verdict.Action = m.Effect.Action
		}
		if verdict.Reason == "" && (m.Effect.Action == ActionDeny || m.Effect.Action == ActionWarn) {
			verdict.Reason = m.Effect.Reason
		}
	}

	if faulted && e.failMode == FailClosed {
		verdict.Action = ActionDeny
		if verdict.Reason == "" {
			verdict.Reason = "evaluation fault under fail-closed mode"
		}
	}
	return verdict
}

// evalPolicy walks rules in order and returns the first match, or nil.
func (e *Evaluator) evalPolicy(p Policy, ec *EvalContext, programs map[string]cel.Program) (*Matched, error) {
	for _, r := range p.Rules {
		hit, err := e.evalRule(r, ec, programs)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if hit {
			controls := p.Controls
			if controls == nil {
				controls = []string{}
			}
			return &Matched{
				PolicyID: p.ID,
				RuleID:   r.ID,
				Effect:   r.Effect,
				Controls: controls,
			}, nil
		}
	}
	return nil, nil
}

func (e *Evaluator) evalRule(r Rule, ec *EvalContext, programs map[string]cel.Program) (bool, error) {
	for _, c := range r.Conditions {
		ok, err := e.evalCondition(c, ec, programs)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e *Evaluator) evalCondition(c Condition, ec *EvalContext, programs map[string]cel.Program) (bool, error) {
	switch c.Type {
	case "tool":
		return evalToolCondition(c, ec)
	case "trust":
		return evalTrustCondition(c, ec), nil
	case "time":
		return evalTimeCondition(c, ec)
	case "frequency":
		window := time.Duration(c.WindowSeconds) * time.Second
		count := e.freq.CountSince(ec.AgentID, ec.Hook, window)
		return count > c.MaxCount, nil
	case "context":
		return evalContextCondition(c, ec)
	case "expr":
		return e.evalExprCondition(c, ec, programs)
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

func evalToolCondition(c Condition, ec *EvalContext) (bool, error) {
	if c.Tool != "" && !globMatch(c.Tool, ec.ToolName) {
		return false, nil
	}
	for k, pattern := range c.ParamMatch {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("paramMatch %q: %w", pattern, err)
		}
		v, ok := ec.ToolParams[k]
		if !ok {
			return false, nil
		}
		if !re.MatchString(fmt.Sprintf("%v", v)) {
			return false, nil
		}
	}
	return true, nil
}

func evalTrustCondition(c Condition, ec *EvalContext) bool {
	if c.MinScore != nil && ec.Trust.Score < *c.MinScore {
		return false
	}
	if c.MaxScore != nil && ec.Trust.Score >= *c.MaxScore {
		return false
	}
	if len(c.Tiers) > 0 {
		found := false
		for _, tier := range c.Tiers {
			if strings.EqualFold(tier, ec.Trust.Tier) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// evalTimeCondition checks named windows like "23:00-08:00". Windows may
// wrap midnight.
func evalTimeCondition(c Condition, ec *EvalContext) (bool, error) {
	window := c.Window
	if i := strings.IndexByte(window, ' '); i >= 0 {
		// Allow named prefixes like "night 23:00-08:00".
		window = window[i+1:]
	}
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed time window %q", c.Window)
	}
	loc := time.UTC
	if c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return false, fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return false, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return false, err
	}
	now := ec.Time.In(loc)
	minutes := now.Hour()*60 + now.Minute()
	if start <= end {
		return minutes >= start && minutes < end, nil
	}
	// Wraps midnight.
	return minutes >= start || minutes < end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func evalContextCondition(c Condition, ec *EvalContext) (bool, error) {
	var haystack string
	switch c.Field {
	case "toolParams":
		haystack = fmt.Sprintf("%v", ec.ToolParams)
	case "crossAgent":
		if ec.CrossAgent != nil {
			haystack = ec.CrossAgent.ParentAgentID + " " + ec.CrossAgent.ParentSessionKey
		}
	default:
		haystack = ec.Message
	}
	if c.Contains != "" {
		return strings.Contains(haystack, c.Contains), nil
	}
	if c.Regex != "" {
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return false, fmt.Errorf("context regex %q: %w", c.Regex, err)
		}
		return re.MatchString(haystack), nil
	}
	return false, fmt.Errorf("context condition without contains or regex")
}

func (e *Evaluator) evalExprCondition(c Condition, ec *EvalContext, programs map[string]cel.Program) (bool, error) {
	prg, ok := programs[c.Expr]
	if !ok {
		return false, fmt.Errorf("uncompiled expression %q", c.Expr)
	}
	params := ec.ToolParams
	if params == nil {
		params = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"hook":    ec.Hook,
		"agent":   ec.AgentID,
		"tool":    ec.ToolName,
		"message": ec.Message,
		"params":  params,
		"trust": map[string]any{
			"score": ec.Trust.Score,
			"tier":  ec.Trust.Tier,
		},
	})
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", c.Expr, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// globMatch supports exact names and shell globs ("git_*").
func globMatch(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

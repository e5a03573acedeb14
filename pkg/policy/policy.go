// Package policy defines the governance policy model and its evaluator:
// scoped policies with ordered rules, tagged conditions, verdict
// aggregation under strict action precedence, and the frequency buffers
// backing rate conditions.
package policy

import (
	"time"
)

// Action is a rule effect outcome.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAudit Action = "audit"
	ActionWarn  Action = "warn"
)

// precedence orders actions for verdict aggregation:
// deny > warn > audit > allow.
func (a Action) precedence() int {
	switch a {
	case ActionDeny:
		return 3
	case ActionWarn:
		return 2
	case ActionAudit:
		return 1
	default:
		return 0
	}
}

// Stronger reports whether a takes precedence over b.
func (a Action) Stronger(b Action) bool { return a.precedence() > b.precedence() }

// Effect is a rule's outcome.
type Effect struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Condition is a tagged predicate inside a rule. Exactly one tag is
// meaningful per condition, selected by Type.
type Condition struct {
	Type string `json:"type"` // tool | context | trust | time | frequency | expr

	// tool
	Tool       string            `json:"tool,omitempty"`
	ParamMatch map[string]string `json:"paramMatch,omitempty"` // key → regex

	// trust
	MinScore *float64 `json:"minScore,omitempty"` // score >= N
	MaxScore *float64 `json:"maxScore,omitempty"` // score < N
	Tiers    []string `json:"tiers,omitempty"`

	// time
	Window   string `json:"window,omitempty"` // "23:00-08:00"
	Timezone string `json:"timezone,omitempty"`

	// frequency: at most MaxCount occurrences in the last WindowSeconds
	MaxCount      int `json:"maxCount,omitempty"`
	WindowSeconds int `json:"windowSeconds,omitempty"`

	// context
	Field    string `json:"field,omitempty"` // message | toolParams | crossAgent
	Contains string `json:"contains,omitempty"`
	Regex    string `json:"regex,omitempty"`

	// expr: CEL expression over the evaluation context
	Expr string `json:"expr,omitempty"`
}

// Rule binds conditions to an effect. All conditions must hold.
type Rule struct {
	ID         string      `json:"id"`
	Conditions []Condition `json:"conditions"`
	Effect     Effect      `json:"effect"`
}

// Scope restricts which evaluations a policy applies to. Empty fields
// match everything.
type Scope struct {
	Agents []string `json:"agents,omitempty"`
	Hooks  []string `json:"hooks,omitempty"`
	Tools  []string `json:"tools,omitempty"`
}

// Policy is a named, versioned set of rules plus compliance controls.
type Policy struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Scope    Scope    `json:"scope"`
	Rules    []Rule   `json:"rules"`
	Controls []string `json:"controls,omitempty"`
}

// Matched records one rule hit for the audit trail. Controls are
// inherited from the parent policy, never derived from the hook.
type Matched struct {
	PolicyID string   `json:"policyId"`
	RuleID   string   `json:"ruleId"`
	Effect   Effect   `json:"effect"`
	Controls []string `json:"controls"`
}

// TrustInfo is the trust view carried in an evaluation context.
type TrustInfo struct {
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}

// CrossAgentInfo annotates sub-agent evaluations.
type CrossAgentInfo struct {
	ParentAgentID      string   `json:"parentAgentId"`
	ParentSessionKey   string   `json:"parentSessionKey"`
	InheritedPolicyIDs []string `json:"inheritedPolicyIds,omitempty"`
	TrustCeiling       float64  `json:"trustCeiling"`
}

// EvalContext is the contextual record a hook submits for evaluation.
type EvalContext struct {
	Hook       string          `json:"hook"`
	AgentID    string          `json:"agentId"`
	SessionKey string          `json:"sessionKey"`
	Timestamp  int64           `json:"timestamp"`
	Time       time.Time       `json:"time"`
	Trust      TrustInfo       `json:"trust"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolParams map[string]any  `json:"toolParams,omitempty"`
	Message    string          `json:"message,omitempty"`
	CrossAgent *CrossAgentInfo `json:"crossAgent,omitempty"`
}

// Verdict is the aggregated evaluation result.
type Verdict struct {
	Action          Action       `json:"action"`
	Reason          string       `json:"reason,omitempty"`
	MatchedPolicies []Matched    `json:"matchedPolicies"`
	Trust           TrustInfo    `json:"trust"`
	EnrichedCtx     *EvalContext `json:"enrichedCtx,omitempty"`
}

// Hook names used across the engine.
const (
	HookBeforeToolCall  = "before_tool_call"
	HookAfterToolResult = "after_tool_result"
	HookMessageSending  = "message_sending"
)

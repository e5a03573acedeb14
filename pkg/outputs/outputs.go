// Package outputs turns classified findings into actionable artifacts:
// soul rules, generated governance policies, and cortex regex patterns.
package outputs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/detect"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
)

// Output is one generated artifact. Identical (type, actionText)
// findings merge into a single output.
type Output struct {
	ID               string             `json:"id"`
	Type             detect.ActionType  `json:"type"`
	Content          string             `json:"content"`
	Policy           *policy.Policy     `json:"policy,omitempty"`
	SourceFindings   []string           `json:"sourceFindings"`
	ObservationCount int                `json:"observationCount"`
	Confidence       float64            `json:"confidence"`
}

// Generate groups findings with a non-nil classification by
// (actionType, actionText) and emits one artifact per group.
// manual_review findings produce nothing.
func Generate(findings []*detect.Finding) []Output {
	type group struct {
		actionType detect.ActionType
		actionText string
		findings   []*detect.Finding
		confidence float64
	}
	groups := make(map[string]*group)
	var order []string

	for _, f := range findings {
		c := f.Classification
		if c == nil || c.ActionType == detect.ActionManualReview {
			continue
		}
		key := string(c.ActionType) + "\x00" + c.ActionText
		g, ok := groups[key]
		if !ok {
			g = &group{actionType: c.ActionType, actionText: c.ActionText}
			groups[key] = g
			order = append(order, key)
		}
		g.findings = append(g.findings, f)
		g.confidence += c.Confidence
	}

	var out []Output
	for _, key := range order {
		g := groups[key]
		n := len(g.findings)
		ids := make([]string, 0, n)
		for _, f := range g.findings {
			ids = append(ids, f.ID)
		}
		sort.Strings(ids)

		o := Output{
			ID:               artifactID(g.actionType, g.actionText, ids),
			Type:             g.actionType,
			SourceFindings:   ids,
			ObservationCount: n,
			Confidence:       g.confidence / float64(n),
		}
		switch g.actionType {
		case detect.ActionSoulRule:
			o.Content = fmt.Sprintf("%s (%d× beobachtet in Traces: %s)",
				g.actionText, n, joinIDs(ids))
		case detect.ActionGovernancePolicy:
			p := generatedPolicy(g.actionText, g.findings)
			o.Policy = &p
			o.Content = g.actionText
			o.ID = p.ID
		case detect.ActionCortexPattern:
			// Regex text is emitted verbatim; validation happens at load.
			o.Content = g.actionText
		}
		out = append(out, o)
	}
	return out
}

// generatedPolicy builds an audit-effect policy whose scope hooks come
// from the originating signal kinds.
func generatedPolicy(actionText string, findings []*detect.Finding) policy.Policy {
	hookSet := make(map[string]bool)
	for _, f := range findings {
		for _, h := range hooksForKind(f.Signal.Kind) {
			hookSet[h] = true
		}
	}
	hooks := make([]string, 0, len(hookSet))
	for h := range hookSet {
		hooks = append(hooks, h)
	}
	sort.Strings(hooks)

	id := "trace-gen-" + contentHash(map[string]any{"actionText": actionText, "hooks": hooks})[:12]
	return policy.Policy{
		ID:      id,
		Name:    actionText,
		Version: "1.0.0",
		Scope:   policy.Scope{Hooks: hooks},
		Rules: []policy.Rule{{
			ID:     "observed-pattern",
			Effect: policy.Effect{Action: policy.ActionAudit, Reason: actionText},
		}},
	}
}

// hooksForKind maps a signal kind to the hook where the behavior it
// flags would be intercepted.
func hooksForKind(kind detect.Kind) []string {
	switch kind {
	case detect.KindDoomLoop:
		return []string{policy.HookBeforeToolCall}
	case detect.KindHallucination, detect.KindUnverifiedClaim:
		return []string{policy.HookMessageSending}
	case detect.KindCorrection, detect.KindDissatisfaction:
		return []string{policy.HookMessageSending}
	default:
		return []string{policy.HookBeforeToolCall, policy.HookMessageSending}
	}
}

func artifactID(t detect.ActionType, text string, ids []string) string {
	return "out-" + contentHash(map[string]any{"type": string(t), "text": text, "findings": ids})[:16]
}

// contentHash is the JCS-canonical SHA-256 of a JSON value, so equal
// content always yields equal IDs.
func contentHash(v map[string]any) string {
	raw, err := jcs.Transform(mustJSON(v))
	if err != nil {
		raw = mustJSON(v)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func mustJSON(v map[string]any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func joinIDs(ids []string) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ", "
		}
		s += id
	}
	return s
}

// Package detect implements the per-chain signal detectors. Each detector
// is a pure function of (chain, pattern set): it never consults other
// chains and never mutates its inputs.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/patterns"
)

// Severity grades a signal.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting: critical > high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Kind names a detected anti-pattern.
type Kind string

const (
	KindDoomLoop        Kind = "SIG-DOOM-LOOP"
	KindHallucination   Kind = "SIG-HALLUCINATION"
	KindCorrection      Kind = "SIG-CORRECTION"
	KindDissatisfaction Kind = "SIG-DISSATISFACTION"
	KindUnverifiedClaim Kind = "SIG-UNVERIFIED-CLAIM"
)

// Signal is a detector's assertion about a chain.
type Signal struct {
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	EventRange [2]int         `json:"eventRange"` // [first, last] indices into the chain
	Summary    string         `json:"summary"`
	Evidence   map[string]any `json:"evidence,omitempty"`
}

// ActionType classifies the remediation a finding calls for.
type ActionType string

const (
	ActionSoulRule         ActionType = "soul_rule"
	ActionGovernancePolicy ActionType = "governance_policy"
	ActionCortexPattern    ActionType = "cortex_pattern"
	ActionManualReview     ActionType = "manual_review"
)

// Classification is the optional external interpretation of a finding.
type Classification struct {
	RootCause  string     `json:"rootCause"`
	ActionType ActionType `json:"actionType"`
	ActionText string     `json:"actionText"`
	Confidence float64    `json:"confidence"`
	Model      string     `json:"model"`
}

// Finding binds a signal to its chain.
type Finding struct {
	ID             string          `json:"id"`
	ChainID        string          `json:"chainId"`
	Agent          string          `json:"agent"`
	Session        string          `json:"session"`
	Signal         Signal          `json:"signal"`
	DetectedAt     int64           `json:"detectedAt"`
	OccurredAt     int64           `json:"occurredAt"`
	Classification *Classification `json:"classification,omitempty"`
}

// Detector is the single capability every signal detector implements.
type Detector interface {
	Detect(c *chain.Chain, ps *patterns.Set) []Signal
}

// All returns the full builtin detector set.
func All() []Detector {
	return []Detector{
		&DoomLoopDetector{},
		&HallucinationDetector{},
		&CorrectionDetector{},
		&DissatisfactionDetector{},
		&UnverifiedClaimDetector{},
	}
}

// Run applies every detector to the chain and wraps signals as findings.
func Run(detectors []Detector, c *chain.Chain, ps *patterns.Set, now time.Time) []*Finding {
	var out []*Finding
	for _, d := range detectors {
		for _, sig := range d.Detect(c, ps) {
			occurred := c.StartTS
			if sig.EventRange[0] >= 0 && sig.EventRange[0] < len(c.Events) {
				occurred = c.Events[sig.EventRange[0]].TS
			}
			out = append(out, &Finding{
				ID:         findingID(c.ID, sig),
				ChainID:    c.ID,
				Agent:      c.Agent,
				Session:    c.Session,
				Signal:     sig,
				DetectedAt: now.UnixMilli(),
				OccurredAt: occurred,
			})
		}
	}
	return out
}

// findingID is deterministic per (chain, kind, range) so reruns over the
// same window produce identical findings.
func findingID(chainID string, sig Signal) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", chainID, sig.Kind, sig.EventRange[0], sig.EventRange[1])))
	return "find-" + hex.EncodeToString(sum[:])[:16]
}

// evidenceTokenBudget bounds excerpt length in evidence maps; reviewers
// need the gist, not the transcript.
const evidenceTokenBudget = 60

// excerpt truncates text to the token budget.
func excerpt(text string) string {
	fields := splitTokens(text)
	if len(fields) <= evidenceTokenBudget {
		return text
	}
	out := ""
	for i := 0; i < evidenceTokenBudget; i++ {
		if i > 0 {
			out += " "
		}
		out += fields[i]
	}
	return out + " …"
}

func splitTokens(text string) []string {
	var out []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			if start >= 0 {
				out = append(out, text[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, text[start:])
	}
	return out
}

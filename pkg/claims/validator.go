package claims

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/classify"
)

// VerdictKind is the outcome of a validation.
type VerdictKind string

const (
	VerdictPass  VerdictKind = "pass"
	VerdictFlag  VerdictKind = "flag"
	VerdictBlock VerdictKind = "block"
)

// Issue is one problem the external model found with a claim.
type Issue struct {
	Category    string `json:"category"` // false_numeric, wrong_entity, ...
	Claim       string `json:"claim"`
	Explanation string `json:"explanation"`
	Severity    string `json:"severity"` // low | medium | high | critical
}

// Verdict carries the outcome plus the issues behind it.
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Issues []Issue     `json:"issues,omitempty"`
}

// ValidatorOptions configure the external fact-check.
type ValidatorOptions struct {
	Enabled          bool
	MaxTokens        int
	CacheTTL         time.Duration
	FailMode         string // open | closed
	ExternalChannels []string
	ExternalCommands []string
}

// Validator checks outbound text against a registry of known facts.
type Validator struct {
	caller classify.ChatCaller
	opts   ValidatorOptions

	mu    sync.Mutex
	facts map[string]any
	cache map[string]cacheEntry

	now    func() time.Time
	logger *slog.Logger
}

type cacheEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// NewValidator wires the external caller. facts may be nil.
func NewValidator(caller classify.ChatCaller, facts map[string]any, opts ValidatorOptions) *Validator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if facts == nil {
		facts = map[string]any{}
	}
	return &Validator{
		caller: caller,
		opts:   opts,
		facts:  facts,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
		logger: slog.Default().With("component", "claims"),
	}
}

// IsExternal reports whether a destination channel or command is on the
// configured external list, and thus subject to fact-checking.
func (v *Validator) IsExternal(channel, command string) bool {
	for _, c := range v.opts.ExternalChannels {
		if c == channel {
			return true
		}
	}
	for _, c := range v.opts.ExternalCommands {
		if c == command {
			return true
		}
	}
	return false
}

// SetFacts replaces the fact registry.
func (v *Validator) SetFacts(facts map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.facts = facts
	v.cache = make(map[string]cacheEntry) // facts changed, cached verdicts stale
}

const validatorSystem = `You verify factual claims in a message against known facts. ` +
	`Report only real contradictions. Respond with JSON: {"issues": [{"category": ` +
	`"false_numeric|wrong_entity|nonexistent|false_status|unsupported", "claim": string, ` +
	`"explanation": string, "severity": "low|medium|high|critical"}]}.`

// Validate fact-checks text destined for an external channel. Text with
// no detectable claims passes without an external call. Errors resolve
// per fail mode: open passes, closed blocks.
func (v *Validator) Validate(ctx context.Context, text string, external bool) Verdict {
	if !v.opts.Enabled || v.caller == nil || !external {
		return Verdict{Kind: VerdictPass}
	}
	claims := Detect(text)
	if len(claims) == 0 {
		return Verdict{Kind: VerdictPass}
	}

	key := v.cacheKey(text, external)
	if verdict, ok := v.cached(key); ok {
		return verdict
	}

	verdict, err := v.consult(ctx, text, claims)
	if err != nil {
		v.logger.Warn("claim validation unavailable", "error", err, "failMode", v.opts.FailMode)
		if v.opts.FailMode == "closed" {
			return Verdict{Kind: VerdictBlock}
		}
		return Verdict{Kind: VerdictPass}
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{verdict: verdict, expiresAt: v.now().Add(v.opts.CacheTTL)}
	v.mu.Unlock()
	return verdict
}

func (v *Validator) consult(ctx context.Context, text string, claims []Claim) (Verdict, error) {
	v.mu.Lock()
	factsJSON, err := json.Marshal(v.facts)
	v.mu.Unlock()
	if err != nil {
		return Verdict{}, fmt.Errorf("claims: marshal facts: %w", err)
	}
	claimsJSON, _ := json.Marshal(claims)

	user := fmt.Sprintf("known facts:\n%s\n\ndetected claims:\n%s\n\nfull message:\n%s",
		factsJSON, claimsJSON, text)
	raw, err := v.caller.ChatJSON(ctx, validatorSystem, user, v.opts.MaxTokens)
	if err != nil {
		return Verdict{}, err
	}

	var resp struct {
		Issues []Issue `json:"issues"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Verdict{}, fmt.Errorf("claims: unparseable validator response: %w", err)
	}
	return verdictFor(resp.Issues), nil
}

// verdictFor maps issue severities to an outcome: any critical blocks,
// any high or medium flags, anything else passes.
func verdictFor(issues []Issue) Verdict {
	kind := VerdictPass
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			return Verdict{Kind: VerdictBlock, Issues: issues}
		case "high", "medium":
			kind = VerdictFlag
		}
	}
	return Verdict{Kind: kind, Issues: issues}
}

// cacheKey hashes (text, facts, externalFlag) canonically so the same
// inputs always hit the same entry.
func (v *Validator) cacheKey(text string, external bool) string {
	v.mu.Lock()
	factsJSON, _ := json.Marshal(v.facts)
	v.mu.Unlock()
	canonical, err := jcs.Transform(factsJSON)
	if err != nil {
		canonical = factsJSON
	}
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	if external {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (v *Validator) cached(key string) (Verdict, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.cache[key]
	if !ok || v.now().After(e.expiresAt) {
		delete(v.cache, key)
		return Verdict{}, false
	}
	return e.verdict, true
}

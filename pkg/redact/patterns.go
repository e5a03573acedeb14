// Package redact implements the multi-layer redaction engine: a builtin
// catalog of credential/PII/financial patterns, a bounded-TTL resolver
// vault, and deep scanning of JSON-compatible values. Matched spans are
// replaced by opaque placeholders of the form [REDACTED:<category>:<hash>]
// so the agent never sees live secrets.
package redact

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Category classifies sensitive material.
type Category string

const (
	CategoryCredential Category = "credential"
	CategoryPII        Category = "pii"
	CategoryFinancial  Category = "financial"
	CategoryCustom     Category = "custom"
)

// priority resolves same-length overlapping matches:
// credential > financial > pii > custom.
func (c Category) priority() int {
	switch c {
	case CategoryCredential:
		return 3
	case CategoryFinancial:
		return 2
	case CategoryPII:
		return 1
	default:
		return 0
	}
}

// Pattern is one redaction rule.
type Pattern struct {
	Name     string
	Category Category
	re       *regexp.Regexp
}

// builtinPatterns is the fixed catalog. Order is irrelevant; overlap is
// resolved by span length, then category priority.
func builtinPatterns() []Pattern {
	mk := func(name string, cat Category, src string) Pattern {
		return Pattern{Name: name, Category: cat, re: regexp.MustCompile(src)}
	}
	return []Pattern{
		mk("openai-key", CategoryCredential, `sk-(?:proj-)?[A-Za-z0-9_-]{20,}`),
		mk("anthropic-key", CategoryCredential, `sk-ant-[A-Za-z0-9_-]{20,}`),
		mk("google-api-key", CategoryCredential, `AIza[0-9A-Za-z_-]{35}`),
		mk("github-token", CategoryCredential, `gh[pousr]_[A-Za-z0-9]{36,}`),
		mk("gitlab-token", CategoryCredential, `glpat-[A-Za-z0-9_-]{20,}`),
		mk("aws-access-key", CategoryCredential, `(?:AKIA|ASIA)[0-9A-Z]{16}`),
		mk("private-key-header", CategoryCredential, `-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
		mk("bearer-auth", CategoryCredential, `(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
		mk("basic-auth", CategoryCredential, `(?i)basic\s+[A-Za-z0-9+/]{16,}=*`),
		mk("kv-credential", CategoryCredential, `(?i)(?:password|passwd|secret|token|api[_-]?key)\s*[=:]\s*[^\s"']{8,}`),
		mk("slack-token", CategoryCredential, `xox[baprs]-[A-Za-z0-9-]{10,}`),
		mk("email", CategoryPII, `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		mk("phone", CategoryPII, `\+?[0-9][0-9 ().-]{8,16}[0-9]`),
		mk("us-ssn", CategoryPII, `\b\d{3}-\d{2}-\d{4}\b`),
		mk("credit-card", CategoryFinancial, `\b(?:\d[ -]?){13,16}\b`),
		mk("iban", CategoryFinancial, `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
	}
}

// redosBudget is the compile-and-match budget for user patterns; patterns
// slower than this on adversarial input are rejected.
const redosBudget = 10 * time.Millisecond

// adversarialInput stresses catastrophic backtracking candidates.
var adversarialInput = strings.Repeat("aA0!", 4096) + strings.Repeat("a", 512)

// Catalog holds the active pattern set. Builtins are fixed; user patterns
// append under a write lock.
type Catalog struct {
	mu       sync.RWMutex
	patterns []Pattern
}

// NewCatalog returns a catalog seeded with the builtin patterns.
func NewCatalog() *Catalog {
	return &Catalog{patterns: builtinPatterns()}
}

// Add registers a user pattern after a ReDoS smoke test.
func (c *Catalog) Add(name string, cat Category, src string) error {
	re, err := regexp.Compile(src)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", name, err)
	}

	start := time.Now()
	re.FindAllStringIndex(adversarialInput, -1)
	if elapsed := time.Since(start); elapsed > redosBudget {
		return fmt.Errorf("pattern %q rejected: %v on adversarial input exceeds %v", name, elapsed, redosBudget)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, Pattern{Name: name, Category: cat, re: re})
	return nil
}

// snapshot returns the current pattern slice for lock-free matching.
func (c *Catalog) snapshot() []Pattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.patterns
}

// span is a resolved match within a scanned string.
type span struct {
	start, end int
	category   Category
}

// findSpans locates all matches and resolves overlaps: longest span wins,
// ties go to the higher-priority category.
func findSpans(patterns []Pattern, text string) []span {
	var all []span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			all = append(all, span{start: loc[0], end: loc[1], category: p.Category})
		}
	}
	if len(all) == 0 {
		return nil
	}

	// Longest first, then priority, then position for determinism.
	sortSpans(all)

	var kept []span
	for _, s := range all {
		if overlapsAny(kept, s) {
			continue
		}
		kept = append(kept, s)
	}

	// Re-sort by position for substitution.
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j].start < kept[j-1].start; j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}
	return kept
}

func sortSpans(spans []span) {
	lenOf := func(s span) int { return s.end - s.start }
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0; j-- {
			a, b := spans[j-1], spans[j]
			if lenOf(b) > lenOf(a) ||
				(lenOf(b) == lenOf(a) && b.category.priority() > a.category.priority()) ||
				(lenOf(b) == lenOf(a) && b.category.priority() == a.category.priority() && b.start < a.start) {
				spans[j-1], spans[j] = b, a
			} else {
				break
			}
		}
	}
}

func overlapsAny(kept []span, s span) bool {
	for _, k := range kept {
		if s.start < k.end && k.start < s.end {
			return true
		}
	}
	return false
}

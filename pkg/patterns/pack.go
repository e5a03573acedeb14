// Package patterns maintains the per-language detector pattern packs and
// the merged, compiled view the signal detectors match against.
//
// Packs are immutable after load. Runtime registration replaces a pack by
// language code under a write lock and invalidates the cached merged view.
// CJK packs must not use word-boundary assertions; this is validated at
// load time because Go's \b is byte-oriented and does not delimit han,
// kana or hangul runs.
package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Pack holds the raw regex sources for one language.
type Pack struct {
	Language              string   `json:"language"`
	Corrections           []string `json:"corrections"`
	ShortNegatives        []string `json:"shortNegatives"`
	Questions             []string `json:"questions"`
	Dissatisfaction       []string `json:"dissatisfaction"`
	SatisfactionOverrides []string `json:"satisfactionOverrides"`
	ResolutionIndicators  []string `json:"resolutionIndicators"`
	CompletionClaims      []string `json:"completionClaims"`
	SystemStateClaims     []string `json:"systemStateClaims"`
	OpinionExclusions     []string `json:"opinionExclusions"`
}

// Minimum pattern counts enforced at load.
const (
	minCorrections      = 3
	minCompletionClaims = 3
	minSystemState      = 2
)

var cjkLanguages = map[string]bool{"zh": true, "ja": true, "ko": true}

// Validate checks structural invariants of a pack. Every regex must
// compile; minimum counts must be met; CJK packs must not contain \b.
func (p *Pack) Validate() error {
	tag, err := language.Parse(p.Language)
	if err != nil {
		return fmt.Errorf("pack %q: invalid language code: %w", p.Language, err)
	}
	base, _ := tag.Base()
	code := base.String()

	if len(p.Corrections) < minCorrections {
		return fmt.Errorf("pack %q: %d correction indicators, need >=%d", code, len(p.Corrections), minCorrections)
	}
	if len(p.CompletionClaims) < minCompletionClaims {
		return fmt.Errorf("pack %q: %d completion claims, need >=%d", code, len(p.CompletionClaims), minCompletionClaims)
	}
	if len(p.SystemStateClaims) < minSystemState {
		return fmt.Errorf("pack %q: %d system-state claims, need >=%d", code, len(p.SystemStateClaims), minSystemState)
	}

	for _, group := range p.groups() {
		for _, src := range group {
			if cjkLanguages[code] && strings.Contains(src, `\b`) {
				return fmt.Errorf("pack %q: word-boundary assertion in %q not allowed for CJK", code, src)
			}
			if _, err := regexp.Compile(src); err != nil {
				return fmt.Errorf("pack %q: bad pattern %q: %w", code, src, err)
			}
		}
	}
	return nil
}

func (p *Pack) groups() [][]string {
	return [][]string{
		p.Corrections, p.ShortNegatives, p.Questions,
		p.Dissatisfaction, p.SatisfactionOverrides, p.ResolutionIndicators,
		p.CompletionClaims, p.SystemStateClaims, p.OpinionExclusions,
	}
}

// NormalizeCode canonicalizes a language code via BCP 47 base tags, so
// "EN-us" registers as "en".
func NormalizeCode(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", err
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// Package claims extracts factual statements from outbound text and
// optionally verifies them against a fact registry via an external
// model.
package claims

import (
	"regexp"
	"strings"
)

// Category of a detected claim.
type Category string

const (
	CategorySystemState       Category = "system_state"
	CategoryEntityName        Category = "entity_name"
	CategoryExistence         Category = "existence"
	CategoryOperationalStatus Category = "operational_status"
	CategorySelfReferential   Category = "self_referential"
)

// Claim is one candidate factual statement.
type Claim struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

var claimPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{CategorySystemState, regexp.MustCompile(`(?i)\b(?:is|are|was|were)\s+(?:now\s+)?(?:running|online|offline|deployed|configured|enabled|disabled|up|down|healthy|broken|fixed)\b`)},
	{CategoryOperationalStatus, regexp.MustCompile(`(?i)\b(?:processed|handled|served|stored|indexed|migrated|sent|received)\s+[\d.,]+[kKmM]?\s*\w*`)},
	{CategoryExistence, regexp.MustCompile(`(?i)\b(?:there\s+(?:is|are)|we\s+have|exists?|no\s+longer\s+exists?)\b`)},
	{CategorySelfReferential, regexp.MustCompile(`(?i)\bI\s+(?:have|did|completed|finished|fixed|deployed|verified|checked|created|deleted)\b`)},
	{CategoryEntityName, regexp.MustCompile(`\b(?:the\s+)?[A-Z][\w-]+\s+(?:service|server|cluster|database|queue|stream|bucket|instance)\b`)},
}

// Detect splits text into sentences and returns every candidate claim.
// A sentence may carry claims in several categories.
func Detect(text string) []Claim {
	var out []Claim
	for _, sentence := range splitSentences(text) {
		for _, p := range claimPatterns {
			if p.re.MatchString(sentence) {
				out = append(out, Claim{Category: p.category, Text: sentence})
			}
		}
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?。！？]\s+|\n+`)

func splitSentences(text string) []string {
	parts := sentenceEnd.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimRight(p, ".!?"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

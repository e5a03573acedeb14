package patterns

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_StaticPacks(t *testing.T) {
	r := NewRegistry()
	assert.ElementsMatch(t, []string{"de", "en"}, r.Languages())
}

func TestLoadRemaining_AllTen(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadRemaining(context.Background()))
	assert.Len(t, r.Languages(), 10)
	for _, code := range []string{"en", "de", "fr", "es", "pt", "it", "zh", "ja", "ko", "ru"} {
		assert.Contains(t, r.Languages(), code)
	}
}

func TestBuiltinPacks_Validate(t *testing.T) {
	for _, p := range append(staticBuiltins(), deferredBuiltins()...) {
		assert.NoError(t, p.Validate(), p.Language)
	}
}

func TestCJKPacks_NoWordBoundary(t *testing.T) {
	for _, p := range deferredBuiltins() {
		if !cjkLanguages[p.Language] {
			continue
		}
		for _, group := range p.groups() {
			for _, src := range group {
				assert.False(t, strings.Contains(src, `\b`),
					"%s pack pattern %q uses \\b", p.Language, src)
			}
		}
	}
}

func TestValidate_RejectsCJKWordBoundary(t *testing.T) {
	p := builtinZH()
	p.Corrections = append(p.Corrections, `\bwrong\b`)
	assert.Error(t, p.Validate())
}

func TestValidate_MinimumCounts(t *testing.T) {
	p := builtinEN()
	p.Corrections = p.Corrections[:2]
	assert.Error(t, p.Validate())
}

func TestRegister_ReplacesByCodeAndInvalidatesCache(t *testing.T) {
	r := NewRegistry()
	before := r.Merged()

	custom := builtinEN()
	custom.Language = "EN-us" // normalizes to en
	custom.Corrections = append(custom.Corrections, `(?i)\btotally bogus\b`)
	require.NoError(t, r.Register(custom))

	assert.ElementsMatch(t, []string{"de", "en"}, r.Languages())
	after := r.Merged()
	assert.NotSame(t, before, after)
	assert.True(t, after.IsCorrection("totally bogus"))
}

func TestMerged_Cached(t *testing.T) {
	r := NewRegistry()
	assert.Same(t, r.Merged(), r.Merged())
}

func TestMerged_UniversalPatterns(t *testing.T) {
	r := NewRegistry()
	s := r.Merged()
	assert.True(t, s.IsQuestion("anything at all？"))
	assert.True(t, s.IsDissatisfaction("👎"))
	assert.True(t, s.HasSatisfaction("🎉"))
}

func TestSet_EnglishMatching(t *testing.T) {
	s := NewRegistry().Merged()
	assert.True(t, s.IsCorrection("No, that's wrong entirely"))
	assert.True(t, s.IsShortNegative("no"))
	assert.False(t, s.IsShortNegative("no, let me explain further"))
	assert.True(t, s.IsQuestion("Should I overwrite the file?"))
	assert.True(t, s.IsCompletionClaim("Disk looks fine."))
	assert.True(t, s.IsSystemStateClaim("the service is running"))
	assert.True(t, s.IsOpinion("I think it is probably fine"))
}

func TestSet_GermanMatching(t *testing.T) {
	s := NewRegistry().Merged()
	assert.True(t, s.IsQuestion("Soll ich die Datei überschreiben?"))
	assert.True(t, s.IsShortNegative("nein"))
	assert.True(t, s.IsCorrection("Das ist falsch"))
}

func TestSet_CJKMatching(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadRemaining(context.Background()))
	s := r.Merged()
	assert.True(t, s.IsCorrection("这不对"))
	assert.True(t, s.IsCompletionClaim("修正しました"))
	assert.True(t, s.IsShortNegative("아니요"))
}

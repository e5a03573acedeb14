package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// Set is the compiled, merged view over all loaded packs. Sets are
// immutable snapshots; detectors hold them for the duration of one run.
type Set struct {
	Corrections           []*regexp.Regexp
	ShortNegatives        []*regexp.Regexp
	Questions             []*regexp.Regexp
	Dissatisfaction       []*regexp.Regexp
	SatisfactionOverrides []*regexp.Regexp
	ResolutionIndicators  []*regexp.Regexp
	CompletionClaims      []*regexp.Regexp
	SystemStateClaims     []*regexp.Regexp
	OpinionExclusions     []*regexp.Regexp
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (s *Set) IsCorrection(text string) bool        { return matchAny(s.Corrections, text) }
func (s *Set) IsShortNegative(text string) bool     { return matchAny(s.ShortNegatives, text) }
func (s *Set) IsQuestion(text string) bool          { return matchAny(s.Questions, text) }
func (s *Set) IsDissatisfaction(text string) bool   { return matchAny(s.Dissatisfaction, text) }
func (s *Set) HasSatisfaction(text string) bool     { return matchAny(s.SatisfactionOverrides, text) }
func (s *Set) HasResolution(text string) bool       { return matchAny(s.ResolutionIndicators, text) }
func (s *Set) IsCompletionClaim(text string) bool   { return matchAny(s.CompletionClaims, text) }
func (s *Set) IsSystemStateClaim(text string) bool  { return matchAny(s.SystemStateClaims, text) }
func (s *Set) IsOpinion(text string) bool           { return matchAny(s.OpinionExclusions, text) }

// Registry holds the loaded packs and a cached merged Set. The cache is
// invalidated by any load or registration.
type Registry struct {
	mu     sync.RWMutex
	packs  map[string]*Pack
	merged *Set // nil when invalidated
	logger *slog.Logger
}

// NewRegistry constructs a registry with the static builtin subset (en,
// de) loaded synchronously. Static packs are trusted; a validation
// failure there is a programming error and panics.
func NewRegistry() *Registry {
	r := &Registry{
		packs:  make(map[string]*Pack, 10),
		logger: slog.Default().With("component", "patterns"),
	}
	for _, p := range staticBuiltins() {
		if err := r.register(p); err != nil {
			panic(fmt.Sprintf("builtin pack %s: %v", p.Language, err))
		}
	}
	return r
}

// LoadRemaining loads the deferred builtin packs. Intended to run in a
// background goroutine; it honors ctx between packs.
func (r *Registry) LoadRemaining(ctx context.Context) error {
	for _, p := range deferredBuiltins() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.register(p); err != nil {
			return fmt.Errorf("builtin pack %s: %w", p.Language, err)
		}
	}
	return nil
}

// Register installs a user-supplied pack, replacing any pack with the
// same language code.
func (r *Registry) Register(p *Pack) error {
	return r.register(p)
}

func (r *Registry) register(p *Pack) error {
	if err := p.Validate(); err != nil {
		return err
	}
	code, err := NormalizeCode(p.Language)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, replaced := r.packs[code]; replaced {
		r.logger.Info("replacing language pack", "language", code)
	}
	r.packs[code] = p
	r.merged = nil
	return nil
}

// Languages returns the sorted codes of all loaded packs.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.packs))
	for code := range r.packs {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Merged returns the compiled union of all loaded packs plus the
// universal patterns. The result is cached until the next load/register.
func (r *Registry) Merged() *Set {
	r.mu.RLock()
	if s := r.merged; s != nil {
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merged != nil {
		return r.merged
	}

	s := &Set{}
	codes := make([]string, 0, len(r.packs))
	for code := range r.packs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		p := r.packs[code]
		s.Corrections = appendCompiled(s.Corrections, p.Corrections)
		s.ShortNegatives = appendCompiled(s.ShortNegatives, p.ShortNegatives)
		s.Questions = appendCompiled(s.Questions, p.Questions)
		s.Dissatisfaction = appendCompiled(s.Dissatisfaction, p.Dissatisfaction)
		s.SatisfactionOverrides = appendCompiled(s.SatisfactionOverrides, p.SatisfactionOverrides)
		s.ResolutionIndicators = appendCompiled(s.ResolutionIndicators, p.ResolutionIndicators)
		s.CompletionClaims = appendCompiled(s.CompletionClaims, p.CompletionClaims)
		s.SystemStateClaims = appendCompiled(s.SystemStateClaims, p.SystemStateClaims)
		s.OpinionExclusions = appendCompiled(s.OpinionExclusions, p.OpinionExclusions)
	}

	s.Questions = appendCompiled(s.Questions, universalQuestions)
	s.Dissatisfaction = appendCompiled(s.Dissatisfaction, universalDissatisfaction)
	s.SatisfactionOverrides = appendCompiled(s.SatisfactionOverrides, universalSatisfaction)

	r.merged = s
	return s
}

// appendCompiled compiles sources onto dst. Sources were validated at
// registration, so compile failures cannot happen here.
func appendCompiled(dst []*regexp.Regexp, srcs []string) []*regexp.Regexp {
	for _, src := range srcs {
		dst = append(dst, regexp.MustCompile(src))
	}
	return dst
}

package redact

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// maxScanDepth bounds recursion through nested values; beyond it the
// value is returned partially scanned.
const maxScanDepth = 32

// Allowlist relaxes PII/financial redaction on the agent→external path.
// Credentials are never allow-listed; there is deliberately no field for
// them.
type Allowlist struct {
	PIIAllowedChannels       []string `json:"piiAllowedChannels"`
	FinancialAllowedChannels []string `json:"financialAllowedChannels"`
	ExemptTools              []string `json:"exemptTools"`
	ExemptAgents             []string `json:"exemptAgents"`
}

func containsFold(list []string, v string) bool {
	for _, e := range list {
		if strings.EqualFold(e, v) {
			return true
		}
	}
	return false
}

// Engine performs deep scans over JSON-compatible values, vaulting
// originals and substituting placeholders.
type Engine struct {
	catalog   *Catalog
	vault     *Vault
	allowlist Allowlist
	logger    *slog.Logger
}

// NewEngine wires a scan engine to its catalog and vault. The engine
// holds non-owning references; vault lifetime is managed by the caller.
func NewEngine(catalog *Catalog, vault *Vault, allow Allowlist) *Engine {
	return &Engine{
		catalog:   catalog,
		vault:     vault,
		allowlist: allow,
		logger:    slog.Default().With("component", "redact"),
	}
}

// categoryFilter selects which categories a scan redacts.
type categoryFilter func(Category) bool

func allCategories(Category) bool { return true }

// ScanText redacts every category in a plain string.
func (e *Engine) ScanText(text string) string {
	return e.scanString(text, allCategories, 0)
}

// ScanValue deep-scans a JSON-compatible value. Maps and slices are
// walked with cycle detection; strings that parse as JSON objects or
// arrays are scanned as nested values and re-serialized.
func (e *Engine) ScanValue(v any) any {
	return e.scanValue(v, allCategories, 0, map[any]bool{})
}

func (e *Engine) scanValue(v any, keep categoryFilter, depth int, seen map[any]bool) any {
	if depth > maxScanDepth {
		return v
	}
	switch t := v.(type) {
	case string:
		return e.scanString(t, keep, depth)
	case map[string]any:
		if seen[ptrKey(t)] {
			return "[CYCLE]"
		}
		seen[ptrKey(t)] = true
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = e.scanValue(val, keep, depth+1, seen)
		}
		delete(seen, ptrKey(t))
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = e.scanValue(val, keep, depth+1, seen)
		}
		return out
	default:
		return v
	}
}

// ptrKey gives maps an identity for cycle detection. fmt %p formatting of
// a map value is stable for the map's lifetime.
func ptrKey(m map[string]any) any {
	return fmt.Sprintf("%p", m)
}

// scanString redacts matches in a string. Strings that are themselves
// JSON containers are scanned structurally so secrets inside serialized
// payloads are caught.
func (e *Engine) scanString(s string, keep categoryFilter, depth int) string {
	if depth <= maxScanDepth && looksLikeJSON(s) {
		var nested any
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			switch nested.(type) {
			case map[string]any, []any:
				scanned := e.scanValue(nested, keep, depth+1, map[any]bool{})
				if b, err := json.Marshal(scanned); err == nil {
					return string(b)
				}
			}
		}
	}

	spans := findSpans(e.catalog.snapshot(), s)
	if len(spans) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, sp := range spans {
		if !keep(sp.category) {
			continue
		}
		b.WriteString(s[prev:sp.start])
		hash := e.vault.Store(s[sp.start:sp.end], sp.category)
		b.WriteString(Placeholder(sp.category, hash))
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

func looksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	return len(trimmed) > 1 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// ── Layer 1: tool → agent path ────────────────────────────────────────────

// RedactToolResult scans a tool result before the agent sees it. All
// categories are redacted on this path.
func (e *Engine) RedactToolResult(result any) any {
	return e.ScanValue(result)
}

// ResolveToolParams substitutes vaulted originals for any placeholders in
// the params of an outgoing tool call. Unresolvable placeholders block
// the call.
func (e *Engine) ResolveToolParams(params map[string]any) (map[string]any, []string) {
	var unresolved []string
	resolved := resolveValue(params, e.vault, &unresolved).(map[string]any)
	return resolved, unresolved
}

func resolveValue(v any, vault *Vault, unresolved *[]string) any {
	switch t := v.(type) {
	case string:
		out, missing := vault.ResolveAll(t)
		*unresolved = append(*unresolved, missing...)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = resolveValue(val, vault, unresolved)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = resolveValue(val, vault, unresolved)
		}
		return out
	default:
		return v
	}
}

// ── Layer 2: agent → external path ────────────────────────────────────────

// RedactOutbound scans an outbound message. Credentials are always
// redacted. PII and financial data are redacted unless the destination
// channel, originating tool or agent is on the corresponding allow list.
func (e *Engine) RedactOutbound(text, channel, tool, agent string) string {
	exempt := containsFold(e.allowlist.ExemptTools, tool) ||
		containsFold(e.allowlist.ExemptAgents, agent)
	piiAllowed := exempt || containsFold(e.allowlist.PIIAllowedChannels, channel)
	finAllowed := exempt || containsFold(e.allowlist.FinancialAllowedChannels, channel)

	keep := func(c Category) bool {
		switch c {
		case CategoryPII:
			return !piiAllowed
		case CategoryFinancial:
			return !finAllowed
		default:
			// credential and custom are unconditional
			return true
		}
	}
	return e.scanString(text, keep, 0)
}

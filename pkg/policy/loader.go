package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoPolicies is returned when the policy directory exists but holds
// no loadable policy files.
var ErrNoPolicies = errors.New("policy: no policy files found")

const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "version", "rules"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "scope": {
      "type": "object",
      "properties": {
        "agents": {"type": "array", "items": {"type": "string"}},
        "hooks": {"type": "array", "items": {"type": "string"}},
        "tools": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    },
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "effect"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "conditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {"enum": ["tool", "context", "trust", "time", "frequency", "expr"]}
              }
            }
          },
          "effect": {
            "type": "object",
            "required": ["action"],
            "properties": {
              "action": {"enum": ["allow", "deny", "audit", "warn"]},
              "reason": {"type": "string"}
            }
          }
        }
      }
    },
    "controls": {"type": "array", "items": {"type": "string"}}
  }
}`

// Loader reads policy files from a governance directory and validates
// them against the embedded schema before they reach the evaluator.
type Loader struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewLoader compiles the policy schema once.
func NewLoader() (*Loader, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", strings.NewReader(policySchema)); err != nil {
		return nil, fmt.Errorf("policy: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("policy.schema.json")
	if err != nil {
		return nil, fmt.Errorf("policy: compile schema: %w", err)
	}
	return &Loader{
		schema: schema,
		logger: slog.Default().With("component", "policy-loader"),
	}, nil
}

// LoadDir reads every *.json under dir, validates, and resolves
// duplicate IDs by keeping the highest semantic version. A missing
// directory yields an empty set, not an error: governance without
// policies defaults everything to allow.
func (l *Loader) LoadDir(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("policy directory absent, running without policies", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("policy: read dir %s: %w", dir, err)
	}

	var loaded []Policy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := l.LoadFile(path)
		if err != nil {
			// One malformed file must not take down the whole set.
			l.logger.Warn("skipping invalid policy file", "file", path, "error", err)
			continue
		}
		loaded = append(loaded, p)
	}
	return dedupeByVersion(loaded, l.logger), nil
}

// LoadFile parses and validates a single policy file.
func (l *Loader) LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := l.schema.Validate(raw); err != nil {
		return Policy{}, fmt.Errorf("validate %s: %w", path, err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}

// dedupeByVersion keeps, for each policy ID, the entry with the highest
// semver. Unparseable versions lose against parseable ones; among two
// unparseable versions the later file wins.
func dedupeByVersion(policies []Policy, logger *slog.Logger) []Policy {
	best := make(map[string]Policy)
	order := make([]string, 0, len(policies))
	for _, p := range policies {
		prev, seen := best[p.ID]
		if !seen {
			best[p.ID] = p
			order = append(order, p.ID)
			continue
		}
		if newerVersion(p.Version, prev.Version) {
			logger.Info("duplicate policy id, keeping newer version",
				"policy", p.ID, "kept", p.Version, "dropped", prev.Version)
			best[p.ID] = p
		} else {
			logger.Info("duplicate policy id, keeping newer version",
				"policy", p.ID, "kept", prev.Version, "dropped", p.Version)
		}
	}
	out := make([]Policy, 0, len(best))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func newerVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.GreaterThan(vb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return true // last one wins when neither parses
	}
}

// scopeMatches reports whether a policy's scope covers the evaluation
// context. Empty scope lists match everything; tool and agent entries
// may use shell globs.
func scopeMatches(s Scope, ec *EvalContext) bool {
	if len(s.Hooks) > 0 && !containsString(s.Hooks, ec.Hook) {
		return false
	}
	if len(s.Agents) > 0 && !anyGlob(s.Agents, ec.AgentID) {
		return false
	}
	if len(s.Tools) > 0 {
		if ec.ToolName == "" {
			return false
		}
		if !anyGlob(s.Tools, ec.ToolName) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyGlob(patterns []string, name string) bool {
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

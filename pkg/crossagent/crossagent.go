// Package crossagent tracks parent/child agent relationships so that
// sub-agents inherit their parent's policies and never exceed its trust.
package crossagent

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/trust"
)

// TrustSource supplies current trust records for ceiling enforcement.
type TrustSource interface {
	Get(agent string) trust.Record
}

type edge struct {
	parentAgent   string
	parentSession string
}

// Manager maintains the parent→child session graph. Edges come from
// explicit spawn registration or from parsing structured session keys.
type Manager struct {
	mu      sync.RWMutex
	parents map[string]edge // child agent → parent
	trust   TrustSource
	logger  *slog.Logger
}

// NewManager builds an empty graph over the given trust source.
func NewManager(ts TrustSource) *Manager {
	return &Manager{
		parents: make(map[string]edge),
		trust:   ts,
		logger:  slog.Default().With("component", "crossagent"),
	}
}

// RegisterSpawn records that parent spawned child. Explicit registration
// wins over key-derived parentage.
func (m *Manager) RegisterSpawn(parentAgent, parentSession, childAgent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[childAgent] = edge{parentAgent: parentAgent, parentSession: parentSession}
	m.logger.Debug("registered spawn", "parent", parentAgent, "child", childAgent)
}

// ParseSessionKey extracts parentage from keys of the form
// "agent:<parent>:subagent:<child>:<uuid>". The key alone is sufficient
// to infer the relationship.
func ParseSessionKey(key string) (parent, child string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "agent" || parts[2] != "subagent" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// Observe learns parentage from a session key if it carries one.
func (m *Manager) Observe(agent, sessionKey string) {
	parent, child, ok := ParseSessionKey(sessionKey)
	if !ok || child != agent {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, explicit := m.parents[child]; explicit {
		return
	}
	m.parents[child] = edge{parentAgent: parent, parentSession: sessionKey}
}

// Parent returns the direct parent of an agent, if any.
func (m *Manager) Parent(agent string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.parents[agent]
	return e.parentAgent, ok
}

// Ancestors returns the chain of parents from closest to root. Cycles
// are cut by a visited set.
func (m *Manager) Ancestors(agent string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	seen := map[string]bool{agent: true}
	cur := agent
	for {
		e, ok := m.parents[cur]
		if !ok || seen[e.parentAgent] {
			return out
		}
		out = append(out, e.parentAgent)
		seen[e.parentAgent] = true
		cur = e.parentAgent
	}
}

// EnrichContext attaches cross-agent metadata to a sub-agent's
// evaluation context and caps its trust at the parent's current score,
// re-deriving the tier from the capped value. Root agents pass through
// unmodified.
func (m *Manager) EnrichContext(ec *policy.EvalContext) {
	m.Observe(ec.AgentID, ec.SessionKey)

	m.mu.RLock()
	e, ok := m.parents[ec.AgentID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ceiling := m.trust.Get(e.parentAgent).Score
	ec.CrossAgent = &policy.CrossAgentInfo{
		ParentAgentID:    e.parentAgent,
		ParentSessionKey: e.parentSession,
		TrustCeiling:     ceiling,
	}
	if ec.Trust.Score > ceiling {
		ec.Trust.Score = ceiling
		ec.Trust.Tier = trust.TierFor(ceiling)
	}
}

// ResolveEffectivePolicies returns the IDs of policies that apply to the
// agent: globally scoped ones, ones scoped to the agent itself, and (for
// sub-agents) ones scoped to any ancestor. Inheritance walks the full
// chain.
func (m *Manager) ResolveEffectivePolicies(agent string, policies []policy.Policy) []string {
	ancestors := m.Ancestors(agent)

	var ids []string
	for _, p := range policies {
		if len(p.Scope.Agents) == 0 {
			ids = append(ids, p.ID)
			continue
		}
		if agentInScope(p.Scope.Agents, agent) {
			ids = append(ids, p.ID)
			continue
		}
		for _, anc := range ancestors {
			if agentInScope(p.Scope.Agents, anc) {
				ids = append(ids, p.ID)
				break
			}
		}
	}
	return ids
}

func agentInScope(patterns []string, agent string) bool {
	for _, p := range patterns {
		if p == agent {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(agent, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

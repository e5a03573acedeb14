// Package trust maintains per-agent tiered trust scores: success and
// violation learning, recency decay, clamped overrides, and JSON
// persistence with a dirty-flush loop.
package trust

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tier names in ascending order of privilege.
const (
	TierRestricted = "restricted"
	TierStandard   = "standard"
	TierTrusted    = "trusted"
	TierPrivileged = "privileged"
)

// TierFor maps a score onto its tier. Boundaries: restricted <25,
// standard <55, trusted <80, privileged >=80.
func TierFor(score float64) string {
	switch {
	case score < 25:
		return TierRestricted
	case score < 55:
		return TierStandard
	case score < 80:
		return TierTrusted
	default:
		return TierPrivileged
	}
}

// HistoryEntry records one learning event for an agent.
type HistoryEntry struct {
	Kind string `json:"kind"` // success | violation | override
	Tool string `json:"tool,omitempty"`
	TS   int64  `json:"ts"`
}

// Record is the persisted trust state for one agent.
type Record struct {
	Score          float64        `json:"score"`
	Tier           string         `json:"tier"`
	SuccessCount   int            `json:"successCount"`
	ViolationCount int            `json:"violationCount"`
	CleanStreak    int            `json:"cleanStreak"`
	Created        int64          `json:"created"` // unix ms
	LastActivity   int64          `json:"lastActivity"`
	AgeDays        int            `json:"ageDays"`
	History        []HistoryEntry `json:"history,omitempty"`
}

type store struct {
	Version int                `json:"version"`
	Agents  map[string]*Record `json:"agents"`
}

// Weights tune how learning events move the score.
type Weights struct {
	Success     float64 `json:"success"`     // per successful tool use
	StreakBonus float64 `json:"streakBonus"` // extra at every streakEvery successes
	StreakEvery int     `json:"streakEvery"`
	Violation   float64 `json:"violation"` // subtracted per violation
	AgePerDay   float64 `json:"agePerDay"` // small positive term credited as records age
}

// DecayOptions control recency decay of idle agents.
type DecayOptions struct {
	Enabled        bool    `json:"enabled"`
	InactivityDays int     `json:"inactivityDays"`
	Rate           float64 `json:"rate"` // multiplier, e.g. 0.99
}

// Options configure the manager.
type Options struct {
	Enabled                bool               `json:"enabled"`
	Path                   string             `json:"path"` // trust.json location
	Defaults               map[string]float64 `json:"defaults"`
	PersistIntervalSeconds int                `json:"persistIntervalSeconds"`
	Decay                  DecayOptions       `json:"decay"`
	MaxHistoryPerAgent     int                `json:"maxHistoryPerAgent"`
	Weights                Weights            `json:"weights"`
}

func (o *Options) fillDefaults() {
	if o.PersistIntervalSeconds <= 0 {
		o.PersistIntervalSeconds = 60
	}
	if o.MaxHistoryPerAgent <= 0 {
		o.MaxHistoryPerAgent = 50
	}
	if o.Weights == (Weights{}) {
		o.Weights = Weights{Success: 0.2, StreakBonus: 1, StreakEvery: 10, Violation: 5, AgePerDay: 0.05}
	}
	if o.Weights.StreakEvery <= 0 {
		o.Weights.StreakEvery = 10
	}
	if o.Decay.InactivityDays <= 0 {
		o.Decay.InactivityDays = 14
	}
	if o.Decay.Rate <= 0 || o.Decay.Rate > 1 {
		o.Decay.Rate = 0.99
	}
}

// Manager owns the trust store. All mutation goes through it; readers
// get copies.
type Manager struct {
	mu    sync.Mutex
	opts  Options
	data  store
	dirty bool

	now    func() time.Time
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// NewManager loads the store from opts.Path (a missing file starts an
// empty store) and starts the flush loop.
func NewManager(opts Options) (*Manager, error) {
	opts.fillDefaults()
	m := &Manager{
		opts:   opts,
		data:   store{Version: 1, Agents: make(map[string]*Record)},
		now:    time.Now,
		logger: slog.Default().With("component", "trust"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	m.refreshAgeDays()
	go m.flushLoop()
	return m, nil
}

func (m *Manager) load() error {
	if m.opts.Path == "" {
		close(m.done) // nothing to flush without a path
		return fmt.Errorf("trust: store path not configured")
	}
	data, err := os.ReadFile(m.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("trust: read store: %w", err)
	}
	var s store
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("trust: parse store %s: %w", m.opts.Path, err)
	}
	if s.Agents == nil {
		s.Agents = make(map[string]*Record)
	}
	m.data = s
	return nil
}

// refreshAgeDays credits accrued age across the whole store on load.
func (m *Manager) refreshAgeDays() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.data.Agents {
		m.refreshAgeLocked(r)
	}
}

// refreshAgeLocked recomputes the record's age and adds the age term
// for each newly completed day since the last refresh.
func (m *Manager) refreshAgeLocked(r *Record) {
	days := int(m.now().Sub(time.UnixMilli(r.Created)).Hours() / 24)
	if days > r.AgeDays {
		r.Score = clamp(r.Score + m.opts.Weights.AgePerDay*float64(days-r.AgeDays))
		r.Tier = TierFor(r.Score)
		r.AgeDays = days
		m.dirty = true
	}
}

func (m *Manager) defaultScore(agent string) float64 {
	if s, ok := m.opts.Defaults[agent]; ok {
		return s
	}
	if s, ok := m.opts.Defaults["*"]; ok {
		return s
	}
	return 50
}

// getLocked returns the live record, creating it on first access.
func (m *Manager) getLocked(agent string) *Record {
	r, ok := m.data.Agents[agent]
	if !ok {
		now := m.now().UnixMilli()
		score := clamp(m.defaultScore(agent))
		r = &Record{
			Score:        score,
			Tier:         TierFor(score),
			Created:      now,
			LastActivity: now,
		}
		m.data.Agents[agent] = r
		m.dirty = true
		return r
	}
	m.refreshAgeLocked(r)
	return r
}

// Get returns a copy of the agent's record, creating one with the
// configured default score on first access.
func (m *Manager) Get(agent string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.getLocked(agent)
}

// RecordSuccess notes a successful tool use and raises the score.
func (m *Manager) RecordSuccess(agent, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getLocked(agent)
	r.SuccessCount++
	r.CleanStreak++
	delta := m.opts.Weights.Success
	if r.CleanStreak%m.opts.Weights.StreakEvery == 0 {
		delta += m.opts.Weights.StreakBonus
	}
	r.Score = clamp(r.Score + delta)
	r.Tier = TierFor(r.Score)
	r.LastActivity = m.now().UnixMilli()
	m.appendHistory(r, HistoryEntry{Kind: "success", Tool: tool, TS: r.LastActivity})
	m.dirty = true
}

// RecordViolation notes a policy violation, resets the clean streak and
// lowers the score.
func (m *Manager) RecordViolation(agent, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getLocked(agent)
	r.ViolationCount++
	r.CleanStreak = 0
	r.Score = clamp(r.Score - m.opts.Weights.Violation)
	r.Tier = TierFor(r.Score)
	r.LastActivity = m.now().UnixMilli()
	m.appendHistory(r, HistoryEntry{Kind: "violation", Tool: tool, TS: r.LastActivity})
	m.dirty = true
}

// SetScore overrides an agent's score directly, clamped to [0, 100].
func (m *Manager) SetScore(agent string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getLocked(agent)
	r.Score = clamp(score)
	r.Tier = TierFor(r.Score)
	m.appendHistory(r, HistoryEntry{Kind: "override", TS: m.now().UnixMilli()})
	m.dirty = true
}

// ApplyDecay multiplies the score by the decay rate when the agent has
// been inactive for the configured window. Called once per evaluation;
// returns the post-decay record.
func (m *Manager) ApplyDecay(agent string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getLocked(agent)
	if !m.opts.Decay.Enabled {
		return *r
	}
	inactive := m.now().Sub(time.UnixMilli(r.LastActivity))
	if inactive >= time.Duration(m.opts.Decay.InactivityDays)*24*time.Hour {
		r.Score = clamp(r.Score * m.opts.Decay.Rate)
		r.Tier = TierFor(r.Score)
		m.dirty = true
	}
	return *r
}

func (m *Manager) appendHistory(r *Record, e HistoryEntry) {
	r.History = append(r.History, e)
	if n := len(r.History) - m.opts.MaxHistoryPerAgent; n > 0 {
		r.History = r.History[n:]
	}
}

// Flush writes the store to disk if dirty. Writes go through a temp
// file and rename so a crash never leaves a torn store.
func (m *Manager) Flush() error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(m.data, "", "  ")
	m.dirty = false
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("trust: marshal store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.opts.Path), 0o755); err != nil {
		return fmt.Errorf("trust: create store dir: %w", err)
	}
	tmp := m.opts.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("trust: write store: %w", err)
	}
	if err := os.Rename(tmp, m.opts.Path); err != nil {
		return fmt.Errorf("trust: rename store: %w", err)
	}
	return nil
}

func (m *Manager) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(time.Duration(m.opts.PersistIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("periodic trust flush failed", "error", err)
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the flush loop and writes any pending state.
func (m *Manager) Close() error {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	return m.Flush()
}

// Snapshot returns a copy of all records, for status reporting.
func (m *Manager) Snapshot() map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.data.Agents))
	for id, r := range m.data.Agents {
		out[id] = *r
	}
	return out
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

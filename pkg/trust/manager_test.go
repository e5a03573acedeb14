package trust

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "trust.json")
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		tier  string
	}{
		{0, TierRestricted},
		{24.9, TierRestricted},
		{25, TierStandard},
		{54.9, TierStandard},
		{55, TierTrusted},
		{79.9, TierTrusted},
		{80, TierPrivileged},
		{100, TierPrivileged},
	}
	for _, c := range cases {
		assert.Equal(t, c.tier, TierFor(c.score), "score %v", c.score)
	}
}

func TestGet_CreatesWithConfiguredDefault(t *testing.T) {
	m := newTestManager(t, Options{Defaults: map[string]float64{"main": 70, "*": 40}})

	assert.Equal(t, 70.0, m.Get("main").Score)
	assert.Equal(t, 40.0, m.Get("other").Score)
	assert.Equal(t, TierStandard, m.Get("other").Tier)
}

func TestGet_DefaultWithoutConfig(t *testing.T) {
	m := newTestManager(t, Options{})
	r := m.Get("fresh")
	assert.Equal(t, 50.0, r.Score)
	assert.Equal(t, TierStandard, r.Tier)
}

func TestRecordSuccess_RaisesScoreAndCounters(t *testing.T) {
	m := newTestManager(t, Options{})
	before := m.Get("a")
	m.RecordSuccess("a", "exec")
	after := m.Get("a")

	assert.Equal(t, before.SuccessCount+1, after.SuccessCount)
	assert.Equal(t, before.CleanStreak+1, after.CleanStreak)
	assert.Greater(t, after.Score, before.Score)
	assert.Zero(t, after.ViolationCount)
}

func TestRecordViolation_LowersScoreResetsStreak(t *testing.T) {
	m := newTestManager(t, Options{})
	for i := 0; i < 5; i++ {
		m.RecordSuccess("a", "exec")
	}
	before := m.Get("a")
	m.RecordViolation("a", "exec")
	after := m.Get("a")

	assert.Equal(t, 1, after.ViolationCount)
	assert.Zero(t, after.CleanStreak)
	assert.Less(t, after.Score, before.Score)
	assert.Equal(t, before.SuccessCount, after.SuccessCount)
}

func TestSuccessMonotonicity(t *testing.T) {
	m := newTestManager(t, Options{})
	prev := m.Get("a")
	for i := 0; i < 30; i++ {
		m.RecordSuccess("a", "exec")
		cur := m.Get("a")
		assert.GreaterOrEqual(t, cur.SuccessCount, prev.SuccessCount)
		assert.GreaterOrEqual(t, cur.CleanStreak, prev.CleanStreak)
		assert.GreaterOrEqual(t, cur.Score, prev.Score)
		assert.Equal(t, 0, cur.ViolationCount)
		prev = cur
	}
}

func TestSetScore_Clamped(t *testing.T) {
	m := newTestManager(t, Options{})
	m.SetScore("a", 250)
	assert.Equal(t, 100.0, m.Get("a").Score)
	assert.Equal(t, TierPrivileged, m.Get("a").Tier)

	m.SetScore("a", -10)
	assert.Equal(t, 0.0, m.Get("a").Score)
	assert.Equal(t, TierRestricted, m.Get("a").Tier)
}

func TestDecay_AppliedAfterInactivity(t *testing.T) {
	m := newTestManager(t, Options{
		Decay:   DecayOptions{Enabled: true, InactivityDays: 7, Rate: 0.9},
		Weights: Weights{Success: 0.2, StreakBonus: 1, StreakEvery: 10, Violation: 5, AgePerDay: 0},
	})
	m.SetScore("idle", 80)

	base := time.Now()
	m.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	r := m.ApplyDecay("idle")
	assert.InDelta(t, 72.0, r.Score, 0.001)
	assert.Equal(t, TierTrusted, r.Tier, "tier re-derived after decay")
}

func TestDecay_NotAppliedWhileActive(t *testing.T) {
	m := newTestManager(t, Options{
		Decay: DecayOptions{Enabled: true, InactivityDays: 7, Rate: 0.9},
	})
	m.SetScore("busy", 80)
	m.RecordSuccess("busy", "exec")
	before := m.Get("busy").Score
	assert.Equal(t, before, m.ApplyDecay("busy").Score)
}

func TestDecay_DisabledIsNoop(t *testing.T) {
	m := newTestManager(t, Options{
		Weights: Weights{Success: 0.2, StreakBonus: 1, StreakEvery: 10, Violation: 5, AgePerDay: 0},
	})
	m.SetScore("a", 80)
	base := time.Now()
	m.now = func() time.Time { return base.Add(100 * 24 * time.Hour) }
	assert.Equal(t, 80.0, m.ApplyDecay("a").Score)
}

func TestHistoryCapped(t *testing.T) {
	m := newTestManager(t, Options{MaxHistoryPerAgent: 5})
	for i := 0; i < 20; i++ {
		m.RecordSuccess("a", "exec")
	}
	assert.Len(t, m.Get("a").History, 5)
}

func TestPersistence_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	m := newTestManager(t, Options{Path: path})
	m.RecordSuccess("a", "exec")
	m.RecordViolation("b", "browse")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s store
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 1, s.Agents["a"].SuccessCount)
	assert.Equal(t, 1, s.Agents["b"].ViolationCount)

	reopened, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Get("a").SuccessCount)
}

func TestRefreshAgeDays_OnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	old := time.Now().Add(-10 * 24 * time.Hour).UnixMilli()
	seed := store{Version: 1, Agents: map[string]*Record{
		"veteran": {Score: 60, Tier: TierTrusted, Created: old, LastActivity: old},
	}}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	defer m.Close()
	r := m.Get("veteran")
	assert.Equal(t, 10, r.AgeDays)
	assert.InDelta(t, 60.5, r.Score, 0.001, "ten days of age credit at the default rate")
}

func TestAgeTerm_AccruesLazily(t *testing.T) {
	m := newTestManager(t, Options{})
	m.SetScore("a", 50)

	base := time.Now()
	m.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	r := m.Get("a")
	assert.Equal(t, 10, r.AgeDays)
	assert.InDelta(t, 50.5, r.Score, 0.001)

	// Already credited days are not credited twice.
	again := m.Get("a")
	assert.InDelta(t, 50.5, again.Score, 0.001)
}

func TestStreakBonus(t *testing.T) {
	m := newTestManager(t, Options{
		Weights: Weights{Success: 0.1, StreakBonus: 2, StreakEvery: 3, Violation: 5, AgePerDay: 0},
	})
	m.SetScore("a", 50)
	m.RecordSuccess("a", "t")
	m.RecordSuccess("a", "t")
	assert.InDelta(t, 50.2, m.Get("a").Score, 0.001)
	m.RecordSuccess("a", "t") // third success lands the streak bonus
	assert.InDelta(t, 52.3, m.Get("a").Score, 0.001)
}

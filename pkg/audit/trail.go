// Package audit persists governance decisions as append-only JSONL,
// one file per UTC date, with buffered writes, retention sweeps and
// parameter redaction.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
)

// Level controls how much context each record carries.
type Level string

const (
	LevelMinimal  Level = "minimal"  // verdict and identifiers only
	LevelStandard Level = "standard" // + matched policies, tool params
	LevelVerbose  Level = "verbose"  // + message text
)

const flushThreshold = 100

// Two baseline incident-management controls unioned in on deny.
var denyControls = []string{"A.5.24", "A.5.28"}

// defaultRedactKeys is the parameter-key blacklist applied to every
// record regardless of configuration.
var defaultRedactKeys = []string{"password", "token", "apikey", "secret", "credential"}

// Entry is one persisted decision.
type Entry struct {
	ID            string           `json:"id"`
	TS            int64            `json:"ts"`
	TimestampISO  string           `json:"timestampIso"`
	Hook          string           `json:"hook"`
	AgentID       string           `json:"agentId"`
	SessionKey    string           `json:"sessionKey,omitempty"`
	Verdict       policy.Action    `json:"verdict"`
	Reason        string           `json:"reason,omitempty"`
	Matched       []policy.Matched `json:"matchedPolicies,omitempty"`
	Controls      []string         `json:"controls"`
	ToolName      string           `json:"toolName,omitempty"`
	ToolParams    map[string]any   `json:"toolParams,omitempty"`
	Message       string           `json:"message,omitempty"`
	TrustScore    float64          `json:"trustScore"`
	TrustTier     string           `json:"trustTier,omitempty"`
	Risk          string           `json:"risk"`
	ElapsedMicros int64            `json:"elapsedMicros"`
}

// Options configure the trail.
type Options struct {
	Enabled       bool     `json:"enabled"`
	Dir           string   `json:"dir"` // <workspace>/governance/audit
	RetentionDays int      `json:"retentionDays"`
	Level         Level    `json:"level"`
	RedactKeys    []string `json:"redactPatterns"`
}

// Trail buffers entries and appends them to the current day's file.
type Trail struct {
	mu     sync.Mutex
	opts   Options
	buf    []Entry
	now    func() time.Time
	logger *slog.Logger
}

// NewTrail creates the sink and runs one retention sweep.
func NewTrail(opts Options) *Trail {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	if opts.Level == "" {
		opts.Level = LevelStandard
	}
	t := &Trail{
		opts:   opts,
		now:    time.Now,
		logger: slog.Default().With("component", "audit"),
	}
	if opts.Enabled {
		if err := t.sweep(); err != nil {
			t.logger.Warn("audit retention sweep failed", "error", err)
		}
	}
	return t
}

// Record derives controls from the verdict's matched policies, redacts
// sensitive parameter keys, and buffers the entry. elapsed is the
// evaluation latency behind the decision. The buffer is flushed once it
// reaches the threshold.
func (t *Trail) Record(ec *policy.EvalContext, v *policy.Verdict, elapsed time.Duration) {
	if !t.opts.Enabled {
		return
	}
	ts := t.now().UnixMilli()
	e := Entry{
		ID:            uuid.NewString(),
		TS:            ts,
		TimestampISO:  time.UnixMilli(ts).UTC().Format(time.RFC3339Nano),
		Hook:          ec.Hook,
		AgentID:       ec.AgentID,
		SessionKey:    ec.SessionKey,
		Verdict:       v.Action,
		Reason:        v.Reason,
		Controls:      deriveControls(v),
		TrustScore:    ec.Trust.Score,
		TrustTier:     ec.Trust.Tier,
		Risk:          riskFor(v.Action, ec.Trust.Tier),
		ElapsedMicros: elapsed.Microseconds(),
	}
	if t.opts.Level != LevelMinimal {
		e.Matched = v.MatchedPolicies
		e.ToolName = ec.ToolName
		e.ToolParams = t.redactParams(ec.ToolParams)
	}
	if t.opts.Level == LevelVerbose {
		e.Message = ec.Message
	}

	t.mu.Lock()
	t.buf = append(t.buf, e)
	needFlush := len(t.buf) >= flushThreshold
	t.mu.Unlock()
	if needFlush {
		if err := t.Flush(); err != nil {
			t.logger.Warn("audit flush failed", "error", err)
		}
	}
}

// riskFor grades a decision. The verdict dominates; a clean allow from
// a restricted agent is still worth noticing.
func riskFor(action policy.Action, tier string) string {
	switch action {
	case policy.ActionDeny:
		return "high"
	case policy.ActionWarn:
		return "medium"
	case policy.ActionAudit:
		return "low"
	default:
		if tier == "restricted" {
			return "low"
		}
		return "none"
	}
}

// deriveControls unions the controls of every matched policy, plus the
// baseline incident controls on deny. Hooks never contribute controls.
func deriveControls(v *policy.Verdict) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, m := range v.MatchedPolicies {
		for _, c := range m.Controls {
			add(c)
		}
	}
	if v.Action == policy.ActionDeny {
		for _, c := range denyControls {
			add(c)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// redactParams blanks values whose key matches the blacklist. Keys
// match case-insensitively by substring, so "api_key" and "authToken"
// are both caught.
func (t *Trail) redactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	keys := append([]string{}, defaultRedactKeys...)
	keys = append(keys, t.opts.RedactKeys...)
	out := make(map[string]any, len(params))
	for k, v := range params {
		lower := strings.ToLower(strings.ReplaceAll(k, "_", ""))
		redacted := false
		for _, bad := range keys {
			if strings.Contains(lower, strings.ToLower(strings.ReplaceAll(bad, "_", ""))) {
				out[k] = "[REDACTED]"
				redacted = true
				break
			}
		}
		if !redacted {
			out[k] = v
		}
	}
	return out
}

// Flush appends buffered entries to the current UTC date file.
func (t *Trail) Flush() error {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.mu.Unlock()
		return nil
	}
	batch := t.buf
	t.buf = nil
	t.mu.Unlock()

	if err := os.MkdirAll(t.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("audit: create dir: %w", err)
	}
	path := filepath.Join(t.opts.Dir, t.now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit: encode entry: %w", err)
		}
	}
	return w.Flush()
}

// Close flushes pending entries.
func (t *Trail) Close() error { return t.Flush() }

// sweep deletes day files older than the retention window.
func (t *Trail) sweep() error {
	entries, err := os.ReadDir(t.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := t.now().UTC().AddDate(0, 0, -t.opts.RetentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".jsonl"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			path := filepath.Join(t.opts.Dir, name)
			if err := os.Remove(path); err != nil {
				t.logger.Warn("could not remove expired audit file", "file", path, "error", err)
			} else {
				t.logger.Info("removed expired audit file", "file", name)
			}
		}
	}
	return nil
}

// Query describes an audit search.
type Query struct {
	AgentID string
	Hook    string
	Verdict policy.Action
	Since   int64 // unix ms, inclusive
	Until   int64 // unix ms, exclusive; 0 = open
	Limit   int
}

// Search reads day files lazily and returns matching entries. Buffered
// entries are flushed first so results are complete.
func (t *Trail) Search(q Query) ([]Entry, error) {
	if err := t.Flush(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(t.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read dir: %w", err)
	}

	var out []Entry
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		if !t.fileInRange(f.Name(), q) {
			continue
		}
		entries, err := t.readFile(filepath.Join(t.opts.Dir, f.Name()))
		if err != nil {
			t.logger.Warn("skipping unreadable audit file", "file", f.Name(), "error", err)
			continue
		}
		for _, e := range entries {
			if matches(e, q) {
				out = append(out, e)
				if q.Limit > 0 && len(out) >= q.Limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// fileInRange prunes whole day files outside the query window.
func (t *Trail) fileInRange(name string, q Query) bool {
	day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".jsonl"))
	if err != nil {
		return false
	}
	dayStart := day.UnixMilli()
	dayEnd := day.AddDate(0, 0, 1).UnixMilli()
	if q.Since > 0 && dayEnd <= q.Since {
		return false
	}
	if q.Until > 0 && dayStart >= q.Until {
		return false
	}
	return true
}

func (t *Trail) readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue // a torn trailing line must not fail the query
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func matches(e Entry, q Query) bool {
	if q.AgentID != "" && e.AgentID != q.AgentID {
		return false
	}
	if q.Hook != "" && e.Hook != q.Hook {
		return false
	}
	if q.Verdict != "" && e.Verdict != q.Verdict {
		return false
	}
	if q.Since > 0 && e.TS < q.Since {
		return false
	}
	if q.Until > 0 && e.TS >= q.Until {
		return false
	}
	return true
}

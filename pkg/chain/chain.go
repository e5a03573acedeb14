// Package chain reconstructs conversation chains from an ordered stream of
// trace events. Chains are transient: they are rebuilt on every pipeline
// run and never persisted.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
)

// BoundaryType records why a chain ended.
type BoundaryType string

const (
	BoundaryGap       BoundaryType = "gap"
	BoundaryLifecycle BoundaryType = "lifecycle"
)

// Chain is a contiguous slice of events for one (session, agent) pair,
// sorted ascending by (ts, seq). Chains always hold at least two events.
type Chain struct {
	ID         string                `json:"id"`
	Agent      string                `json:"agent"`
	Session    string                `json:"session"`
	StartTS    int64                 `json:"startTs"`
	EndTS      int64                 `json:"endTs"`
	Events     []events.Event        `json:"events"`
	TypeCounts map[events.Type]int   `json:"typeCounts"`
	Boundary   BoundaryType          `json:"boundaryType"`
}

// Config tunes chain splitting.
type Config struct {
	GapMinutes        int // inactivity split threshold, default 30
	RunGapMinutes     int // run.end→run.start split threshold, default 5
	MaxEventsPerChain int // overflow rolls into a fresh chain, default 500
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{GapMinutes: 30, RunGapMinutes: 5, MaxEventsPerChain: 500}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GapMinutes <= 0 {
		c.GapMinutes = d.GapMinutes
	}
	if c.RunGapMinutes <= 0 {
		c.RunGapMinutes = d.RunGapMinutes
	}
	if c.MaxEventsPerChain <= 0 {
		c.MaxEventsPerChain = d.MaxEventsPerChain
	}
	return c
}

// chainID derives the deterministic chain identity from (session, agent,
// startTs). The hash is computed over the JCS-canonical JSON of the tuple
// so two runs over the same window produce identical IDs.
func chainID(session, agent string, startTS int64) string {
	canonical, err := jcs.Transform([]byte(marshalIdentity(session, agent, startTS)))
	if err != nil {
		canonical = []byte(marshalIdentity(session, agent, startTS))
	}
	sum := sha256.Sum256(canonical)
	return "chain-" + hex.EncodeToString(sum[:])[:16]
}

func marshalIdentity(session, agent string, startTS int64) string {
	// Tiny fixed shape; hand-rolled to avoid an allocation-heavy marshal.
	b := make([]byte, 0, 64)
	b = append(b, `{"agent":`...)
	b = appendJSONString(b, agent)
	b = append(b, `,"session":`...)
	b = appendJSONString(b, session)
	b = append(b, `,"startTs":`...)
	b = appendInt(b, startTS)
	b = append(b, '}')
	return string(b)
}

func appendJSONString(b []byte, s string) []byte {
	b = append(b, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b = append(b, '\\', c)
		default:
			if c < 0x20 {
				const hexDigits = "0123456789abcdef"
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				b = append(b, c)
			}
		}
	}
	return append(b, '"')
}

func appendInt(b []byte, n int64) []byte {
	if n < 0 {
		b = append(b, '-')
		n = -n
	}
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(b, tmp[i:]...)
}

// seal computes derived fields once the event set of a chain is final.
func seal(c *Chain) {
	c.StartTS = c.Events[0].TS
	c.EndTS = c.Events[len(c.Events)-1].TS
	c.ID = chainID(c.Session, c.Agent, c.StartTS)
	c.TypeCounts = make(map[events.Type]int, 8)
	for _, ev := range c.Events {
		c.TypeCounts[ev.Type]++
	}
}

// sortEvents orders by (ts, seq) ascending.
func sortEvents(evs []events.Event) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Before(evs[j]) })
}

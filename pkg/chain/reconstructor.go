package chain

import (
	"strconv"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
)

// Reconstructor groups events into chains. It is CPU-bound and
// deterministic: the same input set always yields the same chain IDs in
// the same order.
type Reconstructor struct {
	cfg Config
}

// NewReconstructor returns a reconstructor with cfg (zero fields take the
// documented defaults).
func NewReconstructor(cfg Config) *Reconstructor {
	return &Reconstructor{cfg: cfg.withDefaults()}
}

type sessionKey struct {
	session string
	agent   string
}

// Build consumes the full event set and returns completed chains. Chains
// with fewer than two events are dropped.
func (r *Reconstructor) Build(evs []events.Event) []*Chain {
	groups := make(map[sessionKey][]events.Event)
	var order []sessionKey
	for _, ev := range evs {
		k := sessionKey{session: ev.Session, agent: ev.Agent}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	var out []*Chain
	for _, k := range order {
		g := groups[k]
		sortEvents(g)
		g = dedup(g)
		out = append(out, r.split(k, g)...)
	}
	return out
}

// BuildFromSeq drains a lazy event sequence and builds chains from it.
func (r *Reconstructor) BuildFromSeq(seq <-chan events.Event) []*Chain {
	var evs []events.Event
	for ev := range seq {
		evs = append(evs, ev)
	}
	return r.Build(evs)
}

// split walks one ordered, deduplicated group and cuts chains at
// lifecycle events, inactivity gaps, run restarts and the size cap.
func (r *Reconstructor) split(k sessionKey, g []events.Event) []*Chain {
	gap := time.Duration(r.cfg.GapMinutes) * time.Minute
	runGap := time.Duration(r.cfg.RunGapMinutes) * time.Minute

	var chains []*Chain
	var cur []events.Event

	flush := func(b BoundaryType) {
		if len(cur) >= 2 {
			c := &Chain{
				Agent:    k.agent,
				Session:  k.session,
				Events:   cur,
				Boundary: b,
			}
			seal(c)
			chains = append(chains, c)
		}
		cur = nil
	}

	for _, ev := range g {
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			delta := time.Duration(ev.TS-prev.TS) * time.Millisecond
			switch {
			case ev.Type == events.TypeSessionStart:
				flush(BoundaryLifecycle)
			case delta > gap:
				flush(BoundaryGap)
			case prev.Type == events.TypeRunEnd && ev.Type == events.TypeRunStart && delta > runGap:
				flush(BoundaryGap)
			case len(cur) >= r.cfg.MaxEventsPerChain:
				flush(BoundaryGap)
			}
		}
		cur = append(cur, ev)
		if ev.Type == events.TypeSessionEnd {
			flush(BoundaryLifecycle)
		}
	}
	// End of input terminates like an inactivity gap.
	flush(BoundaryGap)
	return chains
}

// dedup collapses adjacent duplicates that share the second-resolution
// fingerprint (type, content|toolName+params, agent, session, ts/1000).
// The higher seq survives a collapse.
func dedup(g []events.Event) []events.Event {
	if len(g) < 2 {
		return g
	}
	out := g[:0:0]
	seen := make(map[string]int) // fingerprint → index in out
	for _, ev := range g {
		fp := fingerprint(ev)
		if i, dup := seen[fp]; dup {
			if ev.Seq > out[i].Seq {
				out[i] = ev
			}
			continue
		}
		seen[fp] = len(out)
		out = append(out, ev)
	}
	return out
}

func fingerprint(ev events.Event) string {
	var body string
	switch ev.Type {
	case events.TypeToolCall:
		body = ev.Payload.ToolName + "|" + ev.MarshalParams()
	default:
		body = ev.Content()
	}
	return string(ev.Type) + "\x00" + body + "\x00" + ev.Agent + "\x00" +
		ev.Session + "\x00" + strconv.FormatInt(ev.TS/1000, 10)
}

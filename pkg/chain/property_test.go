package chain

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
)

// Events arrive from the bus in arbitrary order; chains must still come
// out sorted by (ts, seq) and be insensitive to input permutation.
func TestProperty_ChainOrdering(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 150
	properties := gopter.NewProperties(params)

	genEvents := gen.SliceOfN(12, gen.Struct(reflect.TypeOf(events.Event{}), map[string]gopter.Gen{
		"TS":  gen.Int64Range(1_000_000, 1_060_000),
		"Seq": gen.UInt64Range(1, 1000),
	}))

	properties.Property("events inside a chain are (ts, seq) sorted", prop.ForAll(
		func(raw []events.Event) bool {
			evs := materialize(raw)
			r := NewReconstructor(Config{})
			for _, c := range r.Build(evs) {
				for i := 1; i < len(c.Events); i++ {
					a, b := c.Events[i-1], c.Events[i]
					if a.TS > b.TS || (a.TS == b.TS && a.Seq > b.Seq) {
						return false
					}
				}
			}
			return true
		},
		genEvents,
	))

	properties.Property("chain ids are permutation independent", prop.ForAll(
		func(raw []events.Event) bool {
			evs := materialize(raw)
			r := NewReconstructor(Config{})
			forward := r.Build(evs)

			reversed := make([]events.Event, len(evs))
			for i, ev := range evs {
				reversed[len(evs)-1-i] = ev
			}
			backward := r.Build(reversed)

			if len(forward) != len(backward) {
				return false
			}
			ids := make(map[string]bool, len(forward))
			for _, c := range forward {
				ids[c.ID] = true
			}
			for _, c := range backward {
				if !ids[c.ID] {
					return false
				}
			}
			return true
		},
		genEvents,
	))

	properties.TestingRun(t)
}

// materialize fills the fields the generator leaves open, giving every
// event a distinct identity so dedup keeps them all.
func materialize(raw []events.Event) []events.Event {
	out := make([]events.Event, len(raw))
	for i, ev := range raw {
		ev.ID = "ev-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		ev.Agent = "main"
		ev.Session = "s1"
		ev.Type = events.TypeMsgIn
		ev.Payload = events.Payload{Text: ev.ID}
		out[i] = ev
	}
	return out
}

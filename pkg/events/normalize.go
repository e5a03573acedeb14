package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelopeA is the flat legacy schema: all fields at top level with a
// millisecond "ts".
type envelopeA struct {
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Seq     uint64          `json:"seq"`
	Agent   string          `json:"agent"`
	Session string          `json:"session"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// envelopeB is the nested legacy schema emitted by older gateways:
// {timestamp, payload: {data: {phase, name, ...}}, meta: {source}}.
type envelopeB struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Seq       uint64 `json:"seq"`
	Session   string `json:"session"`
	Payload   struct {
		Data map[string]any `json:"data"`
	} `json:"payload"`
	Meta struct {
		Source string `json:"source"`
	} `json:"meta"`
}

// flatPayload is the permissive payload shape accepted from either schema.
type flatPayload struct {
	Text        string         `json:"text"`
	Content     string         `json:"content"`
	Role        string         `json:"role"`
	Channel     string         `json:"channel"`
	ToolName    string         `json:"toolName"`
	Tool        string         `json:"tool"`
	ToolParams  map[string]any `json:"toolParams"`
	Params      map[string]any `json:"params"`
	ToolResult  string         `json:"toolResult"`
	Result      string         `json:"result"`
	ToolError   string         `json:"toolError"`
	ToolIsError bool           `json:"toolIsError"`
	IsError     bool           `json:"isError"`
}

// Normalize converts a raw bus message body into a canonical Event. The
// subject supplies agent and type when the body omits them. Envelopes
// without a timestamp or with an unrecognized type yield ErrDropEvent.
func Normalize(data []byte, subject string, seq uint64) (Event, error) {
	subjAgent, subjType, _ := ParseSubject(subject)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Event{}, fmt.Errorf("%w: unparseable body: %v", ErrDropEvent, err)
	}

	if _, nested := probe["timestamp"]; nested {
		return normalizeB(data, subjAgent, subjType, seq)
	}
	return normalizeA(data, subjAgent, subjType, seq)
}

func normalizeA(data []byte, subjAgent string, subjType Type, seq uint64) (Event, error) {
	var env envelopeA
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: schema A decode: %v", ErrDropEvent, err)
	}
	if env.TS == 0 {
		return Event{}, fmt.Errorf("%w: missing ts", ErrDropEvent)
	}

	typ := Type(env.Type)
	if typ == "" {
		typ = subjType
	}
	if !Known(typ) {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrDropEvent, env.Type)
	}

	agent := env.Agent
	if agent == "" {
		agent = subjAgent
	}
	if env.Seq != 0 {
		seq = env.Seq
	}

	ev := Event{
		ID:      env.ID,
		TS:      env.TS,
		Seq:     seq,
		Agent:   agent,
		Session: env.Session,
		Type:    typ,
	}
	ev.Payload = decodePayload(env.Payload, typ)
	return ev, nil
}

func normalizeB(data []byte, subjAgent string, subjType Type, seq uint64) (Event, error) {
	var env envelopeB
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: schema B decode: %v", ErrDropEvent, err)
	}
	if env.Timestamp == 0 {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrDropEvent)
	}

	d := env.Payload.Data
	typ := subjType
	if phase, _ := d["phase"].(string); phase != "" {
		typ = Type(strings.ReplaceAll(phase, "_", "."))
	}
	if !Known(typ) {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrDropEvent, string(typ))
	}

	agent := env.Meta.Source
	if agent == "" {
		agent = subjAgent
	}
	if env.Seq != 0 {
		seq = env.Seq
	}

	ev := Event{
		ID:      env.ID,
		TS:      env.Timestamp,
		Seq:     seq,
		Agent:   agent,
		Session: env.Session,
		Type:    typ,
	}

	raw, _ := json.Marshal(d)
	ev.Payload = decodePayload(raw, typ)
	if name, _ := d["name"].(string); name != "" && ev.Payload.ToolName == "" {
		ev.Payload.ToolName = name
	}
	return ev, nil
}

// decodePayload maps the permissive wire payload onto the canonical one.
// For tool events both toolResult and toolError/toolIsError variants are
// honored; for messages the role is inferred from the type when absent.
func decodePayload(raw json.RawMessage, typ Type) Payload {
	var fp flatPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fp) // best effort; missing fields stay zero
	}

	p := Payload{
		Role:    fp.Role,
		Channel: fp.Channel,
	}

	p.Text = fp.Text
	if p.Text == "" {
		p.Text = fp.Content
	}

	p.ToolName = fp.ToolName
	if p.ToolName == "" {
		p.ToolName = fp.Tool
	}
	p.ToolParams = fp.ToolParams
	if p.ToolParams == nil {
		p.ToolParams = fp.Params
	}

	p.ToolResult = fp.ToolResult
	if p.ToolResult == "" {
		p.ToolResult = fp.Result
	}
	p.ToolError = fp.ToolIsError || fp.IsError
	if fp.ToolError != "" {
		p.ToolError = true
		if p.ToolResult == "" {
			p.ToolResult = fp.ToolError
		}
	}

	if p.Role == "" {
		switch typ {
		case TypeMsgIn:
			p.Role = "user"
		case TypeMsgOut, TypeMsgSending:
			p.Role = "assistant"
		}
	}

	if len(raw) > 0 {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			p.Raw = m
		}
	}
	return p
}

// Package events defines the canonical agent-trace event model and the
// normalizer that converts the two legacy bus envelope shapes into it.
package events

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDropEvent marks an envelope that must be silently discarded
	// (missing timestamp, unrecognized type, unparseable body).
	ErrDropEvent = errors.New("event dropped")
)

// Type identifies the kind of trace event.
type Type string

const (
	TypeMsgIn            Type = "msg.in"
	TypeMsgOut           Type = "msg.out"
	TypeMsgSending       Type = "msg.sending"
	TypeToolCall         Type = "tool.call"
	TypeToolResult       Type = "tool.result"
	TypeRunStart         Type = "run.start"
	TypeRunEnd           Type = "run.end"
	TypeRunError         Type = "run.error"
	TypeSessionStart     Type = "session.start"
	TypeSessionEnd       Type = "session.end"
	TypeCompactionStart  Type = "session.compaction_start"
	TypeCompactionEnd    Type = "session.compaction_end"
	TypeSessionReset     Type = "session.reset"
	TypeGatewayStart     Type = "gateway.start"
	TypeGatewayStop      Type = "gateway.stop"
	TypeLLMInput         Type = "llm.input"
	TypeLLMOutput        Type = "llm.output"
)

var knownTypes = map[Type]bool{
	TypeMsgIn: true, TypeMsgOut: true, TypeMsgSending: true,
	TypeToolCall: true, TypeToolResult: true,
	TypeRunStart: true, TypeRunEnd: true, TypeRunError: true,
	TypeSessionStart: true, TypeSessionEnd: true,
	TypeCompactionStart: true, TypeCompactionEnd: true, TypeSessionReset: true,
	TypeGatewayStart: true, TypeGatewayStop: true,
	TypeLLMInput: true, TypeLLMOutput: true,
}

// Known reports whether t is one of the recognized event types.
func Known(t Type) bool { return knownTypes[t] }

// IsLifecycle reports whether t opens or closes a session.
func (t Type) IsLifecycle() bool {
	return t == TypeSessionStart || t == TypeSessionEnd
}

// IsMessage reports whether t carries conversational text.
func (t Type) IsMessage() bool {
	return t == TypeMsgIn || t == TypeMsgOut || t == TypeMsgSending
}

// Payload is the flattened tagged union carried by an Event. Which fields
// are populated depends on the event type.
type Payload struct {
	Text       string         `json:"text,omitempty"`
	Role       string         `json:"role,omitempty"` // user | assistant
	Channel    string         `json:"channel,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolParams map[string]any `json:"toolParams,omitempty"`
	ToolResult string         `json:"toolResult,omitempty"`
	ToolError  bool           `json:"toolError,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// Event is the canonical trace event produced by the normalizer.
//
// TS (milliseconds since epoch) is the authoritative ordering key; Seq is
// the bus publish order and only breaks ties.
type Event struct {
	ID      string  `json:"id"`
	TS      int64   `json:"ts"`
	Seq     uint64  `json:"seq"`
	Agent   string  `json:"agent"`
	Session string  `json:"session"`
	Type    Type    `json:"type"`
	Payload Payload `json:"payload"`
}

// Time returns the event timestamp as a time.Time in UTC.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

// Before orders events by (ts, seq).
func (e Event) Before(o Event) bool {
	if e.TS != o.TS {
		return e.TS < o.TS
	}
	return e.Seq < o.Seq
}

// Content returns the human-relevant text of the event: message text for
// message events, the tool result for tool results, empty otherwise.
func (e Event) Content() string {
	switch e.Type {
	case TypeToolResult:
		return e.Payload.ToolResult
	default:
		return e.Payload.Text
	}
}

// MarshalParams renders tool params as compact JSON, empty string on nil.
func (e Event) MarshalParams() string {
	if len(e.Payload.ToolParams) == 0 {
		return ""
	}
	b, err := json.Marshal(e.Payload.ToolParams)
	if err != nil {
		return ""
	}
	return string(b)
}

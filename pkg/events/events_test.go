package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_SchemaA(t *testing.T) {
	body := []byte(`{
		"id": "evt-1",
		"ts": 1700000000000,
		"seq": 42,
		"agent": "main",
		"session": "s1",
		"type": "tool.result",
		"payload": {"toolName": "exec", "result": "Connection refused", "isError": true}
	}`)

	ev, err := Normalize(body, "openclaw.events.main.tool_result", 7)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, int64(1700000000000), ev.TS)
	assert.Equal(t, uint64(42), ev.Seq) // body seq wins over bus seq
	assert.Equal(t, TypeToolResult, ev.Type)
	assert.Equal(t, "exec", ev.Payload.ToolName)
	assert.Equal(t, "Connection refused", ev.Payload.ToolResult)
	assert.True(t, ev.Payload.ToolError)
}

func TestNormalize_SchemaB(t *testing.T) {
	body := []byte(`{
		"id": "evt-2",
		"timestamp": 1700000001000,
		"session": "s1",
		"payload": {"data": {"phase": "msg_out", "text": "Done."}},
		"meta": {"source": "main"}
	}`)

	ev, err := Normalize(body, "openclaw.events.main.msg_out", 3)
	require.NoError(t, err)
	assert.Equal(t, TypeMsgOut, ev.Type)
	assert.Equal(t, "main", ev.Agent)
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, "Done.", ev.Payload.Text)
	assert.Equal(t, "assistant", ev.Payload.Role)
}

func TestNormalize_RoleInference(t *testing.T) {
	body := []byte(`{"id":"e","ts":1,"type":"msg.in","payload":{"text":"hi"}}`)
	ev, err := Normalize(body, "openclaw.events.main.msg_in", 1)
	require.NoError(t, err)
	assert.Equal(t, "user", ev.Payload.Role)
}

func TestNormalize_Drops(t *testing.T) {
	cases := map[string][]byte{
		"missing ts":   []byte(`{"id":"e","type":"msg.in","payload":{}}`),
		"unknown type": []byte(`{"id":"e","ts":5,"type":"weird.kind","payload":{}}`),
		"bad json":     []byte(`{nope`),
	}
	for name, body := range cases {
		_, err := Normalize(body, "openclaw.events.main.msg_in", 1)
		assert.ErrorIs(t, err, ErrDropEvent, name)
	}
}

func TestSubjectRoundTrip(t *testing.T) {
	subj := SubjectFor("openclaw.events", "main", TypeCompactionStart)
	assert.Equal(t, "openclaw.events.main.session_compaction_start", subj)

	agent, typ, ok := ParseSubject(subj)
	require.True(t, ok)
	assert.Equal(t, "main", agent)
	assert.Equal(t, TypeCompactionStart, typ)
}

func TestEventOrdering(t *testing.T) {
	a := Event{TS: 10, Seq: 2}
	b := Event{TS: 10, Seq: 3}
	c := Event{TS: 11, Seq: 1}
	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))
}

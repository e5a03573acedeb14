package events

import "strings"

// Subjects follow <prefix>.<agent>.<event_type_with_underscores>, e.g.
// "openclaw.events.main.msg_in". Dots inside the event type are flattened
// to underscores on the wire and restored on parse.

// SubjectFor builds the bus subject for an (agent, type) pair.
func SubjectFor(prefix, agent string, t Type) string {
	wire := strings.ReplaceAll(string(t), ".", "_")
	return prefix + "." + agent + "." + wire
}

// SubjectGlob returns the wildcard subject covering every event type of
// every agent under the prefix.
func SubjectGlob(prefix string) string {
	return prefix + ".>"
}

// ParseSubject extracts agent and event type from a subject. The prefix
// may itself contain dots; the last token is the type, the second-to-last
// the agent. ok is false when the subject has too few tokens.
func ParseSubject(subject string) (agent string, t Type, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return "", "", false
	}
	agent = parts[len(parts)-2]
	wire := parts[len(parts)-1]
	t = Type(restoreType(wire))
	return agent, t, true
}

// restoreType maps a wire token like "session_compaction_start" back to
// the canonical dotted form. Only the first underscore becomes a dot;
// the session_* lifecycle names keep their inner underscores.
func restoreType(wire string) string {
	i := strings.Index(wire, "_")
	if i < 0 {
		return wire
	}
	return wire[:i] + "." + wire[i+1:]
}

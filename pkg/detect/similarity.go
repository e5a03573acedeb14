package detect

import (
	"fmt"
	"sort"
	"strings"
)

// paramSimilarity scores two tool-call parameter maps in [0,1]. Shell-like
// commands compare by token Jaccard; everything else by Jaccard over the
// flattened JSON leaves.
func paramSimilarity(a, b map[string]any) float64 {
	ca, aShell := shellCommand(a)
	cb, bShell := shellCommand(b)
	if aShell && bShell {
		return jaccard(tokenSet(ca), tokenSet(cb))
	}
	return jaccard(leafSet(a), leafSet(b))
}

// shellCommand extracts a command string from params when present.
func shellCommand(params map[string]any) (string, bool) {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := params[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

// leafSet flattens a JSON-compatible value into "path=value" leaves.
func leafSet(v any) map[string]struct{} {
	out := make(map[string]struct{})
	flatten("", v, out)
	return out
}

func flatten(path string, v any, out map[string]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(path+"."+k, t[k], out)
		}
	case []any:
		for i, e := range t {
			flatten(fmt.Sprintf("%s[%d]", path, i), e, out)
		}
	default:
		out[fmt.Sprintf("%s=%v", path, t)] = struct{}{}
	}
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

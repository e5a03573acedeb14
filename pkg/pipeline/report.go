package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/detect"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/outputs"
)

// Stats summarizes one run.
type Stats struct {
	EventsProcessed int `json:"eventsProcessed"`
	EventsDropped   int `json:"eventsDropped"`
	Chains          int `json:"chains"`
	Findings        int `json:"findings"`
	Outputs         int `json:"outputs"`
	DurationMs      int64 `json:"durationMs"`
}

// KindEffect compares a signal kind's occurrences between the previous
// and the current window. A shrinking count suggests earlier generated
// rules are working.
type KindEffect struct {
	Kind     string `json:"kind"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	Delta    int    `json:"delta"`
}

// AnalysisReport is the persisted result of one pipeline run.
type AnalysisReport struct {
	Version           int               `json:"version"`
	GeneratedAt       int64             `json:"generatedAt"`
	Stats             Stats             `json:"stats"`
	SignalStats       map[string]int    `json:"signalStats"`
	Findings          []*detect.Finding `json:"findings"`
	GeneratedOutputs  []outputs.Output  `json:"generatedOutputs"`
	RuleEffectiveness []KindEffect      `json:"ruleEffectiveness"`
	ProcessingState   ProcessingState   `json:"processingState"`
}

// loadReport returns the previous report if one exists.
func loadReport(path string) (*AnalysisReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: read report: %w", err)
	}
	var r AnalysisReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("pipeline: parse report %s: %w", path, err)
	}
	return &r, nil
}

// effectiveness compares current signal counts against the previous
// report's, covering every kind seen in either window.
func effectiveness(prev *AnalysisReport, current map[string]int) []KindEffect {
	var prevStats map[string]int
	if prev != nil {
		prevStats = prev.SignalStats
	}
	kinds := make(map[string]bool)
	for k := range prevStats {
		kinds[k] = true
	}
	for k := range current {
		kinds[k] = true
	}

	var out []KindEffect
	for k := range kinds {
		out = append(out, KindEffect{
			Kind:     k,
			Previous: prevStats[k],
			Current:  current[k],
			Delta:    current[k] - prevStats[k],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

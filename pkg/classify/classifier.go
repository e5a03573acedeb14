package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/detect"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
)

// Scrubber redacts transcripts before they leave the process. The
// classifier never sees live secrets.
type Scrubber interface {
	ScanText(text string) string
}

// ChatCaller abstracts the endpoint client for testability.
type ChatCaller interface {
	ChatJSON(ctx context.Context, system, user string, maxTokens int) ([]byte, error)
	Model() string
}

// Classifier runs triage then deep analysis over findings.
type Classifier struct {
	triage    ChatCaller // nil disables the triage stage
	deep      ChatCaller
	scrubber  Scrubber
	batchSize int
	maxTokens int
	logger    *slog.Logger
}

// NewClassifier wires the two stages. deep is required; triage may be nil.
func NewClassifier(triage, deep ChatCaller, scrubber Scrubber, batchSize, maxTokens int) *Classifier {
	if batchSize <= 0 {
		batchSize = 4
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Classifier{
		triage:    triage,
		deep:      deep,
		scrubber:  scrubber,
		batchSize: batchSize,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "classifier"),
	}
}

type triageResponse struct {
	Keep     bool   `json:"keep"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

type deepResponse struct {
	RootCause  string   `json:"rootCause"`
	ActionType string   `json:"actionType"`
	ActionText string   `json:"actionText"`
	Confidence *float64 `json:"confidence"`
}

const triageSystem = `You triage findings from agent trace analysis. Given a signal and a ` +
	`conversation transcript, decide whether the finding merits deep analysis. ` +
	`Respond with JSON: {"keep": bool, "severity": "low|medium|high|critical", "reason": string}.`

const deepSystem = `You analyze confirmed findings from agent trace analysis and propose a ` +
	`remediation. Respond with JSON: {"rootCause": string, "actionType": ` +
	`"soul_rule|governance_policy|cortex_pattern|manual_review", "actionText": string, ` +
	`"confidence": number between 0 and 1}.`

// Classify annotates findings in place. Findings rejected by triage are
// removed; the rest keep a classification or nil on failure. Stages run
// concurrently across findings up to batchSize.
func (c *Classifier) Classify(ctx context.Context, findings []*detect.Finding, chains map[string]*chain.Chain) []*detect.Finding {
	if c.deep == nil {
		return findings
	}

	type slot struct {
		finding *detect.Finding
		keep    bool
	}
	slots := make([]slot, len(findings))
	sem := make(chan struct{}, c.batchSize)
	var wg sync.WaitGroup

	for i, f := range findings {
		wg.Add(1)
		go func(i int, f *detect.Finding) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			transcript := c.transcript(chains[f.ChainID])
			keep := c.runTriage(ctx, f, transcript)
			if keep {
				f.Classification = c.runDeep(ctx, f, transcript)
			}
			slots[i] = slot{finding: f, keep: keep}
		}(i, f)
	}
	wg.Wait()

	out := findings[:0]
	for _, s := range slots {
		if s.keep {
			out = append(out, s.finding)
		}
	}
	return out
}

// runTriage returns whether the finding survives. Triage errors keep the
// finding: the external stage may only ever reduce noise, not lose data.
func (c *Classifier) runTriage(ctx context.Context, f *detect.Finding, transcript string) bool {
	if c.triage == nil {
		return true
	}
	user := fmt.Sprintf("signal: %s (%s)\nsummary: %s\n\ntranscript:\n%s",
		f.Signal.Kind, f.Signal.Severity, f.Signal.Summary, transcript)
	raw, err := c.triage.ChatJSON(ctx, triageSystem, user, 256)
	if err != nil {
		c.logger.Warn("triage unavailable, keeping finding", "finding", f.ID, "error", err)
		return true
	}
	var tr triageResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		c.logger.Warn("triage response unparseable, keeping finding", "finding", f.ID, "error", err)
		return true
	}
	if !tr.Keep {
		return false
	}
	if sev := detect.Severity(tr.Severity); sev.Rank() >= 0 && tr.Severity != "" {
		f.Signal.Severity = sev
	}
	return true
}

// runDeep produces a classification or nil on any failure.
func (c *Classifier) runDeep(ctx context.Context, f *detect.Finding, transcript string) *detect.Classification {
	user := fmt.Sprintf("signal: %s (%s)\nsummary: %s\nevidence: %v\n\ntranscript:\n%s",
		f.Signal.Kind, f.Signal.Severity, f.Signal.Summary, f.Signal.Evidence, transcript)
	raw, err := c.deep.ChatJSON(ctx, deepSystem, user, c.maxTokens)
	if err != nil {
		c.logger.Warn("deep analysis unavailable", "finding", f.ID, "error", err)
		return nil
	}
	var dr deepResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		c.logger.Warn("deep analysis response unparseable", "finding", f.ID, "error", err)
		return nil
	}

	actionType := detect.ActionType(dr.ActionType)
	switch actionType {
	case detect.ActionSoulRule, detect.ActionGovernancePolicy, detect.ActionCortexPattern, detect.ActionManualReview:
	default:
		// Surface unknown types in logs instead of silently normalizing.
		c.logger.Warn("unknown actionType from classifier, defaulting to manual_review",
			"finding", f.ID, "actionType", dr.ActionType)
		actionType = detect.ActionManualReview
	}

	confidence := 0.5
	if dr.Confidence != nil {
		confidence = *dr.Confidence
	}

	return &detect.Classification{
		RootCause:  dr.RootCause,
		ActionType: actionType,
		ActionText: dr.ActionText,
		Confidence: confidence,
		Model:      c.deep.Model(),
	}
}

// transcript renders a chain for the model, scrubbed of secrets.
func (c *Classifier) transcript(ch *chain.Chain) string {
	if ch == nil {
		return ""
	}
	var b strings.Builder
	for _, ev := range ch.Events {
		switch ev.Type {
		case events.TypeMsgIn:
			fmt.Fprintf(&b, "user: %s\n", ev.Payload.Text)
		case events.TypeMsgOut, events.TypeMsgSending:
			fmt.Fprintf(&b, "assistant: %s\n", ev.Payload.Text)
		case events.TypeToolCall:
			fmt.Fprintf(&b, "tool-call %s: %s\n", ev.Payload.ToolName, ev.MarshalParams())
		case events.TypeToolResult:
			status := "ok"
			if ev.Payload.ToolError {
				status = "error"
			}
			fmt.Fprintf(&b, "tool-result %s (%s): %s\n", ev.Payload.ToolName, status, ev.Payload.ToolResult)
		}
	}
	text := b.String()
	if c.scrubber != nil {
		text = c.scrubber.ScanText(text)
	}
	return text
}

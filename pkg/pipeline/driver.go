// Package pipeline orchestrates trace analysis runs: event streaming,
// chain reconstruction, detection, classification, output generation
// and report persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/detect"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/eventsource"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/outputs"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/patterns"
)

// EventSource abstracts the bus so the driver can be tested without a
// broker.
type EventSource interface {
	Connect(ctx context.Context) error
	FetchByTimeRange(ctx context.Context, startMs, endMs int64) (<-chan eventsource.Fetched, func() (dropped int, err error))
	Close()
}

// Classifier annotates findings out of band. May be nil.
type Classifier interface {
	Classify(ctx context.Context, findings []*detect.Finding, chains map[string]*chain.Chain) []*detect.Finding
}

// Options configure the driver.
type Options struct {
	WorkspaceDir         string
	ContextWindowMinutes int
	MaxFindings          int
	ReportPath           string // overrides the default location
}

// RunOptions select the window mode for one run.
type RunOptions struct {
	Full bool
}

// Driver runs the analysis pipeline. A second Run while one is in
// flight is a no-op: the driver is single-concurrent per workspace.
type Driver struct {
	opts       Options
	source     EventSource
	recon      *chain.Reconstructor
	registry   *patterns.Registry
	detectors  []detect.Detector
	classifier Classifier

	running sync.Mutex
	now     func() time.Time
	logger  *slog.Logger

	eventsCounter   metric.Int64Counter
	findingsCounter metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// NewDriver wires the pipeline stages.
func NewDriver(opts Options, source EventSource, recon *chain.Reconstructor, registry *patterns.Registry, detectors []detect.Detector, classifier Classifier) *Driver {
	if opts.ContextWindowMinutes <= 0 {
		opts.ContextWindowMinutes = 60
	}
	if opts.MaxFindings <= 0 {
		opts.MaxFindings = 100
	}
	meter := otel.Meter("trace-analyzer")
	eventsCounter, _ := meter.Int64Counter("analyzer.events.processed")
	findingsCounter, _ := meter.Int64Counter("analyzer.findings.total")
	runDuration, _ := meter.Float64Histogram("analyzer.run.duration_ms")
	return &Driver{
		opts:            opts,
		source:          source,
		recon:           recon,
		registry:        registry,
		detectors:       detectors,
		classifier:      classifier,
		now:             time.Now,
		logger:          slog.Default().With("component", "pipeline"),
		eventsCounter:   eventsCounter,
		findingsCounter: findingsCounter,
		runDuration:     runDuration,
	}
}

func (d *Driver) statePath() string {
	return filepath.Join(d.opts.WorkspaceDir, "memory", "reboot", "trace-analyzer-state.json")
}

func (d *Driver) reportPath() string {
	if d.opts.ReportPath != "" {
		return d.opts.ReportPath
	}
	return filepath.Join(d.opts.WorkspaceDir, "memory", "reboot", "trace-analysis-report.json")
}

// State returns the last persisted processing state.
func (d *Driver) State() (ProcessingState, error) { return loadState(d.statePath()) }

// Report returns the last persisted analysis report, or nil.
func (d *Driver) Report() (*AnalysisReport, error) { return loadReport(d.reportPath()) }

// Run executes one analysis pass and returns the persisted report. If
// another run is already in flight, it returns nil immediately.
func (d *Driver) Run(ctx context.Context, ro RunOptions) (*AnalysisReport, error) {
	if !d.running.TryLock() {
		d.logger.Info("analysis already running, skipping invocation")
		return nil, nil
	}
	defer d.running.Unlock()

	started := d.now()
	prevState, err := loadState(d.statePath())
	if err != nil {
		return nil, err
	}
	prevReport, err := loadReport(d.reportPath())
	if err != nil {
		d.logger.Warn("previous report unreadable, effectiveness starts fresh", "error", err)
		prevReport = nil
	}

	startMs, endMs := d.window(prevState, ro)

	if err := d.source.Connect(ctx); err != nil {
		// A missing broker degrades to an empty run rather than failing.
		// State stays where it was so the missed span is retried next run.
		d.logger.Warn("event source unavailable, writing empty report", "error", err)
		return d.finish(ro, prevState, prevReport, nil, nil, nil, 0, 0, started, false)
	}
	defer d.source.Close()

	fetched, errFn := d.source.FetchByTimeRange(ctx, startMs, endMs)
	var evs []events.Event
	var lastSeq uint64
	for f := range fetched {
		evs = append(evs, f.Event)
		if f.Seq > lastSeq {
			lastSeq = f.Seq
		}
	}
	dropped, fetchErr := errFn()
	if fetchErr != nil {
		// A cut stream aborts the run. Advancing state here would skip
		// every event published after the cut for good.
		d.logger.Warn("event fetch aborted", "error", fetchErr, "events", len(evs))
		return nil, fmt.Errorf("pipeline: event fetch: %w", fetchErr)
	}
	d.eventsCounter.Add(ctx, int64(len(evs)))

	chains := d.recon.Build(evs)
	findings := d.detectChains(chains)

	chainIndex := make(map[string]*chain.Chain, len(chains))
	for _, c := range chains {
		chainIndex[c.ID] = c
	}
	if d.classifier != nil {
		findings = d.classifier.Classify(ctx, findings, chainIndex)
	}

	sortFindings(findings)
	if len(findings) > d.opts.MaxFindings {
		findings = findings[:d.opts.MaxFindings]
	}
	d.findingsCounter.Add(ctx, int64(len(findings)))

	generated := outputs.Generate(findings)
	return d.finish(ro, prevState, prevReport, chains, findings, generated, len(evs), dropped, started, true)
}

// window computes the half-open fetch range for this run.
func (d *Driver) window(prev ProcessingState, ro RunOptions) (int64, int64) {
	end := d.now().UnixMilli()
	if ro.Full || prev.LastProcessedTs == 0 {
		return 0, end
	}
	start := prev.LastProcessedTs - int64(d.opts.ContextWindowMinutes)*60_000
	if start < 0 {
		start = 0
	}
	return start, end
}

// detectChains fans detection out across chains; chains are independent.
func (d *Driver) detectChains(chains []*chain.Chain) []*detect.Finding {
	merged := d.registry.Merged()
	now := d.now()

	results := make([][]*detect.Finding, len(chains))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 4)
	for i, c := range chains {
		wg.Add(1)
		go func(i int, c *chain.Chain) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = detect.Run(d.detectors, c, merged, now)
		}(i, c)
	}
	wg.Wait()

	var out []*detect.Finding
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// finish assembles and persists the report. advance selects whether the
// processing state moves forward; degraded runs keep the previous state
// so the unseen span lands inside the next incremental window.
func (d *Driver) finish(ro RunOptions, prevState ProcessingState, prevReport *AnalysisReport, chains []*chain.Chain, findings []*detect.Finding, generated []outputs.Output, eventCount, dropped int, started time.Time, advance bool) (*AnalysisReport, error) {
	now := d.now()

	state := prevState
	if advance {
		state = ProcessingState{
			LastProcessedTs:      now.UnixMilli(),
			TotalEventsProcessed: prevState.TotalEventsProcessed + eventCount,
			TotalFindings:        prevState.TotalFindings + len(findings),
			UpdatedAt:            now.UnixMilli(),
		}
		if ro.Full {
			state.TotalEventsProcessed = eventCount
			state.TotalFindings = len(findings)
		}
		for _, c := range chains {
			for _, ev := range c.Events {
				if ev.Seq > state.LastProcessedSeq {
					state.LastProcessedSeq = ev.Seq
				}
			}
		}
	}

	signalStats := make(map[string]int)
	for _, f := range findings {
		signalStats[string(f.Signal.Kind)]++
	}

	report := &AnalysisReport{
		Version:     1,
		GeneratedAt: now.UnixMilli(),
		Stats: Stats{
			EventsProcessed: eventCount,
			EventsDropped:   dropped,
			Chains:          len(chains),
			Findings:        len(findings),
			Outputs:         len(generated),
			DurationMs:      now.Sub(started).Milliseconds(),
		},
		SignalStats:       signalStats,
		Findings:          findings,
		GeneratedOutputs:  generated,
		RuleEffectiveness: effectiveness(prevReport, signalStats),
		ProcessingState:   state,
	}
	if report.Findings == nil {
		report.Findings = []*detect.Finding{}
	}
	if report.GeneratedOutputs == nil {
		report.GeneratedOutputs = []outputs.Output{}
	}

	// State persists first: if the report write fails the next run still
	// resumes from the right place.
	if advance {
		if err := writeJSONAtomic(d.statePath(), state); err != nil {
			return nil, err
		}
	}
	if err := writeJSONAtomic(d.reportPath(), report); err != nil {
		return nil, err
	}
	d.runDuration.Record(context.Background(), float64(report.Stats.DurationMs))
	d.logger.Info("analysis run complete",
		"events", eventCount, "chains", len(chains),
		"findings", len(findings), "outputs", len(generated),
		"durationMs", report.Stats.DurationMs)
	return report, nil
}

// sortFindings orders by severity, then detection time for stability.
func sortFindings(findings []*detect.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Signal.Severity.Rank(), findings[j].Signal.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].OccurredAt < findings[j].OccurredAt
	})
}

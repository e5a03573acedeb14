package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/audit"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/chain"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/claims"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/classify"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/config"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/crossagent"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/detect"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/eventsource"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/governance"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/patterns"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/pipeline"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/policy"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/redact"
	"github.com/alberthild/vainplex-openclaw-sub000/pkg/trust"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "trace-analyze":
		return runTraceAnalyze(args[2:], stdout, stderr)
	case "trace-status":
		return runTraceStatus(args[2:], stdout, stderr)
	case "trace-watch":
		return runTraceWatch(args[2:], stdout, stderr)
	case "governance":
		if len(args) < 3 || args[2] != "status" {
			_, _ = fmt.Fprintln(stderr, "Usage: sentinel governance status")
			return 2
		}
		return runGovernanceStatus(args[3:], stdout, stderr)
	case "eventstatus":
		return runEventStatus(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: sentinel <command>

Commands:
  trace-analyze [--full]   run trace analysis (incremental by default)
  trace-watch              run analysis on the configured schedule until interrupted
  trace-status             show last analysis state and report summary
  governance status        show loaded policies and trust records
  eventstatus              probe the event bus stream`)
}

// commonFlags parses flags shared by every command.
func commonFlags(fs *flag.FlagSet) (configPath, workspace *string) {
	configPath = fs.String("config", "sentinel.json", "configuration file (json, yaml or toml)")
	workspace = fs.String("workspace", ".", "workspace root directory")
	return
}

func runTraceAnalyze(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trace-analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	full := fs.Bool("full", false, "reprocess the whole event history")
	configPath, workspace := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver, cleanup := buildDriver(cfg, *workspace)
	defer cleanup()

	report, err := driver.Run(ctx, pipeline.RunOptions{Full: *full})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "analysis failed:", err)
		return 1
	}
	if report == nil {
		_, _ = fmt.Fprintln(stdout, "analysis already running, skipped")
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "analyzed %d events, %d chains, %d findings, %d outputs (%dms)\n",
		report.Stats.EventsProcessed, report.Stats.Chains,
		report.Stats.Findings, report.Stats.Outputs, report.Stats.DurationMs)
	for kind, n := range report.SignalStats {
		_, _ = fmt.Fprintf(stdout, "  %s: %d\n", kind, n)
	}
	return 0
}

func runTraceWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trace-watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, workspace := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver, cleanup := buildDriver(cfg, *workspace)
	defer cleanup()

	// One immediate incremental run, then the ticker takes over.
	if _, err := driver.Run(ctx, pipeline.RunOptions{}); err != nil {
		_, _ = fmt.Fprintln(stderr, "analysis failed:", err)
	}
	sched := pipeline.NewScheduler(driver, cfg.TraceAnalyzer.Schedule.IntervalHours)
	sched.Start(ctx)
	_, _ = fmt.Fprintf(stdout, "watching, analysis every %dh (ctrl-c to stop)\n",
		cfg.TraceAnalyzer.Schedule.IntervalHours)
	<-ctx.Done()
	sched.Stop()
	return 0
}

func runTraceStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trace-status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, workspace := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}

	driver, cleanup := buildDriver(cfg, *workspace)
	defer cleanup()

	state, err := driver.State()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "state unreadable:", err)
		return 1
	}
	if state.UpdatedAt == 0 {
		_, _ = fmt.Fprintln(stdout, "no analysis has run yet")
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "last run: %s\nevents processed: %d\nfindings: %d\n",
		time.UnixMilli(state.UpdatedAt).UTC().Format(time.RFC3339),
		state.TotalEventsProcessed, state.TotalFindings)

	if report, err := driver.Report(); err == nil && report != nil {
		_, _ = fmt.Fprintf(stdout, "last report: %d findings, %d outputs\n",
			report.Stats.Findings, report.Stats.Outputs)
	}
	return 0
}

func runGovernanceStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("governance-status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, workspace := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}

	engine, cleanup, err := buildEngine(cfg, *workspace)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}
	defer cleanup()

	st := engine.Status()
	_, _ = fmt.Fprintf(stdout, "governance: enabled=%v failMode=%s policies=%d\n",
		st.Enabled, st.FailMode, st.Policies)
	for agent, rec := range st.Agents {
		_, _ = fmt.Fprintf(stdout, "  %s: score=%.1f tier=%s successes=%d violations=%d\n",
			agent, rec.Score, rec.Tier, rec.SuccessCount, rec.ViolationCount)
	}
	return 0
}

func runEventStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eventstatus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "configuration error:", err)
		return 1
	}

	src := eventsource.New(natsOptions(cfg))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := src.Connect(ctx); err != nil {
		// Missing external services degrade, they do not fail the command.
		_, _ = fmt.Fprintf(stdout, "event bus unreachable: %v\n", err)
		return 0
	}
	st, err := src.ProbeStatus(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "stream probe failed: %v\n", err)
		return 0
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

func natsOptions(cfg config.Config) eventsource.Options {
	n := cfg.TraceAnalyzer.NATS
	return eventsource.Options{
		URL:             n.URL,
		Stream:          n.Stream,
		SubjectPrefix:   n.SubjectPrefix,
		CredentialsFile: n.CredentialsFile,
		User:            n.User,
		Password:        n.Password,
	}
}

// buildDriver assembles the analysis pipeline from configuration.
func buildDriver(cfg config.Config, workspace string) (*pipeline.Driver, func()) {
	src := eventsource.New(natsOptions(cfg))

	registry := patterns.NewRegistry()
	if err := registry.LoadRemaining(context.Background()); err != nil {
		slog.Warn("extended language packs unavailable", "error", err)
	}

	cleanup := src.Close
	var classifier pipeline.Classifier
	if llm := cfg.TraceAnalyzer.LLM; llm.Enabled {
		timeout := time.Duration(llm.TimeoutMs) * time.Millisecond
		deep := classify.NewClient(llm.Endpoint, llm.Model, llm.APIKey, timeout)
		var triage classify.ChatCaller
		if llm.Triage.Endpoint != "" {
			triage = classify.NewClient(llm.Triage.Endpoint, llm.Triage.Model, llm.APIKey,
				time.Duration(llm.Triage.TimeoutMs)*time.Millisecond)
		}
		vault := redact.NewVault(time.Duration(cfg.Redaction.VaultExpirySeconds)*time.Second, time.Minute)
		scrubber := redact.NewEngine(redact.NewCatalog(), vault, redact.Allowlist{})
		classifier = classify.NewClassifier(triage, deep, scrubber, llm.BatchSize, 1024)
		cleanup = func() {
			src.Close()
			vault.Close()
		}
	}

	driver := pipeline.NewDriver(
		pipeline.Options{
			WorkspaceDir:         workspace,
			ContextWindowMinutes: cfg.TraceAnalyzer.IncrementalContextWindow,
			MaxFindings:          cfg.TraceAnalyzer.Output.MaxFindings,
			ReportPath:           cfg.TraceAnalyzer.Output.ReportPath,
		},
		src,
		chain.NewReconstructor(chain.Config{}),
		registry,
		detect.All(),
		classifier,
	)
	return driver, cleanup
}

// buildEngine assembles the governance side from configuration.
func buildEngine(cfg config.Config, workspace string) (*governance.Engine, func(), error) {
	failMode := policy.FailMode(cfg.FailMode)

	evaluator, err := policy.NewEvaluator(failMode, cfg.Performance.FrequencyBufferSize)
	if err != nil {
		return nil, nil, err
	}
	loader, err := policy.NewLoader()
	if err != nil {
		return nil, nil, err
	}
	policies, err := loader.LoadDir(filepath.Join(workspace, "governance", "policies"))
	if err != nil {
		return nil, nil, err
	}
	if err := evaluator.Load(policies); err != nil {
		return nil, nil, err
	}

	tm, err := trust.NewManager(trust.Options{
		Enabled:                cfg.Trust.Enabled,
		Path:                   filepath.Join(workspace, "governance", "trust.json"),
		Defaults:               cfg.Trust.Defaults,
		PersistIntervalSeconds: cfg.Trust.PersistIntervalSeconds,
		Decay: trust.DecayOptions{
			Enabled:        cfg.Trust.Decay.Enabled,
			InactivityDays: cfg.Trust.Decay.InactivityDays,
			Rate:           cfg.Trust.Decay.Rate,
		},
		MaxHistoryPerAgent: cfg.Trust.MaxHistoryPerAgent,
		Weights:            trustWeights(cfg.Trust.Weights),
	})
	if err != nil {
		return nil, nil, err
	}

	vault := redact.NewVault(time.Duration(cfg.Redaction.VaultExpirySeconds)*time.Second, time.Minute)
	redactor := redact.NewEngine(redact.NewCatalog(), vault, redact.Allowlist{
		PIIAllowedChannels:       cfg.Redaction.Allowlist.PIIAllowedChannels,
		FinancialAllowedChannels: cfg.Redaction.Allowlist.FinancialAllowedChannels,
		ExemptTools:              cfg.Redaction.Allowlist.ExemptTools,
		ExemptAgents:             cfg.Redaction.Allowlist.ExemptAgents,
	})

	trail := audit.NewTrail(audit.Options{
		Enabled:       cfg.Audit.Enabled,
		Dir:           filepath.Join(workspace, "governance", "audit"),
		RetentionDays: cfg.Audit.RetentionDays,
		Level:         audit.Level(cfg.Audit.Level),
		RedactKeys:    cfg.Audit.RedactPatterns,
	})

	engine := governance.NewEngine(
		governance.Options{
			Enabled:   cfg.Enabled,
			FailMode:  failMode,
			MaxEvalUs: cfg.Performance.MaxEvalUs,
		},
		evaluator, tm, crossagent.NewManager(tm), redactor, trail,
		buildValidator(cfg, workspace),
	)
	cleanup := func() {
		_ = trail.Close()
		_ = tm.Close()
		vault.Close()
	}
	return engine, cleanup, nil
}

// trustWeights maps the configured weight knobs onto the manager's
// weights. An empty map keeps the manager defaults; absent keys keep
// the default for that knob.
func trustWeights(w map[string]float64) trust.Weights {
	if len(w) == 0 {
		return trust.Weights{}
	}
	out := trust.Weights{Success: 0.2, StreakBonus: 1, StreakEvery: 10, Violation: 5, AgePerDay: 0.05}
	if v, ok := w["success"]; ok {
		out.Success = v
	}
	if v, ok := w["streakBonus"]; ok {
		out.StreakBonus = v
	}
	if v, ok := w["streakEvery"]; ok {
		out.StreakEvery = int(v)
	}
	if v, ok := w["violation"]; ok {
		out.Violation = v
	}
	if v, ok := w["agePerDay"]; ok {
		out.AgePerDay = v
	}
	return out
}

// buildValidator assembles the outbound fact-checker. Returns nil when
// validation is disabled or no LLM endpoint is configured.
func buildValidator(cfg config.Config, workspace string) *claims.Validator {
	vc := cfg.OutputValidation
	llm := cfg.TraceAnalyzer.LLM
	if !vc.Enabled || !vc.LLMValidator.Enabled || llm.Endpoint == "" {
		return nil
	}
	model := vc.LLMValidator.Model
	if model == "" {
		model = llm.Model
	}
	caller := classify.NewClient(llm.Endpoint, model, llm.APIKey,
		time.Duration(vc.LLMValidator.TimeoutMs)*time.Millisecond)
	return claims.NewValidator(caller, loadFacts(workspace, vc.FactRegistries), claims.ValidatorOptions{
		Enabled:          true,
		MaxTokens:        vc.LLMValidator.MaxTokens,
		FailMode:         cfg.FailMode,
		ExternalChannels: vc.LLMValidator.ExternalChannels,
		ExternalCommands: vc.LLMValidator.ExternalCommands,
	})
}

// loadFacts merges the configured fact-registry JSON files. Later
// registries win on key collisions; unreadable files are skipped.
func loadFacts(workspace string, registries []string) map[string]any {
	facts := map[string]any{}
	for _, reg := range registries {
		path := reg
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("fact registry unreadable", "path", path, "error", err)
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			slog.Warn("fact registry malformed", "path", path, "error", err)
			continue
		}
		for k, v := range m {
			facts[k] = v
		}
	}
	return facts
}

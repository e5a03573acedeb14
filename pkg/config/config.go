// Package config loads the governance and trace-analyzer configuration
// from JSON, YAML or TOML. Unknown keys warn instead of failing, and
// invalid values fall back to documented defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the single configuration object for all subsystems.
type Config struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Timezone string `json:"timezone" yaml:"timezone" toml:"timezone"`
	FailMode string `json:"failMode" yaml:"failMode" toml:"failMode"` // open | closed

	Trust            TrustConfig       `json:"trust" yaml:"trust" toml:"trust"`
	Audit            AuditConfig       `json:"audit" yaml:"audit" toml:"audit"`
	Performance      PerformanceConfig `json:"performance" yaml:"performance" toml:"performance"`
	OutputValidation ValidationConfig  `json:"outputValidation" yaml:"outputValidation" toml:"outputValidation"`
	Redaction        RedactionConfig   `json:"redaction" yaml:"redaction" toml:"redaction"`
	TraceAnalyzer    AnalyzerConfig    `json:"traceAnalyzer" yaml:"traceAnalyzer" toml:"traceAnalyzer"`
}

type TrustConfig struct {
	Enabled                bool               `json:"enabled" yaml:"enabled" toml:"enabled"`
	Defaults               map[string]float64 `json:"defaults" yaml:"defaults" toml:"defaults"`
	PersistIntervalSeconds int                `json:"persistIntervalSeconds" yaml:"persistIntervalSeconds" toml:"persistIntervalSeconds"`
	Decay                  DecayConfig        `json:"decay" yaml:"decay" toml:"decay"`
	MaxHistoryPerAgent     int                `json:"maxHistoryPerAgent" yaml:"maxHistoryPerAgent" toml:"maxHistoryPerAgent"`
	Weights                map[string]float64 `json:"weights" yaml:"weights" toml:"weights"`
}

type DecayConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	InactivityDays int     `json:"inactivityDays" yaml:"inactivityDays" toml:"inactivityDays"`
	Rate           float64 `json:"rate" yaml:"rate" toml:"rate"`
}

type AuditConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	RetentionDays  int      `json:"retentionDays" yaml:"retentionDays" toml:"retentionDays"`
	Level          string   `json:"level" yaml:"level" toml:"level"` // minimal | standard | verbose
	RedactPatterns []string `json:"redactPatterns" yaml:"redactPatterns" toml:"redactPatterns"`
}

type PerformanceConfig struct {
	MaxEvalUs           int64 `json:"maxEvalUs" yaml:"maxEvalUs" toml:"maxEvalUs"`
	MaxContextMessages  int   `json:"maxContextMessages" yaml:"maxContextMessages" toml:"maxContextMessages"`
	FrequencyBufferSize int   `json:"frequencyBufferSize" yaml:"frequencyBufferSize" toml:"frequencyBufferSize"`
}

type ValidationConfig struct {
	Enabled                 bool                `json:"enabled" yaml:"enabled" toml:"enabled"`
	EnabledDetectors        []string            `json:"enabledDetectors" yaml:"enabledDetectors" toml:"enabledDetectors"`
	FactRegistries          []string            `json:"factRegistries" yaml:"factRegistries" toml:"factRegistries"`
	ContradictionThresholds ThresholdConfig     `json:"contradictionThresholds" yaml:"contradictionThresholds" toml:"contradictionThresholds"`
	LLMValidator            LLMValidatorConfig  `json:"llmValidator" yaml:"llmValidator" toml:"llmValidator"`
}

type ThresholdConfig struct {
	FlagAbove  float64 `json:"flagAbove" yaml:"flagAbove" toml:"flagAbove"`
	BlockBelow float64 `json:"blockBelow" yaml:"blockBelow" toml:"blockBelow"`
}

type LLMValidatorConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Model            string   `json:"model" yaml:"model" toml:"model"`
	MaxTokens        int      `json:"maxTokens" yaml:"maxTokens" toml:"maxTokens"`
	TimeoutMs        int      `json:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
	ExternalChannels []string `json:"externalChannels" yaml:"externalChannels" toml:"externalChannels"`
	ExternalCommands []string `json:"externalCommands" yaml:"externalCommands" toml:"externalCommands"`
}

type RedactionConfig struct {
	Enabled            bool            `json:"enabled" yaml:"enabled" toml:"enabled"`
	Categories         []string        `json:"categories" yaml:"categories" toml:"categories"`
	VaultExpirySeconds int             `json:"vaultExpirySeconds" yaml:"vaultExpirySeconds" toml:"vaultExpirySeconds"`
	FailMode           string          `json:"failMode" yaml:"failMode" toml:"failMode"`
	CustomPatterns     []CustomPattern `json:"customPatterns" yaml:"customPatterns" toml:"customPatterns"`
	Allowlist          AllowlistConfig `json:"allowlist" yaml:"allowlist" toml:"allowlist"`
	PerformanceBudget  int             `json:"performanceBudgetMs" yaml:"performanceBudgetMs" toml:"performanceBudgetMs"`
}

type CustomPattern struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Regex    string `json:"regex" yaml:"regex" toml:"regex"`
	Category string `json:"category" yaml:"category" toml:"category"`
}

type AllowlistConfig struct {
	PIIAllowedChannels       []string `json:"piiAllowedChannels" yaml:"piiAllowedChannels" toml:"piiAllowedChannels"`
	FinancialAllowedChannels []string `json:"financialAllowedChannels" yaml:"financialAllowedChannels" toml:"financialAllowedChannels"`
	ExemptTools              []string `json:"exemptTools" yaml:"exemptTools" toml:"exemptTools"`
	ExemptAgents             []string `json:"exemptAgents" yaml:"exemptAgents" toml:"exemptAgents"`
}

type AnalyzerConfig struct {
	Enabled                  bool           `json:"enabled" yaml:"enabled" toml:"enabled"`
	IncrementalContextWindow int            `json:"incrementalContextWindow" yaml:"incrementalContextWindow" toml:"incrementalContextWindow"` // minutes
	Schedule                 ScheduleConfig `json:"schedule" yaml:"schedule" toml:"schedule"`
	Output                   OutputConfig   `json:"output" yaml:"output" toml:"output"`
	NATS                     NATSConfig     `json:"nats" yaml:"nats" toml:"nats"`
	LLM                      LLMConfig      `json:"llm" yaml:"llm" toml:"llm"`
}

type ScheduleConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	IntervalHours int  `json:"intervalHours" yaml:"intervalHours" toml:"intervalHours"`
}

type OutputConfig struct {
	MaxFindings int    `json:"maxFindings" yaml:"maxFindings" toml:"maxFindings"`
	ReportPath  string `json:"reportPath" yaml:"reportPath" toml:"reportPath"`
}

type NATSConfig struct {
	URL             string `json:"url" yaml:"url" toml:"url"`
	Stream          string `json:"stream" yaml:"stream" toml:"stream"`
	SubjectPrefix   string `json:"subjectPrefix" yaml:"subjectPrefix" toml:"subjectPrefix"`
	CredentialsFile string `json:"credentialsFile" yaml:"credentialsFile" toml:"credentialsFile"`
	User            string `json:"user" yaml:"user" toml:"user"`
	Password        string `json:"password" yaml:"password" toml:"password"`
}

type LLMConfig struct {
	Enabled   bool         `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint  string       `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Model     string       `json:"model" yaml:"model" toml:"model"`
	APIKey    string       `json:"apiKey" yaml:"apiKey" toml:"apiKey"`
	TimeoutMs int          `json:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
	BatchSize int          `json:"batchSize" yaml:"batchSize" toml:"batchSize"`
	Triage    TriageConfig `json:"triage" yaml:"triage" toml:"triage"`
}

type TriageConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Model     string `json:"model" yaml:"model" toml:"model"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Enabled:  true,
		Timezone: "UTC",
		FailMode: "open",
		Trust: TrustConfig{
			Enabled:                true,
			Defaults:               map[string]float64{"*": 50},
			PersistIntervalSeconds: 60,
			Decay:                  DecayConfig{InactivityDays: 14, Rate: 0.99},
			MaxHistoryPerAgent:     50,
		},
		Audit: AuditConfig{Enabled: true, RetentionDays: 90, Level: "standard"},
		Performance: PerformanceConfig{
			MaxEvalUs:           5000,
			MaxContextMessages:  40,
			FrequencyBufferSize: 64,
		},
		OutputValidation: ValidationConfig{
			ContradictionThresholds: ThresholdConfig{FlagAbove: 0.5, BlockBelow: 0.2},
			LLMValidator:            LLMValidatorConfig{MaxTokens: 512, TimeoutMs: 10000},
		},
		Redaction: RedactionConfig{
			Enabled:            true,
			Categories:         []string{"credential", "pii", "financial"},
			VaultExpirySeconds: 3600,
			FailMode:           "closed",
			PerformanceBudget:  50,
		},
		TraceAnalyzer: AnalyzerConfig{
			Enabled:                  true,
			IncrementalContextWindow: 60,
			Schedule:                 ScheduleConfig{IntervalHours: 6},
			Output:                   OutputConfig{MaxFindings: 100},
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				Stream:        "events",
				SubjectPrefix: "openclaw.events",
			},
			LLM: LLMConfig{TimeoutMs: 30000, BatchSize: 4},
		},
	}
}

// Load reads path and merges it over the defaults. The format follows
// the file extension: .json, .yaml/.yml, or .toml. A missing file
// returns pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return cfg, fmt.Errorf("config: unsupported extension on %s", path)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	warnUnknownKeys(raw)

	// Round-trip through JSON merges the parsed map over the defaults
	// regardless of the source format.
	merged, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("config: normalize %s: %w", path, err)
	}
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.sanitize()
	return cfg, nil
}

var knownTopLevel = map[string]bool{
	"enabled": true, "timezone": true, "failMode": true,
	"trust": true, "audit": true, "performance": true,
	"outputValidation": true, "redaction": true, "traceAnalyzer": true,
}

func warnUnknownKeys(raw map[string]any) {
	logger := slog.Default().With("component", "config")
	for k := range raw {
		if !knownTopLevel[k] {
			logger.Warn("ignoring unknown configuration key", "key", k)
		}
	}
}

// sanitize replaces invalid values with defaults rather than failing.
func (c *Config) sanitize() {
	if c.FailMode != "open" && c.FailMode != "closed" {
		c.FailMode = "open"
	}
	if c.Audit.Level != "minimal" && c.Audit.Level != "standard" && c.Audit.Level != "verbose" {
		c.Audit.Level = "standard"
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Performance.MaxEvalUs <= 0 {
		c.Performance.MaxEvalUs = 5000
	}
	if c.Performance.FrequencyBufferSize <= 0 {
		c.Performance.FrequencyBufferSize = 64
	}
	if c.Redaction.VaultExpirySeconds <= 0 {
		c.Redaction.VaultExpirySeconds = 3600
	}
	if c.TraceAnalyzer.IncrementalContextWindow <= 0 {
		c.TraceAnalyzer.IncrementalContextWindow = 60
	}
	if c.TraceAnalyzer.Output.MaxFindings <= 0 {
		c.TraceAnalyzer.Output.MaxFindings = 100
	}
	if c.TraceAnalyzer.Schedule.IntervalHours <= 0 {
		c.TraceAnalyzer.Schedule.IntervalHours = 6
	}
	if c.TraceAnalyzer.LLM.BatchSize <= 0 {
		c.TraceAnalyzer.LLM.BatchSize = 4
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration
type Config struct {
	Profile    string           `yaml:"profile"`
	Models     ModelsConfig     `yaml:"models"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Escalation EscalationConfig `yaml:"escalation"`
	Batch      BatchConfig      `yaml:"batch"`
	Report     ReportConfig     `yaml:"report"`
}

// Duration lets YAML carry durations as "90s"-style strings, which
// yaml.v3 does not decode into time.Duration on its own.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// TierConfig configures one model endpoint.
type TierConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	Timeout     Duration `yaml:"timeout"`
	UnitCost    float64  `yaml:"unit_cost"` // dollars per call, drives the savings estimate
	Temperature float32  `yaml:"temperature"`
}

// ModelsConfig holds per-tier endpoints plus the shared retry policy.
type ModelsConfig struct {
	Tier1 TierConfig `yaml:"tier1"`
	Tier2 TierConfig `yaml:"tier2"`
	Tier3 TierConfig `yaml:"tier3"`

	RetryMaxAttempts int      `yaml:"retry_max_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	RetryMultiplier  float64  `yaml:"retry_multiplier"`
}

// ExtractionConfig holds chunking and confidence thresholds.
type ExtractionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	FinancialTolerance  float64 `yaml:"financial_tolerance"` // fraction, e.g. 0.005
	MaxChunkTokens      int     `yaml:"max_chunk_tokens"`
	OverlapTokens       int     `yaml:"overlap_tokens"`
	FieldSchemaPath     string  `yaml:"field_schema_path"`
}

// EscalationConfig caps re-extraction per document.
type EscalationConfig struct {
	Tier2Budget int `yaml:"tier2_budget"` // max tier-2 escalations per document
	Tier3Budget int `yaml:"tier3_budget"` // max tier-3 escalations per document, critical fields only
}

// BatchConfig holds orchestrator settings.
type BatchConfig struct {
	Workers        int     `yaml:"workers"`
	MaxAttempts    int     `yaml:"max_attempts"`
	CheckpointPath string  `yaml:"checkpoint_path"`
	RatePerSecond  float64 `yaml:"rate_per_second"` // token-bucket refill for cloud tiers
	RateBurst      int     `yaml:"rate_burst"`
}

// ReportConfig holds output settings.
type ReportConfig struct {
	OutputPath string `yaml:"output_path"`
}

// Named profiles bundle threshold/budget defaults (§ configuration surface).
const (
	ProfileCostOptimized    = "cost-optimized"
	ProfileQualityOptimized = "quality-optimized"
)

// DefaultConfig returns the cost-optimized baseline.
func DefaultConfig() *Config {
	cfg := &Config{
		Profile: ProfileCostOptimized,
		Models: ModelsConfig{
			Tier1: TierConfig{
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3.1:8b",
				Timeout: Duration(60 * time.Second),
			},
			Tier2: TierConfig{
				Model:    "claude-3-5-haiku-latest",
				Timeout:  Duration(90 * time.Second),
				UnitCost: 0.01,
			},
			Tier3: TierConfig{
				Model:    "claude-sonnet-4-5",
				Timeout:  Duration(120 * time.Second),
				UnitCost: 0.06,
			},
			RetryMaxAttempts: 3,
			RetryBaseDelay:   Duration(500 * time.Millisecond),
			RetryMultiplier:  2.0,
		},
		Extraction: ExtractionConfig{
			ConfidenceThreshold: 0.75,
			FinancialTolerance:  0.005,
			MaxChunkTokens:      8000,
			OverlapTokens:       1000,
		},
		Escalation: EscalationConfig{
			Tier2Budget: 6,
			Tier3Budget: 2,
		},
		Batch: BatchConfig{
			Workers:        4,
			MaxAttempts:    3,
			CheckpointPath: "./checkpoint.db",
			RatePerSecond:  2,
			RateBurst:      4,
		},
		Report: ReportConfig{
			OutputPath: "./batch-summary.xlsx",
		},
	}
	return cfg
}

// ApplyProfile overwrites the tunables a named profile controls. Unknown
// profile names are an error so typos don't silently run cost-optimized.
func (c *Config) ApplyProfile(name string) error {
	switch name {
	case "", ProfileCostOptimized:
		c.Profile = ProfileCostOptimized
		c.Extraction.ConfidenceThreshold = 0.75
		c.Escalation.Tier2Budget = 6
		c.Escalation.Tier3Budget = 2
	case ProfileQualityOptimized:
		c.Profile = ProfileQualityOptimized
		c.Extraction.ConfidenceThreshold = 0.85
		c.Escalation.Tier2Budget = 15
		c.Escalation.Tier3Budget = 5
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown profile %q", name), ErrInvalidInput)
	}
	return nil
}

// LoadConfig builds the effective configuration: defaults, then the named
// profile, then the YAML file (if present), then env overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	var raw []byte
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
		raw = b
	}

	// Peek at the profile first so file values override profile presets.
	if len(raw) > 0 {
		var peek struct {
			Profile string `yaml:"profile"`
		}
		if err := yaml.Unmarshal(raw, &peek); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "parse config file", err)
		}
		if err := cfg.ApplyProfile(peek.Profile); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "parse config file", err)
		}
	}

	// Env vars override YAML values
	envOverride(&cfg.Models.Tier1.BaseURL, "TIER1_BASE_URL")
	envOverride(&cfg.Models.Tier1.Model, "TIER1_MODEL")
	envOverride(&cfg.Models.Tier1.APIKey, "TIER1_API_KEY")
	envOverride(&cfg.Models.Tier2.Model, "TIER2_MODEL")
	envOverride(&cfg.Models.Tier2.APIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.Models.Tier3.Model, "TIER3_MODEL")
	envOverride(&cfg.Models.Tier3.APIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.Batch.CheckpointPath, "CHECKPOINT_PATH")
	envOverride(&cfg.Report.OutputPath, "REPORT_OUTPUT_PATH")
	envOverride(&cfg.Extraction.FieldSchemaPath, "FIELD_SCHEMA_PATH")
	envOverrideFloat(&cfg.Extraction.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	envOverrideFloat(&cfg.Extraction.FinancialTolerance, "FINANCIAL_TOLERANCE")
	envOverrideInt(&cfg.Batch.Workers, "BATCH_WORKERS")
	envOverrideInt(&cfg.Batch.MaxAttempts, "BATCH_MAX_ATTEMPTS")
	envOverrideInt(&cfg.Escalation.Tier2Budget, "TIER2_BUDGET")
	envOverrideInt(&cfg.Escalation.Tier3Budget, "TIER3_BUDGET")

	return cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Extraction.ConfidenceThreshold <= 0 || c.Extraction.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "confidence_threshold must be in (0,1]", ErrInvalidInput)
	}
	if c.Extraction.FinancialTolerance < 0 {
		return NewAppError("CONFIG_ERROR", "financial_tolerance must be >= 0", ErrInvalidInput)
	}
	if c.Extraction.MaxChunkTokens <= 0 {
		return NewAppError("CONFIG_ERROR", "max_chunk_tokens must be positive", ErrInvalidInput)
	}
	if c.Extraction.OverlapTokens < 0 || c.Extraction.OverlapTokens >= c.Extraction.MaxChunkTokens {
		return NewAppError("CONFIG_ERROR", "overlap_tokens must be in [0, max_chunk_tokens)", ErrInvalidInput)
	}
	if c.Batch.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "workers must be positive", ErrInvalidInput)
	}
	if c.Batch.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "max_attempts must be positive", ErrInvalidInput)
	}
	if c.Batch.CheckpointPath == "" {
		return NewAppError("CONFIG_ERROR", "checkpoint_path is required", ErrInvalidInput)
	}
	if c.Escalation.Tier2Budget < 0 || c.Escalation.Tier3Budget < 0 {
		return NewAppError("CONFIG_ERROR", "escalation budgets must be >= 0", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable overrides
func envOverride(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func envOverrideInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			*target = intVal
		}
	}
}

func envOverrideFloat(target *float64, key string) {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			*target = floatVal
		}
	}
}

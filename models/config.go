package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RateConfig describes one token bucket.
type RateConfig struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// OCRConfig configures the OCR stage.
type OCRConfig struct {
	Engine      string     `yaml:"engine"` // gemini | tesseract
	Model       string     `yaml:"model"`
	Rate        RateConfig `yaml:"rate"`
	MaxAttempts int        `yaml:"max_attempts"`
}

// LLMConfig configures the translate+extract stage.
type LLMConfig struct {
	Model          string     `yaml:"model"`
	TargetLanguage string     `yaml:"target_language"`
	Rate           RateConfig `yaml:"rate"`
	MaxAttempts    int        `yaml:"max_attempts"`
}

// WalkerConfig configures the tree walker's retry behaviour.
type WalkerConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// PipelineConfig configures the scheduler.
type PipelineConfig struct {
	Workers              int     `yaml:"workers"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	MinFailureSample     int     `yaml:"min_failure_sample"`
}

// Config holds all policy knobs. Retry counts, rate budgets and the circuit
// breaker threshold are configuration, not constants baked into the code.
type Config struct {
	OCR      OCRConfig      `yaml:"ocr"`
	LLM      LLMConfig      `yaml:"llm"`
	Walker   WalkerConfig   `yaml:"walker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Schema   MetadataSchema `yaml:"schema"`
}

// DefaultConfig returns the policy defaults used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		OCR: OCRConfig{
			Engine:      "gemini",
			Model:       "gemini-1.5-pro",
			Rate:        RateConfig{Capacity: 5, RefillPerSecond: 1},
			MaxAttempts: 3,
		},
		LLM: LLMConfig{
			Model:          "gemini-1.5-pro",
			TargetLanguage: "English",
			Rate:           RateConfig{Capacity: 5, RefillPerSecond: 0.5},
			MaxAttempts:    3,
		},
		Walker:   WalkerConfig{MaxAttempts: 5},
		Pipeline: PipelineConfig{Workers: 4, FailureRateThreshold: 0.5, MinFailureSample: 10},
		Schema:   DefaultSchema(),
	}
}

// LoadConfig reads a YAML config file, filling unset values with defaults.
// A missing file is not an error; the defaults stand.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.FailureRateThreshold <= 0 || c.Pipeline.FailureRateThreshold > 1 {
		return fmt.Errorf("pipeline.failure_rate_threshold must be in (0, 1]")
	}
	for name, r := range map[string]RateConfig{"ocr.rate": c.OCR.Rate, "llm.rate": c.LLM.Rate} {
		if r.Capacity < 1 || r.RefillPerSecond <= 0 {
			return fmt.Errorf("%s: capacity and refill_per_second must be positive", name)
		}
	}
	if c.OCR.MaxAttempts < 1 || c.LLM.MaxAttempts < 1 || c.Walker.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts values must be at least 1")
	}
	if len(c.Schema.Fields) == 0 {
		c.Schema = DefaultSchema()
	}
	return nil
}

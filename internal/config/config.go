// Copyright (c) Microsoft. All rights reserved.

// Package config loads toolloop CLI settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Providers accepted by TOOLLOOP_PROVIDER.
const (
	ProviderOpenAI   = "openai"
	ProviderAzure    = "azure"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// Config holds all configuration for the toolloop CLI.
type Config struct {
	Provider           string `envconfig:"TOOLLOOP_PROVIDER" default:"openai"`
	MaxTurns           int    `envconfig:"TOOLLOOP_MAX_TURNS" default:"5"`
	MaxConcurrentTools int    `envconfig:"TOOLLOOP_MAX_CONCURRENT_TOOLS" default:"4"`
	DetailedErrors     bool   `envconfig:"TOOLLOOP_DETAILED_ERRORS" default:"false"`
	ScriptPath         string `envconfig:"TOOLLOOP_SCRIPT"`

	// Observability
	LogLevel    string `envconfig:"TOOLLOOP_LOG_LEVEL" default:"info"` // debug, info, warn, error
	MetricsAddr string `envconfig:"TOOLLOOP_METRICS_ADDR"`             // e.g. :9090; empty disables

	// Retries of unavailable endpoints
	RetryMaxAttempts    int `envconfig:"TOOLLOOP_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff int `envconfig:"TOOLLOOP_RETRY_INITIAL_BACKOFF" default:"200"` // milliseconds

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`

	// Azure AI Foundry OpenAI-compatible endpoint. Without a key the CLI
	// authenticates with DefaultAzureCredential.
	AzureFoundryEndpoint string `envconfig:"AZURE_FOUNDRY_ENDPOINT"`
	AzureFoundryKey      string `envconfig:"AZURE_FOUNDRY_KEY"`
	AzureFoundryModel    string `envconfig:"AZURE_FOUNDRY_MODEL" default:"gpt-4o"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
}

// Load reads configuration from the environment after loading files (or
// ".env" when none are given) into it. A missing default .env is ignored;
// variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return &cfg, nil
}

// Validate checks settings and the credentials the selected provider needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for provider openai"))
		}
	case ProviderAzure:
		if c.AzureFoundryEndpoint == "" {
			errs = append(errs, errors.New("AZURE_FOUNDRY_ENDPOINT is required for provider azure"))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for provider gemini"))
		}
	case ProviderScripted:
		if c.ScriptPath == "" {
			errs = append(errs, errors.New("TOOLLOOP_SCRIPT is required for provider scripted"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("TOOLLOOP_MAX_TURNS must be >= 1, got %d", c.MaxTurns))
	}
	if c.MaxConcurrentTools < 0 {
		errs = append(errs, fmt.Errorf("TOOLLOOP_MAX_CONCURRENT_TOOLS must be >= 0, got %d", c.MaxConcurrentTools))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("TOOLLOOP_RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.RetryMaxAttempts))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("TOOLLOOP_LOG_LEVEL: %w", err)
	}
	return level, nil
}

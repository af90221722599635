// Package config loads settings from flags, the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")
	ErrNoBackend     = errors.New("no image backend: set SD_HOST or USE_HORDE")
	ErrBothBackends  = errors.New("SD_HOST and USE_HORDE are mutually exclusive")
)

const (
	BackendDirect = "automatic1111"
	BackendQueued = "stablehorde"
)

type Config struct {
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	GPTModel      string `env:"GPT_MODEL" envDefault:"gpt-3.5-turbo"`
	GroqKey       string `env:"GROQ_API_KEY"`
	Language      string `env:"TRANSCRIBE_LANG"`

	SDHost    string        `env:"SD_HOST"`
	SDTimeout time.Duration `env:"SD_TIMEOUT"`

	UseHorde    bool   `env:"USE_HORDE"`
	HordeAPIKey string `env:"HORDE_API_KEY" envDefault:"0000000000"`
	HordeURL    string `env:"HORDE_URL" envDefault:"https://stablehorde.net/api/v2"`
	HordeModel  string `env:"HORDE_MODEL"`

	Style       string `env:"STYLE_MODIFIERS"`
	OutputDir   string `env:"OUTPUT_DIR" envDefault:"illustrations"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR"`

	MinProbability int           `env:"MIN_PROBABILITY" envDefault:"4"`
	WindowWords    int           `env:"WINDOW_WORDS" envDefault:"100"`
	MinWindowChars int           `env:"MIN_WINDOW_CHARS" envDefault:"20"`
	Warmup         time.Duration `env:"WARMUP" envDefault:"20s"`
	Interval       time.Duration `env:"INTERVAL" envDefault:"5s"`
	Cooldown       time.Duration `env:"COOLDOWN" envDefault:"15s"`
	PhraseLimit    time.Duration `env:"PHRASE_LIMIT" envDefault:"10s"`
	Calibration    time.Duration `env:"CALIBRATION" envDefault:"2s"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	APIKey      string
	GPTModel    string
	SDHost      string
	UseHorde    bool
	HordeAPIKey string
	HordeModel  string
	Style       string
	OutputDir   string
	LogLevel    string
	MetricsAddr string
	Language    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	return load(overrides, environ())
}

func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func load(overrides Overrides, environment map[string]string) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	merged := make(map[string]string)
	if _, err := os.Stat(envFile); err == nil {
		fileVars, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
		for k, v := range fileVars {
			merged[k] = v
		}
	} else if overrides.EnvFile != "" {
		return nil, fmt.Errorf("env file: %w", err)
	}
	for k, v := range environment {
		merged[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: merged}); err != nil {
		return nil, err
	}

	if overrides.APIKey != "" {
		cfg.OpenAIKey = overrides.APIKey
	}
	if overrides.GPTModel != "" {
		cfg.GPTModel = overrides.GPTModel
	}
	if overrides.SDHost != "" {
		cfg.SDHost = overrides.SDHost
	}
	if overrides.UseHorde {
		cfg.UseHorde = true
	}
	if overrides.HordeAPIKey != "" {
		cfg.HordeAPIKey = overrides.HordeAPIKey
	}
	if overrides.HordeModel != "" {
		cfg.HordeModel = overrides.HordeModel
	}
	if overrides.Style != "" {
		cfg.Style = overrides.Style
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MetricsAddr != "" {
		cfg.MetricsAddr = overrides.MetricsAddr
	}
	if overrides.Language != "" {
		cfg.Language = overrides.Language
	}

	return cfg, nil
}

// Validate checks the settings needed before anything starts.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return ErrMissingAPIKey
	}
	switch {
	case c.SDHost != "" && c.UseHorde:
		return ErrBothBackends
	case c.SDHost == "" && !c.UseHorde:
		return ErrNoBackend
	}
	if c.MinProbability < 0 || c.MinProbability > 10 {
		return fmt.Errorf("MIN_PROBABILITY must be 0-10, got %d", c.MinProbability)
	}
	return nil
}

// Backend names the selected image backend. Only meaningful after Validate.
func (c *Config) Backend() string {
	if c.UseHorde {
		return BackendQueued
	}
	return BackendDirect
}

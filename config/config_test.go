package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(Overrides{EnvFile: ""}, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GPTModel != "gpt-3.5-turbo" {
		t.Errorf("GPTModel = %q", cfg.GPTModel)
	}
	if cfg.HordeAPIKey != "0000000000" {
		t.Errorf("HordeAPIKey = %q", cfg.HordeAPIKey)
	}
	if cfg.MinProbability != 4 || cfg.WindowWords != 100 || cfg.MinWindowChars != 20 {
		t.Errorf("tuning = %d/%d/%d", cfg.MinProbability, cfg.WindowWords, cfg.MinWindowChars)
	}
	if cfg.Warmup != 20*time.Second || cfg.Interval != 5*time.Second || cfg.Cooldown != 15*time.Second {
		t.Errorf("timing = %v/%v/%v", cfg.Warmup, cfg.Interval, cfg.Cooldown)
	}
	if cfg.PhraseLimit != 10*time.Second || cfg.Calibration != 2*time.Second {
		t.Errorf("listener = %v/%v", cfg.PhraseLimit, cfg.Calibration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "OPENAI_API_KEY=from-file\nGPT_MODEL=file-model\nSD_HOST=file-host:7860\nWINDOW_WORDS=50\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("file", func(t *testing.T) {
		cfg, err := load(Overrides{EnvFile: envFile}, map[string]string{})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.OpenAIKey != "from-file" || cfg.SDHost != "file-host:7860" || cfg.WindowWords != 50 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("env_beats_file", func(t *testing.T) {
		cfg, err := load(Overrides{EnvFile: envFile}, map[string]string{"GPT_MODEL": "env-model"})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.GPTModel != "env-model" {
			t.Errorf("GPTModel = %q, want env-model", cfg.GPTModel)
		}
		if cfg.OpenAIKey != "from-file" {
			t.Errorf("OpenAIKey = %q, want from-file", cfg.OpenAIKey)
		}
	})

	t.Run("flags_beat_env", func(t *testing.T) {
		cfg, err := load(Overrides{
			EnvFile:  envFile,
			APIKey:   "flag-key",
			GPTModel: "flag-model",
			SDHost:   "flag-host",
			Style:    "watercolor",
		}, map[string]string{"GPT_MODEL": "env-model", "OPENAI_API_KEY": "env-key"})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.OpenAIKey != "flag-key" || cfg.GPTModel != "flag-model" || cfg.SDHost != "flag-host" || cfg.Style != "watercolor" {
			t.Errorf("cfg = %+v", cfg)
		}
	})
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	if _, err := load(Overrides{EnvFile: noFile(t)}, nil); err == nil {
		t.Error("expected error for a missing -env-file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	if _, err := load(Overrides{EnvFile: ""}, map[string]string{"WARMUP": "soon"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing key", Config{SDHost: "localhost:7860"}, ErrMissingAPIKey},
		{"no backend", Config{OpenAIKey: "k"}, ErrNoBackend},
		{"both backends", Config{OpenAIKey: "k", SDHost: "h", UseHorde: true}, ErrBothBackends},
		{"direct", Config{OpenAIKey: "k", SDHost: "h", MinProbability: 4}, nil},
		{"queued", Config{OpenAIKey: "k", UseHorde: true, MinProbability: 4}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}

	bad := Config{OpenAIKey: "k", SDHost: "h", MinProbability: 11}
	if err := bad.Validate(); err == nil {
		t.Error("MinProbability 11 accepted")
	}
}

func TestBackend(t *testing.T) {
	if (&Config{UseHorde: true}).Backend() != BackendQueued {
		t.Error("horde not selected")
	}
	if (&Config{SDHost: "h"}).Backend() != BackendDirect {
		t.Error("direct not selected")
	}
}

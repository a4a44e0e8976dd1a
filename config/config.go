// Package config loads workbench settings from .orion/settings.yaml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SettingsFiles are tried in order under the .orion directory.
var SettingsFiles = []string{"settings.yaml", "settings.yml"}

// Settings holds every tunable of a workbench session. Environment variables
// take precedence over the settings file, which takes precedence over the
// defaults.
type Settings struct {
	APIKey              string `yaml:"-" env:"OPENAI_API_KEY"`
	Model               string `yaml:"model" env:"AI_MODEL"`
	BaseURL             string `yaml:"base_url" env:"ORION_BASE_URL"`
	MaxCompletionTokens int    `yaml:"max_completion_tokens" env:"ORION_MAX_COMPLETION_TOKENS"`

	LineCap          int `yaml:"line_cap" env:"ORION_LINE_CAP"`
	ConvCapTurns     int `yaml:"conv_cap_turns" env:"ORION_CONV_CAP_TURNS"`
	MaxToolTurns     int `yaml:"max_tool_turns" env:"ORION_MAX_TOOL_TURNS"`
	LoopWindow       int `yaml:"loop_window" env:"ORION_LOOP_WINDOW"`
	ConsolidateEvery int `yaml:"consolidate_every" env:"ORION_CONSOLIDATE_EVERY"`
	ArchiveCap       int `yaml:"archive_cap" env:"ORION_ARCHIVE_CAP"`
	SummaryMaxBytes  int `yaml:"summary_max_bytes" env:"ORION_SUMMARY_MAX_BYTES"`

	// ExternalDir is an optional flat directory of dependency Project
	// Descriptions.
	ExternalDir string `yaml:"external_dir" env:"ORION_EXTERNAL_DIR"`

	Timeouts   Timeouts   `yaml:"timeouts"`
	Summarizer Summarizer `yaml:"summarizer"`

	LogLevel string `yaml:"log_level" env:"ORION_LOG_LEVEL"`
	LogFile  string `yaml:"log_file" env:"ORION_LOG_FILE"`
}

// Timeouts are per network call.
type Timeouts struct {
	Conversation time.Duration `yaml:"conversation" env:"ORION_CONVERSATION_TIMEOUT"`
	Apply        time.Duration `yaml:"apply" env:"ORION_APPLY_TIMEOUT"`
	Summary      time.Duration `yaml:"summary" env:"ORION_SUMMARY_TIMEOUT"`
}

// Summarizer selects how archive synopses are produced. An empty provider
// uses the Responses driver.
type Summarizer struct {
	Provider string `yaml:"provider" env:"ORION_SUMMARY_PROVIDER"`
	Model    string `yaml:"model" env:"ORION_SUMMARY_MODEL"`
	APIKey   string `yaml:"-" env:"ORION_SUMMARY_API_KEY"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Model:               "gpt-5",
		MaxCompletionTokens: 48192,
		LineCap:             1000,
		ConvCapTurns:        200,
		MaxToolTurns:        50,
		LoopWindow:          10,
		ConsolidateEvery:    3,
		ArchiveCap:          200,
		SummaryMaxBytes:     2_000_000,
		Timeouts: Timeouts{
			Conversation: 30 * time.Minute,
			Apply:        50 * time.Minute,
			Summary:      5 * time.Minute,
		},
		Summarizer: Summarizer{Model: "gpt-4o-mini"},
		LogLevel:   "info",
	}
}

// Load reads the settings for the repository rooted at root on fs. A
// missing, unreadable, or malformed settings file leaves the defaults in
// place and is only logged. Only an invalid environment value is an error.
func Load(fs afero.Fs, root string, logger *zap.Logger) (*Settings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Default()

	for _, name := range SettingsFiles {
		path := filepath.Join(root, ".orion", name)
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("settings file unreadable", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		fromFile := *cfg
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			logger.Warn("settings file malformed", zap.String("path", path), zap.Error(err))
			continue
		}
		cfg = &fromFile
		break
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Settings) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// normalize replaces non-positive limits with their defaults. LoopWindow may
// be zero to disable loop detection.
func (c *Settings) normalize() {
	d := Default()
	positive := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	positive(&c.MaxCompletionTokens, d.MaxCompletionTokens)
	positive(&c.LineCap, d.LineCap)
	positive(&c.ConvCapTurns, d.ConvCapTurns)
	positive(&c.MaxToolTurns, d.MaxToolTurns)
	positive(&c.ConsolidateEvery, d.ConsolidateEvery)
	positive(&c.ArchiveCap, d.ArchiveCap)
	positive(&c.SummaryMaxBytes, d.SummaryMaxBytes)
	if c.LoopWindow < 0 {
		c.LoopWindow = d.LoopWindow
	}
	if c.Timeouts.Conversation <= 0 {
		c.Timeouts.Conversation = d.Timeouts.Conversation
	}
	if c.Timeouts.Apply <= 0 {
		c.Timeouts.Apply = d.Timeouts.Apply
	}
	if c.Timeouts.Summary <= 0 {
		c.Timeouts.Summary = d.Timeouts.Summary
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Package config loads the swarm core's configuration file,
// .moai/config/config.json, and applies the documented defaults for any
// key the file omits (spec §6).
package config

import (
	"encoding/json"
	"os"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
)

// PatternCollectConfig toggles collection per pattern type.
type PatternCollectConfig struct {
	TaskCompletion  bool `json:"task_completion"`
	ErrorOccurrence bool `json:"error_occurrence"`
	AgentUsage      bool `json:"agent_usage"`
	UserCorrection  bool `json:"user_correction"`
}

// PatternsConfig configures the PatternCollector.
type PatternsConfig struct {
	Enabled       bool                 `json:"enabled"`
	Storage       string               `json:"storage"`
	Collect       PatternCollectConfig `json:"collect"`
	RetentionDays int                  `json:"retention_days"`
}

// HookSlotConfig configures one of the built-in pattern-collection hooks.
type HookSlotConfig struct {
	Enabled  bool   `json:"enabled"`
	Priority string `json:"priority"`
}

// HooksConfig configures the HookRegistry.
type HooksConfig struct {
	TimeoutMs           int            `json:"timeout_ms"`
	GracefulDegradation bool           `json:"graceful_degradation"`
	PostTaskPattern     HookSlotConfig `json:"-"`
	OnErrorPattern      HookSlotConfig `json:"-"`
}

// hooksWireFormat mirrors the nested JSON shape from §6
// (hooks.post_task.pattern_collection.*, hooks.on_error.pattern_collection.*)
// without exposing the nesting to callers of HooksConfig.
type hooksWireFormat struct {
	TimeoutMs           int  `json:"timeout_ms"`
	GracefulDegradation bool `json:"graceful_degradation"`
	PostTask            struct {
		PatternCollection HookSlotConfig `json:"pattern_collection"`
	} `json:"post_task"`
	OnError struct {
		PatternCollection HookSlotConfig `json:"pattern_collection"`
	} `json:"on_error"`
}

// Config is the fully resolved, defaulted configuration.
type Config struct {
	Patterns PatternsConfig `json:"patterns"`
	Hooks    HooksConfig    `json:"-"`
}

type wireFormat struct {
	Patterns PatternsConfig  `json:"patterns"`
	Hooks    hooksWireFormat `json:"hooks"`
}

// Default returns the documented defaults for every recognized key.
func Default() Config {
	return Config{
		Patterns: PatternsConfig{
			Enabled: true,
			Storage: ".moai/patterns",
			Collect: PatternCollectConfig{
				TaskCompletion:  true,
				ErrorOccurrence: true,
				AgentUsage:      true,
				UserCorrection:  true,
			},
			RetentionDays: 30,
		},
		Hooks: HooksConfig{
			TimeoutMs:           5000,
			GracefulDegradation: true,
			PostTaskPattern:     HookSlotConfig{Enabled: true, Priority: "NORMAL"},
			OnErrorPattern:      HookSlotConfig{Enabled: true, Priority: "HIGH"},
		},
	}
}

// Load reads and parses the config file at path, filling in defaults for any
// key it omits. A missing file is not an error — it returns Default().
// Unknown top-level keys are logged as warnings, never rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	warnUnknownKeys(data, []string{"patterns", "hooks"})

	var wire wireFormat
	// Seed the wire struct with defaults so omitted nested keys keep them.
	wire.Patterns = cfg.Patterns
	wire.Hooks.TimeoutMs = cfg.Hooks.TimeoutMs
	wire.Hooks.GracefulDegradation = cfg.Hooks.GracefulDegradation
	wire.Hooks.PostTask.PatternCollection = cfg.Hooks.PostTaskPattern
	wire.Hooks.OnError.PatternCollection = cfg.Hooks.OnErrorPattern

	if err := json.Unmarshal(data, &wire); err != nil {
		return cfg, err
	}

	cfg.Patterns = wire.Patterns
	cfg.Hooks = HooksConfig{
		TimeoutMs:           wire.Hooks.TimeoutMs,
		GracefulDegradation: wire.Hooks.GracefulDegradation,
		PostTaskPattern:     wire.Hooks.PostTask.PatternCollection,
		OnErrorPattern:      wire.Hooks.OnError.PatternCollection,
	}

	return cfg, nil
}

func warnUnknownKeys(data []byte, known []string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}

	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	for key := range raw {
		if !knownSet[key] {
			log.Logger.Warn().Str("key", key).Msg("ignoring unrecognized config key")
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// Config is the top-level Crucible configuration.
type Config struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Agent     AgentConfig               `mapstructure:"agent"`
	Subagents SubagentsConfig           `mapstructure:"subagents"`
	Storage   StorageConfig             `mapstructure:"storage"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
// APIKey may be a literal, an env://VAR reference, or a
// keyring://service/key reference.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection.
type ModelsConfig struct {
	Default  string   `mapstructure:"default"`
	Failover []string `mapstructure:"failover"`
}

// AgentConfig controls the orchestrator's turn loop.
type AgentConfig struct {
	MaxToolIterations   int           `mapstructure:"max_tool_iterations"`
	MaxToolCallsPerTurn int           `mapstructure:"max_tool_calls_per_turn"`
	MaxOutputTokens     int           `mapstructure:"max_output_tokens"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	AutoApproveSafe     bool          `mapstructure:"auto_approve_safe"`
	SandboxPolicy       string        `mapstructure:"sandbox_policy"`
	Streaming           bool          `mapstructure:"streaming"`
}

// SubagentsConfig controls subagent delegation.
type SubagentsConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	AgentsDir     string `mapstructure:"agents_dir"`
}

// StorageConfig selects the audit/turn persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix CRUCIBLE_).
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	// Environment
	v.SetEnvPrefix("CRUCIBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, crucerr.Errorf(crucerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// SetDefaults registers the default values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")
	v.SetDefault("agent.max_tool_iterations", 20)
	v.SetDefault("agent.max_tool_calls_per_turn", 50)
	v.SetDefault("agent.max_output_tokens", 8192)
	v.SetDefault("agent.tool_timeout", 120*time.Second)
	v.SetDefault("agent.auto_approve_safe", true)
	v.SetDefault("agent.sandbox_policy", "prompt")
	v.SetDefault("agent.streaming", true)
	v.SetDefault("subagents.max_concurrent", 3)
	v.SetDefault("subagents.agents_dir", "")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "crucible.db")
}

// FromViper unmarshals and validates a populated Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, crucerr.Errorf(crucerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateSubagents()...)
	errs = append(errs, c.validateStorage()...)

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue, "config: models.default must not be empty"))
	} else if !strings.Contains(c.Models.Default, "/") {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: models.default must be in \"provider/model\" format, got %q",
			c.Models.Default,
		))
	} else if c.Providers != nil {
		// Only cross-reference providers when the providers section
		// exists in config. A nil map means no providers section was
		// configured (defaults only on fresh install), which is valid.
		providerName := providerFromModel(c.Models.Default)
		if _, ok := c.Providers[providerName]; !ok {
			errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
				"config: models.default %q references provider %q which is not configured",
				c.Models.Default, providerName,
			))
		}
	}

	for i, model := range c.Models.Failover {
		if !strings.Contains(model, "/") {
			errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
				"config: models.failover[%d] must be in \"provider/model\" format, got %q",
				i, model,
			))
		}
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxToolIterations < 1 {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: agent.max_tool_iterations must be at least 1, got %d",
			c.Agent.MaxToolIterations,
		))
	}

	if c.Agent.MaxToolCallsPerTurn < 1 {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: agent.max_tool_calls_per_turn must be at least 1, got %d",
			c.Agent.MaxToolCallsPerTurn,
		))
	}

	if c.Agent.ToolTimeout <= 0 {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: agent.tool_timeout must be positive, got %s",
			c.Agent.ToolTimeout,
		))
	}

	validPolicies := map[string]bool{"full": true, "prompt": true, "none": true}
	if !validPolicies[c.Agent.SandboxPolicy] {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: agent.sandbox_policy must be one of [full, prompt, none], got %q",
			c.Agent.SandboxPolicy,
		))
	}

	return errs
}

func (c *Config) validateSubagents() []error {
	var errs []error

	if c.Subagents.MaxConcurrent < 1 {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: subagents.max_concurrent must be at least 1, got %d",
			c.Subagents.MaxConcurrent,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

// providerFromModel extracts the provider name from a "provider/model"
// reference.
func providerFromModel(ref string) string {
	idx := strings.Index(ref, "/")
	if idx <= 0 {
		return ""
	}
	return ref[:idx]
}

// Package config loads the runtime configuration: a JSON file with
// environment-variable overrides applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/ericvicenti/botical-sub003/pkg/cost"
	"github.com/ericvicenti/botical-sub003/pkg/secrets"
)

// ProviderConfig describes one completion-provider endpoint.
type ProviderConfig struct {
	APIKey    string `json:"api_key,omitempty"`
	APIBase   string `json:"api_base,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// ModelPatterns route model names to this provider: patterns ending
	// with "/" are prefix matches, others are substring matches.
	ModelPatterns []string `json:"model_patterns,omitempty"`
	// Fallback marks the provider used when no pattern matches.
	Fallback bool `json:"fallback,omitempty"`
}

// ProvidersConfig maps provider name to its endpoint configuration.
type ProvidersConfig map[string]*ProviderConfig

// DefaultsConfig picks the provider and model used when an agent does not
// override them.
type DefaultsConfig struct {
	Provider string `json:"provider,omitempty" env:"BOTICAL_PROVIDER"`
	Model    string `json:"model,omitempty" env:"BOTICAL_MODEL"`
}

// SchedulerConfig controls the cron service.
type SchedulerConfig struct {
	Enabled         bool `json:"enabled" env:"BOTICAL_SCHEDULER_ENABLED"`
	IntervalSeconds int  `json:"interval_seconds" env:"BOTICAL_SCHEDULER_INTERVAL_SECONDS"`
}

// SecretsConfig controls at-rest encryption of API keys in the config file.
type SecretsConfig struct {
	Encrypt bool `json:"encrypt" env:"BOTICAL_SECRETS_ENCRYPT"`
}

type Config struct {
	// DataDir holds the sqlite database and log files.
	DataDir string `json:"data_dir,omitempty" env:"BOTICAL_DATA_DIR"`
	Debug   bool   `json:"debug,omitempty" env:"BOTICAL_DEBUG"`

	// CanExecuteCode gates execution-category tools for every run started
	// by this process.
	CanExecuteCode bool `json:"can_execute_code" env:"BOTICAL_CAN_EXECUTE_CODE"`

	Defaults  DefaultsConfig  `json:"defaults"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	// ModelAliases maps short model aliases (as used by the task tool)
	// to full model identifiers.
	ModelAliases map[string]string `json:"model_aliases,omitempty"`
	// ModelPrices overrides the built-in pricing table by exact model id.
	ModelPrices map[string]cost.ModelPrice `json:"model_prices,omitempty"`
	Scheduler   SchedulerConfig            `json:"scheduler"`
	Secrets     SecretsConfig              `json:"secrets"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:        filepath.Join(home, ".botical"),
		CanExecuteCode: true,
		Defaults: DefaultsConfig{
			Model: "gpt-4.1",
		},
		Providers:    ProvidersConfig{},
		ModelAliases: map[string]string{},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			IntervalSeconds: 60,
		},
	}
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".botical", "config.json")
}

// Load reads the config file, decrypts encrypted secrets, and applies env
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg)
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := decryptSecrets(cfg, path); err != nil {
		return nil, err
	}

	return applyEnv(cfg)
}

func applyEnv(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	return cfg, nil
}

// decryptSecrets replaces "enc:" values with their plaintext using the key
// file stored next to the config.
func decryptSecrets(cfg *Config, configPath string) error {
	hasEncrypted := false
	for _, p := range cfg.Providers {
		if secrets.IsEncrypted(p.APIKey) {
			hasEncrypted = true
		}
	}
	if !hasEncrypted {
		return nil
	}

	keyPath := filepath.Join(filepath.Dir(configPath), ".secret_key")
	store, err := secrets.NewSecretStore(keyPath)
	if err != nil {
		return fmt.Errorf("config: init secret store: %w", err)
	}
	for name, p := range cfg.Providers {
		decrypted, err := store.Decrypt(p.APIKey)
		if err != nil {
			return fmt.Errorf("config: decrypt api key for provider %q: %w", name, err)
		}
		p.APIKey = decrypted
	}
	return nil
}

// Save writes the config back to disk, encrypting API keys when at-rest
// encryption is enabled.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	toSave := cfg
	if cfg.Secrets.Encrypt {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		var clone Config
		if err := json.Unmarshal(raw, &clone); err != nil {
			return err
		}

		keyPath := filepath.Join(filepath.Dir(path), ".secret_key")
		store, err := secrets.NewSecretStore(keyPath)
		if err != nil {
			return fmt.Errorf("config: init secret store: %w", err)
		}
		for _, p := range clone.Providers {
			encrypted, err := store.Encrypt(p.APIKey)
			if err != nil {
				return fmt.Errorf("config: encrypt api key: %w", err)
			}
			p.APIKey = encrypted
		}
		toSave = &clone
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// GetProviderConfig returns a provider's config by name, or nil.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	return c.Providers[name]
}

// ResolveModelAlias maps a short alias to a full model id. Unknown aliases
// pass through unchanged so callers can use full ids directly.
func (c *Config) ResolveModelAlias(alias string) string {
	if full, ok := c.ModelAliases[alias]; ok {
		return full
	}
	return alias
}

// DBPath returns the sqlite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "botical.db")
}

// LogPath returns the log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "botical.log")
}

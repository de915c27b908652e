// Package config loads service configuration from YAML with environment
// variable expansion and sane defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses Go duration strings ("15m", "10s") in YAML. Bare
// numbers are seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// yaml.v3 will happily decode the scalar 5 into a string, so the
	// numeric case has to be told apart by tag.
	if value.Tag == "!!int" || value.Tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration %q", value.Value)
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	LLM         LLMConfig         `yaml:"llm"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Experiments ExperimentsConfig `yaml:"experiments"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures token issuance. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	AccessExpiry  Duration `yaml:"access_expiry"`
	RefreshExpiry Duration `yaml:"refresh_expiry"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider  string  `yaml:"provider"` // "anthropic" or "openai"
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
	// CostPerInputToken and CostPerOutputToken price usage in USD.
	CostPerInputToken  float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`
}

// StorageConfig points at the data root directory.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExperimentsConfig tunes the experiment scheduler.
type ExperimentsConfig struct {
	// ExpectedAnalyzeSteps gates submissions on workflow shape. Zero
	// disables the check.
	ExpectedAnalyzeSteps int `yaml:"expected_analyze_steps"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			AccessExpiry:  Duration(15 * time.Minute),
			RefreshExpiry: Duration(7 * 24 * time.Hour),
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
		},
		Storage: StorageConfig{Root: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, and overlays it on the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := parse(os.ExpandEnv(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(doc string, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(doc)))
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single YAML document")
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Experiments.ExpectedAnalyzeSteps < 0 {
		return fmt.Errorf("experiments.expected_analyze_steps must not be negative")
	}
	return nil
}

// Package config loads the runtime configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order of precedence.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("codeact.yaml").
//	    WithEnvPrefix("CODEACT").
//	    Load()
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Sandbox   SandboxConfig   `yaml:"sandbox" env:"SANDBOX"`
	Workspace WorkspaceConfig `yaml:"workspace" env:"WORKSPACE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// AgentConfig configures the control loop.
type AgentConfig struct {
	Model string `yaml:"model" env:"MODEL"`
	// SystemPrompt is used verbatim; SystemPromptPath, when set, is read at
	// startup and wins over SystemPrompt.
	SystemPrompt     string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	SystemPromptPath string `yaml:"system_prompt_path" env:"SYSTEM_PROMPT_PATH"`
	MaxTurns         int    `yaml:"max_turns" env:"MAX_TURNS"`
}

// LLMConfig configures the model backend.
type LLMConfig struct {
	ProviderName string        `yaml:"provider_name" env:"PROVIDER_NAME"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// SandboxConfig configures code execution. The distinction between an absent
// list (unrestricted) and an empty list (nothing allowed) is preserved from
// the YAML source.
type SandboxConfig struct {
	AllowedImports []string      `yaml:"allowed_imports" env:"ALLOWED_IMPORTS"`
	AllowedRoots   []string      `yaml:"allowed_roots" env:"ALLOWED_ROOTS"`
	AllowedModes   []string      `yaml:"allowed_modes" env:"ALLOWED_MODES"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxOutputChars int           `yaml:"max_output_chars" env:"MAX_OUTPUT_CHARS"`
	Isolate        bool          `yaml:"isolate" env:"ISOLATE"`
	MaxStateBytes  int64         `yaml:"max_state_bytes" env:"MAX_STATE_BYTES"`
}

// WorkspaceConfig configures artifact directories.
type WorkspaceConfig struct {
	Root string `yaml:"root" env:"ROOT"`
}

// StoreConfig configures transcript persistence.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// Loader builds a Config from defaults, file and environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the CODEACT env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "CODEACT"}
}

// WithConfigPath sets the YAML file path. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds an extra validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		// An explicitly empty variable means "nothing allowed", matching the
		// nil-vs-empty policy distinction.
		if value == "" {
			field.Set(reflect.MakeSlice(field.Type(), 0, 0))
			return nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Validate checks the loaded configuration for contradictions the rest of the
// system would only discover at runtime.
func (c *Config) Validate() error {
	var errs []string
	if c.Agent.MaxTurns <= 0 {
		errs = append(errs, "agent.max_turns must be positive")
	}
	if c.Sandbox.MaxOutputChars <= 0 {
		errs = append(errs, "sandbox.max_output_chars must be positive")
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, "sandbox.timeout must be positive")
	}
	for _, root := range c.Sandbox.AllowedRoots {
		if !filepath.IsAbs(root) {
			errs = append(errs, fmt.Sprintf("sandbox.allowed_roots entry %q is not absolute", root))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Workspace.Root == "" {
		errs = append(errs, "workspace.root must not be empty")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, "store.path must be set when store is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolveSystemPrompt returns the effective system prompt, reading
// SystemPromptPath when set.
func (a *AgentConfig) ResolveSystemPrompt() (string, error) {
	if a.SystemPromptPath == "" {
		return a.SystemPrompt, nil
	}
	data, err := os.ReadFile(a.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("read system prompt %s: %w", a.SystemPromptPath, err)
	}
	return string(data), nil
}

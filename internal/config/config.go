// Package config loads the optional host-side configuration file.
// Everything has a working default; a config file only overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Xvfb policies for the engine.use_xvfb field.
const (
	XvfbAuto  = "auto"
	XvfbNever = "never"
)

// Config is the full host-side configuration.
type Config struct {
	LogLevel         string          `yaml:"log_level"`
	WorkingDirectory string          `yaml:"working_directory"`
	Engine           EngineConfig    `yaml:"engine"`
	Execution        ExecutionConfig `yaml:"execution"`
}

// EngineConfig controls how the engine executable is located and run.
type EngineConfig struct {
	// Path overrides executable discovery when set.
	Path string `yaml:"path"`
	// UseXvfb is "auto" (wrap when the wrapper is installed) or "never".
	UseXvfb string `yaml:"use_xvfb"`
	// PythonPathProbe enables locating host site-packages for the
	// engine's embedded interpreter.
	PythonPathProbe bool `yaml:"python_path_probe"`
}

// ExecutionConfig controls per-invocation behavior.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// ProcessCheck waits for the engine's descendant tree to reach its
	// expected shape before writing the program to stdin.
	ProcessCheck bool `yaml:"process_check"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		LogLevel:         "info",
		WorkingDirectory: "",
		Engine: EngineConfig{
			UseXvfb:         XvfbAuto,
			PythonPathProbe: true,
		},
		Execution: ExecutionConfig{
			DefaultTimeout: 60 * time.Second,
			ProcessCheck:   false,
		},
	}
}

// Load reads and validates a configuration file, applying defaults for
// anything unset. ${VAR} placeholders are interpolated from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file in the standard locations. Priority:
// $GIMPSCRIPT_CONFIG, ~/.config/gimpscript/config.yaml,
// /etc/gimpscript/config.yaml, ./gimpscript.yaml. An empty path with a
// nil error means no file exists and defaults apply.
func Discover() (string, error) {
	if path := os.Getenv("GIMPSCRIPT_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$GIMPSCRIPT_CONFIG points at %s: %w", path, err)
		}
		return path, nil
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gimpscript", "config.yaml"))
	}
	candidates = append(candidates,
		"/etc/gimpscript/config.yaml",
		"./gimpscript.yaml",
	)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// LoadOrDefaults discovers and loads the configuration, falling back
// to defaults when no file exists.
func LoadOrDefaults() (*Config, error) {
	path, err := Discover()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Defaults(), nil
	}
	return Load(path)
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.Engine.UseXvfb == "" {
		cfg.Engine.UseXvfb = d.Engine.UseXvfb
	}
	if cfg.Execution.DefaultTimeout == 0 {
		cfg.Execution.DefaultTimeout = d.Execution.DefaultTimeout
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if cfg.Engine.UseXvfb != XvfbAuto && cfg.Engine.UseXvfb != XvfbNever {
		return fmt.Errorf("engine.use_xvfb must be %q or %q (got %q)", XvfbAuto, XvfbNever, cfg.Engine.UseXvfb)
	}

	if cfg.Engine.Path != "" {
		if envVarPattern.MatchString(cfg.Engine.Path) {
			name := envVarPattern.FindStringSubmatch(cfg.Engine.Path)[1]
			return fmt.Errorf("engine.path: environment variable ${%s} is not set", name)
		}
		if _, err := os.Stat(cfg.Engine.Path); err != nil {
			return fmt.Errorf("engine.path: %w", err)
		}
	}

	if cfg.Execution.DefaultTimeout <= 0 {
		return fmt.Errorf("execution.default_timeout must be positive")
	}

	if cfg.WorkingDirectory != "" {
		info, err := os.Stat(cfg.WorkingDirectory)
		if err != nil {
			return fmt.Errorf("working_directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working_directory: %s is not a directory", cfg.WorkingDirectory)
		}
	}

	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(name); exists {
			return value
		}
		return match
	})
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	resolveRelativePaths(cfg, filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes YAML bytes, interpolates ${VAR} references, applies defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $CONDUIT_CONFIG_DIR, ~/.config/conduit, /etc/conduit, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("CONDUIT_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "conduit")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/conduit"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $CONDUIT_CONFIG_DIR, ~/.config/conduit, /etc/conduit, ./config.yaml)")
}

// resolveRelativePaths anchors file paths to the directory of the config file.
func resolveRelativePaths(cfg *Config, baseDir string) {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.State.Path = anchor(cfg.State.Path)
	cfg.Worker.SourceDir = anchor(cfg.Worker.SourceDir)
	cfg.Worker.Executable = anchor(cfg.Worker.Executable)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Worker.SourceDir == "" && cfg.Worker.Executable == "" {
		cfg.Worker.SourceDir = defaults.Worker.SourceDir
	}
	if cfg.Worker.OutputName == "" {
		cfg.Worker.OutputName = defaults.Worker.OutputName
	}
	if len(cfg.Worker.Extensions) == 0 {
		cfg.Worker.Extensions = defaults.Worker.Extensions
	}
	if cfg.Worker.CacheTTL == 0 {
		cfg.Worker.CacheTTL = defaults.Worker.CacheTTL
	}

	cfg.Bridge = mergeBridgeDefaults(cfg.Bridge)

	if cfg.Pool.Workers == 0 {
		cfg.Pool.Workers = defaults.Pool.Workers
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = defaults.Pool.QueueSize
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}
	for i := range cfg.Webhooks.Endpoints {
		if cfg.Webhooks.Endpoints[i].SignatureHeader == "" {
			cfg.Webhooks.Endpoints[i].SignatureHeader = "X-Hub-Signature-256"
		}
	}

	return cfg
}

func mergeBridgeDefaults(b BridgeConfig) BridgeConfig {
	d := DefaultBridge()
	if b.BatchSize == 0 {
		b.BatchSize = d.BatchSize
	}
	if b.BatchTimeout == 0 {
		b.BatchTimeout = d.BatchTimeout
	}
	if b.DrainBudget == 0 {
		b.DrainBudget = d.DrainBudget
	}
	if b.QueueCapacity == 0 {
		b.QueueCapacity = d.QueueCapacity
	}
	if b.QueueHighWater == 0 {
		b.QueueHighWater = d.QueueHighWater
	}
	if b.Senders == 0 {
		b.Senders = d.Senders
	}
	if b.FlushThreshold == 0 {
		b.FlushThreshold = d.FlushThreshold
	}
	if b.PollInterval == 0 {
		b.PollInterval = d.PollInterval
	}
	if b.TerminateTimeout == 0 {
		b.TerminateTimeout = d.TerminateTimeout
	}
	if b.KillTimeout == 0 {
		b.KillTimeout = d.KillTimeout
	}
	if b.PoolGrace == 0 {
		b.PoolGrace = d.PoolGrace
	}
	if b.PoolForce == 0 {
		b.PoolForce = d.PoolForce
	}
	if b.RestartDelay == 0 {
		b.RestartDelay = d.RestartDelay
	}
	if b.MaxRestarts == 0 {
		b.MaxRestarts = d.MaxRestarts
	}
	if b.RestartWindow == 0 {
		b.RestartWindow = d.RestartWindow
	}
	return b
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	b := cfg.Bridge
	if b.BatchSize < 1 {
		return fmt.Errorf("bridge.batch_size must be positive")
	}
	if b.QueueCapacity < b.BatchSize {
		return fmt.Errorf("bridge.queue_capacity (%d) must be at least bridge.batch_size (%d)", b.QueueCapacity, b.BatchSize)
	}
	if b.QueueHighWater <= 0 || b.QueueHighWater > 1 {
		return fmt.Errorf("bridge.queue_high_water must be in (0, 1] (got %v)", b.QueueHighWater)
	}
	if b.Senders < 1 {
		return fmt.Errorf("bridge.senders must be positive")
	}
	for name, d := range map[string]time.Duration{
		"bridge.batch_timeout":     b.BatchTimeout,
		"bridge.drain_budget":      b.DrainBudget,
		"bridge.poll_interval":     b.PollInterval,
		"bridge.terminate_timeout": b.TerminateTimeout,
		"bridge.kill_timeout":      b.KillTimeout,
		"bridge.restart_delay":     b.RestartDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if cfg.Pool.Enabled && cfg.Pool.Workers < b.Senders {
		return fmt.Errorf("pool.workers (%d) must be at least bridge.senders (%d)", cfg.Pool.Workers, b.Senders)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if envVarPattern.MatchString(cfg.API.Token) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}

	seen := make(map[string]bool, len(cfg.Webhooks.Endpoints))
	for _, ep := range cfg.Webhooks.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks: path %q must start with /", ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("webhooks: duplicate path %q", ep.Path)
		}
		seen[ep.Path] = true
		if strings.TrimSpace(ep.Event) == "" {
			return fmt.Errorf("webhooks %s: event is required", ep.Path)
		}
		if ep.Secret == "" || envVarPattern.MatchString(ep.Secret) {
			return fmt.Errorf("webhooks %s: secret is empty or references an unset variable", ep.Path)
		}
	}

	if cfg.Worker.Executable == "" && cfg.Worker.SourceDir == "" {
		return fmt.Errorf("worker.executable or worker.source_dir is required")
	}
	if envVarPattern.MatchString(cfg.Worker.Executable) {
		return fmt.Errorf("worker.executable: unresolved environment variable")
	}

	return nil
}

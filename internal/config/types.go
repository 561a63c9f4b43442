package config

import "time"

// Config represents the complete conduit configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Worker  WorkerConfig  `yaml:"worker"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Pool    PoolConfig    `yaml:"pool,omitempty"`
	API      APIConfig      `yaml:"api,omitempty"`
	Webhooks WebhooksConfig `yaml:"webhooks,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where the session journal lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig describes how to obtain the worker executable.
// Executable wins over SourceDir when both are set.
type WorkerConfig struct {
	Executable    string        `yaml:"executable,omitempty"`
	SourceDir     string        `yaml:"source_dir,omitempty"`
	OutputName    string        `yaml:"output_name,omitempty"`
	Compiler      string        `yaml:"compiler,omitempty"`
	CompilerFlags []string      `yaml:"compiler_flags,omitempty"`
	Extensions    []string      `yaml:"extensions,omitempty"`
	CacheTTL      time.Duration `yaml:"cache_ttl,omitempty"`
	Args          []string      `yaml:"args,omitempty"`
}

// BridgeConfig tunes batching, queueing and process supervision.
type BridgeConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	DrainBudget      time.Duration `yaml:"drain_budget"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	QueueHighWater   float64       `yaml:"queue_high_water"`
	Senders          int           `yaml:"senders"`
	FlushThreshold   int           `yaml:"flush_threshold"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	TerminateTimeout time.Duration `yaml:"terminate_timeout"`
	KillTimeout      time.Duration `yaml:"kill_timeout"`
	PoolGrace        time.Duration `yaml:"pool_grace"`
	PoolForce        time.Duration `yaml:"pool_force"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	AutoRestart      bool          `yaml:"auto_restart,omitempty"`
	MaxRestarts      int           `yaml:"max_restarts,omitempty"`
	RestartWindow    time.Duration `yaml:"restart_window,omitempty"`
}

// PoolConfig configures the shared task pool the sender loops run on.
// When disabled the bridge runs its senders on its own goroutines.
type PoolConfig struct {
	Enabled   bool `yaml:"enabled"`
	Workers   int  `yaml:"workers"`
	QueueSize int  `yaml:"queue_size"`
}

// APIConfig defines HTTP control API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Token   string `yaml:"token,omitempty"`
}

// WebhooksConfig defines signed inbound endpoints that turn HTTP POSTs into
// worker events. No endpoints means no webhook listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints,omitempty"`
}

// WebhookEndpoint maps one URL path to one worker event.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Event           string `yaml:"event"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with the stock tuning.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "conduit",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/conduit.db",
		},
		Worker: WorkerConfig{
			SourceDir:  "./worker",
			OutputName: "conduit_worker",
			Extensions: []string{".cpp"},
			CacheTTL:   5 * time.Minute,
		},
		Bridge: DefaultBridge(),
		Pool: PoolConfig{
			Enabled:   false,
			Workers:   4,
			QueueSize: 64,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8787",
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8788",
		},
	}
}

// DefaultBridge returns the bridge tuning used when nothing is configured.
func DefaultBridge() BridgeConfig {
	return BridgeConfig{
		BatchSize:        30,
		BatchTimeout:     50 * time.Millisecond,
		DrainBudget:      5 * time.Millisecond,
		QueueCapacity:    2000,
		QueueHighWater:   0.8,
		Senders:          2,
		FlushThreshold:   20,
		PollInterval:     50 * time.Millisecond,
		TerminateTimeout: 3 * time.Second,
		KillTimeout:      1 * time.Second,
		PoolGrace:        3 * time.Second,
		PoolForce:        1 * time.Second,
		RestartDelay:     100 * time.Millisecond,
		MaxRestarts:      5,
		RestartWindow:    time.Minute,
	}
}

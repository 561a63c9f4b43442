package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty config gets stock tuning",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultBridge(), cfg.Bridge)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, "json", cfg.Service.LogFormat)
				assert.Equal(t, "./worker", cfg.Worker.SourceDir)
				assert.Equal(t, 5*time.Minute, cfg.Worker.CacheTTL)
				assert.False(t, cfg.API.Enabled)
				assert.Equal(t, "127.0.0.1:8787", cfg.API.Listen)
			},
		},
		{
			name: "bridge overrides keep remaining defaults",
			yaml: `
bridge:
  batch_size: 10
  batch_timeout: 20ms
  senders: 4
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10, cfg.Bridge.BatchSize)
				assert.Equal(t, 20*time.Millisecond, cfg.Bridge.BatchTimeout)
				assert.Equal(t, 4, cfg.Bridge.Senders)
				assert.Equal(t, 2000, cfg.Bridge.QueueCapacity)
				assert.Equal(t, 3*time.Second, cfg.Bridge.TerminateTimeout)
				assert.InDelta(t, 0.8, cfg.Bridge.QueueHighWater, 1e-9)
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  token: ${CONDUIT_TEST_TOKEN}
worker:
  executable: ${CONDUIT_TEST_EXE}
`,
			env: map[string]string{"CONDUIT_TEST_TOKEN": "s3cret", "CONDUIT_TEST_EXE": "/opt/worker"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "s3cret", cfg.API.Token)
				assert.Equal(t, "/opt/worker", cfg.Worker.Executable)
				assert.Empty(t, cfg.Worker.SourceDir)
			},
		},
		{
			name: "unset token variable",
			yaml: `
api:
  enabled: true
  token: ${CONDUIT_TEST_MISSING_TOKEN}
`,
			wantErr: "CONDUIT_TEST_MISSING_TOKEN",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: chatty\n",
			wantErr: "service.log_level",
		},
		{
			name:    "bad log format",
			yaml:    "service:\n  log_format: xml\n",
			wantErr: "service.log_format",
		},
		{
			name:    "queue smaller than batch",
			yaml:    "bridge:\n  batch_size: 50\n  queue_capacity: 10\n",
			wantErr: "bridge.queue_capacity",
		},
		{
			name:    "high water out of range",
			yaml:    "bridge:\n  queue_high_water: 1.5\n",
			wantErr: "bridge.queue_high_water",
		},
		{
			name:    "negative timeout",
			yaml:    "bridge:\n  kill_timeout: -1s\n",
			wantErr: "bridge.kill_timeout",
		},
		{
			name:    "pool smaller than senders",
			yaml:    "pool:\n  enabled: true\n  workers: 1\nbridge:\n  senders: 3\n",
			wantErr: "pool.workers",
		},
		{
			name: "webhook endpoint gets default header",
			yaml: `
webhooks:
  endpoints:
    - path: /hooks/deploy
      event: Deploy
      secret: ${CONDUIT_TEST_HOOK_SECRET}
`,
			env: map[string]string{"CONDUIT_TEST_HOOK_SECRET": "hook"},
			checkFn: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Webhooks.Endpoints, 1)
				ep := cfg.Webhooks.Endpoints[0]
				assert.Equal(t, "hook", ep.Secret)
				assert.Equal(t, "X-Hub-Signature-256", ep.SignatureHeader)
				assert.Equal(t, "127.0.0.1:8788", cfg.Webhooks.Listen)
			},
		},
		{
			name:    "webhook without secret",
			yaml:    "webhooks:\n  endpoints:\n    - path: /hooks/a\n      event: A\n",
			wantErr: "secret",
		},
		{
			name:    "webhook duplicate path",
			yaml:    "webhooks:\n  endpoints:\n    - {path: /a, event: A, secret: x}\n    - {path: /a, event: B, secret: y}\n",
			wantErr: "duplicate path",
		},
		{
			name:    "malformed yaml",
			yaml:    "bridge: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	yaml := `
state:
  path: data/journal.db
worker:
  source_dir: plugins
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data", "journal.db"), cfg.State.Path)
	assert.Equal(t, filepath.Join(dir, "plugins"), cfg.Worker.SourceDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadDirWithoutConfig(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.yaml not found")
}

func TestDiscoverConfigDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_CONFIG_DIR", dir)

	got, err := DiscoverConfigDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

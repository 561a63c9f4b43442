package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
)

type fakeProbe struct {
	sources   []string
	sourceErr error
	detectErr error
}

func (f fakeProbe) Sources() ([]string, error) { return f.sources, f.sourceErr }

func (f fakeProbe) Detect(context.Context) (string, error) {
	if f.detectErr != nil {
		return "", f.detectErr
	}
	return "/usr/bin/g++", nil
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "worker")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	cfg := config.Defaults()
	cfg.Worker.SourceDir = ""
	cfg.Worker.Executable = exe
	cfg.State.Path = filepath.Join(dir, "data", "conduit.db")
	cfg.API.Enabled = true
	return cfg
}

func fieldsOf(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Field)
	}
	return out
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), fakeProbe{}).Validate(context.Background())
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "Configuration valid.\n", FormatHuman(r))
}

func TestValidate_MissingExecutable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Executable = filepath.Join(t.TempDir(), "nope")

	r := New(cfg, fakeProbe{}).Validate(context.Background())
	assert.False(t, r.Valid)
	assert.Contains(t, fieldsOf(r.Errors), "worker.executable")
}

func TestValidate_SourceDirWithoutSources(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Executable = ""
	cfg.Worker.SourceDir = t.TempDir()

	r := New(cfg, fakeProbe{}).Validate(context.Background())
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, ".cpp")
}

func TestValidate_MissingCompiler(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Executable = ""
	cfg.Worker.SourceDir = t.TempDir()

	r := New(cfg, fakeProbe{sources: []string{"a.cpp"}, detectErr: errors.New("g++ not found")}).Validate(context.Background())
	assert.False(t, r.Valid)
	assert.Equal(t, []string{"worker.compiler"}, fieldsOf(r.Errors))
}

func TestValidate_MissingSourceDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Executable = ""
	cfg.Worker.SourceDir = filepath.Join(t.TempDir(), "gone")

	r := New(cfg, fakeProbe{}).Validate(context.Background())
	assert.Equal(t, []string{"worker.source_dir"}, fieldsOf(r.Errors))
}

func TestValidate_BridgeTuningWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Bridge.QueueCapacity = 40
	cfg.Bridge.QueueHighWater = 0.5
	cfg.Bridge.FlushThreshold = 50
	cfg.Bridge.BatchTimeout = 2 * time.Second

	r := New(cfg, fakeProbe{}).Validate(context.Background())
	assert.True(t, r.Valid)
	assert.ElementsMatch(t,
		[]string{"bridge.queue_high_water", "bridge.flush_threshold", "bridge.batch_timeout"},
		fieldsOf(r.Warnings))
	assert.Contains(t, FormatHuman(r), "3 warning(s)")
}

func TestValidate_APIExposure(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		listen  string
		token   string
		warn    []string
		errs    []string
	}{
		{name: "loopback without token", enabled: true, listen: "127.0.0.1:8787"},
		{name: "localhost without token", enabled: true, listen: "localhost:8787"},
		{name: "public with token", enabled: true, listen: "0.0.0.0:8787", token: "t"},
		{name: "public without token", enabled: true, listen: "0.0.0.0:8787", warn: []string{"api.token"}},
		{name: "disabled", enabled: false, listen: "127.0.0.1:8787", warn: []string{"api.enabled"}},
		{name: "bad listen", enabled: true, listen: "8787", errs: []string{"api.listen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.API = config.APIConfig{Enabled: tt.enabled, Listen: tt.listen, Token: tt.token}
			r := New(cfg, fakeProbe{}).Validate(context.Background())
			assert.ElementsMatch(t, tt.warn, fieldsOf(r.Warnings))
			assert.ElementsMatch(t, tt.errs, fieldsOf(r.Errors))
		})
	}
}

func TestFormatHumanInvalid(t *testing.T) {
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "worker", Field: "worker.executable", Message: "missing"}},
		Warnings: []Issue{{Category: "api", Message: "exposed"}},
	}
	out := FormatHuman(r)
	assert.Contains(t, out, "Configuration invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, out, "ERROR [worker] worker.executable: missing")
	assert.Contains(t, out, "WARN  [api] exposed")
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON(&Result{Valid: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid":true}`, out)
}

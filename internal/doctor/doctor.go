// Package doctor checks a conduit configuration against the machine it will
// run on.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/conduit/internal/build"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// WorkerProbe inspects how the worker would be obtained. *build.Compiler
// satisfies it.
type WorkerProbe interface {
	Sources() ([]string, error)
	Detect(ctx context.Context) (string, error)
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg   *config.Config
	probe WorkerProbe
}

// New creates a Doctor. A nil probe uses a build.Compiler for cfg.Worker.
func New(cfg *config.Config, probe WorkerProbe) *Doctor {
	if probe == nil {
		probe = build.New(cfg.Worker)
	}
	return &Doctor{cfg: cfg, probe: probe}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateWorker(ctx, r)
	d.validateState(r)
	d.warnBridgeTuning(r)
	d.warnAPIExposure(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWorker checks that Start would find something to run.
func (d *Doctor) validateWorker(ctx context.Context, r *Result) {
	w := d.cfg.Worker
	if w.Executable != "" {
		if err := build.CheckExecutable(w.Executable); err != nil {
			d.addError(r, "worker", "worker.executable", err.Error())
		}
		if w.SourceDir != "" {
			d.addWarning(r, "worker", "worker.source_dir", "ignored because worker.executable is set")
		}
		return
	}

	info, err := os.Stat(w.SourceDir)
	if err != nil || !info.IsDir() {
		d.addError(r, "worker", "worker.source_dir", fmt.Sprintf("source directory %q not found", w.SourceDir))
		return
	}
	files, err := d.probe.Sources()
	if err != nil {
		d.addError(r, "worker", "worker.source_dir", err.Error())
		return
	}
	if len(files) == 0 {
		d.addError(r, "worker", "worker.source_dir",
			fmt.Sprintf("no %s files in %s", strings.Join(w.Extensions, "/"), w.SourceDir))
		return
	}
	if _, err := d.probe.Detect(ctx); err != nil {
		d.addError(r, "worker", "worker.compiler", err.Error())
	}
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == ":memory:" {
		d.addWarning(r, "state", "state.path", "in-memory journal is lost on exit")
		return
	}
	if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// warnBridgeTuning flags settings that pass validation but behave badly.
func (d *Doctor) warnBridgeTuning(r *Result) {
	b := d.cfg.Bridge

	threshold := int(float64(b.QueueCapacity) * b.QueueHighWater)
	if threshold < b.BatchSize {
		d.addWarning(r, "bridge", "bridge.queue_high_water",
			fmt.Sprintf("drop threshold (%d lines) is below batch_size (%d); a backed-up worker loses whole batches almost immediately", threshold, b.BatchSize))
	}
	if b.FlushThreshold > b.QueueCapacity {
		d.addWarning(r, "bridge", "bridge.flush_threshold",
			"larger than queue_capacity; every line is flushed immediately")
	}
	if b.BatchTimeout > time.Second {
		d.addWarning(r, "bridge", "bridge.batch_timeout",
			fmt.Sprintf("events may wait up to %s before reaching the worker", b.BatchTimeout))
	}
	if b.TerminateTimeout == 0 {
		d.addWarning(r, "bridge", "bridge.terminate_timeout", "worker is killed without a grace period")
	}
}

func (d *Doctor) warnAPIExposure(r *Result) {
	a := d.cfg.API
	if !a.Enabled {
		d.addWarning(r, "api", "api.enabled", "status, send, restart and monitor need the API")
		return
	}
	if a.Token != "" {
		return
	}
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", a.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.token", fmt.Sprintf("API on %s accepts control requests without a token", a.Listen))
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

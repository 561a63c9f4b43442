// Package build turns the worker's C++ sources into an executable and
// remembers the result, so restarts do not recompile unchanged code.
package build

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/log"
)

const (
	defaultCompiler = "g++"
	probeTimeout    = 5 * time.Second
	maxOutputBytes  = 16 * 1024
)

// Compiler locates the worker executable, compiling it from source when no
// prebuilt executable is configured. It implements bridge.Locator.
type Compiler struct {
	cfg    config.WorkerConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	compilerPath  string
	cached        *cacheEntry
	missingLogged bool
}

type cacheEntry struct {
	digest  string
	path    string
	builtAt time.Time
}

// New creates a Compiler for the given worker settings.
func New(cfg config.WorkerConfig) *Compiler {
	return &Compiler{
		cfg:    cfg,
		logger: log.WithComponent("build"),
		now:    time.Now,
	}
}

var _ bridge.Locator = (*Compiler)(nil)

// Locate returns the configured executable or a fresh build of the sources.
func (c *Compiler) Locate(ctx context.Context) (string, error) {
	if c.cfg.Executable != "" {
		if err := CheckExecutable(c.cfg.Executable); err != nil {
			return "", err
		}
		return c.cfg.Executable, nil
	}
	return c.Build(ctx, false)
}

// Build compiles the sources unless an unexpired cache entry with the same
// source digest exists and its output is still on disk. force skips the cache.
func (c *Compiler) Build(ctx context.Context, force bool) (string, error) {
	sources, err := c.Sources()
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "", fmt.Errorf("%w: no sources in %s", bridge.ErrNoExecutable, c.cfg.SourceDir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	compiler, err := c.detectLocked(ctx)
	if err != nil {
		return "", err
	}

	digest, err := Digest(sources)
	if err != nil {
		return "", err
	}

	if !force && c.cacheValidLocked(digest) {
		c.logger.Debug("using cached worker build", "path", c.cached.path)
		return c.cached.path, nil
	}

	out := c.OutputPath()
	args := []string{"-std=c++17"}
	if runtime.GOOS != "windows" {
		args = append(args, "-pthread")
	}
	args = append(args, c.cfg.CompilerFlags...)
	args = append(args, "-o", out)
	args = append(args, sources...)

	c.logger.Info("compiling worker", "compiler", compiler, "sources", len(sources), "output", out)
	start := c.now()

	cmd := exec.CommandContext(ctx, compiler, args...)
	cmd.Dir = c.cfg.SourceDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := truncate(string(output))
		c.logger.Error("worker compilation failed", "error", err, "output", msg)
		return "", fmt.Errorf("compile worker: %w: %s", err, msg)
	}

	c.cached = &cacheEntry{digest: digest, path: out, builtAt: c.now()}
	c.logger.Info("worker compiled", "output", out, "duration", c.now().Sub(start))
	return out, nil
}

// Sources lists the source files under SourceDir, sorted.
func (c *Compiler) Sources() ([]string, error) {
	if c.cfg.SourceDir == "" {
		return nil, nil
	}

	exts := make(map[string]bool, len(c.cfg.Extensions))
	for _, ext := range c.cfg.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(c.cfg.SourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker sources: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Count reports how many source files would be compiled.
func (c *Compiler) Count() int {
	files, err := c.Sources()
	if err != nil {
		return 0
	}
	return len(files)
}

// OutputPath is where builds are written.
func (c *Compiler) OutputPath() string {
	name := c.cfg.OutputName
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	return filepath.Join(c.cfg.SourceDir, name)
}

// Invalidate drops the cached build.
func (c *Compiler) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

func (c *Compiler) cacheValidLocked(digest string) bool {
	e := c.cached
	if e == nil || e.digest != digest {
		return false
	}
	if c.cfg.CacheTTL > 0 && c.now().Sub(e.builtAt) > c.cfg.CacheTTL {
		return false
	}
	_, err := os.Stat(e.path)
	return err == nil
}

// Detect returns the compiler path, probing it on first use.
func (c *Compiler) Detect(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detectLocked(ctx)
}

// detectLocked finds the compiler once and probes it with --version. A missing
// compiler is logged once per process lifetime.
func (c *Compiler) detectLocked(ctx context.Context) (string, error) {
	if c.compilerPath != "" {
		return c.compilerPath, nil
	}

	name := c.cfg.Compiler
	if name == "" {
		name = defaultCompiler
	}

	path, err := exec.LookPath(name)
	if err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		err = exec.CommandContext(probeCtx, path, "--version").Run()
	}
	if err != nil {
		if !c.missingLogged {
			c.missingLogged = true
			c.logger.Error("C++ compiler not available, worker cannot be built", "compiler", name, "error", err)
		}
		return "", fmt.Errorf("%w: compiler %s unavailable: %v", bridge.ErrNoExecutable, name, err)
	}

	c.compilerPath = path
	return path, nil
}

// Digest hashes file names and contents with BLAKE3.
func Digest(files []string) (string, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	h := blake3.New()
	for _, f := range sorted {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read source %s: %w", f, err)
		}
		_, _ = h.Write([]byte(filepath.Base(f)))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}

// CheckExecutable wraps ErrNoExecutable when path is missing.
func CheckExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrNoExecutable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("worker executable is a directory: %s", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return fmt.Errorf("worker executable is not executable: %s", path)
	}
	return nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "...[truncated]"
}

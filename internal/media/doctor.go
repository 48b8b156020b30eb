package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Tool names reported by the toolchain probe.
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
	ToolYtDlp   = "yt-dlp"
)

// Prober reports which external tools are usable.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Tool is one external program and the command that prints its version.
type Tool struct {
	Name    string
	Version Command
}

// Toolchain probes each Tool by running its version command.
type Toolchain struct {
	runner  Runner
	tools   []Tool
	timeout time.Duration
	logger  *slog.Logger
}

func NewToolchain(runner Runner, logger *slog.Logger, tools ...Tool) *Toolchain {
	return &Toolchain{runner: runner, tools: tools, timeout: 10 * time.Second, logger: logger}
}

func (t *Toolchain) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{Tools: make(map[string]DepInfo, len(t.tools))}

	for _, tool := range t.tools {
		runCtx, cancel := context.WithTimeout(ctx, t.timeout)
		res := t.runner.Run(runCtx, tool.Version)
		cancel()

		info := DepInfo{Path: tool.Version.Path}
		if res.IsSuccess() {
			info.Available = true
			info.Version = firstLine(res.Stdout)
			caps.Summary.Available++
		} else {
			info.Error = lastLine(res.StderrTail)
		}
		caps.Tools[tool.Name] = info
		caps.Summary.Total++
	}

	caps.Summary.AllOK = caps.Summary.Available == caps.Summary.Total
	caps.CanCut = isAvailable(caps.Tools, ToolFFmpeg) && isAvailable(caps.Tools, ToolFFprobe)
	caps.CanAcquire = caps.CanCut && isAvailable(caps.Tools, ToolYtDlp)
	caps.ProbedAt = time.Now()

	t.logger.Info("toolchain probe complete",
		"can_cut", caps.CanCut,
		"can_acquire", caps.CanAcquire,
		"tools_available", caps.Summary.Available,
		"tools_total", caps.Summary.Total,
	)
	return caps, nil
}

// CachedDoctor wraps a Prober to cache probe results with a configurable TTL.
// This avoids spawning version checks on every health request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("toolchain probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func isAvailable(tools map[string]DepInfo, name string) bool {
	d, ok := tools[name]
	return ok && d.Available
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 120)
}

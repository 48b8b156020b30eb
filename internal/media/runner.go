package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 1 << 20
)

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	// OnLine, when set, receives every stdout and stderr line as it arrives.
	OnLine func(line string)
}

// Runner executes external commands. It is the single subprocess entry point
// used by the validator, the cutter, the doctor and acquisition.
type Runner interface {
	Run(ctx context.Context, cmd Command) RunResult
}

// SubprocessRunner is the production Runner.
type SubprocessRunner struct {
	logger *slog.Logger
}

func NewSubprocessRunner(logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{logger: logger}
}

func (r *SubprocessRunner) Run(ctx context.Context, c Command) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	var stdout io.Writer = &headWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	var stderr io.Writer = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	var lines *lineWriter
	if c.OnLine != nil {
		lines = &lineWriter{fn: c.OnLine}
		stdout = io.MultiWriter(stdout, lines)
		stderr = io.MultiWriter(stderr, lines)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit the pipes must not hold Run open after a kill.
	cmd.WaitDelay = 2 * time.Second

	r.logger.Debug("executing command", "path", c.Path, "args", c.Args)

	err := cmd.Run()
	if lines != nil {
		lines.flush()
	}
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode == -1 && err != nil && stderrTail == "" {
		stderrTail = err.Error()
	}

	result := RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrTail,
		Duration:   elapsed,
		TimedOut:   errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if exitCode != 0 {
		r.logger.Warn("command failed",
			"path", c.Path,
			"exit_code", exitCode,
			"timed_out", result.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.logger.Debug("command succeeded", "path", c.Path, "duration_ms", elapsed.Milliseconds())
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

// headWriter keeps only the first `limit` bytes.
type headWriter struct {
	w     *bytes.Buffer
	limit int
}

func (hw *headWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := hw.limit - hw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		hw.w.Write(p)
	}
	return n, nil
}

// lineWriter splits output on newlines and carriage returns. stdout and
// stderr are copied on separate goroutines, hence the lock.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			if len(lw.buf) > 0 {
				lw.fn(string(lw.buf))
				lw.buf = lw.buf[:0]
			}
			continue
		}
		lw.buf = append(lw.buf, b)
	}
	return len(p), nil
}

func (lw *lineWriter) flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.buf) > 0 {
		lw.fn(string(lw.buf))
		lw.buf = nil
	}
}

// Package acquire downloads videos by reference with yt-dlp.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/media"
)

// Request names what to fetch and where to put it. The file is written as
// <OutputDir>/<ID>.<ext>.
type Request struct {
	URL       string
	ID        string
	OutputDir string
}

// Download is a completed acquisition.
type Download struct {
	Path     string
	Size     int64
	Strategy string
}

// ProgressFunc receives download percentages and the strategy in use.
type ProgressFunc func(percent float64, strategy string)

// Fetcher acquires a remote video into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, progress ProgressFunc) (*Download, error)
}

// Strategy is one player client to impersonate.
type Strategy struct {
	Name         string
	PlayerClient string
	UserAgent    string
}

const (
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
	uaAndroid = "com.google.android.youtube/19.09.37 (Linux; U; Android 11) gzip"
	uaDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// DefaultStrategies are tried in order until one succeeds.
var DefaultStrategies = []Strategy{
	{Name: "ios", PlayerClient: "ios", UserAgent: uaIPhone},
	{Name: "mweb", PlayerClient: "mweb", UserAgent: uaIPhone},
	{Name: "android", PlayerClient: "android", UserAgent: uaAndroid},
	{Name: "android_embedded", PlayerClient: "android_embedded", UserAgent: uaAndroid},
	{Name: "tv_embedded", PlayerClient: "tv_embedded", UserAgent: uaDesktop},
	{Name: "web", PlayerClient: "web", UserAgent: uaDesktop},
}

// outputExtensions are checked in order after a successful run.
var outputExtensions = []string{"mp4", "webm", "mkv", "m4a"}

var progressPattern = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)

// ParseProgress extracts a download percentage from one line of output.
func ParseProgress(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if p > 100 {
		p = 100
	}
	return p, true
}

// Invocation is how yt-dlp is started: a binary plus any leading arguments,
// such as "python3 -m yt_dlp".
type Invocation struct {
	Executable string
	Prefix     []string
}

func (i Invocation) Command(args ...string) media.Command {
	return media.Command{Path: i.Executable, Args: append(append([]string(nil), i.Prefix...), args...)}
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Executable + " " + strings.Join(i.Prefix, " "))
}

// Candidates lists the invocations tried by Detect, most common first.
func Candidates(preferred string) []Invocation {
	if preferred != "" {
		return []Invocation{{Executable: preferred}}
	}
	return []Invocation{
		{Executable: "python3", Prefix: []string{"-m", "yt_dlp"}},
		{Executable: "python", Prefix: []string{"-m", "yt_dlp"}},
		{Executable: "yt-dlp"},
		{Executable: "/usr/local/bin/yt-dlp"},
		{Executable: "/usr/bin/yt-dlp"},
	}
}

// Detect returns the first candidate whose --version succeeds.
func Detect(ctx context.Context, runner media.Runner, preferred string) (Invocation, error) {
	for _, c := range Candidates(preferred) {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res := runner.Run(runCtx, c.Command("--version"))
		cancel()
		if res.IsSuccess() {
			return c, nil
		}
	}
	return Invocation{}, failure.New(failure.KindConfiguration, "yt-dlp is not available on the server")
}

// Config tunes the yt-dlp fetcher.
type Config struct {
	Path       string        // empty = auto-detect
	Timeout    time.Duration // whole acquisition, all strategies
	Pause      time.Duration // between strategies, default 2s
	Strategies []Strategy
}

// YtDlp is the production Fetcher.
type YtDlp struct {
	runner media.Runner
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	inv *Invocation
}

func NewYtDlp(runner media.Runner, cfg Config, logger *slog.Logger) *YtDlp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 2 * time.Second
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies
	}
	return &YtDlp{runner: runner, cfg: cfg, logger: logging.WithComponent(logger, "acquire")}
}

// Invocation returns the detected yt-dlp command, detecting it on first use.
func (y *YtDlp) Invocation(ctx context.Context) (Invocation, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.inv != nil {
		return *y.inv, nil
	}
	inv, err := Detect(ctx, y.runner, y.cfg.Path)
	if err != nil {
		return Invocation{}, err
	}
	y.logger.Info("yt-dlp detected", "command", inv.String())
	y.inv = &inv
	return inv, nil
}

// Args builds the yt-dlp argument list for one strategy.
func Args(s Strategy, outputTemplate, url string) []string {
	return []string{
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--user-agent", s.UserAgent,
		"--referer", "https://www.youtube.com/",
		"--extractor-args", "youtube:player_client=" + s.PlayerClient,
		"--retries", "3",
		"--fragment-retries", "3",
		"--file-access-retries", "3",
		"--sleep-requests", "1",
		"-4",
		"-o", outputTemplate,
		url,
	}
}

func (y *YtDlp) Fetch(ctx context.Context, req Request, progress ProgressFunc) (*Download, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	inv, err := y.Invocation(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, y.cfg.Timeout)
	defer cancel()

	logger := logging.WithVideoID(y.logger, req.ID).With("url", logging.SanitizeURL(req.URL, "v"))
	template := filepath.Join(req.OutputDir, req.ID+".%(ext)s")
	lastMessage := "Download failed. Check the URL and try again."

	for i, s := range y.cfg.Strategies {
		if i > 0 {
			logger.Info("switching acquisition strategy", "strategy", s.Name, "attempt", i+1)
			y.clearCache(ctx, inv)
			select {
			case <-ctx.Done():
				return nil, y.cancelled(ctx)
			case <-time.After(y.cfg.Pause):
			}
		}

		strategy := s.Name
		cmd := inv.Command(Args(s, template, req.URL)...)
		cmd.OnLine = func(line string) {
			if p, ok := ParseProgress(line); ok {
				progress(p, strategy)
			}
		}
		res := y.runner.Run(ctx, cmd)

		if res.IsSuccess() {
			if path, size, ok := findOutput(req.OutputDir, req.ID); ok {
				logger.Info("acquisition succeeded", "strategy", s.Name, "size", size, "elapsed_ms", res.Duration.Milliseconds())
				return &Download{Path: path, Size: size, Strategy: s.Name}, nil
			}
			lastMessage = "Downloaded file is missing or empty."
			logger.Warn("acquisition produced no file", "strategy", s.Name)
			continue
		}
		if ctx.Err() != nil {
			return nil, y.cancelled(ctx)
		}

		lastMessage = Classify(res.StderrTail, res.ExitCode)
		logger.Warn("acquisition strategy failed", "strategy", s.Name, "exit_code", res.ExitCode, "reason", lastMessage)
	}

	return nil, failure.New(failure.KindAcquisitionFailed, "%s", lastMessage)
}

func (y *YtDlp) cancelled(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return failure.New(failure.KindAcquisitionFailed, "Download timed out after %s", y.cfg.Timeout)
	}
	return failure.Wrap(failure.KindAcquisitionFailed, ctx.Err(), "Download cancelled")
}

// clearCache drops yt-dlp's cached player data between strategies. Failures
// are ignored.
func (y *YtDlp) clearCache(ctx context.Context, inv Invocation) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	y.runner.Run(runCtx, inv.Command("--rm-cache-dir"))
}

func findOutput(dir, id string) (string, int64, bool) {
	for _, ext := range outputExtensions {
		p := filepath.Join(dir, id+"."+ext)
		if st, err := os.Stat(p); err == nil && st.Size() > 0 {
			return p, st.Size(), true
		}
	}
	return "", 0, false
}

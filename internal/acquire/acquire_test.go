package acquire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/media"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []media.Command
	fn    func(c media.Command) media.RunResult
}

func (f *fakeRunner) Run(ctx context.Context, c media.Command) media.RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.fn(c)
}

func (f *fakeRunner) downloads() []media.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []media.Command
	for _, c := range f.calls {
		if contains(c.Args, "--newline") {
			out = append(out, c)
		}
	}
	return out
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123&t=42s", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "https://youtu.be/dQw4w9WgXcQ?si=abc", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", false},
		{"https://www.youtube.com/playlist?list=PL123", "", false},
		{"ftp://youtu.be/x", "", false},
		{"not a url", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := SanitizeURL(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SanitizeURL(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                  "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ?x=1": "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://www.youtube.com/":                      "",
		"https://vimeo.com/123456789":                   "",
	}
	for in, want := range tests {
		if got := ExtractVideoID(in); got != want {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[download]  45.3% of ~ 12.34MiB at  1.20MiB/s ETA 00:07", 45.3, true},
		{"[download] 100% of 12.34MiB in 00:10", 100, true},
		{"[download]   0.0% of 10MiB", 0, true},
		{"[youtube] dQw4w9WgXcQ: Downloading webpage", 0, false},
		{"[download] Destination: /tmp/x.mp4", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseProgress(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseProgress(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		stderr string
		want   string
	}{
		{"ERROR: [youtube] x: Private video. Sign in if you've been granted access", "This video is unavailable or private. Use a public video."},
		{"ERROR: Sign in to confirm your age", "This video requires age confirmation and cannot be downloaded automatically."},
		{"ERROR: unable to download video data: HTTP Error 403: Forbidden", "YouTube refused access (403). This is often temporary. Try again in a few minutes or upgrade yt-dlp."},
		{"ERROR: Requested format is not available", "No downloadable format is available for this video right now. Try again in a few minutes."},
		{"ERROR: The uploader has not made this video available in your country; blocked in your country", "This video is not available in this region."},
		{"ERROR: This video has been removed by the uploader", "Video is unavailable or has been removed."},
	}
	for _, tt := range tests {
		if got := Classify(tt.stderr, 1); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.stderr, got, tt.want)
		}
	}
}

func TestClassify_FallbackStripsPaths(t *testing.T) {
	got := Classify("ERROR: unable to open for writing: /var/data/downloads/abc.mp4.part", 1)
	if strings.Contains(got, "/var/data") || !strings.HasPrefix(got, "Download failed: ") {
		t.Errorf("Classify() = %q", got)
	}
	if got := Classify("", 2); got != "Download failed (exit code 2). Check the URL and try again." {
		t.Errorf("Classify(empty) = %q", got)
	}
}

func TestDetect(t *testing.T) {
	runner := &fakeRunner{fn: func(c media.Command) media.RunResult {
		if c.Path == "yt-dlp" {
			return media.RunResult{Stdout: "2024.12.13\n"}
		}
		return media.RunResult{ExitCode: 1}
	}}
	inv, err := Detect(context.Background(), runner, "")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if inv.Executable != "yt-dlp" || len(inv.Prefix) != 0 {
		t.Errorf("Detect() = %+v", inv)
	}
	if len(runner.calls) != 3 {
		t.Errorf("probed %d candidates, want 3", len(runner.calls))
	}

	runner.fn = func(c media.Command) media.RunResult { return media.RunResult{ExitCode: -1} }
	if _, err := Detect(context.Background(), runner, ""); !errors.Is(err, failure.KindConfiguration) {
		t.Errorf("Detect(none) error = %v", err)
	}

	py := Invocation{Executable: "python3", Prefix: []string{"-m", "yt_dlp"}}
	cmd := py.Command("--version")
	if cmd.Path != "python3" || strings.Join(cmd.Args, " ") != "-m yt_dlp --version" {
		t.Errorf("Command() = %+v", cmd)
	}
}

func TestYtDlp_FallsBackAcrossStrategies(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	runner.fn = func(c media.Command) media.RunResult {
		if contains(c.Args, "--version") || contains(c.Args, "--rm-cache-dir") {
			return media.RunResult{}
		}
		switch argAfter(c.Args, "--extractor-args") {
		case "youtube:player_client=ios":
			c.OnLine("[download]  35.0% of 10MiB")
			return media.RunResult{ExitCode: 1, StderrTail: "ERROR: HTTP Error 403: Forbidden"}
		default:
			c.OnLine("[download]   5.0% of 10MiB")
			c.OnLine("[download]  80.0% of 10MiB")
			out := strings.Replace(argAfter(c.Args, "-o"), "%(ext)s", "webm", 1)
			os.WriteFile(out, []byte("video"), 0644)
			return media.RunResult{}
		}
	}

	y := NewYtDlp(runner, Config{Path: "yt-dlp", Pause: time.Millisecond}, testLogger())
	var seen []float64
	var strategies []string
	dl, err := y.Fetch(context.Background(), Request{URL: "https://youtu.be/dQw4w9WgXcQ", ID: "v1", OutputDir: dir},
		func(p float64, s string) {
			seen = append(seen, p)
			strategies = append(strategies, s)
		})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if dl.Path != filepath.Join(dir, "v1.webm") || dl.Size != 5 || dl.Strategy != "mweb" {
		t.Errorf("Fetch() = %+v", dl)
	}
	if len(seen) != 3 || seen[0] != 35 || seen[1] != 5 || strategies[2] != "mweb" {
		t.Errorf("progress = %v via %v", seen, strategies)
	}

	first := runner.downloads()[0]
	for _, flag := range []string{"--no-playlist", "--newline", "-4", "--merge-output-format"} {
		if !contains(first.Args, flag) {
			t.Errorf("missing %s in %v", flag, first.Args)
		}
	}
	if first.Args[len(first.Args)-1] != "https://youtu.be/dQw4w9WgXcQ" {
		t.Errorf("url must be the last argument: %v", first.Args)
	}
}

func TestYtDlp_AllStrategiesFail(t *testing.T) {
	runner := &fakeRunner{fn: func(c media.Command) media.RunResult {
		if contains(c.Args, "--version") || contains(c.Args, "--rm-cache-dir") {
			return media.RunResult{}
		}
		return media.RunResult{ExitCode: 1, StderrTail: "ERROR: [youtube] x: Video unavailable"}
	}}
	y := NewYtDlp(runner, Config{Pause: time.Millisecond}, testLogger())

	_, err := y.Fetch(context.Background(), Request{URL: "https://youtu.be/x", ID: "v2", OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, failure.KindAcquisitionFailed) {
		t.Fatalf("Fetch() error = %v, want AcquisitionFailed", err)
	}
	if err.Error() != "This video is unavailable or private. Use a public video." {
		t.Errorf("message = %q", err.Error())
	}
	if n := len(runner.downloads()); n != len(DefaultStrategies) {
		t.Errorf("tried %d strategies, want %d", n, len(DefaultStrategies))
	}
}

func TestYtDlp_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{fn: func(c media.Command) media.RunResult {
		if contains(c.Args, "--version") {
			return media.RunResult{}
		}
		cancel()
		return media.RunResult{ExitCode: -1}
	}}
	y := NewYtDlp(runner, Config{Pause: time.Hour}, testLogger())

	_, err := y.Fetch(ctx, Request{URL: "https://youtu.be/x", ID: "v3", OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, failure.KindAcquisitionFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v", err)
	}
}

package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner records commands and answers with fn.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	fn    func(c Command) RunResult
}

func (f *fakeRunner) Run(ctx context.Context, c Command) RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.fn(c)
}

const sampleProbe = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"}
  ],
  "format": {"duration": "187.421000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got, want := buf.String(), " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestHeadWriter_KeepsOnlyHead(t *testing.T) {
	var buf bytes.Buffer
	hw := &headWriter{w: &buf, limit: 5}
	n, _ := hw.Write([]byte("1234567"))
	hw.Write([]byte("89"))
	if n != 7 || buf.String() != "12345" {
		t.Errorf("n = %d, buf = %q", n, buf.String())
	}
}

func TestLineWriter(t *testing.T) {
	var got []string
	lw := &lineWriter{fn: func(s string) { got = append(got, s) }}
	lw.Write([]byte("[download]  10.0%\r[download]  20.5%\n[down"))
	lw.Write([]byte("load] 100%"))
	lw.flush()

	want := []string{"[download]  10.0%", "[download]  20.5%", "[download] 100%"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestSubprocessRunner(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("no sh on PATH: %v", err)
	}
	r := NewSubprocessRunner(testLogger())

	var lines []string
	var mu sync.Mutex
	res := r.Run(context.Background(), Command{
		Path: sh,
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
		OnLine: func(l string) {
			mu.Lock()
			lines = append(lines, l)
			mu.Unlock()
		},
	})
	if res.ExitCode != 3 || res.Stdout != "out\n" || res.StderrTail != "err\n" {
		t.Errorf("result = %+v", res)
	}
	if len(lines) != 2 {
		t.Errorf("lines = %q", lines)
	}

	res = r.Run(context.Background(), Command{Path: "/nonexistent/tool"})
	if res.ExitCode != -1 || res.StderrTail == "" {
		t.Errorf("missing binary result = %+v", res)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res = r.Run(ctx, Command{Path: sh, Args: []string{"-c", "exec sleep 5"}})
	if res.IsSuccess() || !res.TimedOut {
		t.Errorf("timeout result = %+v", res)
	}
}

func TestParseProbe(t *testing.T) {
	info, err := ParseProbe([]byte(sampleProbe), 2048)
	if err != nil {
		t.Fatalf("ParseProbe() error = %v", err)
	}
	if info.Duration != 187 || info.DurationExact != 187.421 {
		t.Errorf("duration = %d (%v)", info.Duration, info.DurationExact)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "aac" || info.Width != 1920 || info.Height != 1080 {
		t.Errorf("info = %+v", info)
	}
	if info.FPS != 29.97 || info.Size != 2048 {
		t.Errorf("fps = %v, size = %d", info.FPS, info.Size)
	}
}

func TestParseProbe_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "garbage"},
		{"no duration", `{"format":{},"streams":[{"codec_type":"video"}]}`},
		{"zero duration", `{"format":{"duration":"0.000"},"streams":[{"codec_type":"video"}]}`},
		{"audio only", `{"format":{"duration":"30.0"},"streams":[{"codec_type":"audio","codec_name":"aac"}]}`},
		{"under a second", `{"format":{"duration":"0.4"},"streams":[{"codec_type":"video"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProbe([]byte(tt.data), 1); !errors.Is(err, failure.KindValidationFailed) {
				t.Errorf("ParseProbe() error = %v, want ValidationFailed", err)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := map[string]float64{"25/1": 25, "30000/1001": 29.97, "0/0": 0, "24": 24, "": 0}
	for in, want := range tests {
		if got := parseFrameRate(in); got != want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestProbe_Validate(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "v.mp4")
	os.WriteFile(video, []byte("not really a video"), 0644)
	empty := filepath.Join(dir, "empty.mp4")
	os.WriteFile(empty, nil, 0644)

	runner := &fakeRunner{fn: func(c Command) RunResult {
		return RunResult{Stdout: sampleProbe}
	}}
	p := NewProbe(runner, "ffprobe", time.Second, testLogger())

	info, err := p.Validate(context.Background(), video)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.Duration != 187 || info.Size != int64(len("not really a video")) {
		t.Errorf("info = %+v", info)
	}
	last := runner.calls[0]
	if last.Path != "ffprobe" || last.Args[len(last.Args)-1] != video {
		t.Errorf("command = %+v", last)
	}

	for _, path := range []string{filepath.Join(dir, "missing.mp4"), empty, dir} {
		if _, err := p.Validate(context.Background(), path); !errors.Is(err, failure.KindValidationFailed) {
			t.Errorf("Validate(%s) error = %v, want ValidationFailed", filepath.Base(path), err)
		}
	}
	if len(runner.calls) != 1 {
		t.Errorf("ffprobe ran %d times, want 1", len(runner.calls))
	}

	runner.fn = func(c Command) RunResult {
		return RunResult{ExitCode: 1, StderrTail: "moov atom not found\nInvalid data found when processing input\n"}
	}
	_, err = p.Validate(context.Background(), video)
	if !errors.Is(err, failure.KindValidationFailed) {
		t.Fatalf("error = %v", err)
	}
	if failure.Message(err) != "Video is not readable: Invalid data found when processing input" {
		t.Errorf("message = %q", failure.Message(err))
	}
}

func TestCutArgs(t *testing.T) {
	args := CutArgs("/in.mp4", "/out.mp4", 90, 60)
	want := []string{"-y", "-ss", "90", "-i", "/in.mp4", "-t", "60", "-c:v", "libx264", "-c:a", "aac",
		"-preset", "veryfast", "-crf", "23", "-movflags", "+faststart", "-pix_fmt", "yuv420p",
		"-avoid_negative_ts", "make_zero", "-fflags", "+genpts", "/out.mp4"}
	if len(args) != len(want) {
		t.Fatalf("args = %q", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestFFmpegCutter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp4")
	os.WriteFile(src, []byte("source"), 0644)
	dst := filepath.Join(dir, "series", "clip_001.mp4")

	var calls atomic.Int32
	runner := &fakeRunner{fn: func(c Command) RunResult {
		calls.Add(1)
		out := c.Args[len(c.Args)-1]
		os.WriteFile(out, []byte("clip"), 0644)
		return RunResult{}
	}}
	cutter := NewFFmpegCutter(runner, "ffmpeg", time.Second, testLogger())

	if err := cutter.Cut(context.Background(), src, dst, 30, 60); err != nil {
		t.Fatalf("Cut() error = %v", err)
	}
	if data, _ := os.ReadFile(dst); string(data) != "clip" {
		t.Errorf("dst content = %q", data)
	}
	if _, err := os.Stat(tempPath(dst)); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	if err := cutter.Cut(context.Background(), filepath.Join(dir, "gone.mp4"), dst, 0, 60); !errors.Is(err, failure.KindCutFailed) {
		t.Errorf("missing source error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("ffmpeg ran %d times, want 1", calls.Load())
	}
}

func TestFFmpegCutter_Failures(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp4")
	os.WriteFile(src, []byte("source"), 0644)
	dst := filepath.Join(dir, "clip_001.mp4")

	tests := []struct {
		name string
		fn   func(c Command) RunResult
	}{
		{"exit code", func(c Command) RunResult { return RunResult{ExitCode: 1, StderrTail: "Conversion failed!"} }},
		{"empty output", func(c Command) RunResult {
			os.WriteFile(c.Args[len(c.Args)-1], nil, 0644)
			return RunResult{}
		}},
		{"timeout", func(c Command) RunResult { return RunResult{ExitCode: -1, TimedOut: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cutter := NewFFmpegCutter(&fakeRunner{fn: tt.fn}, "ffmpeg", time.Second, testLogger())
			if err := cutter.Cut(context.Background(), src, dst, 0, 60); !errors.Is(err, failure.KindCutFailed) {
				t.Errorf("Cut() error = %v, want CutFailed", err)
			}
			if _, err := os.Stat(dst); !os.IsNotExist(err) {
				t.Error("dst must not exist after a failed cut")
			}
		})
	}
}

func TestToolchain_Probe(t *testing.T) {
	runner := &fakeRunner{fn: func(c Command) RunResult {
		switch c.Path {
		case "ffmpeg":
			return RunResult{Stdout: "ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc"}
		case "ffprobe":
			return RunResult{Stdout: "ffprobe version 6.1.1\n"}
		default:
			return RunResult{ExitCode: -1, StderrTail: "executable file not found in $PATH"}
		}
	}}
	tc := NewToolchain(runner, testLogger(),
		Tool{Name: ToolFFmpeg, Version: Command{Path: "ffmpeg", Args: []string{"-version"}}},
		Tool{Name: ToolFFprobe, Version: Command{Path: "ffprobe", Args: []string{"-version"}}},
		Tool{Name: ToolYtDlp, Version: Command{Path: "yt-dlp", Args: []string{"--version"}}},
	)

	caps, err := tc.Probe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !caps.CanCut || caps.CanAcquire {
		t.Errorf("CanCut = %v, CanAcquire = %v", caps.CanCut, caps.CanAcquire)
	}
	if caps.Tools[ToolFFmpeg].Version != "ffmpeg version 6.1.1 Copyright (c) 2000-2023" {
		t.Errorf("ffmpeg version = %q", caps.Tools[ToolFFmpeg].Version)
	}
	if caps.Summary.Available != 2 || caps.Summary.Total != 3 || caps.Summary.AllOK {
		t.Errorf("summary = %+v", caps.Summary)
	}
	if caps.Tools[ToolYtDlp].Error == "" {
		t.Error("expected yt-dlp error detail")
	}
}

type fakeProber struct {
	calls atomic.Int32
	err   error
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Capabilities{CanCut: true, ProbedAt: time.Now()}, nil
}

func TestCachedDoctor_TTL(t *testing.T) {
	fake := &fakeProber{}
	doc := NewCachedDoctor(fake, testLogger())
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	caps2, _ := doc.Get(ctx)
	if caps2.ProbedAt != caps1.ProbedAt || fake.calls.Load() != 1 {
		t.Errorf("expected cached result, calls = %d", fake.calls.Load())
	}

	time.Sleep(150 * time.Millisecond)
	doc.Get(ctx)
	if fake.calls.Load() != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", fake.calls.Load())
	}
}

func TestCachedDoctor_StaleOnError(t *testing.T) {
	fake := &fakeProber{}
	doc := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	if doc.Peek() != nil {
		t.Error("Peek() before probe should be nil")
	}
	first, _ := doc.Get(ctx)

	fake.err = errors.New("exec failed")
	got, err := doc.Refresh(ctx)
	if err != nil || got != first {
		t.Errorf("Refresh() = %v, %v; want stale cache", got, err)
	}

	doc.Invalidate()
	if _, err := doc.Get(ctx); err == nil {
		t.Error("expected error with empty cache and failing probe")
	}
}

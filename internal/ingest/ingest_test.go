package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ezclips/ezclips-server/internal/acquire"
	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/media"
	"github.com/ezclips/ezclips-server/internal/progress"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeValidator struct {
	calls    atomic.Int32
	duration int
	err      error
}

func (f *fakeValidator) Validate(ctx context.Context, path string) (*media.Info, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &media.Info{Duration: f.duration, DurationExact: float64(f.duration)}, nil
}

type fakeCutter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCutter) Cut(ctx context.Context, src, dst string, start, duration int) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("clip"), 0644)
}

type fakeFetcher struct {
	calls    atomic.Int32
	progress []float64
	err      error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req acquire.Request, fn acquire.ProgressFunc) (*acquire.Download, error) {
	f.calls.Add(1)
	for _, p := range f.progress {
		fn(p, "ios")
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(req.OutputDir, req.ID+".mp4")
	if err := os.WriteFile(path, []byte("downloaded"), 0644); err != nil {
		return nil, err
	}
	return &acquire.Download{Path: path, Size: 10, Strategy: "ios"}, nil
}

type fixture struct {
	svc       *Service
	registry  *catalog.Registry
	machine   *lifecycle.Machine
	validator *fakeValidator
	cutter    *fakeCutter
	fetcher   *fakeFetcher
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		registry:  catalog.NewRegistry(catalog.NewMemoryRepository(), testLogger()),
		machine:   lifecycle.NewMachine(lifecycle.NewMemoryStore(), testLogger(), nil),
		validator: &fakeValidator{duration: 300},
		cutter:    &fakeCutter{},
		fetcher:   &fakeFetcher{},
		dir:       dir,
	}
	cfg := Config{
		UploadsDir:     filepath.Join(dir, "uploads"),
		DownloadsDir:   filepath.Join(dir, "downloads"),
		MaxUploadBytes: 1024,
	}
	f.svc = NewService(cfg, f.registry, f.machine, f.validator, f.cutter, f.fetcher, nil, testLogger())
	return f
}

func recorded(r *progress.Recorder) []progress.Status {
	var out []progress.Status
	for _, e := range r.Events() {
		out = append(out, e.Status)
	}
	return out
}

func TestCheckUpload(t *testing.T) {
	tests := []struct {
		name, filename, contentType string
		ok                          bool
	}{
		{"mp4", "clip.MP4", "video/mp4", true},
		{"octet stream", "clip.mkv", "application/octet-stream", true},
		{"empty content type", "clip.mov", "", true},
		{"bad extension", "notes.txt", "video/mp4", false},
		{"bad content type", "clip.mp4", "image/png", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckUpload(tt.filename, tt.contentType)
			if (err == nil) != tt.ok {
				t.Errorf("CheckUpload(%q, %q) error = %v", tt.filename, tt.contentType, err)
			}
			if err != nil && !errors.Is(err, failure.KindInvalidInput) {
				t.Errorf("error kind = %v, want InvalidInput", failure.KindOf(err))
			}
		})
	}
}

func TestUpload_RegistersReadyVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Upload(ctx, Upload{Filename: "holiday.mp4", ContentType: "video/mp4", Body: strings.NewReader("payload")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !catalog.IsID(v.ID) || v.Duration != 300 || v.Size != 7 || v.SourceKind != catalog.SourceUploaded {
		t.Errorf("Upload() = %+v", v)
	}
	if filepath.Base(v.Path) != v.ID+".mp4" {
		t.Errorf("stored as %s", v.Path)
	}

	ready, _ := f.machine.IsReady(ctx, v.ID)
	if !ready {
		t.Error("uploaded video should be ready")
	}
	st, err := f.svc.Status(ctx, v.ID)
	if err != nil || !st.Ready || st.PlayableURL != "/api/youtube/play/"+v.ID || st.Progress != 100 {
		t.Errorf("Status() = %+v, %v", st, err)
	}
}

func TestUpload_RejectsAndCleansUp(t *testing.T) {
	t.Run("validation failure", func(t *testing.T) {
		f := newFixture(t)
		f.validator.err = failure.New(failure.KindValidationFailed, "no video stream")

		_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.mp4", Body: strings.NewReader("x")})
		if !errors.Is(err, failure.KindValidationFailed) {
			t.Fatalf("Upload() error = %v", err)
		}
		entries, _ := os.ReadDir(filepath.Join(f.dir, "uploads"))
		if len(entries) != 0 {
			t.Errorf("rejected upload left %d files behind", len(entries))
		}
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.mp4", Body: bytes.NewReader(make([]byte, 2048))})
		if !errors.Is(err, failure.KindInvalidInput) {
			t.Fatalf("Upload() error = %v", err)
		}
		if f.validator.calls.Load() != 0 {
			t.Error("oversized upload should not be probed")
		}
	})

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.webm", Body: strings.NewReader("")})
		if !errors.Is(err, failure.KindInvalidInput) {
			t.Fatalf("Upload() error = %v", err)
		}
	})
}

func TestFetch_Success(t *testing.T) {
	f := newFixture(t)
	f.fetcher.progress = []float64{12.5, 40, 30, 99.9}
	rec := &progress.Recorder{}
	ch := progress.NewChannel(rec, testLogger())
	ch.Open("Starting download...")

	v, err := f.svc.Fetch(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", ch)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v.OriginURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" || v.OriginID != "dQw4w9WgXcQ" {
		t.Errorf("origin = %q %q", v.OriginURL, v.OriginID)
	}

	got := recorded(rec)
	want := []progress.Status{progress.StatusStarting, progress.StatusDownloading, progress.StatusDownloading,
		progress.StatusDownloading, progress.StatusReady}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	last := rec.Events()[len(got)-1]
	if last.VideoID != v.ID || last.Duration != 300 || last.PlayableURL != PlayableURL(v.ID) {
		t.Errorf("ready event = %+v", last)
	}

	st, _ := f.machine.Get(context.Background(), v.ID)
	if st.State != lifecycle.StateReady || st.Progress != 100 {
		t.Errorf("state = %+v", st)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	f := newFixture(t)
	rec := &progress.Recorder{}
	ch := progress.NewChannel(rec, testLogger())

	_, err := f.svc.Fetch(context.Background(), "https://vimeo.com/123", ch)
	if !errors.Is(err, failure.KindInvalidInput) {
		t.Fatalf("Fetch() error = %v", err)
	}
	if f.fetcher.calls.Load() != 0 {
		t.Error("fetcher should not run for an invalid url")
	}
	if got := recorded(rec); len(got) != 1 || got[0] != progress.StatusError {
		t.Errorf("events = %v", got)
	}
}

func TestFetch_FailureMovesToError(t *testing.T) {
	f := newFixture(t)
	f.fetcher.progress = []float64{20}
	f.fetcher.err = failure.New(failure.KindAcquisitionFailed, "Video is unavailable or has been removed.")
	rec := &progress.Recorder{}
	ch := progress.NewChannel(rec, testLogger())

	_, err := f.svc.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ch)
	if !errors.Is(err, failure.KindAcquisitionFailed) {
		t.Fatalf("Fetch() error = %v", err)
	}
	events := rec.Events()
	last := events[len(events)-1]
	if last.Status != progress.StatusError || last.Error != "Video is unavailable or has been removed." {
		t.Errorf("terminal event = %+v", last)
	}

	videos, _ := f.registry.List(context.Background())
	if len(videos) != 0 {
		t.Errorf("failed fetch registered %d videos", len(videos))
	}
}

func TestFetch_ValidationFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	f.validator.err = failure.New(failure.KindValidationFailed, "Downloaded file has no video stream")

	_, err := f.svc.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ", nil)
	if !errors.Is(err, failure.KindValidationFailed) {
		t.Fatalf("Fetch() error = %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(f.dir, "downloads"))
	if len(entries) != 0 {
		t.Errorf("invalid download left %d files", len(entries))
	}
}

func TestStatus_Unknown(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Status(context.Background(), "missing"); !errors.Is(err, failure.KindNotFound) {
		t.Errorf("Status() error = %v, want NotFound", err)
	}
}

func uploaded(t *testing.T, f *fixture) *catalog.Video {
	t.Helper()
	v, err := f.svc.Upload(context.Background(), Upload{Filename: "a.mp4", Body: strings.NewReader("data")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return v
}

func TestTrim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := uploaded(t, f)

	res, err := f.svc.Trim(ctx, v.ID, 30.7, 90.2)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.StartTime != 30 || res.EndTime != 90 || res.TrimmedDuration != 60 || res.TrimmedVideoURL != TrimmedURL(v.ID) {
		t.Errorf("Trim() = %+v", res)
	}

	got, _ := f.registry.Get(ctx, v.ID)
	if got.TrimmedPath != filepath.Join(filepath.Dir(v.Path), v.ID+"_trimmed.mp4") || *got.TrimStart != 30 {
		t.Errorf("record = %+v", got)
	}
	if ready, _ := f.machine.IsReady(ctx, v.ID); !ready {
		t.Error("video should be ready again after trim")
	}
}

func TestTrim_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := uploaded(t, f)

	if _, err := f.svc.Trim(ctx, v.ID, 0, 301); !errors.Is(err, failure.KindInvalidWindow) {
		t.Errorf("Trim(beyond duration) error = %v", err)
	}

	f.cutter.err = failure.New(failure.KindCutFailed, "Failed to trim video")
	if _, err := f.svc.Trim(ctx, v.ID, 0, 10); !errors.Is(err, failure.KindCutFailed) {
		t.Errorf("Trim(cut failure) error = %v", err)
	}
	if ready, _ := f.machine.IsReady(ctx, v.ID); !ready {
		t.Error("a failed preview should leave the video ready")
	}

	// A video that is no longer ready is re-checked at claim time.
	f.cutter.err = nil
	f.machine.Transition(ctx, v.ID, lifecycle.To(lifecycle.StateError).WithError("boom"))
	if _, err := f.svc.Trim(ctx, v.ID, 0, 10); !errors.Is(err, failure.KindVideoNotReady) {
		t.Errorf("Trim(not ready) error = %v", err)
	}

	if _, err := f.svc.Trim(ctx, "missing", 0, 10); !errors.Is(err, failure.KindNotFound) {
		t.Errorf("Trim(unknown) error = %v", err)
	}
}

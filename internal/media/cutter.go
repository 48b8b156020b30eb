package media

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
)

// Cutter extracts [start, start+duration) of src into dst.
type Cutter interface {
	Cut(ctx context.Context, src, dst string, start, duration int) error
}

// FFmpegCutter re-encodes each clip to H.264/AAC so every output starts on a
// keyframe and plays in browsers.
type FFmpegCutter struct {
	runner  Runner
	ffmpeg  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFmpegCutter(runner Runner, ffmpegPath string, timeout time.Duration, logger *slog.Logger) *FFmpegCutter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FFmpegCutter{runner: runner, ffmpeg: ffmpegPath, timeout: timeout, logger: logger}
}

// CutArgs is the ffmpeg argument list for one clip.
func CutArgs(src, dst string, start, duration int) []string {
	return []string{
		"-y",
		"-ss", strconv.Itoa(start),
		"-i", src,
		"-t", strconv.Itoa(duration),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "veryfast",
		"-crf", "23",
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		dst,
	}
}

// Cut writes to a temporary file next to dst and renames it on success, so
// dst only ever holds a complete clip.
func (c *FFmpegCutter) Cut(ctx context.Context, src, dst string, start, duration int) error {
	if start < 0 || duration <= 0 {
		return failure.New(failure.KindCutFailed, "Invalid cut range %d+%d", start, duration)
	}
	if _, err := os.Stat(src); err != nil {
		return failure.Wrap(failure.KindCutFailed, err, "Source video not found")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return failure.Wrap(failure.KindCutFailed, err, "Cannot create output directory")
	}

	tmp := tempPath(dst)
	defer os.Remove(tmp)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := c.runner.Run(ctx, Command{Path: c.ffmpeg, Args: CutArgs(src, tmp, start, duration)})
	if res.TimedOut {
		return failure.New(failure.KindCutFailed, "ffmpeg timed out after %s", c.timeout)
	}
	if !res.IsSuccess() {
		return failure.New(failure.KindCutFailed, "ffmpeg exited %d: %s", res.ExitCode, lastLine(res.StderrTail))
	}

	st, err := os.Stat(tmp)
	if err != nil || st.Size() == 0 {
		return failure.New(failure.KindCutFailed, "ffmpeg produced an empty file")
	}
	if err := os.Rename(tmp, dst); err != nil {
		return failure.Wrap(failure.KindCutFailed, err, "Cannot move clip into place")
	}

	c.logger.Info("clip cut",
		"output", logging.SanitizePath(dst),
		"start", start,
		"duration", duration,
		"size", st.Size(),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return nil
}

// tempPath keeps the extension so ffmpeg picks the same muxer.
func tempPath(dst string) string {
	ext := filepath.Ext(dst)
	base := strings.TrimSuffix(filepath.Base(dst), ext)
	return filepath.Join(filepath.Dir(dst), "."+base+".tmp"+ext)
}

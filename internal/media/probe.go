package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
)

// Validator checks that a file is a playable video and measures it.
type Validator interface {
	Validate(ctx context.Context, path string) (*Info, error)
}

// Probe is the ffprobe-backed Validator.
type Probe struct {
	runner  Runner
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

func NewProbe(runner Runner, ffprobePath string, timeout time.Duration, logger *slog.Logger) *Probe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Probe{runner: runner, ffprobe: ffprobePath, timeout: timeout, logger: logger}
}

func (p *Probe) Validate(ctx context.Context, path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.New(failure.KindValidationFailed, "Video file not found")
		}
		return nil, failure.Wrap(failure.KindValidationFailed, err, "Cannot read video file")
	}
	if st.IsDir() {
		return nil, failure.New(failure.KindValidationFailed, "Video path is a directory")
	}
	if st.Size() == 0 {
		return nil, failure.New(failure.KindValidationFailed, "Video file is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res := p.runner.Run(ctx, Command{
		Path: p.ffprobe,
		Args: []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path},
	})
	if res.TimedOut {
		return nil, failure.New(failure.KindValidationFailed, "Video probe timed out after %s", p.timeout)
	}
	if !res.IsSuccess() {
		return nil, failure.New(failure.KindValidationFailed, "Video is not readable: %s", lastLine(res.StderrTail))
	}

	info, err := ParseProbe([]byte(res.Stdout), st.Size())
	if err != nil {
		return nil, err
	}

	p.logger.Info("video validated",
		"path", logging.SanitizePath(path),
		"duration", info.Duration,
		"codec", info.VideoCodec,
		"resolution", strconv.Itoa(info.Width)+"x"+strconv.Itoa(info.Height),
	)
	return info, nil
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ParseProbe turns ffprobe JSON into Info. A file with no positive duration
// or no video stream fails validation.
func ParseProbe(data []byte, size int64) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, failure.Wrap(failure.KindValidationFailed, err, "Video probe returned unreadable output")
	}

	exact, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || math.IsNaN(exact) || exact <= 0 {
		return nil, failure.New(failure.KindValidationFailed, "Video has no measurable duration")
	}

	info := &Info{
		Duration:      int(math.Floor(exact)),
		DurationExact: exact,
		Size:          size,
		FormatName:    out.Format.FormatName,
	}

	hasVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseFrameRate(s.RFrameRate)
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if !hasVideo {
		return nil, failure.New(failure.KindValidationFailed, "File has no video stream")
	}
	if info.Duration == 0 {
		return nil, failure.New(failure.KindValidationFailed, "Video is shorter than one second")
	}
	return info, nil
}

// parseFrameRate handles ffprobe's "30000/1001" form.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*100) / 100
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "unknown error"
	}
	return truncate(s, 200)
}

// Package media wraps the ffmpeg toolchain: probing files, cutting clips and
// reporting which external tools are installed. Every tool runs as a
// subprocess through a Runner.
package media

import "time"

// Info is what the validator learns about a playable video.
type Info struct {
	Duration      int     `json:"duration"` // whole seconds, floored
	DurationExact float64 `json:"duration_exact"`
	Size          int64   `json:"size"`
	FormatName    string  `json:"format_name,omitempty"`
	VideoCodec    string  `json:"video_codec,omitempty"`
	AudioCodec    string  `json:"audio_codec,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	FPS           float64 `json:"fps,omitempty"`
}

// DepInfo represents the availability status of a single tool.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SummaryInfo summarises overall tool status.
type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// Capabilities is the result of a toolchain probe.
type Capabilities struct {
	Tools    map[string]DepInfo `json:"tools"`
	Summary  SummaryInfo        `json:"summary"`
	ProbedAt time.Time          `json:"probed_at"`

	CanCut     bool `json:"can_cut"`
	CanAcquire bool `json:"can_acquire"`
}

// RunResult is the structured outcome of executing a subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

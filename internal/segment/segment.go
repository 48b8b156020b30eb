// Package segment turns a trim window and a fixed clip length into the ordered
// list of clip boundaries. Everything here is pure arithmetic on whole seconds;
// cutting the media is someone else's job.
package segment

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/ezclips/ezclips-server/internal/failure"
)

// AllowedDurations are the clip lengths the product offers. ComputeBoundaries
// accepts any positive length; callers enforce this list.
var AllowedDurations = []int{60, 120}

// IsAllowedDuration reports whether d is a selectable clip length.
func IsAllowedDuration(d int) bool {
	for _, a := range AllowedDurations {
		if a == d {
			return true
		}
	}
	return false
}

// Window is a trim window in whole seconds, End exclusive.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w Window) Duration() int {
	return w.End - w.Start
}

// ClipSpec is one computed sub-range of the window. Start is an offset in the
// segmentation source.
type ClipSpec struct {
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	Duration   int    `json:"duration"`
	OutputPath string `json:"output_path,omitempty"`
	Label      string `json:"label,omitempty"`
}

func (c ClipSpec) End() int {
	return c.Start + c.Duration
}

// ComputeBoundaries splits [start, end) into floor((end-start)/clipDuration)
// clips of exactly clipDuration seconds. Clip i starts at start+i*clipDuration
// so rounding never accumulates. A window shorter than one clip is rejected
// with InsufficientDuration rather than answered with an empty slice.
func ComputeBoundaries(start, end, clipDuration int) ([]ClipSpec, error) {
	if start < 0 {
		return nil, failure.New(failure.KindInvalidWindow, "start must not be negative")
	}
	if end <= start {
		return nil, failure.New(failure.KindInvalidWindow, "end (%ds) must be after start (%ds)", end, start)
	}
	if clipDuration <= 0 {
		return nil, failure.New(failure.KindInvalidInput, "clip duration must be positive")
	}

	count := (end - start) / clipDuration
	if count == 0 {
		return nil, failure.New(failure.KindInsufficientDuration,
			"trimmed duration (%ds) is shorter than one clip (%ds)", end-start, clipDuration)
	}

	clips := make([]ClipSpec, count)
	for i := range clips {
		clips[i] = ClipSpec{
			Index:    i + 1,
			Start:    start + i*clipDuration,
			Duration: clipDuration,
		}
	}
	return clips, nil
}

// Assign names every clip clip_001.mp4, clip_002.mp4, ... under dir and
// labels it "Part i/n". The input slice is not modified.
func Assign(clips []ClipSpec, dir string) []ClipSpec {
	out := make([]ClipSpec, len(clips))
	for i, c := range clips {
		c.OutputPath = filepath.Join(dir, ClipFilename(c.Index))
		c.Label = fmt.Sprintf("Part %d/%d", c.Index, len(clips))
		out[i] = c
	}
	return out
}

// ClipFilename is the file name of the clip with the given 1-based index.
func ClipFilename(index int) string {
	return fmt.Sprintf("clip_%03d.mp4", index)
}

// ClampWindow floors a requested window onto whole seconds and fits it inside
// a video of the given authoritative duration. When hasEnd is false the
// window runs to the end of the video.
func ClampWindow(start, end float64, hasEnd bool, authoritative int) (Window, error) {
	if authoritative <= 0 {
		return Window{}, failure.New(failure.KindInvalidWindow, "video duration is unknown")
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return Window{}, failure.New(failure.KindInvalidWindow, "trim values must be numbers")
	}

	s := int(math.Max(0, math.Floor(start)))
	e := authoritative
	if hasEnd {
		e = int(math.Min(math.Floor(end), float64(authoritative)))
	}

	if e <= s {
		return Window{}, failure.New(failure.KindInvalidWindow,
			"trim end (%ds) must be after trim start (%ds)", e, s)
	}
	return Window{Start: s, End: e}, nil
}

// Preview is the clip count for each candidate duration over one window.
type Preview struct {
	Window  Window      `json:"window"`
	Counts  map[int]int `json:"counts"`
	Formula string      `json:"formula"`
}

// CountClips previews ComputeBoundaries for several durations without
// committing to one. Non-positive candidates count zero.
func CountClips(start, end int, durations []int) Preview {
	p := Preview{
		Window: Window{Start: start, End: end},
		Counts: make(map[int]int, len(durations)),
	}
	total := end - start
	if total < 0 {
		total = 0
	}
	for _, d := range durations {
		if d <= 0 {
			p.Counts[d] = 0
			continue
		}
		p.Counts[d] = total / d
	}

	keys := make([]int, 0, len(p.Counts))
	for d := range p.Counts {
		keys = append(keys, d)
	}
	sort.Ints(keys)
	if len(keys) > 0 && keys[0] > 0 {
		p.Formula = fmt.Sprintf("floor((%d - %d) / %d) = %d", end, start, keys[0], p.Counts[keys[0]])
	}
	return p
}

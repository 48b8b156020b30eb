// Package series turns a trim window of a ready video into a numbered series
// of equal-length clips, runs the cutting as a queued job and bundles the
// result for download.
package series

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/segment"
)

const (
	JobGenerateSeries = "generate-series"

	ManifestFile = "series.json"
	CutListFile  = "series.edl"

	DefaultHeadlineStyle = "bold"
	DefaultFont          = "Inter"
)

// Series is the manifest of one generated series, written as series.json
// next to its clips.
type Series struct {
	ID            string             `json:"id"`
	VideoID       string             `json:"video_id"`
	JobID         string             `json:"job_id,omitempty"`
	Dir           string             `json:"-"`
	Window        segment.Window     `json:"window"`
	ClipDuration  int                `json:"clip_duration"`
	Clips         []segment.ClipSpec `json:"clips"`
	HeadlineStyle string             `json:"headline_style"`
	Font          string             `json:"font"`
	CreatedAt     time.Time          `json:"created_at"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// ClipFiles lists the clip paths in order.
func (s *Series) ClipFiles() []string {
	out := make([]string, len(s.Clips))
	for i, c := range s.Clips {
		out[i] = c.OutputPath
	}
	return out
}

// Publisher ships a finished series somewhere outside the local data dir.
type Publisher interface {
	PublishSeries(ctx context.Context, s *Series) error
}

// payload is everything a worker needs to produce the series. Values are
// already clamped so any process can run it without re-deriving them.
type payload struct {
	SeriesID      string `json:"seriesId"`
	VideoID       string `json:"videoId"`
	VideoPath     string `json:"videoPath"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	ClipDuration  int    `json:"clipDuration"`
	ClipCount     int    `json:"clipCount"`
	HeadlineStyle string `json:"headlineStyle"`
	Font          string `json:"font"`
}

// Dir is the directory that holds the clips of seriesID under root. Ids that
// are not uuids are refused so they never reach the filesystem.
func Dir(root, seriesID string) (string, bool) {
	if !catalog.IsID(seriesID) {
		return "", false
	}
	return filepath.Join(root, seriesID), true
}

// writeManifest replaces series.json atomically.
func writeManifest(s *Series) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.Dir, ManifestFile), data)
}

// ReadManifest loads the manifest of a completed series.
func ReadManifest(dir string) (*Series, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var s Series
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	s.Dir = dir
	return &s, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

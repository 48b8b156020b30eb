// Package cleanup removes stale media from the data directories.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/logging"
)

const (
	DefaultInterval = time.Hour
	DefaultMaxAge   = 24 * time.Hour
)

// BusyLister reports the ids of videos whose files are in use.
type BusyLister interface {
	Busy(ctx context.Context) (map[string]bool, error)
}

type Config struct {
	// FileDirs hold source files named after their video id.
	FileDirs []string
	// SeriesDir holds one directory per series.
	SeriesDir string
	MaxAge    time.Duration
	Interval  time.Duration
}

// Result summarises one sweep.
type Result struct {
	Removed int
	Freed   int64
}

// Sweeper deletes files and series directories older than MaxAge on a
// ticker. Files of videos that are acquiring or processing are left alone.
type Sweeper struct {
	cfg    Config
	busy   BusyLister
	logger *slog.Logger
	now    func() time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSweeper(cfg Config, busy BusyLister, logger *slog.Logger) *Sweeper {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Sweeper{
		cfg:    cfg,
		busy:   busy,
		logger: logging.WithComponent(logger, "cleanup"),
		now:    time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("sweeper started", "interval", s.cfg.Interval, "max_age", s.cfg.MaxAge)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweeper stopped")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// Sweep runs one pass. Errors on individual entries are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	busy, err := s.busy.Busy(ctx)
	if err != nil {
		// Without the busy list nothing is provably safe to delete.
		s.logger.Error("failed to list busy videos", "error", err)
		return Result{}
	}

	cutoff := s.now().Add(-s.cfg.MaxAge)
	var res Result
	for _, dir := range s.cfg.FileDirs {
		s.sweepFiles(dir, cutoff, busy, &res)
	}
	if s.cfg.SeriesDir != "" {
		s.sweepSeries(cutoff, &res)
	}

	if res.Removed > 0 {
		s.logger.Info("cleanup finished", "removed", res.Removed, "freed_mb", float64(res.Freed)/(1<<20))
	}
	return res
}

func (s *Sweeper) sweepFiles(dir string, cutoff time.Time, busy map[string]bool, res *Result) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read directory", "dir", logging.SanitizePath(dir), "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if id := ownerID(e.Name()); id != "" && busy[id] {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove file", "path", logging.SanitizePath(path), "error", err)
			continue
		}
		res.Removed++
		res.Freed += info.Size()
		s.logger.Debug("removed file", "name", e.Name(), "size", info.Size())
	}
}

func (s *Sweeper) sweepSeries(cutoff time.Time, res *Result) {
	entries, err := os.ReadDir(s.cfg.SeriesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read series directory", "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !catalog.IsID(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.SeriesDir, e.Name())
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove series", "series_id", e.Name(), "error", err)
			continue
		}
		res.Removed++
		res.Freed += size
		s.logger.Debug("removed series", "series_id", e.Name(), "size", size)
	}
}

// ownerID extracts the video id a file name starts with: "<id>.mp4",
// "<id>_trimmed.mp4" and the like.
func ownerID(name string) string {
	const idLen = 36
	if len(name) < idLen || !catalog.IsID(name[:idLen]) {
		return ""
	}
	return name[:idLen]
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

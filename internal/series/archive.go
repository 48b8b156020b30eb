package series

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ezclips/ezclips-server/internal/failure"
)

// Archiver bundles files into a single download.
type Archiver interface {
	Write(w io.Writer, files []string) error
}

// ZipArchiver stores clips uncompressed: they are already encoded video and
// deflating them only costs CPU.
type ZipArchiver struct{}

func (ZipArchiver) Write(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)
	for _, path := range files {
		if err := addFile(zw, path); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Store

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("archive %s: %w", hdr.Name, err)
	}
	return nil
}

// Bundle is a series ready to be streamed as an archive.
type Bundle struct {
	SeriesID string
	Files    []string
	archiver Archiver
}

// Filename is the name offered to the client.
func (b *Bundle) Filename() string {
	return "ezclips-" + b.SeriesID + ".zip"
}

// Write streams the archive to w.
func (b *Bundle) Write(w io.Writer) error {
	return b.archiver.Write(w, b.Files)
}

// Archive locates the clips of a series. It fails with NotFound when the
// series directory is missing or holds no clips, so callers can answer
// before writing any response bytes.
func (o *Orchestrator) Archive(ctx context.Context, seriesID string) (*Bundle, error) {
	dir, ok := Dir(o.root, seriesID)
	if !ok {
		return nil, failure.New(failure.KindNotFound, "series not found")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.New(failure.KindNotFound, "series not found")
		}
		return nil, fmt.Errorf("read series dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasSuffix(name, ".mp4") && !strings.HasPrefix(name, ".") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	if len(files) == 0 {
		return nil, failure.New(failure.KindNotFound, "series has no clips")
	}
	sort.Strings(files)
	return &Bundle{SeriesID: seriesID, Files: files, archiver: o.archiver}, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
)

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// CheckUpload applies the extension and content-type allow-lists. A generic
// binary content type is accepted when the extension is allowed.
func CheckUpload(filename, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !catalog.VideoExtensions[ext] {
		return "", failure.New(failure.KindInvalidInput,
			"Unsupported file type. Allowed: .mp4, .webm, .mov, .avi, .mkv")
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || contentType == "" {
		mt = "application/octet-stream"
	}
	if !catalog.VideoMimeTypes[mt] && mt != "application/octet-stream" {
		return "", failure.New(failure.KindInvalidInput, "Unsupported content type %q", mt)
	}
	return ext, nil
}

// Upload stores, validates and registers an uploaded file. The result is a
// ready video; on any failure the stored file is deleted.
func (s *Service) Upload(ctx context.Context, u Upload) (*catalog.Video, error) {
	ext, err := CheckUpload(u.Filename, u.ContentType)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.UploadsDir, 0755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	id := catalog.NewID()
	path := filepath.Join(s.cfg.UploadsDir, id+ext)
	logger := logging.WithVideoID(s.logger, id)

	size, err := s.store(path, u.Body)
	if err != nil {
		removeQuietly(logger, path)
		return nil, err
	}

	info, err := s.validator.Validate(ctx, path)
	if err != nil {
		removeQuietly(logger, path)
		logger.Warn("uploaded file rejected", "error", err)
		return nil, err
	}

	v := &catalog.Video{
		ID:           id,
		Path:         path,
		Duration:     info.Duration,
		Size:         size,
		SourceKind:   catalog.SourceUploaded,
		OriginalName: filepath.Base(u.Filename),
		MimeType:     u.ContentType,
	}
	if err := s.registry.Register(ctx, v); err != nil {
		removeQuietly(logger, path)
		return nil, err
	}
	if _, err := s.machine.Initialize(ctx, id); err != nil {
		return nil, err
	}
	_, err = s.machine.Transition(ctx, id, lifecycle.To(lifecycle.StateReady).WithProgress(100))
	if err != nil {
		return nil, err
	}

	logger.Info("upload ingested", "size", size, "duration", info.Duration, "original_name", v.OriginalName)
	return v, nil
}

// ErrTooLarge marks uploads over the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// store copies body to path, refusing more than the configured limit.
func (s *Service) store(path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write upload file: %w", err)
	}
	if n > s.cfg.MaxUploadBytes {
		return 0, failure.Wrap(failure.KindInvalidInput, ErrTooLarge,
			"File too large. Maximum size is %d MB", s.cfg.MaxUploadBytes>>20)
	}
	if n == 0 {
		return 0, failure.New(failure.KindInvalidInput, "Uploaded file is empty")
	}
	return n, nil
}

// Package catalog is the video registry: the process-wide mapping from video
// id to the record describing the source file.
package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SourceFetched  = "fetched"
	SourceUploaded = "uploaded"
)

// Video is the registry record of one source video. Duration is in whole
// seconds and is zero until resolved.
type Video struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Duration     int       `json:"duration"`
	Size         int64     `json:"size"`
	SourceKind   string    `json:"source_kind"`
	OriginURL    string    `json:"origin_url,omitempty"`
	OriginID     string    `json:"origin_id,omitempty"`
	OriginalName string    `json:"original_name,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	TrimStart    *int      `json:"trim_start,omitempty"`
	TrimEnd      *int      `json:"trim_end,omitempty"`
	TrimmedPath  string    `json:"trimmed_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (v *Video) clone() *Video {
	c := *v
	if v.TrimStart != nil {
		s := *v.TrimStart
		c.TrimStart = &s
	}
	if v.TrimEnd != nil {
		e := *v.TrimEnd
		c.TrimEnd = &e
	}
	return &c
}

// VideoExtensions are the container formats accepted for upload.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
}

// VideoMimeTypes are the declared content types accepted for upload.
var VideoMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/webm":       true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
}

func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s is shaped like an id minted by NewID. Handlers use
// it before turning ids into file paths.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

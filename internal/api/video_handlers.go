package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/ingest"
	"github.com/ezclips/ezclips-server/internal/progress"
)

const uploadField = "video"

// multipartOverhead is headroom for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

func downloadProgressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
		if rawURL == "" {
			WriteError(w, http.StatusBadRequest, "url query parameter is required", string(failure.KindInvalidInput))
			return
		}

		logger := requestLogger(cfg.Logger, r)
		sse, err := progress.NewSSEWriter(r.Context(), w)
		if err != nil {
			logger.Error("event stream unavailable", "error", err)
			WriteError(w, http.StatusInternalServerError, "streaming not supported", string(failure.KindInternal))
			return
		}

		ch := progress.NewChannel(sse, logger)
		ch.Open("Starting download...")

		// A client that goes away does not cancel the acquisition; the video
		// is still registered and can be picked up through its status.
		cfg.Ingest.Fetch(context.WithoutCancel(r.Context()), rawURL, ch)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Ingest.MaxUploadBytes()+multipartOverhead)

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected a multipart/form-data body", string(failure.KindInvalidInput))
			return
		}
		part, err := findPart(mr, uploadField)
		if err != nil {
			writeUploadError(w, cfg, r, err)
			return
		}
		defer part.Close()

		v, err := cfg.Ingest.Upload(r.Context(), ingest.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		if err != nil {
			writeUploadError(w, cfg, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, uploadToResponse(v, ingest.PlayableURL(v.ID)))
	}
}

// findPart advances to the named file part.
func findPart(mr *multipart.Reader, name string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, failure.New(failure.KindInvalidInput, "No video file provided (field %q)", name)
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == name && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func writeUploadError(w http.ResponseWriter, cfg ServerConfig, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) || errors.Is(err, ingest.ErrTooLarge) {
		msg := failure.Message(err)
		if maxBytes != nil {
			msg = "File too large"
		}
		WriteError(w, http.StatusRequestEntityTooLarge, msg, string(failure.KindInvalidInput))
		return
	}
	writeFailure(w, cfg.Logger, r, err)
}

func videoStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Ingest.Status(r.Context(), chi.URLParam(r, "videoId"))
		if err != nil {
			writeFailure(w, cfg.Logger, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func playVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := lookupVideo(w, cfg, r)
		if !ok {
			return
		}
		if err := cfg.Streamer.Stream(w, r, v.Path); err != nil {
			writeFailure(w, cfg.Logger, r, err)
		}
	}
}

// lookupVideo resolves the videoId URL parameter, writing a 404 when it is
// malformed or unknown.
func lookupVideo(w http.ResponseWriter, cfg ServerConfig, r *http.Request) (*catalog.Video, bool) {
	id := chi.URLParam(r, "videoId")
	if !catalog.IsID(id) {
		WriteError(w, http.StatusNotFound, "video not found", string(failure.KindNotFound))
		return nil, false
	}
	v, err := cfg.Registry.MustGet(r.Context(), id)
	if err != nil {
		writeFailure(w, cfg.Logger, r, err)
		return nil, false
	}
	return v, true
}

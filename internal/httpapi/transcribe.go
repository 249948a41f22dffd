package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/subtitle-pipeline/internal/service"
)

const (
	formatJSON = "json"
	formatSRT  = "srt"
)

// handleTranscribe accepts a multipart upload with the audio in "file" and an
// optional "language" hint. The reply is JSON unless format=srt is requested.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusNotImplemented, "transcription is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	format := strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatSRT {
		writeError(w, http.StatusBadRequest, "format must be json or srt")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := s.transcriber.Transcribe(r.Context(), service.TranscribeRequest{
		Audio:    audio,
		Filename: header.Filename,
		Language: strings.TrimSpace(r.FormValue("language")),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if format == formatSRT {
		name := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename)) + ".srt"
		w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, result.SRT)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

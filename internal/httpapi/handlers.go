package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/service"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

type enqueueJobRequest struct {
	InputPath      string `json:"input_path"`
	OutputPath     string `json:"output_path"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Model          string `json:"model"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.InputPath = strings.TrimSpace(req.InputPath)
	if req.InputPath == "" {
		writeError(w, http.StatusBadRequest, "input_path is required")
		return
	}
	if s.defaults != nil {
		source, target := s.defaults()
		if req.SourceLanguage == "" {
			req.SourceLanguage = source
		}
		if req.TargetLanguage == "" {
			req.TargetLanguage = target
		}
	}
	if req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, "target_language is required")
		return
	}
	tag, err := language.Parse(req.TargetLanguage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target_language")
		return
	}

	job, created := s.queue.Enqueue(service.NewEnqueueRequest(service.SourceManual, jobs.JobPayload{
		InputPath:      req.InputPath,
		OutputPath:     req.OutputPath,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: tag.String(),
		Model:          req.Model,
	}))
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     job,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, jobs.ErrJobNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Cancel(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	settings, err := s.settings.GetRuntimeSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	var req config.RuntimeSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// a client echoing back the redacted key keeps the stored one
	current, err := s.settings.GetRuntimeSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.LLMAPIKey == "" || req.LLMAPIKey == current.Redacted().LLMAPIKey {
		req.LLMAPIKey = current.LLMAPIKey
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.settings.UpdateRuntimeSettings(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	log.Info("Runtime settings updated: model=%s target=%s rpm=%s cron=%q",
		saved.LLMModel, saved.TargetLanguage, saved.RequestsPerMinute, saved.CronExpr)
	writeJSON(w, http.StatusOK, saved.Redacted())
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if s.rates == nil {
		writeError(w, http.StatusNotImplemented, "rate governor is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.rates.Status())
}

type validateCredentialsRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleValidateCredentials(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "credential validation is not configured")
		return
	}
	var req validateCredentialsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	check, err := s.credentials.ValidateCredentials(r.Context(), strings.TrimSpace(req.APIKey))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is not configured")
		return
	}
	info, err := s.scanner.TriggerInfo()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is not configured")
		return
	}
	queued, err := s.scanner.Scan(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":     true,
		"queued": queued,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeServiceError maps a classified service error onto a status code and
// includes the operator advice for it.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		svcErr = service.NewErrorWithCause(service.Classify(err), "request failed", err)
	}
	writeJSON(w, statusForErrorType(svcErr.Type), map[string]any{
		"error":  err.Error(),
		"type":   svcErr.Type.String(),
		"advice": service.NewDefaultErrorHandler().GetAdvice(svcErr),
	})
}

func statusForErrorType(t service.ErrorType) int {
	switch t {
	case service.ErrValidation, service.ErrParse:
		return http.StatusBadRequest
	case service.ErrFileNotFound:
		return http.StatusNotFound
	case service.ErrTransport, service.ErrResponseShape, service.ErrBatchExhausted:
		return http.StatusBadGateway
	case service.ErrCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

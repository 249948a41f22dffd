package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/service"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/icron"
)

const (
	defaultMaxJSONBytes   int64 = 1 << 20
	defaultMaxUploadBytes int64 = 100 << 20
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type lineSnapshots interface {
	Get(ctx context.Context, jobID string) ([]subtitle.Line, bool, error)
}

type rateStatus interface {
	Status() ratelimit.Status
}

type credentialValidator interface {
	ValidateCredentials(ctx context.Context, apiKey string) (*service.CredentialCheck, error)
}

type audioTranscriber interface {
	Transcribe(ctx context.Context, req service.TranscribeRequest) (*service.TranscribeResult, error)
}

type scanScheduler interface {
	TriggerInfo() (*icron.TriggerInfo, error)
	Scan(ctx context.Context) (int, error)
}

// JobDefaults fills the languages of a job request that leaves them empty.
type JobDefaults func() (sourceLanguage, targetLanguage string)

type Server struct {
	queue       *jobs.Queue
	defaults    JobDefaults
	settings    runtimeSettingsStore
	apply       runtimeSettingsApplier
	snapshots   lineSnapshots
	rates       rateStatus
	credentials credentialValidator
	transcriber audioTranscriber
	scanner     scanScheduler

	allowedOrigins []string
	maxUploadBytes int64
	streamInterval time.Duration

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithJobDefaults(defaults JobDefaults) Option {
	return func(s *Server) {
		s.defaults = defaults
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithSnapshots(snapshots lineSnapshots) Option {
	return func(s *Server) {
		s.snapshots = snapshots
	}
}

func WithRateStatus(rates rateStatus) Option {
	return func(s *Server) {
		s.rates = rates
	}
}

func WithCredentialValidator(v credentialValidator) Option {
	return func(s *Server) {
		s.credentials = v
	}
}

func WithTranscriber(t audioTranscriber) Option {
	return func(s *Server) {
		s.transcriber = t
	}
}

func WithScanner(scanner scanScheduler) Option {
	return func(s *Server) {
		s.scanner = scanner
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithMaxUploadBytes caps the audio upload size of /api/transcribe.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		queue:          queue,
		maxUploadBytes: defaultMaxUploadBytes,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(cors.Handler(corsOptions(s.allowedOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(maxBodySize(defaultMaxJSONBytes))

			r.Get("/jobs", s.handleListJobs)
			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Delete("/jobs/{id}", s.handleCancelJob)
			r.Post("/jobs/{id}/cancel", s.handleCancelJob)
			r.Get("/jobs/{id}/lines", s.handleJobLines)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)

			r.Get("/ratelimit", s.handleRateLimit)
			r.Post("/credentials/validate", s.handleValidateCredentials)

			r.Get("/schedule", s.handleSchedule)
			r.Post("/scan", s.handleScan)
		})

		// streaming and uploads manage their own body limits
		r.Get("/jobs/stream", s.handleJobStream)
		r.Post("/transcribe", s.handleTranscribe)
	})
	return r
}

func corsOptions(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// credentials are never allowed together with a wildcard origin
	allowCreds := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/httpapi"
	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/persistence"
	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/service"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scanScheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		service.NewDefaultErrorHandler().Handle(err)
		log.Fatal("%v", err)
	}
}

func run(args []string) error {
	mode := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode, args = args[0], args[1:]
	}

	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := loadConfig()
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "failed to load configuration")
	}
	if cfg.System.LogFile != "" {
		fileLogger, err := log.OpenFileLogger(cfg.System.LogFile, log.ParseLevel(cfg.System.LogLevel))
		if err != nil {
			return service.WrapError(err, service.ErrConfig, "failed to open log file")
		}
		stdout := log.GetLogger()
		log.SetDefault(fileLogger.Logger)
		defer func() {
			log.SetDefault(stdout)
			_ = fileLogger.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "serve":
		return serve(ctx, cfg)
	case "translate":
		return translateFile(ctx, cfg, args)
	case "transcribe":
		return transcribeFile(ctx, cfg, args)
	default:
		return fmt.Errorf("unknown command %q, want serve, translate or transcribe", mode)
	}
}

// loadConfig reads the environment and overlays the persisted runtime
// settings when the settings file exists.
func loadConfig() (*config.Config, error) {
	var opts []config.Option
	settings, err := config.LoadRuntimeSettingsFile(config.RuntimeSettingsFilePath())
	switch {
	case err == nil:
		opts = append(opts, config.WithRuntimeSettings(settings))
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Warn("Ignoring runtime settings file: %v", err)
	}
	return config.NewFromEnv(opts...)
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "failed to open job store")
	}
	defer store.Close()

	governor := ratelimit.New(cfg.Pipeline.RequestsPerMinute)
	rt := service.NewRuntime(*cfg, governor)

	queue := jobs.NewQueue(1, store)
	snapshots := service.NewSnapshots(store)
	translator := service.NewFileTranslator(rt,
		service.WithCheckpoints(store),
		service.WithProgress(queue),
		service.WithSnapshots(snapshots),
	)
	queue.Start(translator.Execute)
	defer queue.Stop()

	cronEngine := cron.New()
	scanner := service.NewScanService(rt, queue, cronEngine)
	if _, err := cronEngine.AddFunc("@daily", func() {
		n, err := store.DeleteExpiredTranscriptCache(ctx, time.Now())
		if err != nil {
			log.Error("Failed to purge transcript cache: %v", err)
			return
		}
		log.Info("Purged %d expired transcripts", n)
	}); err != nil {
		return service.WrapError(err, service.ErrConfig, "failed to schedule cache purge")
	}

	settingsStore, err := config.NewRuntimeSettingsStore(config.RuntimeSettingsFilePath(), cfg.RuntimeSettings())
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "invalid runtime settings")
	}

	httpSrv := httpapi.NewServer(queue,
		httpapi.WithJobDefaults(func() (string, string) {
			current := rt.Config()
			return current.Pipeline.SourceLanguage, current.Pipeline.TargetLanguage.String()
		}),
		httpapi.WithRuntimeSettingsStore(settingsStore),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			if err := rt.Apply(next); err != nil {
				return err
			}
			return scanner.Reschedule(ctx, next.CronExpr)
		}),
		httpapi.WithSnapshots(snapshots),
		httpapi.WithRateStatus(governor),
		httpapi.WithCredentialValidator(rt),
		httpapi.WithTranscriber(service.NewTranscribeService(rt, store)),
		httpapi.WithScanner(scanner),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
	)

	return runWithComponents(ctx, cfg, scanner, cronEngine, httpSrv)
}

// runWithComponents starts the scheduler and the HTTP server and blocks until
// ctx is done or the server fails, then shuts both down.
func runWithComponents(ctx context.Context, cfg *config.Config, scheduler scanScheduler, cronEngine cronEngine, httpSrv httpServer) error {
	if err := scheduler.Schedule(ctx); err != nil {
		return err
	}
	cronEngine.Start()
	defer func() {
		<-cronEngine.Stop().Done()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func translateFile(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	in := fs.String("in", "", "input .srt file")
	out := fs.String("out", "", "output .srt file (default <name>.<lang>.srt)")
	to := fs.String("to", "", "target language (default TARGET_LANGUAGE)")
	from := fs.String("from", "", "source language or auto (default SOURCE_LANGUAGE)")
	if err := fs.Parse(args); err != nil {
		return service.WrapError(err, service.ErrValidation, "invalid arguments")
	}

	rt := service.NewRuntime(*cfg, nil)
	start := time.Now()
	result, err := service.NewFileTranslator(rt).Translate(ctx, service.TranslationRequest{
		InputPath:      *in,
		OutputPath:     *out,
		SourceLanguage: *from,
		TargetLanguage: *to,
	})
	if err != nil {
		return err
	}
	log.Info("Translated %d lines (%d chars) to %s in %v: %s",
		result.Metadata.LineCount, result.Metadata.CharCount, result.TargetLanguage,
		time.Since(start).Round(time.Millisecond), result.OutputPath)
	return nil
}

func transcribeFile(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	in := fs.String("in", "", "input audio file")
	out := fs.String("out", "", "output .srt file (default <name>.srt)")
	lang := fs.String("lang", "", "optional ISO-639-1 language hint")
	if err := fs.Parse(args); err != nil {
		return service.WrapError(err, service.ErrValidation, "invalid arguments")
	}
	if *in == "" {
		return service.NewError(service.ErrValidation, "-in is required")
	}

	audio, err := os.ReadFile(*in)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return service.WrapError(err, service.ErrFileNotFound, "audio file not found")
		}
		return service.WrapError(err, service.ErrFileRead, "failed to read audio file")
	}

	rt := service.NewRuntime(*cfg, nil)
	result, err := service.NewTranscribeService(rt, nil).Transcribe(ctx, service.TranscribeRequest{
		Audio:    audio,
		Filename: filepath.Base(*in),
		Language: *lang,
	})
	if err != nil {
		return err
	}

	outPath := *out
	if outPath == "" {
		outPath = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".srt"
	}
	if err := os.WriteFile(outPath, []byte(result.SRT), 0o644); err != nil {
		return service.WrapError(err, service.ErrFileWrite, "failed to write subtitle file")
	}
	log.Info("Wrote %d cues to %s (%d segments skipped)", len(result.Lines), outPath, result.Skipped)
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// The daemon is the subpipe service process: it restores checkpointed
// jobs, starts the queue scheduler and serves the HTTP control surface
// until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/subpipe/internal/api"
	"github.com/ManuGH/subpipe/internal/checkpoint"
	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/engine/demucs"
	"github.com/ManuGH/subpipe/internal/engine/openai"
	"github.com/ManuGH/subpipe/internal/engine/silero"
	"github.com/ManuGH/subpipe/internal/engine/whispercpp"
	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/hardware"
	"github.com/ManuGH/subpipe/internal/intake"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/media"
	"github.com/ManuGH/subpipe/internal/model"
	"github.com/ManuGH/subpipe/internal/models"
	"github.com/ManuGH/subpipe/internal/pipeline"
	"github.com/ManuGH/subpipe/internal/queue"
	"github.com/ManuGH/subpipe/internal/spectrum"
	"github.com/ManuGH/subpipe/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	jobsDir := flag.String("jobs-dir", "", "jobs directory (overrides config)")
	inputDir := flag.String("input-dir", "", "input directory (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// .env is optional; environment overrides merge inside config.Load.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *jobsDir != "" {
		cfg.Paths.JobsDir = *jobsDir
	}
	if *inputDir != "" {
		cfg.Paths.InputDir = *inputDir
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: "subpipe"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("daemon")

	tracing, err := telemetry.Setup(ctx, cfg.Trace.Endpoint, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	profile := hardware.Detect()
	policy := hardware.DerivePolicy(profile)
	if cfg.Engines.SeparatorCommand == "" {
		policy.EnableSeparation = false
		policy.SeparatorTier = model.SeparatorNone
	}
	logger.Info().
		Str("device", policy.PrimaryDevice).
		Bool("separation", policy.EnableSeparation).
		Str("tier", policy.SeparatorTier.String()).
		Msg("runtime policy")

	engines, err := buildEngines(cfg, policy)
	if err != nil {
		return err
	}
	defer func() { _ = engines.manager.CloseAll() }()

	store, err := checkpoint.NewStore(cfg.Paths.JobsDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bus := events.New(cfg.Events.RingSize, cfg.Events.SubscriberBuffer)
	tools := media.NewToolset(cfg.Paths.FFmpeg, cfg.Paths.FFprobe)

	runner := pipeline.NewRunner(pipeline.Options{
		Pipeline:   cfg.Pipeline,
		Events:     cfg.Events,
		Policy:     policy,
		Models:     engines.manager,
		Classifier: spectrum.New(cfg.Spectrum),
		Store:      store,
		Bus:        bus,
		Tools:      tools,
		LLM:        engines.llm,
	})

	persist := func(job *model.Job) {
		if err := store.Save(checkpoint.Manifest{Job: job}); err != nil {
			logger.Warn().Err(err).Str(log.FieldJobID, job.ID).Msg("persist failed")
		}
	}
	jobs := queue.NewManager(cfg.Pipeline.Concurrency, runner.Run, bus, persist)
	runner.Bind(jobs)

	restored, err := store.Scan()
	if err != nil {
		return err
	}
	for _, r := range restored {
		job := r.Manifest.Job
		job.Sentences = r.Sentences
		bus.Seed(job.ID, r.Manifest.LastEventSeq)
		if err := jobs.Restore(job); err != nil {
			logger.Warn().Err(err).Str(log.FieldJobID, job.ID).Msg("restore failed")
			continue
		}
		logger.Info().
			Str(log.FieldJobID, job.ID).
			Str("status", string(job.Status)).
			Msg("job restored")
	}
	jobs.Start()

	watcher, err := intake.NewWatcher(cfg.Paths.InputDir)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	server := api.New(cfg, jobs, store, bus, tools, watcher, profile, policy)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := watcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		return jobs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// engineSet bundles the residency manager with the shared remote client.
type engineSet struct {
	manager *models.Manager
	llm     engine.LLM
}

// buildEngines wires the lazy loaders. Local models load on first
// acquire so a bad model path surfaces as a job failure, not a crash at
// boot; remote engines exist only when an API key is configured.
func buildEngines(cfg config.Config, policy hardware.Policy) (engineSet, error) {
	if cfg.Engines.VADModelPath == "" {
		return engineSet{}, errors.New("engines: vad_model_path is required")
	}
	if cfg.Engines.WhisperModelPath == "" {
		return engineSet{}, errors.New("engines: whisper_model_path is required")
	}

	loaders := map[models.Slot]models.Loader{
		models.SlotVAD: func(context.Context) (models.Engine, error) {
			seg, err := silero.New(silero.Config{
				ModelPath:      cfg.Engines.VADModelPath,
				TargetDuration: cfg.Pipeline.TargetChunkSeconds,
				MaxDuration:    cfg.Pipeline.MaxChunkSeconds,
			})
			if err != nil {
				return nil, err
			}
			return seg, nil
		},
		models.SlotPrimaryASR: func(context.Context) (models.Engine, error) {
			asr, err := whispercpp.New(cfg.Engines.WhisperModelPath)
			if err != nil {
				return nil, err
			}
			return asr, nil
		},
	}

	var llm engine.LLM
	if cfg.Engines.OpenAIAPIKey != "" {
		client, err := openai.New(openai.Config{
			APIKey:         cfg.Engines.OpenAIAPIKey,
			BaseURL:        cfg.Engines.OpenAIBaseURL,
			SecondaryModel: cfg.Engines.SecondaryModel,
			LLMModel:       cfg.Engines.LLMModel,
		})
		if err != nil {
			return engineSet{}, err
		}
		llm = client
		loaders[models.SlotSecondaryASR] = func(context.Context) (models.Engine, error) {
			return client, nil
		}
	}

	var sepLoader models.SeparatorLoader
	if cfg.Engines.SeparatorCommand != "" {
		sepLoader = func(_ context.Context, tier model.SeparatorTier) (models.Engine, error) {
			sep, err := demucs.New(cfg.Engines.SeparatorCommand, tier, policy.PrimaryDevice)
			if err != nil {
				return nil, err
			}
			return sep, nil
		}
	}

	return engineSet{manager: models.NewManager(loaders, sepLoader), llm: llm}, nil
}

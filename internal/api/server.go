// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the HTTP control surface of the daemon: job lifecycle
// endpoints, media artifact serving, the SSE event streams and the
// operational endpoints (hardware profile, presets, health, metrics).
// Handlers translate protocol errors into 4xx responses and never
// touch job state on bad input.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/subpipe/internal/checkpoint"
	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/hardware"
	"github.com/ManuGH/subpipe/internal/intake"
	"github.com/ManuGH/subpipe/internal/media"
	"github.com/ManuGH/subpipe/internal/queue"
)

// Server bundles the handler dependencies.
type Server struct {
	cfg     config.Config
	jobs    *queue.Manager
	store   *checkpoint.Store
	bus     *events.Bus
	tools   media.Toolset
	input   *intake.Watcher
	profile hardware.Profile
	policy  hardware.Policy

	// proxyProgress tracks in-flight proxy transcodes per job id so
	// repeated GET /video calls share one encode.
	proxyMu       sync.Mutex
	proxyProgress map[string]float64
}

// New builds the control surface over its collaborators.
func New(cfg config.Config, jobs *queue.Manager, store *checkpoint.Store, bus *events.Bus,
	tools media.Toolset, input *intake.Watcher, profile hardware.Profile, policy hardware.Policy) *Server {
	return &Server{
		cfg:           cfg,
		jobs:          jobs,
		store:         store,
		bus:           bus,
		tools:         tools,
		input:         input,
		profile:       profile,
		policy:        policy,
		proxyProgress: make(map[string]float64),
	}
}

// Routes assembles the chi router with the full endpoint set.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otelhttp.NewMiddleware("subpipe-api"))
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(httprate.LimitByIP(s.cfg.Server.UploadRateLimit, time.Minute)).
			Post("/upload", s.handleUpload)
		r.Post("/jobs/batch", s.handleBatch)
		r.Get("/files", s.handleListFiles)

		r.Post("/start/{jobID}", s.handleStart)
		r.Post("/pause/{jobID}", s.handlePause)
		r.Post("/resume/{jobID}", s.handleResume)
		r.Post("/cancel/{jobID}", s.handleCancel)
		r.Post("/jobs/reorder", s.handleReorder)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/text", s.handleJobText)
		r.Patch("/jobs/{jobID}/title", s.handlePatchTitle)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)

		r.Route("/media/{jobID}", func(r chi.Router) {
			r.Get("/audio", s.handleAudio)
			r.Get("/video", s.handleVideo)
			r.Get("/peaks", s.handlePeaks)
			r.Get("/thumbnails", s.handleThumbnails)
			r.Get("/thumbnails/{name}", s.handleThumbnailFile)
			r.Get("/srt", s.handleGetSRT)
			r.Put("/srt", s.handlePutSRT)
		})

		r.Get("/hardware", s.handleHardware)
		r.Get("/presets", s.handlePresets)

		r.Get("/stream", s.handleGlobalStream)
		r.Get("/stream/{jobID}", s.handleJobStream)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

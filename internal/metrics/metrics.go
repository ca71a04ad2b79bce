// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics centralises the Prometheus collectors of the service.
// Packages record through the helper functions so collector names stay
// in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_jobs_total",
		Help: "Jobs by terminal outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subpipe_job_duration_seconds",
		Help:    "Wall-clock duration of finished jobs",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	fuseUpgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_fuse_upgrades_total",
		Help: "Chunk separation upgrades triggered by the fuse controller",
	}, []string{"tier"})

	modelSwaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_model_swaps_total",
		Help: "Model slot load/evict cycles on the accelerator",
	}, []string{"slot", "op"})

	busDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_bus_dropped_events_total",
		Help: "Events dropped from subscriber buffers on backpressure",
	}, []string{"reason"})

	sseSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subpipe_sse_subscribers",
		Help: "Currently connected SSE subscribers",
	})

	ffmpegRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_ffmpeg_runs_total",
		Help: "ffmpeg/ffprobe invocations by tool and result",
	}, []string{"tool", "result"})

	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpipe_engine_calls_total",
		Help: "Engine adapter invocations by engine and result",
	}, []string{"engine", "result"})

	acceleratorMemory = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subpipe_accelerator_memory_mb",
		Help: "Detected accelerator memory in MiB (0 when CPU-only)",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subpipe_queue_depth",
		Help: "Jobs currently waiting in the queue",
	})
)

func IncJobOutcome(outcome string)       { jobsTotal.WithLabelValues(outcome).Inc() }
func ObserveJobDuration(seconds float64) { jobDuration.Observe(seconds) }
func IncFuseUpgrade(tier string)         { fuseUpgrades.WithLabelValues(tier).Inc() }
func IncModelSwap(slot, op string)       { modelSwaps.WithLabelValues(slot, op).Inc() }
func IncBusDrop(reason string)           { busDrops.WithLabelValues(reason).Inc() }
func AddSSESubscribers(delta float64)    { sseSubscribers.Add(delta) }
func IncFFmpegRun(tool, result string)   { ffmpegRuns.WithLabelValues(tool, result).Inc() }
func IncEngineCall(engine, result string) {
	engineCalls.WithLabelValues(engine, result).Inc()
}
func SetAcceleratorMemoryMB(mb float64) { acceleratorMemory.Set(mb) }
func SetQueueDepth(n float64)           { queueDepth.Set(n) }

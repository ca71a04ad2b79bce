// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"time"
)

// mergeEnv applies SUBPIPE_* environment overrides on top of cfg.
// Unparseable values are ignored; validation catches the fallout.
func mergeEnv(cfg *Config) {
	envStr("SUBPIPE_HOST", &cfg.Server.Host)
	envInt("SUBPIPE_PORT", &cfg.Server.Port)
	envInt64("SUBPIPE_UPLOAD_MAX_BYTES", &cfg.Server.UploadMaxBytes)

	envStr("SUBPIPE_JOBS_DIR", &cfg.Paths.JobsDir)
	envStr("SUBPIPE_INPUT_DIR", &cfg.Paths.InputDir)
	envStr("SUBPIPE_FFMPEG", &cfg.Paths.FFmpeg)
	envStr("SUBPIPE_FFPROBE", &cfg.Paths.FFprobe)

	envStr("SUBPIPE_VAD_MODEL", &cfg.Engines.VADModelPath)
	envStr("SUBPIPE_WHISPER_MODEL", &cfg.Engines.WhisperModelPath)
	envStr("SUBPIPE_SEPARATOR_COMMAND", &cfg.Engines.SeparatorCommand)
	envStr("OPENAI_API_KEY", &cfg.Engines.OpenAIAPIKey)
	envStr("SUBPIPE_OPENAI_BASE_URL", &cfg.Engines.OpenAIBaseURL)
	envStr("SUBPIPE_SECONDARY_MODEL", &cfg.Engines.SecondaryModel)
	envStr("SUBPIPE_LLM_MODEL", &cfg.Engines.LLMModel)

	envInt("SUBPIPE_CONCURRENCY", &cfg.Pipeline.Concurrency)
	envFloat("SUBPIPE_FUSE_CONFIDENCE", &cfg.Pipeline.FuseConfidence)
	envFloat("SUBPIPE_PATCH_CONFIDENCE", &cfg.Pipeline.PatchConfidence)

	envInt("SUBPIPE_EVENT_RING", &cfg.Events.RingSize)
	envDur("SUBPIPE_HEARTBEAT", &cfg.Events.HeartbeatInterval)

	envStr("SUBPIPE_LOG_LEVEL", &cfg.Log.Level)
	envStr("SUBPIPE_OTLP_ENDPOINT", &cfg.Trace.Endpoint)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config defines the typed service configuration, its YAML file
// loader, environment merge and validation. Load order: defaults, then
// file, then environment; later sources win.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Engines  EnginesConfig  `yaml:"engines"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Spectrum SpectrumConfig `yaml:"spectrum"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
	Trace    TraceConfig    `yaml:"trace"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	UploadMaxBytes  int64         `yaml:"upload_max_bytes"`
	UploadRateLimit int           `yaml:"upload_rate_limit"` // requests per minute per IP
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PathsConfig holds the data directories.
type PathsConfig struct {
	JobsDir  string `yaml:"jobs_dir"`
	InputDir string `yaml:"input_dir"`
	FFmpeg   string `yaml:"ffmpeg"`
	FFprobe  string `yaml:"ffprobe"`
}

// EnginesConfig wires the model runtimes.
type EnginesConfig struct {
	VADModelPath     string `yaml:"vad_model_path"`
	WhisperModelPath string `yaml:"whisper_model_path"`
	SeparatorCommand string `yaml:"separator_command"` // demucs entrypoint
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	SecondaryModel   string `yaml:"secondary_model"`
	LLMModel         string `yaml:"llm_model"`
}

// PipelineConfig holds the tunables of the runner and its helpers.
type PipelineConfig struct {
	Concurrency             int     `yaml:"concurrency"`
	FuseConfidence          float64 `yaml:"fuse_confidence"`           // ACCEPT at or above
	FuseRetryCap            int     `yaml:"fuse_retry_cap"`            // per-chunk upgrade budget
	PatchConfidence         float64 `yaml:"patch_confidence"`          // secondary ASR below
	SentenceWarnConfidence  float64 `yaml:"sentence_warn_confidence"`  // low_confidence below
	PerplexityWarnThreshold float64 `yaml:"perplexity_warn_threshold"` // high_perplexity at or above
	PauseThreshold          float64 `yaml:"pause_threshold"`           // seconds, sentence split rule 2
	MaxSentenceDuration     float64 `yaml:"max_sentence_duration"`     // seconds, rule 3
	MaxSentenceChars        int     `yaml:"max_sentence_chars"`        // rule 4
	MinSentenceChars        int     `yaml:"min_sentence_chars"`        // commit rejection
	TargetChunkSeconds      float64 `yaml:"target_chunk_seconds"`      // VAD merge target
	MaxChunkSeconds         float64 `yaml:"max_chunk_seconds"`
	LLMContextWindow        int     `yaml:"llm_context_window"`
}

// SpectrumConfig is the additive threshold table of the classifier.
type SpectrumConfig struct {
	MusicThreshold float64 `yaml:"music_threshold"`
	NoiseThreshold float64 `yaml:"noise_threshold"`
	HeavyThreshold float64 `yaml:"heavy_threshold"` // music score at or above picks heavy
}

// EventsConfig sizes the per-job event fabric.
type EventsConfig struct {
	RingSize          int           `yaml:"ring_size"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CoalesceTick      time.Duration `yaml:"coalesce_tick"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TraceConfig configures the OTLP trace exporter; empty endpoint disables it.
type TraceConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			UploadMaxBytes:  8 << 30,
			UploadRateLimit: 30,
			ShutdownTimeout: 15 * time.Second,
		},
		Paths: PathsConfig{
			JobsDir:  "jobs",
			InputDir: "input",
			FFmpeg:   "ffmpeg",
			FFprobe:  "ffprobe",
		},
		Engines: EnginesConfig{
			SecondaryModel: "whisper-1",
			LLMModel:       "gpt-4o-mini",
		},
		Pipeline: PipelineConfig{
			Concurrency:             1,
			FuseConfidence:          0.5,
			FuseRetryCap:            1,
			PatchConfidence:         0.6,
			SentenceWarnConfidence:  0.6,
			PerplexityWarnThreshold: 50.0,
			PauseThreshold:          0.4,
			MaxSentenceDuration:     5.0,
			MaxSentenceChars:        30,
			MinSentenceChars:        2,
			TargetChunkSeconds:      15.0,
			MaxChunkSeconds:         30.0,
			LLMContextWindow:        3,
		},
		Spectrum: SpectrumConfig{
			MusicThreshold: 3.0,
			NoiseThreshold: 3.0,
			HeavyThreshold: 5.0,
		},
		Events: EventsConfig{
			RingSize:          256,
			SubscriberBuffer:  64,
			HeartbeatInterval: 15 * time.Second,
			CoalesceTick:      50 * time.Millisecond,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the effective configuration: defaults, optional YAML file,
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package silero implements the VAD contract on top of the Silero VAD
// ONNX model. Raw speech spans from the detector are merged towards the
// configured target chunk duration so downstream ASR sees 15–30 s
// chunks instead of utterance fragments.
package silero

import (
	"context"
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
)

// Compile-time assertion that Segmenter satisfies engine.VAD.
var _ engine.VAD = (*Segmenter)(nil)

// Config tunes the detector and the merge pass.
type Config struct {
	ModelPath      string
	Threshold      float32 // speech probability threshold, default 0.5
	MinSilenceMs   int     // default 250
	SpeechPadMs    int     // default 30
	TargetDuration float64 // seconds, merge target (default 15)
	MaxDuration    float64 // seconds, hard chunk ceiling (default 30)
}

// Segmenter wraps a silero speech.Detector.
type Segmenter struct {
	detector *speech.Detector
	cfg      Config
}

// New loads the Silero model from cfg.ModelPath.
func New(cfg Config) (*Segmenter, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("silero: model path must not be empty")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilenceMs == 0 {
		cfg.MinSilenceMs = 250
	}
	if cfg.SpeechPadMs == 0 {
		cfg.SpeechPadMs = 30
	}
	if cfg.TargetDuration == 0 {
		cfg.TargetDuration = 15
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 30
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           16000,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("silero: create detector: %w", err))
	}
	return &Segmenter{detector: detector, cfg: cfg}, nil
}

// Segment runs detection over the whole clip and merges adjacent speech
// spans towards the target duration. Detection failure is reported as an
// empty segment list; the pipeline treats that as "no speech".
func (s *Segmenter) Segment(ctx context.Context, audio engine.Audio) ([]model.VADSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(audio.Samples) == 0 {
		return nil, nil
	}
	if audio.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: sample rate must be 16000, got %d", audio.SampleRate)
	}

	if err := s.detector.Reset(); err != nil {
		logger := log.WithComponent("silero")
		logger.Warn().Err(err).Msg("detector reset failed, segments unavailable")
		return nil, nil
	}

	raw, err := s.detector.Detect(audio.Samples)
	if err != nil {
		logger := log.WithComponent("silero")
		logger.Warn().Err(err).Msg("speech detection failed, treating as no speech")
		return nil, nil
	}

	spans := make([][2]float64, 0, len(raw))
	clipEnd := audio.DurationSec()
	for _, seg := range raw {
		start, end := seg.SpeechStartAt, seg.SpeechEndAt
		if end <= 0 || end > clipEnd {
			// Detector leaves EndAt zero for speech still open at clip end.
			end = clipEnd
		}
		if end <= start {
			continue // never emit zero-duration segments
		}
		spans = append(spans, [2]float64{start, end})
	}

	return s.merge(spans), nil
}

// merge greedily coalesces adjacent spans until a chunk reaches the
// target duration, splitting chunks that would exceed the ceiling.
func (s *Segmenter) merge(spans [][2]float64) []model.VADSegment {
	var out []model.VADSegment
	appendChunk := func(start, end float64) {
		// Oversized speech blocks are cut at the ceiling.
		for end-start > s.cfg.MaxDuration {
			out = append(out, model.VADSegment{Index: len(out), StartSec: start, EndSec: start + s.cfg.MaxDuration})
			start += s.cfg.MaxDuration
		}
		if end > start {
			out = append(out, model.VADSegment{Index: len(out), StartSec: start, EndSec: end})
		}
	}

	var curStart, curEnd float64
	open := false
	for _, sp := range spans {
		if !open {
			curStart, curEnd = sp[0], sp[1]
			open = true
			continue
		}
		if curEnd-curStart >= s.cfg.TargetDuration || sp[1]-curStart > s.cfg.MaxDuration {
			appendChunk(curStart, curEnd)
			curStart, curEnd = sp[0], sp[1]
			continue
		}
		curEnd = sp[1]
	}
	if open {
		appendChunk(curStart, curEnd)
	}
	return out
}

// Close destroys the underlying ONNX session.
func (s *Segmenter) Close() error {
	if s.detector != nil {
		if err := s.detector.Destroy(); err != nil {
			return fmt.Errorf("silero: destroy detector: %w", err)
		}
		s.detector = nil
	}
	return nil
}

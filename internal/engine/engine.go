// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine defines the uniform contracts the pipeline runner uses
// to drive the model runtimes: voice activity detection, source
// separation, the two ASR passes and the LLM. Concrete adapters live in
// subpackages; tests use engine/mock.
//
// Adapters must be safe for sequential reuse. The runner never calls an
// adapter concurrently for the same job, and the model manager
// serializes accelerator residency across jobs.
package engine

import (
	"context"

	"github.com/ManuGH/subpipe/internal/model"
)

// Audio is a mono PCM slice with its sample rate. All engines consume
// and produce this shape; separation preserves length and rate.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// DurationSec returns the clip length in seconds.
func (a Audio) DurationSec() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Slice returns the sub-clip [startSec, endSec), clamped to bounds.
// The returned samples alias the receiver.
func (a Audio) Slice(startSec, endSec float64) Audio {
	lo := int(startSec * float64(a.SampleRate))
	hi := int(endSec * float64(a.SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(a.Samples) {
		hi = len(a.Samples)
	}
	if lo > hi {
		lo = hi
	}
	return Audio{Samples: a.Samples[lo:hi], SampleRate: a.SampleRate}
}

// VAD segments audio into speech-bounded chunks. An empty result with a
// nil error means "no speech"; the pipeline completes with an empty
// subtitle in that case.
type VAD interface {
	Segment(ctx context.Context, audio Audio) ([]model.VADSegment, error)
	Close() error
}

// Separator produces a voice-prominent rendition of the input. Output
// length and sample rate equal the input's.
type Separator interface {
	Separate(ctx context.Context, audio Audio) (Audio, error)
	Tier() model.SeparatorTier
	Close() error
}

// Transcription is the primary ASR output for one chunk. Word times are
// relative to the chunk start; the runner offsets them onto the job
// time axis. EventTag surfaces ambient-audio labels (BGM, Noise) that
// the fuse controller keys on.
type Transcription struct {
	Text          string
	TextClean     string
	AvgConfidence float64
	Words         []model.Word
	EventTag      string
	Language      string
}

// PrimaryASR is the fast first-pass engine. It defines the authoritative
// time axis of the job.
type PrimaryASR interface {
	Transcribe(ctx context.Context, audio Audio, languageHint string) (Transcription, error)
	Close() error
}

// TextOnly is the secondary ASR output: text and confidence, no
// timestamps. The secondary engine's timestamps are deliberately
// discarded; pseudo-alignment redistributes the preserved interval.
type TextOnly struct {
	Text          string
	AvgConfidence float64
}

// SecondaryASR patches low-confidence sentences.
type SecondaryASR interface {
	TranscribeTextOnly(ctx context.Context, audio Audio, contextPrompt, languageHint string) (TextOnly, error)
	Close() error
}

// Proofed is the LLM proofreading output.
type Proofed struct {
	Text       string
	Perplexity float64
}

// Translated is the LLM translation output.
type Translated struct {
	Text       string
	Confidence float64
}

// LLM proofs and translates committed sentences, given a window of
// preceding sentence texts as context.
type LLM interface {
	Proof(ctx context.Context, text string, context []string) (Proofed, error)
	Translate(ctx context.Context, text, targetLang string, context []string) (Translated, error)
}

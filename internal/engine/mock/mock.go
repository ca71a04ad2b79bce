// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mock provides scriptable engine implementations for tests.
// Every engine records its calls so tests can assert invocation order
// and counts; behavior is injected per call index or via a single
// function.
package mock

import (
	"context"
	"sync"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/model"
)

// VAD returns the configured segments.
type VAD struct {
	mu       sync.Mutex
	Segments []model.VADSegment
	Err      error
	Calls    int
}

func (v *VAD) Segment(_ context.Context, _ engine.Audio) ([]model.VADSegment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls++
	if v.Err != nil {
		return nil, v.Err
	}
	out := make([]model.VADSegment, len(v.Segments))
	copy(out, v.Segments)
	return out, nil
}

func (v *VAD) Close() error { return nil }

// Separator passes audio through unchanged (optionally via Fn) and
// reports the configured tier.
type Separator struct {
	mu        sync.Mutex
	TierValue model.SeparatorTier
	Fn        func(engine.Audio) engine.Audio
	Err       error
	Calls     int
}

func (s *Separator) Separate(_ context.Context, audio engine.Audio) (engine.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return engine.Audio{}, s.Err
	}
	if s.Fn != nil {
		return s.Fn(audio), nil
	}
	out := make([]float32, len(audio.Samples))
	copy(out, audio.Samples)
	return engine.Audio{Samples: out, SampleRate: audio.SampleRate}, nil
}

func (s *Separator) Tier() model.SeparatorTier { return s.TierValue }
func (s *Separator) Close() error              { return nil }

// PrimaryASR replays scripted transcriptions. Results are consumed in
// call order; when the script is exhausted the last entry repeats. A
// nil script yields empty transcriptions.
type PrimaryASR struct {
	mu      sync.Mutex
	Script  []engine.Transcription
	Errs    []error
	Calls   int
	History []engine.Audio
}

func (p *PrimaryASR) Transcribe(_ context.Context, audio engine.Audio, _ string) (engine.Transcription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.Calls
	p.Calls++
	p.History = append(p.History, audio)
	if i < len(p.Errs) && p.Errs[i] != nil {
		return engine.Transcription{}, p.Errs[i]
	}
	if len(p.Script) == 0 {
		return engine.Transcription{}, nil
	}
	if i >= len(p.Script) {
		i = len(p.Script) - 1
	}
	return p.Script[i], nil
}

func (p *PrimaryASR) Close() error { return nil }

// CallCount returns the number of Transcribe invocations so far.
func (p *PrimaryASR) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}

// SecondaryASR returns a fixed text result, or delegates to Fn.
type SecondaryASR struct {
	mu     sync.Mutex
	Result engine.TextOnly
	Fn     func(audio engine.Audio, contextPrompt string) (engine.TextOnly, error)
	Err    error
	Calls  int
}

func (s *SecondaryASR) TranscribeTextOnly(_ context.Context, audio engine.Audio, contextPrompt, _ string) (engine.TextOnly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return engine.TextOnly{}, s.Err
	}
	if s.Fn != nil {
		return s.Fn(audio, contextPrompt)
	}
	return s.Result, nil
}

func (s *SecondaryASR) Close() error { return nil }

// LLM echoes input unless overridden.
type LLM struct {
	mu             sync.Mutex
	ProofFn        func(text string) (engine.Proofed, error)
	TranslateFn    func(text, targetLang string) (engine.Translated, error)
	ProofCalls     int
	TranslateCalls int
}

func (l *LLM) Proof(_ context.Context, text string, _ []string) (engine.Proofed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ProofCalls++
	if l.ProofFn != nil {
		return l.ProofFn(text)
	}
	return engine.Proofed{Text: text, Perplexity: 10}, nil
}

func (l *LLM) Translate(_ context.Context, text, targetLang string, _ []string) (engine.Translated, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.TranslateCalls++
	if l.TranslateFn != nil {
		return l.TranslateFn(text, targetLang)
	}
	return engine.Translated{Text: text, Confidence: 0.9}, nil
}

// Interface compliance.
var (
	_ engine.VAD          = (*VAD)(nil)
	_ engine.Separator    = (*Separator)(nil)
	_ engine.PrimaryASR   = (*PrimaryASR)(nil)
	_ engine.SecondaryASR = (*SecondaryASR)(nil)
	_ engine.LLM          = (*LLM)(nil)
)

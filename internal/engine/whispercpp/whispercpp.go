// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package whispercpp implements the primary ASR contract with the
// whisper.cpp CGO bindings. The whisper.cpp static library and headers
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// Each Transcribe call creates a fresh whisper context from the shared
// model; contexts are not thread-safe but the model is, and the runner
// only ever issues sequential calls anyway.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
)

// Compile-time assertion that Transcriber satisfies engine.PrimaryASR.
var _ engine.PrimaryASR = (*Transcriber)(nil)

// ambientTags maps whisper's bracketed non-speech markers onto the
// event tags the fuse controller keys on.
var ambientTags = map[string]string{
	"music":            "BGM",
	"bgm":              "BGM",
	"singing":          "BGM",
	"applause":         "Noise",
	"noise":            "Noise",
	"static":           "Noise",
	"wind":             "Noise",
	"background noise": "Noise",
}

// Transcriber wraps a loaded whisper.cpp model.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the default language when the caller passes no hint.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the whisper model from modelPath.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: model path must not be empty")
	}
	m, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("whispercpp: load model %q: %w", modelPath, err))
	}
	t := &Transcriber{model: m, language: "auto"}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe runs whisper over the chunk and flattens token timestamps
// into word entries. Word times are relative to the chunk start.
func (t *Transcriber) Transcribe(ctx context.Context, audio engine.Audio, languageHint string) (engine.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return engine.Transcription{}, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return engine.Transcription{}, engine.Transient(fmt.Errorf("whispercpp: create context: %w", err))
	}

	lang := languageHint
	if lang == "" {
		lang = t.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		logger := log.WithComponent("whispercpp")
		logger.Warn().Err(err).Str("language", lang).Msg("language hint rejected, autodetecting")
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(audio.Samples, nil, nil, nil); err != nil {
		return engine.Transcription{}, engine.Transient(fmt.Errorf("whispercpp: process audio: %w", err))
	}

	var (
		parts    []string
		words    []model.Word
		probSum  float64
		probN    int
		eventTag string
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return engine.Transcription{}, engine.Transient(fmt.Errorf("whispercpp: read segment: %w", err))
		}

		text := strings.TrimSpace(seg.Text)
		if tag := ambientTag(text); tag != "" && eventTag == "" {
			eventTag = tag
		}
		if text != "" {
			parts = append(parts, text)
		}

		for _, tok := range seg.Tokens {
			tokText := strings.TrimSpace(tok.Text)
			if tokText == "" || isMarkerToken(tokText) {
				continue
			}
			words = append(words, model.Word{
				Text:       tokText,
				Start:      tok.Start.Seconds(),
				End:        tok.End.Seconds(),
				Confidence: float64(tok.P),
			})
			probSum += float64(tok.P)
			probN++
		}
	}

	raw := strings.Join(parts, " ")
	out := engine.Transcription{
		Text:      raw,
		TextClean: stripMarkers(raw),
		Words:     words,
		EventTag:  eventTag,
		Language:  wctx.DetectedLanguage(),
	}
	if probN > 0 {
		out.AvgConfidence = probSum / float64(probN)
	}
	return out, nil
}

// Close releases the whisper model and its accelerator memory.
func (t *Transcriber) Close() error {
	if t.model != nil {
		err := t.model.Close()
		t.model = nil
		return err
	}
	return nil
}

// ambientTag inspects a segment for bracketed non-speech markers like
// "[Music]" or "(applause)" and returns the corresponding event tag.
func ambientTag(text string) string {
	lower := strings.ToLower(text)
	for marker, tag := range ambientTags {
		if strings.Contains(lower, "["+marker+"]") ||
			strings.Contains(lower, "("+marker+")") ||
			strings.Contains(lower, "♪") && tag == "BGM" {
			return tag
		}
	}
	if strings.Contains(lower, "♪") {
		return "BGM"
	}
	return ""
}

// isMarkerToken reports whether the token is whisper meta output rather
// than a spoken word.
func isMarkerToken(tok string) bool {
	if strings.HasPrefix(tok, "[_") || strings.HasPrefix(tok, "<|") {
		return true
	}
	return (strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]")) ||
		(strings.HasPrefix(tok, "(") && strings.HasSuffix(tok, ")")) ||
		tok == "♪"
}

// stripMarkers removes bracketed ambient markers from display text.
func stripMarkers(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 && r != '♪' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package demucs implements the separator contract by shelling out to a
// demucs-style vocal isolation command. The subprocess consumes raw
// float32 PCM on stdin and writes the voice-prominent rendition of the
// same length to stdout, so no temp files are involved.
package demucs

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/model"
)

// Compile-time assertion that Separator satisfies engine.Separator.
var _ engine.Separator = (*Separator)(nil)

// modelForTier maps tiers onto demucs model names. The light tier runs
// the small hybrid model; heavy runs the full transformer.
var modelForTier = map[model.SeparatorTier]string{
	model.SeparatorLight: "mdx_q",
	model.SeparatorHeavy: "htdemucs_ft",
}

// Separator runs one separation subprocess per Separate call.
type Separator struct {
	command string
	tier    model.SeparatorTier
	device  string
	timeout time.Duration
}

// New creates a separator at the given tier. command is the demucs
// entrypoint; device is "cpu" or "cuda".
func New(command string, tier model.SeparatorTier, device string) (*Separator, error) {
	if command == "" {
		return nil, fmt.Errorf("demucs: command must not be empty")
	}
	if tier == model.SeparatorNone {
		return nil, fmt.Errorf("demucs: tier must be light or heavy")
	}
	if _, err := exec.LookPath(strings.Fields(command)[0]); err != nil {
		return nil, engine.Unavailable(fmt.Errorf("demucs: command not found: %w", err))
	}
	return &Separator{
		command: command,
		tier:    tier,
		device:  device,
		timeout: 10 * time.Minute,
	}, nil
}

// Tier returns the separation strength of this instance.
func (s *Separator) Tier() model.SeparatorTier { return s.tier }

// Separate pipes the chunk through the subprocess and validates that
// length and sample rate are preserved.
func (s *Separator) Separate(ctx context.Context, audio engine.Audio) (engine.Audio, error) {
	if len(audio.Samples) == 0 {
		return audio, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := strings.Fields(s.command)
	args := append(fields[1:],
		"--stem", "vocals",
		"--model", modelForTier[s.tier],
		"--device", s.device,
		"--sample-rate", strconv.Itoa(audio.SampleRate),
		"--pcm-io",
	)
	cmd := exec.CommandContext(ctx, fields[0], args...) // #nosec G204 -- operator-configured command

	cmd.Stdin = bytes.NewReader(encodePCM(audio.Samples))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		metrics.IncEngineCall("separator", "error")
		tail := stderr.String()
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		logger := log.WithComponentFromContext(ctx, "demucs")
		logger.Error().
			Err(err).
			Str("tier", s.tier.String()).
			Str("stderr", tail).
			Msg("separation subprocess failed")
		return engine.Audio{}, engine.Transient(fmt.Errorf("demucs %s: %w", s.tier, err))
	}

	out := decodePCM(stdout.Bytes())
	if len(out) != len(audio.Samples) {
		metrics.IncEngineCall("separator", "error")
		return engine.Audio{}, engine.Transient(fmt.Errorf(
			"demucs %s: output length %d != input %d", s.tier, len(out), len(audio.Samples)))
	}

	metrics.IncEngineCall("separator", "ok")
	logger := log.WithComponentFromContext(ctx, "demucs")
	logger.Debug().
		Str("tier", s.tier.String()).
		Dur("took", time.Since(start)).
		Int("samples", len(out)).
		Msg("separation complete")
	return engine.Audio{Samples: out, SampleRate: audio.SampleRate}, nil
}

// Close is a no-op; the subprocess holds no persistent state. The model
// manager still calls it on evict so the separator slot frees its
// accelerator memory, which for the subprocess model happens at exit.
func (s *Separator) Close() error { return nil }

func encodePCM(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodePCM(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/subpipe/internal/engine"
)

// PipelineSampleRate is the mono rate every downstream engine expects.
const PipelineSampleRate = 16000

// ExtractAudio demuxes and resamples the input into a mono 16 kHz
// 16-bit PCM WAV at outPath.
func (t Toolset) ExtractAudio(ctx context.Context, inputPath, outPath string) error {
	args := []string{
		"-hide_banner", "-nostdin",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(PipelineSampleRate),
		"-c:a", "pcm_s16le",
		"-y", outPath,
	}
	_, err := runTool(ctx, "extract_audio", t.FFmpeg, args, 30*time.Minute)
	if err != nil {
		return fmt.Errorf("extract audio from %s: %w", inputPath, err)
	}
	return nil
}

// Duration probes the container duration in seconds.
func (t Toolset) Duration(ctx context.Context, inputPath string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
	out, err := runTool(ctx, "probe_duration", t.FFprobe, args, time.Minute)
	if err != nil {
		return 0, fmt.Errorf("probe duration of %s: %w", inputPath, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe duration of %s: unparseable %q", inputPath, strings.TrimSpace(string(out)))
	}
	return dur, nil
}

// WAVDuration reports the duration of a WAV produced by ExtractAudio.
func WAVDuration(path string) (float64, error) {
	audio, err := LoadWAV(path)
	if err != nil {
		return 0, err
	}
	return audio.DurationSec(), nil
}

// LoadWAV reads a mono 16-bit PCM WAV into float32 samples. Only the
// layout produced by ExtractAudio is supported.
func LoadWAV(path string) (engine.Audio, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- job-dir confined by the caller
	if err != nil {
		return engine.Audio{}, fmt.Errorf("media: read wav: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return engine.Audio{}, fmt.Errorf("media: %s is not a RIFF/WAVE file", path)
	}

	// Walk the chunk list; fmt must precede data.
	var (
		sampleRate    int
		bitsPerSample int
		channels      int
		pcm           []byte
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return engine.Audio{}, fmt.Errorf("media: %s: truncated %q chunk", path, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return engine.Audio{}, fmt.Errorf("media: %s: short fmt chunk", path)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			if format != 1 {
				return engine.Audio{}, fmt.Errorf("media: %s: unsupported wav format %d", path, format)
			}
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word aligned
		}
	}

	if pcm == nil {
		return engine.Audio{}, fmt.Errorf("media: %s: no data chunk", path)
	}
	if channels != 1 || bitsPerSample != 16 {
		return engine.Audio{}, fmt.Errorf("media: %s: want mono 16-bit, got %d ch %d bit", path, channels, bitsPerSample)
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return engine.Audio{Samples: samples, SampleRate: sampleRate}, nil
}

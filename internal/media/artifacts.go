// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/platform/fs"
)

// Peaks folds the samples into buckets of max absolute amplitude, the
// shape waveform views want. Pure computation, no subprocess.
func Peaks(samples []float32, buckets int) []float64 {
	if buckets <= 0 || len(samples) == 0 {
		return []float64{}
	}
	if buckets > len(samples) {
		buckets = len(samples)
	}
	out := make([]float64, buckets)
	per := len(samples) / buckets
	for b := 0; b < buckets; b++ {
		lo := b * per
		hi := lo + per
		if b == buckets-1 {
			hi = len(samples)
		}
		var peak float64
		for _, s := range samples[lo:hi] {
			if a := math.Abs(float64(s)); a > peak {
				peak = a
			}
		}
		out[b] = peak
	}
	return out
}

// WritePeaks persists the peaks array as JSON next to the audio.
func WritePeaks(path string, peaks []float64) error {
	return fs.WriteAtomicJSON(path, peaks)
}

// Thumbnails grabs count frames spread evenly across the duration into
// outDir as numbered JPEGs.
func (t Toolset) Thumbnails(ctx context.Context, inputPath string, durationSec float64, count int, outDir string) error {
	if count <= 0 || durationSec <= 0 {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("media: create thumbnails dir: %w", err)
	}

	step := durationSec / float64(count+1)
	for i := 1; i <= count; i++ {
		at := step * float64(i)
		out := filepath.Join(outDir, fmt.Sprintf("thumb_%03d.jpg", i))
		args := []string{
			"-hide_banner", "-nostdin",
			"-ss", strconv.FormatFloat(at, 'f', 3, 64),
			"-i", inputPath,
			"-frames:v", "1",
			"-vf", "scale=320:-1",
			"-q:v", "4",
			"-y", out,
		}
		if _, err := runTool(ctx, "thumbnail", t.FFmpeg, args, 2*time.Minute); err != nil {
			return fmt.Errorf("thumbnail %d at %.1fs: %w", i, at, err)
		}
	}
	return nil
}

// Proxy transcodes the input into a small H.264 MP4 the browser can
// seek. onProgress, if non-nil, receives the completed fraction in
// [0,1] parsed from ffmpeg's machine-readable progress stream.
func (t Toolset) Proxy(ctx context.Context, inputPath, outPath string, durationSec float64, onProgress func(float64)) error {
	args := []string{
		"-hide_banner", "-nostdin",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-vf", "scale=-2:480",
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", outPath,
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.FFmpeg, args...) // #nosec G204 -- operator-configured binary
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("media: proxy stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		metrics.IncFFmpegRun("proxy", "start_error")
		return fmt.Errorf("media: start proxy encode: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" || onProgress == nil || durationSec <= 0 {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		frac := float64(us) / 1e6 / durationSec
		if frac > 1 {
			frac = 1
		}
		onProgress(frac)
	}

	if err := cmd.Wait(); err != nil {
		metrics.IncFFmpegRun("proxy", "error")
		tail := stderr.String()
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("media: proxy encode: %w: %s", err, tail)
	}
	metrics.IncFFmpegRun("proxy", "ok")
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

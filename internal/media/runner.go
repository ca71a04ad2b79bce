// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media shells out to ffmpeg and ffprobe for everything that
// touches the source container: audio extraction, duration probing,
// waveform peaks, thumbnails and the browser-playable proxy. Every run
// is one-shot with a bounded stderr tail for diagnostics and a
// SIGTERM-then-SIGKILL stop sequence.
package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
)

// Toolset holds the resolved tool paths.
type Toolset struct {
	FFmpeg  string
	FFprobe string
}

// NewToolset applies defaults for empty paths.
func NewToolset(ffmpeg, ffprobe string) Toolset {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return Toolset{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

// lineRing keeps the last n stderr lines for error reports.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newLineRing(size int) *lineRing {
	return &lineRing{size: size}
}

func (r *lineRing) add(line string) {
	r.mu.Lock()
	if len(r.lines) == r.size {
		copy(r.lines, r.lines[1:])
		r.lines = r.lines[:r.size-1]
	}
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *lineRing) tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

const killGrace = 5 * time.Second

// runTool executes one subprocess to completion. stdout is returned;
// stderr is ringbuffered and folded into the error on failure.
func runTool(ctx context.Context, tool string, bin string, args []string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 -- operator-configured binary
	cmd.Cancel = func() error {
		// Give the encoder a chance to finalize its output before the
		// WaitDelay SIGKILL.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	ring := newLineRing(64)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("media: %s stderr pipe: %w", tool, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.IncFFmpegRun(tool, "start_error")
		return nil, fmt.Errorf("media: start %s: %w", tool, err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		ring.add(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		metrics.IncFFmpegRun(tool, "error")
		logger := log.WithComponentFromContext(ctx, "media")
		logger.Error().
			Err(err).
			Str("tool", tool).
			Str("stderr", ring.tail()).
			Dur("took", time.Since(start)).
			Msg("subprocess failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("media: %s: %w", tool, ctxErr)
		}
		return nil, fmt.Errorf("media: %s: %w: %s", tool, err, lastLine(ring))
	}

	metrics.IncFFmpegRun(tool, "ok")
	logger := log.WithComponentFromContext(ctx, "media")
	logger.Debug().
		Str("tool", tool).
		Dur("took", time.Since(start)).
		Msg("subprocess finished")
	return stdout.Bytes(), nil
}

func lastLine(r *lineRing) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return "(no stderr)"
	}
	return r.lines[len(r.lines)-1]
}

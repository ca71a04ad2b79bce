// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/media"
	"github.com/ManuGH/subpipe/internal/platform/fs"
	"github.com/ManuGH/subpipe/internal/subtitle"
)

// On-disk artifact layout inside a job directory. The pipeline runner
// writes these; the media endpoints only read (except the SRT editor
// save and the proxy encode).
const (
	artifactAudio  = "audio.wav"
	artifactPeaks  = "peaks.json"
	artifactSRT    = "output.srt"
	artifactProxy  = "proxy.mp4"
	thumbnailsPart = "thumbnails"

	maxSRTBytes   = 10 << 20
	defaultPeaks  = 1000
	maxPeaksQuery = 8000
)

var thumbnailName = regexp.MustCompile(`^thumb_\d{3}\.jpg$`)

// jobDir resolves the job directory or writes the protocol error.
func (s *Server) jobDir(w http.ResponseWriter, jobID string) (string, bool) {
	dir, err := s.store.JobDir(jobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	if _, err := os.Stat(dir); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s has no artifacts", jobID))
		return "", false
	}
	return dir, true
}

// serveArtifact serves one file out of a job directory, 404 when the
// pipeline has not produced it yet.
func serveArtifact(w http.ResponseWriter, r *http.Request, path, contentType string) {
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact not available: %s", filepath.Base(path)))
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.jobDir(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}
	serveArtifact(w, r, filepath.Join(dir, artifactAudio), "audio/wav")
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	dir, ok := s.jobDir(w, jobID)
	if !ok {
		return
	}

	proxyPath := filepath.Join(dir, artifactProxy)
	if _, err := os.Stat(proxyPath); err == nil {
		serveArtifact(w, r, proxyPath, "video/mp4")
		return
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		writeError(w, http.StatusNotFound, errors.New("input file no longer available"))
		return
	}

	s.proxyMu.Lock()
	progress, inFlight := s.proxyProgress[jobID]
	if !inFlight {
		s.proxyProgress[jobID] = 0
		go s.generateProxy(jobID, job.InputPath, proxyPath)
	}
	s.proxyMu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "generating",
		"progress": progress,
	})
}

// generateProxy runs the background transcode exactly once per job;
// concurrent GET /video calls poll its progress.
func (s *Server) generateProxy(jobID, inputPath, outPath string) {
	ctx := context.Background()
	logger := log.WithComponent("api")

	duration, err := s.tools.Duration(ctx, inputPath)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("proxy probe failed")
		duration = 0
	}

	err = s.tools.Proxy(ctx, inputPath, outPath, duration, func(frac float64) {
		s.proxyMu.Lock()
		s.proxyProgress[jobID] = frac
		s.proxyMu.Unlock()
	})

	s.proxyMu.Lock()
	delete(s.proxyProgress, jobID)
	s.proxyMu.Unlock()

	if err != nil {
		logger.Error().Err(err).Str(log.FieldJobID, jobID).Msg("proxy encode failed")
		_ = os.Remove(outPath)
	}
}

func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.jobDir(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	samples := defaultPeaks
	if raw := r.URL.Query().Get("samples"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPeaksQuery {
			writeError(w, http.StatusBadRequest, fmt.Errorf("samples must be 1..%d", maxPeaksQuery))
			return
		}
		samples = n
	}

	audioPath := filepath.Join(dir, artifactAudio)
	duration, err := media.WAVDuration(audioPath)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("audio not extracted yet"))
		return
	}

	peaks, err := loadPeaks(filepath.Join(dir, artifactPeaks), audioPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"duration": duration,
		"peaks":    resamplePeaks(peaks, samples),
	})
}

// loadPeaks prefers the precomputed artifact and falls back to folding
// the audio directly when the runner has not written it.
func loadPeaks(peaksPath, audioPath string) ([]float64, error) {
	var peaks []float64
	if err := fs.ReadJSON(peaksPath, &peaks); err == nil {
		return peaks, nil
	}
	audio, err := media.LoadWAV(audioPath)
	if err != nil {
		return nil, err
	}
	return media.Peaks(audio.Samples, defaultPeaks), nil
}

// resamplePeaks folds a peaks array into n buckets of max value.
func resamplePeaks(peaks []float64, n int) []float64 {
	if len(peaks) <= n {
		return peaks
	}
	out := make([]float64, n)
	per := len(peaks) / n
	for b := 0; b < n; b++ {
		lo := b * per
		hi := lo + per
		if b == n-1 {
			hi = len(peaks)
		}
		for _, p := range peaks[lo:hi] {
			if p > out[b] {
				out[b] = p
			}
		}
	}
	return out
}

func (s *Server) handleThumbnails(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	dir, ok := s.jobDir(w, jobID)
	if !ok {
		return
	}

	entries, err := os.ReadDir(filepath.Join(dir, thumbnailsPart))
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("thumbnails not generated yet"))
		return
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && thumbnailName.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < len(names) {
			names = subsample(names, n)
		}
	}

	duration, _ := media.WAVDuration(filepath.Join(dir, artifactAudio))
	step := duration / float64(len(names)+1)

	timestamps := make([]float64, len(names))
	paths := make([]string, len(names))
	for i, name := range names {
		timestamps[i] = step * float64(i+1)
		paths[i] = "/api/media/" + jobID + "/thumbnails/" + name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamps": timestamps,
		"thumbnails": paths,
	})
}

// subsample picks n evenly spaced entries.
func subsample(names []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = names[i*len(names)/n]
	}
	return out
}

func (s *Server) handleThumbnailFile(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.jobDir(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if !thumbnailName.MatchString(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid thumbnail name %q", name))
		return
	}
	serveArtifact(w, r, filepath.Join(dir, thumbnailsPart, name), "image/jpeg")
}

func (s *Server) handleGetSRT(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.jobDir(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}
	serveArtifact(w, r, filepath.Join(dir, artifactSRT), "application/x-subrip; charset=utf-8")
}

func (s *Server) handlePutSRT(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.jobDir(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSRTBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxSRTBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("srt document too large"))
		return
	}

	cues, err := subtitle.ParseSRT(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := fs.WriteAtomic(filepath.Join(dir, artifactSRT), body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "cues": len(cues)})
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/intake"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
)

// normTitle folds a user-supplied display title to NFC so titles from
// macOS uploads (NFD) compare and render consistently.
func normTitle(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.UploadMaxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field 'file': %w", err))
		return
	}
	defer func() { _ = file.Close() }()

	filename := filepath.Base(header.Filename)
	if !intake.AllowedExt(filename) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported file type %q", filepath.Ext(filename)))
		return
	}

	jobID := uuid.NewString()
	dir, err := s.store.JobDir(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	inputPath := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(filename)))
	if err := saveUpload(inputPath, file); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	job := &model.Job{
		ID:        jobID,
		InputPath: inputPath,
		Title:     normTitle(strings.TrimSuffix(filename, filepath.Ext(filename))),
	}
	if err := s.jobs.Add(job); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":         jobID,
		"filename":       filename,
		"queue_position": len(s.jobs.Queued()),
	})
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304 -- confined by JobDir
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

type batchRequest struct {
	Filenames []string `json:"filenames"`
}

type batchFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type batchCreated struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Filenames) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("filenames is empty"))
		return
	}

	var (
		succeeded []batchCreated
		failed    []batchFailure
	)
	for _, name := range req.Filenames {
		path, err := s.input.Resolve(name)
		if err != nil {
			failed = append(failed, batchFailure{Filename: name, Error: err.Error()})
			continue
		}
		job := &model.Job{
			ID:        uuid.NewString(),
			InputPath: path,
			Title:     normTitle(strings.TrimSuffix(name, filepath.Ext(name))),
		}
		if err := s.jobs.Add(job); err != nil {
			failed = append(failed, batchFailure{Filename: name, Error: err.Error()})
			continue
		}
		succeeded = append(succeeded, batchCreated{JobID: job.ID, Filename: name})
	}

	if succeeded == nil {
		succeeded = []batchCreated{}
	}
	if failed == nil {
		failed = []batchFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded":    succeeded,
		"failed_count": len(failed),
		"failed":       failed,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"files": s.input.Files()})
}

type startRequest struct {
	Preset   string `json:"preset"`
	Language string `json:"language"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	if _, err := config.PresetByName(req.Preset); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.jobs.Update(jobID, func(j *model.Job) {
		if req.Preset != "" {
			j.Preset = req.Preset
		}
		if req.Language != "" {
			j.Language = req.Language
		}
	}); err != nil {
		writeJobError(w, err)
		return
	}
	if err := s.jobs.StartJob(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	s.writeJob(w, jobID)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Pause(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pausing"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Resume(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	s.writeJob(w, jobID)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	purge := r.URL.Query().Get("purge") == "true"

	if err := s.jobs.Cancel(jobID); err != nil {
		writeJobError(w, err)
		return
	}

	purged := false
	if purge {
		// A running job cancels cooperatively; its directory can only go
		// once the runner has unwound, so purge applies when the job is
		// already terminal.
		if job, err := s.jobs.Get(jobID); err == nil && job.Status.Terminal() {
			s.purgeJob(jobID)
			purged = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"status": "canceled",
		"purged": purged,
	})
}

// purgeJob removes every trace of a terminal job: store directory, event
// topic, queue entry. Failures are logged, not surfaced; the caller has
// already committed to the cancellation.
func (s *Server) purgeJob(jobID string) {
	s.bus.CloseTopic(jobID)
	if err := s.store.Purge(jobID); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().
			Err(err).
			Str(log.FieldJobID, jobID).
			Msg("purge failed")
	}
	_ = s.jobs.Delete(jobID)
}

type reorderRequest struct {
	Order []string `json:"order"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := s.jobs.Reorder(req.Order); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": s.jobs.Queued()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   s.jobs.List(),
		"queued": s.jobs.Queued(),
	})
}

// mediaLinks is attached to job reads when include_media is requested.
type mediaLinks struct {
	Audio      string `json:"audio"`
	Video      string `json:"video"`
	Peaks      string `json:"peaks"`
	Thumbnails string `json:"thumbnails"`
	SRT        string `json:"srt"`
}

func jobMediaLinks(jobID string) *mediaLinks {
	base := "/api/media/" + jobID
	return &mediaLinks{
		Audio:      base + "/audio",
		Video:      base + "/video",
		Peaks:      base + "/peaks",
		Thumbnails: base + "/thumbnails",
		SRT:        base + "/srt",
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if r.URL.Query().Get("include_media") == "true" {
		writeJSON(w, http.StatusOK, struct {
			*model.Job
			Media *mediaLinks `json:"media"`
		}{job, jobMediaLinks(jobID)})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type textSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleJobText(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	segments := make([]textSegment, len(job.Sentences))
	for i, sent := range job.Sentences {
		segments[i] = textSegment{
			Start:      sent.Start,
			End:        sent.End,
			Text:       sent.Text,
			Confidence: sent.Confidence,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": segments,
		"progress": map[string]float64{"percentage": job.Progress},
	})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handlePatchTitle(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	title := normTitle(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, errors.New("title is empty"))
		return
	}

	if err := s.jobs.Update(jobID, func(j *model.Job) { j.Title = title }); err != nil {
		writeJobError(w, err)
		return
	}
	s.writeJob(w, jobID)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Delete(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	s.bus.CloseTopic(jobID)
	if err := s.store.Purge(jobID); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().
			Err(err).
			Str(log.FieldJobID, jobID).
			Msg("purge after delete failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJob(w http.ResponseWriter, jobID string) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

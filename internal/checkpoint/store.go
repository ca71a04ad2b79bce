// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package checkpoint persists job state under the jobs directory. Each
// job owns a directory holding manifest.json (the authoritative
// checkpoint), segments.json (the committed sentence list) and the
// media artifacts. Both JSON files are written atomically so a crash
// never leaves a torn checkpoint. A SQLite index mirrors the manifest
// headers for fast listing without touching every directory.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
	"github.com/ManuGH/subpipe/internal/platform/fs"
)

const (
	manifestFile  = "manifest.json"
	segmentsFile  = "segments.json"
	indexFile     = "index.db"
	schemaVersion = 1
)

// ErrNotFound is returned when a job has no checkpoint on disk.
var ErrNotFound = errors.New("checkpoint: not found")

// jobIDPattern keeps directory scanning away from anything that is not
// a job directory we created.
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Manifest is the persisted checkpoint of one job. The embedded job
// carries no sentences; those live in segments.json and are re-attached
// on load.
type Manifest struct {
	Job          *model.Job         `json:"job"`
	Chunks       []model.VADSegment `json:"chunks,omitempty"`
	ChunksDone   int                `json:"chunks_done"`
	LastEventSeq uint64             `json:"last_event_seq"`
	SavedAt      time.Time          `json:"saved_at"`
}

// Restored is one job recovered by the startup scan.
type Restored struct {
	Manifest  Manifest
	Sentences []model.Sentence
}

// Store is the on-disk checkpoint layer.
type Store struct {
	root string
	db   *sql.DB
}

// NewStore opens (creating if needed) the jobs directory and its index.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("checkpoint: create jobs dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		filepath.Join(root, indexFile))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{root: root, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: migrate index: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		preset TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Close closes the index database.
func (s *Store) Close() error { return s.db.Close() }

// Root is the jobs directory.
func (s *Store) Root() string { return s.root }

// JobDir resolves a job's directory, confined to the jobs root.
func (s *Store) JobDir(jobID string) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", fmt.Errorf("checkpoint: invalid job id %q", jobID)
	}
	return fs.ConfineRelPath(s.root, jobID)
}

// Save writes the manifest atomically and mirrors it into the index.
// The embedded job's sentence list is deliberately not serialized here.
func (s *Store) Save(m Manifest) error {
	if m.Job == nil || m.Job.ID == "" {
		return fmt.Errorf("checkpoint: manifest has no job")
	}
	dir, err := s.JobDir(m.Job.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("checkpoint: create job dir: %w", err)
	}

	job := m.Job.Clone()
	job.Sentences = nil
	m.Job = job
	m.SavedAt = time.Now().UTC()

	// Lifecycle-only saves carry no chunk progress; keep what the
	// runner last recorded instead of zeroing it.
	if m.Chunks == nil && m.ChunksDone == 0 && m.LastEventSeq == 0 {
		if prev, err := readManifest(filepath.Join(dir, manifestFile)); err == nil {
			m.Chunks = prev.Chunks
			m.ChunksDone = prev.ChunksDone
			m.LastEventSeq = prev.LastEventSeq
		}
	}

	if err := fs.WriteAtomicJSON(filepath.Join(dir, manifestFile), m); err != nil {
		return fmt.Errorf("checkpoint: write manifest: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, status, title, preset, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			preset = excluded.preset,
			updated_at = excluded.updated_at`,
		job.ID, string(job.Status), job.Title, job.Preset,
		job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("checkpoint: index job %s: %w", job.ID, err)
	}
	return nil
}

// SaveSegments persists the committed sentence list. Called on every
// sentence commit, so partial lists on disk are always authoritative.
func (s *Store) SaveSegments(jobID string, sentences []model.Sentence) error {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("checkpoint: create job dir: %w", err)
	}
	if sentences == nil {
		sentences = []model.Sentence{}
	}
	if err := fs.WriteAtomicJSON(filepath.Join(dir, segmentsFile), sentences); err != nil {
		return fmt.Errorf("checkpoint: write segments: %w", err)
	}
	return nil
}

// Load reads one job's manifest and sentence list.
func (s *Store) Load(jobID string) (Manifest, []model.Sentence, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return Manifest{}, nil, err
	}
	m, err := readManifest(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, nil, err
	}
	sentences, err := readSegments(filepath.Join(dir, segmentsFile))
	if err != nil {
		return Manifest{}, nil, err
	}
	return m, sentences, nil
}

// Scan walks the jobs directory and recovers every checkpointed job.
// Jobs that were PROCESSING when the process died are demoted to QUEUED
// so the scheduler re-runs them; PAUSED and terminal states are kept.
// Unreadable directories are logged and skipped, never fatal.
func (s *Store) Scan() ([]Restored, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: scan jobs dir: %w", err)
	}

	var out []Restored
	for _, entry := range entries {
		if !entry.IsDir() || !jobIDPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		m, err := readManifest(filepath.Join(dir, manifestFile))
		if err != nil {
			logger := log.WithComponent("checkpoint")
			logger.Warn().
				Err(err).
				Str(log.FieldJobID, entry.Name()).
				Msg("skipping unreadable checkpoint")
			continue
		}
		sentences, err := readSegments(filepath.Join(dir, segmentsFile))
		if err != nil {
			logger := log.WithComponent("checkpoint")
			logger.Warn().
				Err(err).
				Str(log.FieldJobID, entry.Name()).
				Msg("segments unreadable, restoring without sentences")
			sentences = nil
		}

		if m.Job.Status == model.StatusProcessing {
			m.Job.Status = model.StatusQueued
			m.Job.Message = "recovered after restart"
		}
		out = append(out, Restored{Manifest: m, Sentences: sentences})
	}
	return out, nil
}

// Purge removes a job's directory and its index row.
func (s *Store) Purge(jobID string) error {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("checkpoint: purge %s: %w", jobID, err)
	}
	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", jobID); err != nil {
		return fmt.Errorf("checkpoint: unindex %s: %w", jobID, err)
	}
	return nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path confined by JobDir
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, ErrNotFound
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: decode manifest: %w", err)
	}
	if m.Job == nil {
		return Manifest{}, fmt.Errorf("checkpoint: manifest missing job")
	}
	return m, nil
}

func readSegments(path string) ([]model.Sentence, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path confined by JobDir
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read segments: %w", err)
	}
	var out []model.Sentence
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("checkpoint: decode segments: %w", err)
	}
	return out, nil
}

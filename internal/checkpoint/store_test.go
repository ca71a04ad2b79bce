// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob(id string, status model.Status) *model.Job {
	return &model.Job{
		ID:        id,
		InputPath: "input.mp4",
		Title:     "episode 1",
		Preset:    "preset1",
		Status:    status,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(Manifest{
		Job:          testJob("job-1", model.StatusProcessing),
		Chunks:       []model.VADSegment{{Index: 0, StartSec: 0, EndSec: 15}, {Index: 1, StartSec: 15, EndSec: 28}},
		ChunksDone:   1,
		LastEventSeq: 42,
	})
	require.NoError(t, err)

	sentences := []model.Sentence{{ID: "s1", Text: "你好", Start: 0, End: 2, Confidence: 0.9}}
	require.NoError(t, s.SaveSegments("job-1", sentences))

	m, got, err := s.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", m.Job.ID)
	assert.Equal(t, model.StatusProcessing, m.Job.Status)
	assert.Equal(t, 1, m.ChunksDone)
	assert.Equal(t, uint64(42), m.LastEventSeq)
	assert.Len(t, m.Chunks, 2)
	assert.False(t, m.SavedAt.IsZero())
	require.Len(t, got, 1)
	assert.Equal(t, "你好", got[0].Text)
}

func TestManifestExcludesSentences(t *testing.T) {
	s := newTestStore(t)

	job := testJob("job-1", model.StatusProcessing)
	job.Sentences = []model.Sentence{{ID: "s1", Text: "inline"}}
	require.NoError(t, s.Save(Manifest{Job: job}))

	m, sentences, err := s.Load("job-1")
	require.NoError(t, err)
	assert.Empty(t, m.Job.Sentences, "sentences belong to segments.json")
	assert.Empty(t, sentences)
	assert.Len(t, job.Sentences, 1, "caller's job must not be mutated")
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobDirRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"../evil", "a/b", "", ".hidden", "x y"} {
		_, err := s.JobDir(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestScanRestoresStates(t *testing.T) {
	root := filepath.Join(t.TempDir(), "jobs")
	s, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, s.Save(Manifest{Job: testJob("crashed", model.StatusProcessing), ChunksDone: 2}))
	require.NoError(t, s.SaveSegments("crashed", []model.Sentence{{ID: "s1", Text: "partial"}}))
	require.NoError(t, s.Save(Manifest{Job: testJob("parked", model.StatusPaused)}))
	require.NoError(t, s.Save(Manifest{Job: testJob("done", model.StatusFinished)}))
	require.NoError(t, s.Close())

	// Fresh store instance, as after a process restart.
	s2, err := NewStore(root)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	restored, err := s2.Scan()
	require.NoError(t, err)
	require.Len(t, restored, 3)

	byID := map[string]Restored{}
	for _, r := range restored {
		byID[r.Manifest.Job.ID] = r
	}

	crashed := byID["crashed"]
	assert.Equal(t, model.StatusQueued, crashed.Manifest.Job.Status, "PROCESSING demotes to QUEUED")
	assert.Equal(t, 2, crashed.Manifest.ChunksDone, "partial progress survives")
	require.Len(t, crashed.Sentences, 1)
	assert.Equal(t, "partial", crashed.Sentences[0].Text)

	assert.Equal(t, model.StatusPaused, byID["parked"].Manifest.Job.Status, "PAUSED is preserved")
	assert.Equal(t, model.StatusFinished, byID["done"].Manifest.Job.Status)
}

func TestScanSkipsCorruptManifest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "jobs")
	s, err := NewStore(root)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Save(Manifest{Job: testJob("good", model.StatusQueued)}))

	badDir := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, manifestFile), []byte("{torn"), 0o600))

	restored, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "good", restored[0].Manifest.Job.ID)
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Manifest{Job: testJob("gone", model.StatusFinished)}))

	require.NoError(t, s.Purge("gone"))
	_, _, err := s.Load("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	restored, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestSaveRejectsEmptyJob(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Save(Manifest{}))
	assert.Error(t, s.Save(Manifest{Job: &model.Job{}}))
}

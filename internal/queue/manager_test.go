// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLifecycleTable(t *testing.T) {
	tests := []struct {
		from  model.Status
		event LifecycleEvent
		to    model.Status
		ok    bool
	}{
		{model.StatusCreated, EventStart, model.StatusQueued, true},
		{model.StatusQueued, EventSchedule, model.StatusProcessing, true},
		{model.StatusProcessing, EventPause, model.StatusPaused, true},
		{model.StatusPaused, EventResume, model.StatusQueued, true},
		{model.StatusProcessing, EventComplete, model.StatusFinished, true},
		{model.StatusProcessing, EventFail, model.StatusFailed, true},
		{model.StatusCreated, EventCancel, model.StatusCanceled, true},
		{model.StatusQueued, EventCancel, model.StatusCanceled, true},
		{model.StatusPaused, EventCancel, model.StatusCanceled, true},
		{model.StatusCreated, EventPause, "", false},
		{model.StatusFinished, EventCancel, "", false},
		{model.StatusCanceled, EventStart, "", false},
		{model.StatusQueued, EventComplete, "", false},
	}
	for _, tc := range tests {
		to, err := Next(tc.from, tc.event)
		if tc.ok {
			require.NoError(t, err, "%s + %s", tc.from, tc.event)
			assert.Equal(t, tc.to, to)
		} else {
			assert.Error(t, err, "%s + %s", tc.from, tc.event)
		}
	}
}

// blockingRun parks every job until released, recording start order.
type blockingRun struct {
	mu       sync.Mutex
	order    []string
	release  map[string]chan error
	startedC chan string
}

func newBlockingRun() *blockingRun {
	return &blockingRun{
		release:  make(map[string]chan error),
		startedC: make(chan string, 16),
	}
}

func (b *blockingRun) fn(ctx context.Context, ctl *Control, job *model.Job) error {
	b.mu.Lock()
	b.order = append(b.order, job.ID)
	ch := make(chan error, 1)
	b.release[job.ID] = ch
	b.mu.Unlock()
	b.startedC <- job.ID

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingRun) finish(id string, err error) {
	b.mu.Lock()
	ch := b.release[id]
	b.mu.Unlock()
	ch <- err
}

func (b *blockingRun) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-b.startedC:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no job started")
		return ""
	}
}

func waitStatus(t *testing.T, m *Manager, id string, want model.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		require.NoError(t, err)
		if job.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := m.Get(id)
	t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

func addJob(t *testing.T, m *Manager, id string) {
	t.Helper()
	require.NoError(t, m.Add(&model.Job{ID: id, InputPath: id + ".mp4", Preset: "default"}))
}

func TestSingleActiveJob(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	addJob(t, m, "b")
	require.NoError(t, m.StartJob("a"))
	require.NoError(t, m.StartJob("b"))

	first := run.waitStarted(t)
	assert.Equal(t, "a", first)
	waitStatus(t, m, "a", model.StatusProcessing)

	jobB, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, jobB.Status, "concurrency cap of one")

	run.finish("a", nil)
	waitStatus(t, m, "a", model.StatusFinished)
	assert.Equal(t, "b", run.waitStarted(t))
	run.finish("b", nil)
	waitStatus(t, m, "b", model.StatusFinished)
}

func TestStartRequiresCreated(t *testing.T) {
	m := NewManager(1, nil, nil, nil)
	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	assert.Error(t, m.StartJob("a"), "double start must be rejected")
	assert.Error(t, m.StartJob("ghost"))
}

func TestFailedRunRecordsError(t *testing.T) {
	m := NewManager(1, func(context.Context, *Control, *model.Job) error {
		return errors.New("ffmpeg exploded")
	}, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	waitStatus(t, m, "a", model.StatusFailed)

	job, err := m.Get("a")
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Contains(t, job.Error.Message, "ffmpeg exploded")
}

func TestPauseResumeCycle(t *testing.T) {
	paused := make(chan struct{})
	resumed := make(chan struct{})
	var calls int
	var mu sync.Mutex

	m := NewManager(1, func(ctx context.Context, ctl *Control, job *model.Job) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-paused
			return ErrPaused
		}
		close(resumed)
		return nil
	}, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	waitStatus(t, m, "a", model.StatusProcessing)

	require.NoError(t, m.Pause("a"))
	close(paused)
	waitStatus(t, m, "a", model.StatusPaused)

	require.NoError(t, m.Resume("a"))
	waitStatus(t, m, "a", model.StatusFinished)
	<-resumed
}

func TestPauseOnlyWhileProcessing(t *testing.T) {
	m := NewManager(1, nil, nil, nil)
	addJob(t, m, "a")
	assert.Error(t, m.Pause("a"), "CREATED cannot pause")
}

func TestCancelQueuedJob(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	addJob(t, m, "b")
	require.NoError(t, m.StartJob("a"))
	require.NoError(t, m.StartJob("b"))
	run.waitStarted(t)

	require.NoError(t, m.Cancel("b"))
	jobB, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, jobB.Status)
	assert.Empty(t, m.Queued())

	run.finish("a", nil)
	waitStatus(t, m, "a", model.StatusFinished)
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	run.waitStarted(t)
	waitStatus(t, m, "a", model.StatusProcessing)

	require.NoError(t, m.Cancel("a"))
	waitStatus(t, m, "a", model.StatusCanceled)

	assert.Error(t, m.Cancel("a"), "terminal jobs cannot be canceled again")
}

func TestShutdownLeavesRunningJobResumable(t *testing.T) {
	bus := events.New(8, 8)
	sub := bus.Subscribe("a", 0)
	defer sub.Cancel()

	run := newBlockingRun()
	m := NewManager(1, run.fn, bus, nil)
	m.Start()

	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	run.waitStarted(t)
	waitStatus(t, m, "a", model.StatusProcessing)

	shutdown(t, m)

	job, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, job.Status,
		"graceful stop interrupts without canceling; the startup scan requeues the job")

	for _, ev := range drainEvents(sub) {
		assert.NotEqual(t, "signal.job_canceled", ev.Type)
	}
}

func TestPauseEmitsNoSignal(t *testing.T) {
	bus := events.New(8, 8)
	sub := bus.Subscribe("a", 0)
	defer sub.Cancel()

	paused := make(chan struct{})
	m := NewManager(1, func(context.Context, *Control, *model.Job) error {
		<-paused
		return ErrPaused
	}, bus, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "a")
	require.NoError(t, m.StartJob("a"))
	waitStatus(t, m, "a", model.StatusProcessing)
	require.NoError(t, m.Pause("a"))
	close(paused)
	waitStatus(t, m, "a", model.StatusPaused)

	var signals []string
	for _, ev := range drainEvents(sub) {
		signals = append(signals, ev.Type)
	}
	assert.Equal(t, []string{"signal.job_start"}, signals,
		"pause surfaces through the job record, not a lifecycle signal")
}

func drainEvents(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestReorder(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)
	m.Start()
	defer shutdown(t, m)

	for _, id := range []string{"hold", "a", "b", "c"} {
		addJob(t, m, id)
		require.NoError(t, m.StartJob(id))
	}
	run.waitStarted(t) // "hold" occupies the single slot
	waitStatus(t, m, "hold", model.StatusProcessing)

	require.Equal(t, []string{"a", "b", "c"}, m.Queued())
	require.NoError(t, m.Reorder([]string{"c", "a", "b"}))
	assert.Equal(t, []string{"c", "a", "b"}, m.Queued())

	assert.Error(t, m.Reorder([]string{"c", "a"}), "must cover the whole queue")
	assert.Error(t, m.Reorder([]string{"c", "a", "x"}), "unknown id")
	assert.Error(t, m.Reorder([]string{"c", "a", "a"}), "duplicate id")

	run.finish("hold", nil)
	assert.Equal(t, "c", run.waitStarted(t), "new head runs first")
	run.finish("c", nil)
	run.finish(run.waitStarted(t), nil)
	run.finish(run.waitStarted(t), nil)
	waitStatus(t, m, "b", model.StatusFinished)
}

func TestResumeKeepsOriginalPosition(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)
	m.Start()
	defer shutdown(t, m)

	addJob(t, m, "first")
	require.NoError(t, m.StartJob("first"))
	run.waitStarted(t)

	for _, id := range []string{"a", "b", "c"} {
		addJob(t, m, id)
		require.NoError(t, m.StartJob(id))
	}

	// Pause "a" once it runs; the freed slot goes to "b".
	run.finish("first", nil)
	require.Equal(t, "a", run.waitStarted(t))
	waitStatus(t, m, "a", model.StatusProcessing)
	require.NoError(t, m.Pause("a"))
	run.finish("a", ErrPaused)
	waitStatus(t, m, "a", model.StatusPaused)
	require.Equal(t, "b", run.waitStarted(t))

	require.NoError(t, m.Resume("a"))
	// "a" still precedes "c" because its position key is older.
	assert.Equal(t, []string{"a", "c"}, m.Queued())

	run.finish("b", nil)
	assert.Equal(t, "a", run.waitStarted(t), "resumed job reclaims its place ahead of c")
	run.finish("a", nil)
	run.finish(run.waitStarted(t), nil)
	waitStatus(t, m, "c", model.StatusFinished)
}

func TestRestoreQueuedJob(t *testing.T) {
	run := newBlockingRun()
	m := NewManager(1, run.fn, nil, nil)

	require.NoError(t, m.Restore(&model.Job{ID: "resumed", Status: model.StatusQueued}))
	require.NoError(t, m.Restore(&model.Job{ID: "parked", Status: model.StatusPaused}))
	require.NoError(t, m.Restore(&model.Job{ID: "done", Status: model.StatusFinished}))

	assert.Equal(t, []string{"resumed"}, m.Queued())

	m.Start()
	defer shutdown(t, m)
	m.kick()
	assert.Equal(t, "resumed", run.waitStarted(t))
	run.finish("resumed", nil)
	waitStatus(t, m, "resumed", model.StatusFinished)

	parked, err := m.Get("parked")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, parked.Status, "paused state survives restore")
}

func TestDeleteOnlyTerminal(t *testing.T) {
	m := NewManager(1, nil, nil, nil)
	addJob(t, m, "a")
	assert.Error(t, m.Delete("a"))

	require.NoError(t, m.Cancel("a"))
	require.NoError(t, m.Delete("a"))
	_, err := m.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePersists(t *testing.T) {
	var persisted []*model.Job
	m := NewManager(1, nil, nil, func(job *model.Job) {
		persisted = append(persisted, job)
	})
	addJob(t, m, "a")

	require.NoError(t, m.Update("a", func(j *model.Job) {
		j.Progress = 42.5
		j.Phase = model.PhasePrimaryASR
	}))

	job, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 42.5, job.Progress)
	require.NotEmpty(t, persisted)
	last := persisted[len(persisted)-1]
	assert.Equal(t, 42.5, last.Progress)
}

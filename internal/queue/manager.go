// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package queue owns the job lifecycle: an in-memory store of jobs, the
// FIFO of queued ids, and the scheduler that hands jobs to the pipeline
// runner under the concurrency cap. Pause and cancel are cooperative;
// the scheduler only ever flags the running job's control handle and
// lets the runner stop at its next boundary.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/model"
)

// ErrPaused is returned by a RunFunc that stopped at a boundary because
// pause was requested, after checkpointing its partial state.
var ErrPaused = errors.New("queue: run paused")

// ErrNotFound is returned for operations on unknown job ids.
var ErrNotFound = errors.New("queue: job not found")

// Control is the cooperative handle the runner polls between chunks and
// at stage boundaries.
type Control struct {
	ctx    context.Context
	cancel context.CancelFunc
	pause  atomic.Bool
}

// NewControl builds a standalone control handle for driving a RunFunc
// outside the scheduler.
func NewControl(ctx context.Context) (*Control, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	return &Control{ctx: ctx, cancel: cancel}, cancel
}

// Context is canceled when the job is canceled or the service stops.
func (c *Control) Context() context.Context { return c.ctx }

// RequestPause flags the cooperative pause bit.
func (c *Control) RequestPause() { c.pause.Store(true) }

// PauseRequested reports whether the runner should checkpoint and
// return ErrPaused at its next boundary.
func (c *Control) PauseRequested() bool { return c.pause.Load() }

// RunFunc executes one job to completion. A nil return finishes the
// job; ErrPaused parks it; a canceled context cancels it; anything else
// fails it.
type RunFunc func(ctx context.Context, ctl *Control, job *model.Job) error

// Signal is the payload of signal.* events.
type Signal struct {
	JobID   string `json:"job_id"`
	Signal  string `json:"signal"`
	Message string `json:"message,omitempty"`
}

// PersistFunc checkpoints a job snapshot after every lifecycle change.
type PersistFunc func(job *model.Job)

// Manager is the queue, store and scheduler in one lock domain.
type Manager struct {
	mu          sync.Mutex
	concurrency int
	jobs        map[string]*model.Job
	order       []string          // queued ids, scheduling order
	seq         map[string]uint64 // queue position keys, survive pause
	nextSeq     uint64
	active      map[string]*Control
	started     map[string]time.Time

	run     RunFunc
	bus     *events.Bus
	persist PersistFunc

	wake     chan struct{}
	stop     chan struct{}
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// NewManager builds a manager. persist may be nil.
func NewManager(concurrency int, run RunFunc, bus *events.Bus, persist PersistFunc) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		concurrency: concurrency,
		jobs:        make(map[string]*model.Job),
		seq:         make(map[string]uint64),
		active:      make(map[string]*Control),
		started:     make(map[string]time.Time),
		run:         run,
		bus:         bus,
		persist:     persist,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// Start launches the scheduler loop and nudges it once so jobs
// restored into the queue before Start get picked up.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
	m.kick()
}

// Shutdown stops scheduling, interrupts running jobs and waits for the
// runners to unwind or the context to expire. Interrupted jobs keep
// their PROCESSING status and checkpoint; the startup scan requeues
// them on the next boot.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopping.Store(true)
	close(m.stop)
	m.mu.Lock()
	for _, ctl := range m.active {
		ctl.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: shutdown: %w", ctx.Err())
	}
}

// Add registers a new CREATED job.
func (m *Manager) Add(job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("queue: job %s already exists", job.ID)
	}
	job.Status = model.StatusCreated
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = job
	m.persistLocked(job)
	return nil
}

// Restore re-registers a checkpointed job in its persisted state.
// QUEUED jobs re-enter the scheduling order.
func (m *Manager) Restore(job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("queue: job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job
	if job.Status == model.StatusQueued {
		m.enqueueLocked(job.ID)
	}
	return nil
}

// StartJob moves a CREATED job into the queue.
func (m *Manager) StartJob(id string) error {
	err := m.transition(id, EventStart, func(job *model.Job) {
		m.enqueueLocked(job.ID)
	})
	if err != nil {
		return err
	}
	m.kick()
	return nil
}

// Pause requests a cooperative pause of a PROCESSING job. The status
// changes only after the runner has checkpointed and returned.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != model.StatusProcessing {
		return fmt.Errorf("queue: pause: job %s is %s, not PROCESSING", id, job.Status)
	}
	if ctl, ok := m.active[id]; ok {
		ctl.RequestPause()
	}
	return nil
}

// Resume moves a PAUSED job back into the queue at its original
// position.
func (m *Manager) Resume(id string) error {
	err := m.transition(id, EventResume, func(job *model.Job) {
		m.enqueueLocked(job.ID)
	})
	if err != nil {
		return err
	}
	m.kick()
	return nil
}

// Cancel cancels a job from any non-terminal state. A running job is
// interrupted via its context; the terminal status is recorded by the
// runner's exit path.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("queue: cancel: job %s already %s", id, job.Status)
	}

	if ctl, running := m.active[id]; running {
		// Cooperative: flag only, the runner exits at its next check.
		ctl.cancel()
		m.mu.Unlock()
		return nil
	}

	to, err := Next(job.Status, EventCancel)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.setStatusLocked(job, to)
	m.dequeueLocked(id)
	m.mu.Unlock()

	m.publishSignal(id, "job_canceled", "")
	metrics.IncJobOutcome("canceled")
	return nil
}

// Reorder replaces the scheduling order. newOrder must be a permutation
// of the currently queued ids; jobs in other states may not appear.
func (m *Manager) Reorder(newOrder []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(newOrder) != len(m.order) {
		return fmt.Errorf("queue: reorder: got %d ids, queue holds %d", len(newOrder), len(m.order))
	}
	current := make(map[string]bool, len(m.order))
	for _, id := range m.order {
		current[id] = true
	}
	seen := make(map[string]bool, len(newOrder))
	for _, id := range newOrder {
		if !current[id] {
			return fmt.Errorf("queue: reorder: job %s is not queued", id)
		}
		if seen[id] {
			return fmt.Errorf("queue: reorder: job %s listed twice", id)
		}
		seen[id] = true
	}

	m.order = append([]string(nil), newOrder...)
	for _, id := range newOrder {
		m.nextSeq++
		m.seq[id] = m.nextSeq
	}
	return nil
}

// Get returns a deep copy of one job.
func (m *Manager) Get(id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// List returns deep copies of all jobs, newest first.
func (m *Manager) List() []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Queued returns the current scheduling order.
func (m *Manager) Queued() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Delete removes a terminal job from the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("queue: delete: job %s is %s, not terminal", id, job.Status)
	}
	delete(m.jobs, id)
	delete(m.seq, id)
	return nil
}

// Update applies fn to the live job under the manager's lock and
// persists the result. The pipeline runner uses this for all its
// mutations so API readers never observe torn state.
func (m *Manager) Update(id string, fn func(*model.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
	m.persistLocked(job)
	return nil
}

// loop is the scheduler: wake, fill the active set from the queue head,
// repeat.
func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		}
		m.schedule()
	}
}

func (m *Manager) schedule() {
	m.mu.Lock()
	for len(m.active) < m.concurrency && len(m.order) > 0 {
		id := m.order[0]
		job := m.jobs[id]
		to, err := Next(job.Status, EventSchedule)
		if err != nil {
			// Stale entry (e.g. canceled while queued); drop it.
			m.order = m.order[1:]
			continue
		}
		m.order = m.order[1:]
		m.setStatusLocked(job, to)

		ctx, cancel := context.WithCancel(context.Background())
		ctl := &Control{ctx: ctx, cancel: cancel}
		m.active[id] = ctl
		m.started[id] = time.Now()

		m.wg.Add(1)
		go m.runJob(job.ID, ctl)
	}
	metrics.SetQueueDepth(float64(len(m.order)))
	m.mu.Unlock()
}

func (m *Manager) runJob(id string, ctl *Control) {
	defer m.wg.Done()
	defer ctl.cancel()

	m.publishSignal(id, "job_start", "")

	m.mu.Lock()
	job := m.jobs[id]
	snapshot := job.Clone()
	m.mu.Unlock()

	// The runner gets a snapshot and writes back through Update, so the
	// store never sees partially mutated state.
	err := m.run(log.ContextWithJobID(ctl.ctx, id), ctl, snapshot)

	m.mu.Lock()
	delete(m.active, id)
	startedAt := m.started[id]
	delete(m.started, id)

	var signal, outcome string
	switch {
	case err == nil:
		m.fireLocked(job, EventComplete)
		signal, outcome = "job_complete", "finished"
	case errors.Is(err, ErrPaused):
		// No signal: pause is visible through the job record.
		m.fireLocked(job, EventPause)
	case errors.Is(err, context.Canceled) || ctl.ctx.Err() != nil:
		if m.stopping.Load() {
			// Service shutdown, not a user cancel: the job stays
			// PROCESSING and resumes from its checkpoint after restart.
			break
		}
		m.fireLocked(job, EventCancel)
		signal, outcome = "job_canceled", "canceled"
	default:
		job.Error = &model.ErrorRecord{Message: err.Error(), At: time.Now().UTC()}
		m.fireLocked(job, EventFail)
		signal, outcome = "job_failed", "failed"
		logger := log.WithComponent("queue")
		logger.Error().
			Err(err).
			Str(log.FieldJobID, id).
			Msg("job failed")
	}
	m.mu.Unlock()

	if signal != "" {
		message := ""
		if err != nil {
			message = err.Error()
		}
		m.publishSignal(id, signal, message)
	}
	if outcome != "" {
		metrics.IncJobOutcome(outcome)
		metrics.ObserveJobDuration(time.Since(startedAt).Seconds())
	}
	m.kick()
}

func (m *Manager) fireLocked(job *model.Job, event LifecycleEvent) {
	to, err := Next(job.Status, event)
	if err != nil {
		logger := log.WithComponent("queue")
		logger.Warn().
			Str(log.FieldJobID, job.ID).
			Str("event", string(event)).
			Str(log.FieldOldState, string(job.Status)).
			Msg("lifecycle event rejected")
		return
	}
	m.setStatusLocked(job, to)
}

// transition fires a lifecycle event and runs apply under the lock.
func (m *Manager) transition(id string, event LifecycleEvent, apply func(*model.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	to, err := Next(job.Status, event)
	if err != nil {
		return err
	}
	m.setStatusLocked(job, to)
	if apply != nil {
		apply(job)
	}
	return nil
}

func (m *Manager) setStatusLocked(job *model.Job, to model.Status) {
	from := job.Status
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	m.persistLocked(job)
	logger := log.WithComponent("queue")
	logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("job state changed")
}

// enqueueLocked inserts the id into the order by its position key. A
// job paused and resumed keeps its original key and therefore its
// place; fresh jobs get a new key at the tail.
func (m *Manager) enqueueLocked(id string) {
	key, ok := m.seq[id]
	if !ok {
		m.nextSeq++
		key = m.nextSeq
		m.seq[id] = key
	}
	pos := len(m.order)
	for i, other := range m.order {
		if m.seq[other] > key {
			pos = i
			break
		}
	}
	m.order = append(m.order, "")
	copy(m.order[pos+1:], m.order[pos:])
	m.order[pos] = id
	metrics.SetQueueDepth(float64(len(m.order)))
}

func (m *Manager) dequeueLocked(id string) {
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	metrics.SetQueueDepth(float64(len(m.order)))
}

func (m *Manager) persistLocked(job *model.Job) {
	if m.persist != nil {
		m.persist(job.Clone())
	}
}

func (m *Manager) publishSignal(id, signal, message string) {
	if m.bus != nil {
		m.bus.Publish(id, "signal."+signal, Signal{JobID: id, Signal: signal, Message: message})
	}
}

// kick nudges the scheduler without blocking.
func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

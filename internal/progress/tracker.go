// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package progress aggregates per-phase completion into one weighted
// percentage and publishes both granular and overall progress events.
// High-frequency item updates are coalesced; phase starts, phase
// completions and the terminal update always go out.
package progress

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
)

// Update is the payload of a progress.<phase> event.
type Update struct {
	Phase      model.Phase `json:"phase"`
	ItemsDone  int         `json:"items_done"`
	ItemsTotal int         `json:"items_total"`
	Message    string      `json:"message,omitempty"`
}

// Overall is the payload of a progress.overall event.
type Overall struct {
	Phase   model.Phase `json:"phase,omitempty"`
	Percent float64     `json:"percent"`
	Message string      `json:"message,omitempty"`
}

type phaseState struct {
	weight    float64
	total     int
	done      int
	active    bool
	completed bool
}

// Tracker tracks one job's weighted progress. Phases move forward only;
// restarting a completed phase is ignored.
type Tracker struct {
	mu          sync.Mutex
	jobID       string
	bus         *events.Bus
	phases      map[model.Phase]*phaseState
	order       []model.Phase
	active      model.Phase
	totalWeight float64
	lastPercent float64
	limiter     *rate.Limiter
}

// New builds a tracker from the preset's weight table. Zero-weight
// phases are tracked but contribute nothing, so disabled enhancement
// phases never distort the percentage. coalescePerSec caps emitted
// item updates per second (the default 50 ms tick is 20/s).
func New(jobID string, weights map[model.Phase]float64, bus *events.Bus, coalescePerSec float64) *Tracker {
	t := &Tracker{
		jobID:   jobID,
		bus:     bus,
		phases:  make(map[model.Phase]*phaseState),
		order:   model.Phases(),
		limiter: rate.NewLimiter(rate.Limit(coalescePerSec), 1),
	}
	for _, p := range t.order {
		w := weights[p]
		t.phases[p] = &phaseState{weight: w}
		t.totalWeight += w
	}
	return t
}

// StartPhase activates a phase with its item count. Always emits.
func (t *Tracker) StartPhase(phase model.Phase, totalItems int, message string) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok || st.completed || st.active {
		t.mu.Unlock()
		return
	}
	if totalItems < 1 {
		totalItems = 1
	}
	st.active = true
	st.total = totalItems
	st.done = 0
	t.active = phase
	t.mu.Unlock()

	t.emit(phase, 0, totalItems, message, true)
}

// Advance records completed items inside the active phase. Emission is
// rate-limited; the counters always advance.
func (t *Tracker) Advance(phase model.Phase, itemsDone int, message string) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok || !st.active {
		t.mu.Unlock()
		return
	}
	if itemsDone > st.total {
		itemsDone = st.total
	}
	if itemsDone > st.done {
		st.done = itemsDone
	}
	done, total := st.done, st.total
	t.mu.Unlock()

	t.emit(phase, done, total, message, false)
}

// CompletePhase marks the phase finished. Always emits, with the item
// counter pinned to the total.
func (t *Tracker) CompletePhase(phase model.Phase) {
	t.mu.Lock()
	st, ok := t.phases[phase]
	if !ok || st.completed {
		t.mu.Unlock()
		return
	}
	st.completed = true
	st.active = false
	st.done = st.total
	if t.active == phase {
		t.active = ""
	}
	total := st.total
	t.mu.Unlock()

	t.emit(phase, total, total, "", true)
}

// SeedPercent raises the monotonic floor. A resumed job seeds its
// checkpointed percentage here so the first emissions of the fresh
// tracker never report less than the client already saw.
func (t *Tracker) SeedPercent(pct float64) {
	t.mu.Lock()
	if pct > t.lastPercent {
		t.lastPercent = pct
	}
	t.mu.Unlock()
}

// Percent is the weighted overall completion, guaranteed to never
// decrease over the life of the tracker.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentLocked()
}

func (t *Tracker) percentLocked() float64 {
	if t.totalWeight == 0 {
		return 0
	}
	var acc float64
	for _, p := range t.order {
		st := t.phases[p]
		switch {
		case st.completed:
			acc += st.weight
		case st.active && st.total > 0:
			acc += st.weight * float64(st.done) / float64(st.total)
		}
	}
	pct := acc / t.totalWeight * 100
	if pct < t.lastPercent {
		pct = t.lastPercent
	}
	t.lastPercent = pct
	return pct
}

// emit publishes progress.<phase> plus progress.overall. Non-forced
// updates are dropped when they exceed the coalescing rate.
func (t *Tracker) emit(phase model.Phase, done, total int, message string, force bool) {
	if !force && !t.limiter.Allow() {
		return
	}

	t.mu.Lock()
	pct := t.percentLocked()
	active := t.active
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(t.jobID, "progress."+string(phase), Update{
			Phase:      phase,
			ItemsDone:  done,
			ItemsTotal: total,
			Message:    message,
		})
		t.bus.Publish(t.jobID, "progress.overall", Overall{Phase: active, Percent: pct, Message: message})
	}
	logger := log.WithComponent("progress")
	logger.Debug().
		Str(log.FieldJobID, t.jobID).
		Str(log.FieldPhase, string(phase)).
		Int("done", done).
		Int("total", total).
		Float64("percent", pct).
		Msg("progress")
}

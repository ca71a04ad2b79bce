// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package models arbitrates accelerator residency between the engines.
// The accelerator cannot hold the primary ASR model and a separation
// model at the same time on mid-range hardware, so the manager evicts
// the conflicting slot before loading and counts every swap. Loading is
// delegated to injected loader funcs so the manager stays free of
// engine construction details.
package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/model"
)

// Slot identifies one engine residency slot.
type Slot string

const (
	SlotVAD          Slot = "vad"
	SlotPrimaryASR   Slot = "primary_asr"
	SlotSeparator    Slot = "separator"
	SlotSecondaryASR Slot = "secondary_asr"
)

// conflicts lists, per slot, the slots that must be evicted before it
// may load. Only the two accelerator-heavy engines collide; VAD is tiny
// and the secondary engine is remote.
var conflicts = map[Slot][]Slot{
	SlotPrimaryASR: {SlotSeparator},
	SlotSeparator:  {SlotPrimaryASR},
}

// Engine is the minimal residency contract: everything the manager
// loads can be told to free its memory.
type Engine interface {
	Close() error
}

// Loader constructs the engine for one slot.
type Loader func(ctx context.Context) (Engine, error)

// SeparatorLoader constructs a separator at a specific tier.
type SeparatorLoader func(ctx context.Context, tier model.SeparatorTier) (Engine, error)

// Manager holds the residency table. A single process-wide mutex
// serializes all acquire/evict traffic; the pipeline runner is the only
// caller on the hot path so contention is not a concern.
type Manager struct {
	mu        sync.Mutex
	loaders   map[Slot]Loader
	sepLoader SeparatorLoader
	sepTier   model.SeparatorTier
	resident  map[Slot]Engine
}

// NewManager builds a manager over the given loaders. Acquiring a slot
// without a registered loader is an error. sepLoader may be nil when
// the deployment has no separator.
func NewManager(loaders map[Slot]Loader, sepLoader SeparatorLoader) *Manager {
	l := make(map[Slot]Loader, len(loaders))
	for s, fn := range loaders {
		l[s] = fn
	}
	return &Manager{
		loaders:   l,
		sepLoader: sepLoader,
		resident:  make(map[Slot]Engine),
	}
}

// Acquire returns the resident engine for slot, loading it first if
// needed. Loading evicts any conflicting resident slot. The returned
// engine stays resident until Evict or CloseAll.
func (m *Manager) Acquire(ctx context.Context, slot Slot) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.resident[slot]; ok {
		return eng, nil
	}
	loader, ok := m.loaders[slot]
	if !ok {
		return nil, fmt.Errorf("models: no loader registered for slot %q", slot)
	}

	for _, victim := range conflicts[slot] {
		if err := m.evictLocked(victim); err != nil {
			logger := log.WithComponent("models")
			logger.Warn().
				Err(err).
				Str(log.FieldSlot, string(victim)).
				Msg("evicting conflicting slot reported an error")
		}
	}

	eng, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("models: load slot %q: %w", slot, err)
	}
	m.resident[slot] = eng
	metrics.IncModelSwap(string(slot), "load")
	logger := log.WithComponent("models")
	logger.Info().Str(log.FieldSlot, string(slot)).Msg("engine loaded")
	return eng, nil
}

// AcquireSeparator returns a resident separator at exactly the given
// tier. A resident separator at a different tier is evicted first, as
// is the conflicting primary ASR slot.
func (m *Manager) AcquireSeparator(ctx context.Context, tier model.SeparatorTier) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sepLoader == nil {
		return nil, fmt.Errorf("models: no separator loader registered")
	}
	if eng, ok := m.resident[SlotSeparator]; ok {
		if m.sepTier == tier {
			return eng, nil
		}
		if err := m.evictLocked(SlotSeparator); err != nil {
			logger := log.WithComponent("models")
			logger.Warn().Err(err).Msg("evicting stale separator tier reported an error")
		}
	}
	for _, victim := range conflicts[SlotSeparator] {
		if err := m.evictLocked(victim); err != nil {
			logger := log.WithComponent("models")
			logger.Warn().
				Err(err).
				Str(log.FieldSlot, string(victim)).
				Msg("evicting conflicting slot reported an error")
		}
	}

	eng, err := m.sepLoader(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("models: load separator tier %s: %w", tier, err)
	}
	m.resident[SlotSeparator] = eng
	m.sepTier = tier
	metrics.IncModelSwap(string(SlotSeparator), "load")
	logger := log.WithComponent("models")
	logger.Info().
		Str(log.FieldSlot, string(SlotSeparator)).
		Str(log.FieldTier, tier.String()).
		Msg("engine loaded")
	return eng, nil
}

// Release marks the caller done with the slot. The engine stays
// resident so the next Acquire is free; eviction only happens on
// conflict or explicit Evict.
func (m *Manager) Release(Slot) {}

// Evict closes the slot's engine and frees its residency.
func (m *Manager) Evict(slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(slot)
}

// Resident reports whether the slot currently holds a loaded engine.
func (m *Manager) Resident(slot Slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resident[slot]
	return ok
}

// CloseAll evicts every resident slot; called on shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for slot := range m.resident {
		if err := m.evictLocked(slot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) evictLocked(slot Slot) error {
	eng, ok := m.resident[slot]
	if !ok {
		return nil
	}
	delete(m.resident, slot)
	metrics.IncModelSwap(string(slot), "evict")
	logger := log.WithComponent("models")
	logger.Info().Str(log.FieldSlot, string(slot)).Msg("engine evicted")
	if err := eng.Close(); err != nil {
		return fmt.Errorf("models: close slot %q: %w", slot, err)
	}
	return nil
}

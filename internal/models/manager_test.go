// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/model"
)

type fakeEngine struct {
	slot     Slot
	closed   bool
	closeErr error
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return f.closeErr
}

// harness counts loads per slot and remembers every engine it created.
type harness struct {
	loads   map[Slot]int
	engines []*fakeEngine
}

func newHarness() *harness { return &harness{loads: map[Slot]int{}} }

func (h *harness) loader(slot Slot) Loader {
	return func(context.Context) (Engine, error) {
		h.loads[slot]++
		eng := &fakeEngine{slot: slot}
		h.engines = append(h.engines, eng)
		return eng, nil
	}
}

func (h *harness) manager(slots ...Slot) *Manager {
	loaders := map[Slot]Loader{}
	for _, s := range slots {
		loaders[s] = h.loader(s)
	}
	return NewManager(loaders, nil)
}

func TestAcquireLoadsOnce(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotVAD)

	a, err := m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)
	b, err := m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, h.loads[SlotVAD])
	assert.True(t, m.Resident(SlotVAD))
}

func TestAcquireUnknownSlot(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Acquire(context.Background(), SlotVAD)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no loader registered")
}

func TestAcquireEvictsConflictingSlot(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotPrimaryASR, SlotSeparator)

	_, err := m.Acquire(context.Background(), SlotPrimaryASR)
	require.NoError(t, err)
	require.True(t, m.Resident(SlotPrimaryASR))

	_, err = m.Acquire(context.Background(), SlotSeparator)
	require.NoError(t, err)

	assert.False(t, m.Resident(SlotPrimaryASR), "separator load must evict primary ASR")
	assert.True(t, m.Resident(SlotSeparator))
	assert.True(t, h.engines[0].closed, "evicted engine must be closed")

	// And back again: the swap dance of the per-chunk retry loop.
	_, err = m.Acquire(context.Background(), SlotPrimaryASR)
	require.NoError(t, err)
	assert.False(t, m.Resident(SlotSeparator))
	assert.Equal(t, 2, h.loads[SlotPrimaryASR])
	assert.Equal(t, 1, h.loads[SlotSeparator])
}

func TestVADCoexistsWithPrimaryASR(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotVAD, SlotPrimaryASR, SlotSecondaryASR)

	for _, slot := range []Slot{SlotVAD, SlotPrimaryASR, SlotSecondaryASR} {
		_, err := m.Acquire(context.Background(), slot)
		require.NoError(t, err)
	}
	assert.True(t, m.Resident(SlotVAD))
	assert.True(t, m.Resident(SlotPrimaryASR))
	assert.True(t, m.Resident(SlotSecondaryASR))
}

func TestReleaseKeepsResident(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotVAD)

	_, err := m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)
	m.Release(SlotVAD)

	assert.True(t, m.Resident(SlotVAD))
	_, err = m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)
	assert.Equal(t, 1, h.loads[SlotVAD], "release must not force a reload")
}

func TestEvict(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotVAD)

	_, err := m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)
	require.NoError(t, m.Evict(SlotVAD))

	assert.False(t, m.Resident(SlotVAD))
	assert.True(t, h.engines[0].closed)
	assert.NoError(t, m.Evict(SlotVAD), "double evict is a no-op")
}

func TestLoaderFailure(t *testing.T) {
	boom := errors.New("onnx runtime missing")
	m := NewManager(map[Slot]Loader{
		SlotVAD: func(context.Context) (Engine, error) { return nil, boom },
	}, nil)

	_, err := m.Acquire(context.Background(), SlotVAD)
	require.ErrorIs(t, err, boom)
	assert.False(t, m.Resident(SlotVAD))
}

func TestAcquireSeparatorTierSwap(t *testing.T) {
	h := newHarness()
	var tiers []model.SeparatorTier
	m := NewManager(
		map[Slot]Loader{SlotPrimaryASR: h.loader(SlotPrimaryASR)},
		func(_ context.Context, tier model.SeparatorTier) (Engine, error) {
			tiers = append(tiers, tier)
			eng := &fakeEngine{slot: SlotSeparator}
			h.engines = append(h.engines, eng)
			return eng, nil
		},
	)

	_, err := m.Acquire(context.Background(), SlotPrimaryASR)
	require.NoError(t, err)

	light, err := m.AcquireSeparator(context.Background(), model.SeparatorLight)
	require.NoError(t, err)
	assert.False(t, m.Resident(SlotPrimaryASR), "separator evicts primary ASR")

	again, err := m.AcquireSeparator(context.Background(), model.SeparatorLight)
	require.NoError(t, err)
	assert.Same(t, light, again, "same tier stays resident")

	_, err = m.AcquireSeparator(context.Background(), model.SeparatorHeavy)
	require.NoError(t, err)
	assert.True(t, light.(*fakeEngine).closed, "tier change evicts the old separator")
	assert.Equal(t, []model.SeparatorTier{model.SeparatorLight, model.SeparatorHeavy}, tiers)
}

func TestAcquireSeparatorWithoutLoader(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.AcquireSeparator(context.Background(), model.SeparatorLight)
	assert.Error(t, err)
}

func TestCloseAll(t *testing.T) {
	h := newHarness()
	m := h.manager(SlotVAD, SlotPrimaryASR)

	_, err := m.Acquire(context.Background(), SlotVAD)
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), SlotPrimaryASR)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	assert.False(t, m.Resident(SlotVAD))
	assert.False(t, m.Resident(SlotPrimaryASR))
	for _, eng := range h.engines {
		assert.True(t, eng.closed)
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/model"
)

// unlimited disables coalescing so tests see every emission.
const unlimited = 1e9

func defaultWeights(t *testing.T) map[model.Phase]float64 {
	t.Helper()
	preset, err := config.PresetByName("default")
	require.NoError(t, err)
	return preset.Weights
}

func TestPercentWeighted(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)
	// default weights: extract 5, bgm 2, demucs 8, vad 5, asr 50, srt 10 → total 80.

	assert.Equal(t, 0.0, tr.Percent())

	tr.StartPhase(model.PhaseExtract, 1, "")
	tr.CompletePhase(model.PhaseExtract)
	assert.InDelta(t, 6.25, tr.Percent(), 1e-9) // 5/80

	tr.StartPhase(model.PhasePrimaryASR, 10, "")
	tr.Advance(model.PhasePrimaryASR, 5, "")
	assert.InDelta(t, (5+25.0)/80*100, tr.Percent(), 1e-9)

	tr.CompletePhase(model.PhasePrimaryASR)
	assert.InDelta(t, 55.0/80*100, tr.Percent(), 1e-9)
}

func TestPercentMonotonic(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)

	tr.StartPhase(model.PhasePrimaryASR, 10, "")
	tr.Advance(model.PhasePrimaryASR, 8, "")
	high := tr.Percent()

	// Regressing the item counter must not pull the percentage back.
	tr.Advance(model.PhasePrimaryASR, 3, "")
	assert.GreaterOrEqual(t, tr.Percent(), high)
}

func TestZeroWeightPhaseContributesNothing(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)
	// default preset has weight 0 for secondary_patch.

	before := tr.Percent()
	tr.StartPhase(model.PhaseSecondaryPatch, 4, "")
	tr.Advance(model.PhaseSecondaryPatch, 4, "")
	tr.CompletePhase(model.PhaseSecondaryPatch)
	assert.Equal(t, before, tr.Percent())
}

func TestAllPhasesCompleteReaches100(t *testing.T) {
	preset, err := config.PresetByName("preset3")
	require.NoError(t, err)
	tr := New("job-1", preset.Weights, nil, unlimited)

	for _, p := range model.Phases() {
		tr.StartPhase(p, 3, "")
		tr.CompletePhase(p)
	}
	assert.InDelta(t, 100.0, tr.Percent(), 1e-9)
}

func TestStartPhaseForwardOnly(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)

	tr.StartPhase(model.PhaseExtract, 1, "")
	tr.CompletePhase(model.PhaseExtract)
	done := tr.Percent()

	// Restarting a completed phase is ignored.
	tr.StartPhase(model.PhaseExtract, 10, "")
	tr.Advance(model.PhaseExtract, 0, "")
	assert.Equal(t, done, tr.Percent())
}

func TestEmitsPhaseAndOverallEvents(t *testing.T) {
	bus := events.New(64, 64)
	sub := bus.Subscribe("job-1", 0)
	defer sub.Cancel()

	tr := New("job-1", defaultWeights(t), bus, unlimited)
	tr.StartPhase(model.PhaseVAD, 2, "segmenting")
	tr.Advance(model.PhaseVAD, 1, "")
	tr.CompletePhase(model.PhaseVAD)

	var got []events.Event
	for len(got) < 6 {
		ev, ok := <-sub.C()
		require.True(t, ok)
		got = append(got, ev)
	}

	assert.Equal(t, "progress.vad", got[0].Type)
	assert.Equal(t, "progress.overall", got[1].Type)
	assert.Equal(t, "progress.vad", got[2].Type)

	upd, ok := got[0].Payload.(Update)
	require.True(t, ok)
	assert.Equal(t, model.PhaseVAD, upd.Phase)
	assert.Equal(t, 0, upd.ItemsDone)
	assert.Equal(t, 2, upd.ItemsTotal)
	assert.Equal(t, "segmenting", upd.Message)

	overall, ok := got[1].Payload.(Overall)
	require.True(t, ok)
	assert.Equal(t, model.PhaseVAD, overall.Phase)
	assert.Equal(t, "segmenting", overall.Message)

	final, ok := got[4].Payload.(Update)
	require.True(t, ok)
	assert.Equal(t, 2, final.ItemsDone)
}

func TestCoalescingDropsMidPhaseFlood(t *testing.T) {
	bus := events.New(1024, 1024)
	sub := bus.Subscribe("job-1", 0)
	defer sub.Cancel()

	// 0 events/sec: beyond the limiter's initial burst token, only
	// forced emissions (start/complete) go out.
	tr := New("job-1", defaultWeights(t), bus, 0)
	tr.StartPhase(model.PhasePrimaryASR, 100, "")
	for i := 1; i <= 100; i++ {
		tr.Advance(model.PhasePrimaryASR, i, "")
	}
	tr.CompletePhase(model.PhasePrimaryASR)

	var phaseEvents []events.Event
	for {
		select {
		case ev := <-sub.C():
			if ev.Type == "progress.primary_asr" {
				phaseEvents = append(phaseEvents, ev)
			}
			continue
		default:
		}
		break
	}
	require.Len(t, phaseEvents, 3, "start, one burst-token advance, complete")

	// Internal counters advanced even though emission was suppressed.
	assert.InDelta(t, 50.0/80*100, tr.Percent(), 1e-9)
}

func TestSeedPercentFloorsResumedJob(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)
	tr.SeedPercent(40)
	assert.Equal(t, 40.0, tr.Percent())

	// Re-running early phases reports the floor, not the raw recompute.
	tr.StartPhase(model.PhaseExtract, 1, "")
	tr.CompletePhase(model.PhaseExtract)
	assert.Equal(t, 40.0, tr.Percent())

	// A lower seed never pulls the floor back down.
	tr.SeedPercent(10)
	assert.Equal(t, 40.0, tr.Percent())
}

func TestAdvanceClampsToTotal(t *testing.T) {
	tr := New("job-1", defaultWeights(t), nil, unlimited)
	tr.StartPhase(model.PhaseVAD, 3, "")
	tr.Advance(model.PhaseVAD, 99, "")

	// 5 (extract weight) not completed; vad full: 5/80.
	assert.InDelta(t, 5.0/80*100, tr.Percent(), 1e-9)
}

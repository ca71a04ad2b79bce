// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package chunk tracks the per-chunk audio state across separation
// upgrades and hosts the fuse controller that decides whether a
// transcription attempt is accepted or retried at a stronger tier.
package chunk

import (
	"fmt"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/model"
)

// State is one chunk's audio lifecycle. The original extraction is kept
// immutable so every separation upgrade starts from clean input; the
// current rendition is whatever the latest accepted separation produced.
// Separation level only ever moves forward.
type State struct {
	index    int
	startSec float64
	endSec   float64

	original engine.Audio
	current  engine.Audio

	level      model.SeparatorTier
	retryCount int
	retryCap   int

	diagnosis *model.Diagnosis
}

// NewState captures the original audio of one chunk. retryCap bounds
// how many separation upgrades the fuse controller may request.
func NewState(seg model.VADSegment, original engine.Audio, retryCap int) *State {
	return &State{
		index:    seg.Index,
		startSec: seg.StartSec,
		endSec:   seg.EndSec,
		original: original,
		current:  original,
		level:    model.SeparatorNone,
		retryCap: retryCap,
	}
}

// Index is the chunk's position in the VAD timeline.
func (s *State) Index() int { return s.index }

// StartSec is the chunk's start offset in the source audio.
func (s *State) StartSec() float64 { return s.startSec }

// EndSec is the chunk's end offset in the source audio.
func (s *State) EndSec() float64 { return s.endSec }

// Original returns the untouched extraction for this chunk.
func (s *State) Original() engine.Audio { return s.original }

// Current returns the audio the next transcription attempt should use.
func (s *State) Current() engine.Audio { return s.current }

// Level is the separation tier that produced Current.
func (s *State) Level() model.SeparatorTier { return s.level }

// RetryCount is how many separation upgrades have been consumed.
func (s *State) RetryCount() int { return s.retryCount }

// Diagnosis returns the cached classifier verdict, or nil before the
// chunk has been diagnosed.
func (s *State) Diagnosis() *model.Diagnosis { return s.diagnosis }

// SetDiagnosis caches the classifier verdict. Diagnosis happens once on
// the original audio and is never recomputed after separation.
func (s *State) SetDiagnosis(d model.Diagnosis) {
	if s.diagnosis == nil {
		s.diagnosis = &d
	}
}

// CanUpgrade reports whether a further separation upgrade is allowed:
// the retry budget must have headroom and a stronger tier must exist.
func (s *State) CanUpgrade() bool {
	return s.retryCount < s.retryCap && s.level < model.SeparatorHeavy
}

// NextLevel is the tier an upgrade would move to.
func (s *State) NextLevel() model.SeparatorTier { return s.level.Next() }

// Upgrade installs the separated rendition produced at tier and charges
// the retry budget. The tier must be strictly stronger than the current
// level and the audio must preserve the chunk's length.
func (s *State) Upgrade(tier model.SeparatorTier, separated engine.Audio) error {
	if tier <= s.level {
		return fmt.Errorf("chunk %d: separation level may only increase (%s -> %s)", s.index, s.level, tier)
	}
	if !s.CanUpgrade() {
		return fmt.Errorf("chunk %d: upgrade budget exhausted (%d/%d)", s.index, s.retryCount, s.retryCap)
	}
	if len(separated.Samples) != len(s.original.Samples) {
		return fmt.Errorf("chunk %d: separated length %d != original %d",
			s.index, len(separated.Samples), len(s.original.Samples))
	}
	s.current = separated
	s.level = tier
	s.retryCount++
	return nil
}

// ApplyPreSeparation installs a separation done up front from the
// classifier's recommendation, without charging the fuse retry budget.
// It obeys the same forward-only rule.
func (s *State) ApplyPreSeparation(tier model.SeparatorTier, separated engine.Audio) error {
	if tier <= s.level {
		return fmt.Errorf("chunk %d: separation level may only increase (%s -> %s)", s.index, s.level, tier)
	}
	if len(separated.Samples) != len(s.original.Samples) {
		return fmt.Errorf("chunk %d: separated length %d != original %d",
			s.index, len(separated.Samples), len(s.original.Samples))
	}
	s.current = separated
	s.level = tier
	return nil
}

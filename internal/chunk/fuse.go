// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package chunk

import (
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
)

// Action is the fuse controller's verdict on one transcription attempt.
type Action string

const (
	// Accept commits the attempt's sentences.
	Accept Action = "ACCEPT"
	// Upgrade re-separates at the next tier and retries transcription.
	Upgrade Action = "UPGRADE"
)

// ambientEventTags are the event markers that justify burning a retry.
// Anything else (or no tag at all) means the low confidence is probably
// intrinsic to the speech and separation will not help.
var ambientEventTags = map[string]bool{
	"BGM":   true,
	"Noise": true,
}

// Fuse decides accept-or-upgrade after each transcription attempt.
type Fuse struct {
	confidence float64
}

// NewFuse builds a controller with the accept threshold.
func NewFuse(confidence float64) *Fuse {
	return &Fuse{confidence: confidence}
}

// Decide applies the acceptance rules in order:
//
//  1. confidence at or above the threshold: accept.
//  2. low confidence without an ambient event tag: accept, separation
//     cannot fix unclear speech.
//  3. upgrade budget exhausted or already at the strongest tier: accept
//     what we have.
//  4. otherwise: upgrade to the next tier and retry.
func (f *Fuse) Decide(st *State, confidence float64, eventTag string) Action {
	l := log.WithComponent("fuse").With().
		Int(log.FieldChunk, st.Index()).
		Float64("confidence", confidence).
		Str("event_tag", eventTag).
		Str(log.FieldTier, st.Level().String()).
		Logger()

	switch {
	case confidence >= f.confidence:
		return Accept
	case !ambientEventTags[eventTag]:
		l.Debug().Msg("low confidence without ambient tag, accepting")
		return Accept
	case !st.CanUpgrade():
		l.Debug().Int("retries", st.RetryCount()).Msg("upgrade budget exhausted, accepting")
		return Accept
	default:
		metrics.IncFuseUpgrade(st.NextLevel().String())
		l.Info().Str("next_tier", st.NextLevel().String()).Msg("low confidence under ambient tag, upgrading separation")
		return Upgrade
	}
}

// Threshold returns the accept confidence.
func (f *Fuse) Threshold() float64 { return f.confidence }

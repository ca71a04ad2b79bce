// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package spectrum classifies audio chunks by acoustic environment so
// the pipeline can decide whether vocal separation is worth its cost.
// The classifier is rule-based: each rule inspects one spectral feature
// and contributes a fixed weight to the music or noise score, and the
// verdict falls out of comparing both scores against the configured
// thresholds. No ML model is involved, which keeps diagnosis cheap
// enough to run on every chunk before any engine is loaded.
package spectrum

import (
	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/model"
)

// rule contributes weight to one of the scores when its predicate holds.
type rule struct {
	name  string
	music float64
	noise float64
	hit   func(model.FeatureVector) bool
}

// The rule table. Weights are tuned against the verdict thresholds
// (defaults: music 3.0, noise 3.0, heavy 5.0) so that a single weak
// indicator never flips a verdict on its own.
var rules = []rule{
	{
		name:  "harmonic_sustain",
		music: 2.0,
		hit:   func(f model.FeatureVector) bool { return f.HarmonicRatio > 0.55 },
	},
	{
		name:  "tempo_periodicity",
		music: 2.0,
		hit:   func(f model.FeatureVector) bool { return f.Tempo > 0 },
	},
	{
		name:  "tonal_spectrum",
		music: 1.0,
		hit:   func(f model.FeatureVector) bool { return f.Flatness < 0.1 && f.HarmonicRatio > 0.4 },
	},
	{
		name:  "wideband_energy",
		music: 1.0,
		hit:   func(f model.FeatureVector) bool { return f.HighFreqFrac > 0.15 && f.Bandwidth > 1800 },
	},
	{
		name:  "steady_loudness",
		music: 1.0,
		hit: func(f model.FeatureVector) bool {
			return f.RMSEnergy > 0.02 && f.RMSVar < 0.1*f.RMSEnergy*f.RMSEnergy
		},
	},
	{
		name:  "flat_spectrum",
		noise: 2.0,
		hit:   func(f model.FeatureVector) bool { return f.Flatness > 0.4 },
	},
	{
		name:  "inharmonic",
		noise: 2.0,
		hit:   func(f model.FeatureVector) bool { return f.HarmonicRatio < 0.25 && f.RMSEnergy > 0.01 },
	},
	{
		name:  "high_zcr",
		noise: 1.0,
		hit:   func(f model.FeatureVector) bool { return f.ZCRMean > 3000 },
	},
	{
		name:  "hiss_band",
		noise: 1.0,
		hit:   func(f model.FeatureVector) bool { return f.HighFreqFrac > 0.35 && f.Tempo == 0 },
	},
	{
		name:  "onset_clutter",
		noise: 1.0,
		hit:   func(f model.FeatureVector) bool { return f.OnsetStrength > 0 && f.Tempo == 0 && f.ZCRVar > 5e5 },
	},
}

// Classifier diagnoses chunks. Not safe for concurrent use.
type Classifier struct {
	cfg config.SpectrumConfig
	ext *extractor
}

// New builds a classifier against the given threshold configuration.
func New(cfg config.SpectrumConfig) *Classifier {
	return &Classifier{cfg: cfg, ext: newExtractor()}
}

// Diagnose scores one chunk. The result is immutable and cached by the
// caller; re-diagnosis after separation is deliberately not done.
func (c *Classifier) Diagnose(chunkIndex int, samples []float32, sampleRate int) model.Diagnosis {
	fv := c.ext.features(samples, sampleRate)
	return c.score(chunkIndex, fv)
}

func (c *Classifier) score(chunkIndex int, fv model.FeatureVector) model.Diagnosis {
	d := model.Diagnosis{ChunkIndex: chunkIndex, Features: fv}
	for _, r := range rules {
		if r.hit(fv) {
			d.MusicScore += r.music
			d.NoiseScore += r.noise
		}
	}
	// Clean score is the headroom below the nearer threshold; it exists
	// for diagnostics only, the verdict never reads it.
	d.CleanScore = min(c.cfg.MusicThreshold-d.MusicScore, c.cfg.NoiseThreshold-d.NoiseScore)
	if d.CleanScore < 0 {
		d.CleanScore = 0
	}

	music := d.MusicScore >= c.cfg.MusicThreshold
	noise := d.NoiseScore >= c.cfg.NoiseThreshold
	switch {
	case music && noise:
		d.Verdict = model.VerdictMixed
	case music:
		d.Verdict = model.VerdictMusic
	case noise:
		d.Verdict = model.VerdictNoise
	default:
		d.Verdict = model.VerdictClean
	}

	switch {
	case d.Verdict == model.VerdictClean:
		d.Recommended = model.SeparatorNone
	case d.MusicScore >= c.cfg.HeavyThreshold:
		d.Recommended = model.SeparatorHeavy
	default:
		d.Recommended = model.SeparatorLight
	}

	logger := log.WithComponent("spectrum")
	logger.Debug().
		Int(log.FieldChunk, chunkIndex).
		Str("verdict", string(d.Verdict)).
		Float64("music_score", d.MusicScore).
		Float64("noise_score", d.NoiseScore).
		Str("recommended", d.Recommended.String()).
		Msg("chunk diagnosed")
	return d
}

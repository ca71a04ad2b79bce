// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package spectrum

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/model"
)

const testRate = 16000

func sine(freqHz float64, seconds float64, amp float64) []float32 {
	n := int(seconds * testRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freqHz*float64(i)/testRate))
	}
	return out
}

func whiteNoise(seconds float64, amp float64) []float32 {
	rng := rand.New(rand.NewSource(42))
	n := int(seconds * testRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * (2*rng.Float64() - 1))
	}
	return out
}

func TestFeaturesCentroidTracksSine(t *testing.T) {
	ext := newExtractor()

	low := ext.features(sine(440, 2, 0.5), testRate)
	high := ext.features(sine(3000, 2, 0.5), testRate)

	// Windowing leaks energy so we only assert coarse position.
	assert.InDelta(t, 440, low.Centroid, 200)
	assert.InDelta(t, 3000, high.Centroid, 400)
	assert.Greater(t, high.Centroid, low.Centroid)
}

func TestFeaturesFlatnessSeparatesToneFromNoise(t *testing.T) {
	ext := newExtractor()

	tone := ext.features(sine(440, 2, 0.5), testRate)
	noise := ext.features(whiteNoise(2, 0.5), testRate)

	assert.Less(t, tone.Flatness, 0.1, "pure tone must be tonal")
	assert.Greater(t, noise.Flatness, tone.Flatness*10)
	assert.Greater(t, tone.HarmonicRatio, noise.HarmonicRatio)
}

func TestFeaturesShortInputIsZero(t *testing.T) {
	ext := newExtractor()
	fv := ext.features(make([]float32, nfft-1), testRate)
	assert.Equal(t, model.FeatureVector{}, fv)
}

func TestFeaturesHighFreqFraction(t *testing.T) {
	ext := newExtractor()

	low := ext.features(sine(500, 2, 0.5), testRate)
	high := ext.features(sine(6000, 2, 0.5), testRate)

	assert.Less(t, low.HighFreqFrac, 0.2)
	assert.Greater(t, high.HighFreqFrac, 0.6)
}

func defaultClassifier() *Classifier {
	return New(config.Default().Spectrum)
}

func TestScoreVerdicts(t *testing.T) {
	c := defaultClassifier()

	tests := []struct {
		name    string
		fv      model.FeatureVector
		verdict model.Verdict
		tier    model.SeparatorTier
	}{
		{
			name:    "quiet clean speech",
			fv:      model.FeatureVector{HarmonicRatio: 0.45, Flatness: 0.2, RMSEnergy: 0.015},
			verdict: model.VerdictClean,
			tier:    model.SeparatorNone,
		},
		{
			name: "strong music",
			fv: model.FeatureVector{
				HarmonicRatio: 0.7,
				Tempo:         120,
				Flatness:      0.05,
				HighFreqFrac:  0.2,
				Bandwidth:     2500,
				RMSEnergy:     0.1,
				RMSVar:        0.00001,
			},
			verdict: model.VerdictMusic,
			tier:    model.SeparatorHeavy,
		},
		{
			name: "moderate music",
			fv: model.FeatureVector{
				HarmonicRatio: 0.6,
				Tempo:         95,
				Flatness:      0.3,
			},
			verdict: model.VerdictMusic,
			tier:    model.SeparatorLight,
		},
		{
			name: "broadband noise",
			fv: model.FeatureVector{
				HarmonicRatio: 0.1,
				Flatness:      0.6,
				RMSEnergy:     0.05,
				ZCRMean:       4000,
			},
			verdict: model.VerdictNoise,
			tier:    model.SeparatorLight,
		},
		{
			name: "music over noise bed",
			fv: model.FeatureVector{
				HarmonicRatio: 0.6,
				Tempo:         110,
				Flatness:      0.45,
				ZCRMean:       3500,
				RMSEnergy:     0.05,
				HighFreqFrac:  0.2,
				Bandwidth:     2000,
			},
			verdict: model.VerdictMixed,
			tier:    model.SeparatorHeavy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := c.score(7, tc.fv)
			assert.Equal(t, tc.verdict, d.Verdict)
			assert.Equal(t, tc.tier, d.Recommended)
			assert.Equal(t, 7, d.ChunkIndex)
		})
	}
}

func TestDiagnoseNoiseRecommendsSeparation(t *testing.T) {
	c := defaultClassifier()

	d := c.Diagnose(0, whiteNoise(3, 0.5), testRate)
	require.Equal(t, model.VerdictNoise, d.Verdict)
	assert.True(t, d.NeedSeparation())
	assert.Equal(t, model.SeparatorLight, d.Recommended)
}

func TestDiagnoseSilenceIsClean(t *testing.T) {
	c := defaultClassifier()

	d := c.Diagnose(0, make([]float32, testRate*2), testRate)
	assert.Equal(t, model.VerdictClean, d.Verdict)
	assert.False(t, d.NeedSeparation())
	assert.Equal(t, model.SeparatorNone, d.Recommended)
}

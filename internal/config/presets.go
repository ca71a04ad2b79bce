// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"

	"github.com/ManuGH/subpipe/internal/model"
)

// TranslateMode selects how much of the transcript the LLM translates.
type TranslateMode string

const (
	TranslateOff     TranslateMode = "off"
	TranslatePartial TranslateMode = "partial" // low-confidence sentences only
	TranslateFull    TranslateMode = "full"
)

// ProofMode selects how much of the transcript the LLM proofs.
type ProofMode string

const (
	ProofOff    ProofMode = "off"
	ProofSparse ProofMode = "sparse" // warned sentences only
	ProofFull   ProofMode = "full"
)

// Preset is a named enhancement bundle. Weights drive the progress
// tracker; the stage switches decide which post-enhance passes run.
type Preset struct {
	Name           string
	SecondaryPatch bool
	PatchLowOnly   bool // patch only low-confidence sentences
	Proof          ProofMode
	Translate      TranslateMode
	Weights        map[model.Phase]float64
}

func weights(extract, bgm, demucs, vad, asr, patch, proof, trans, srt float64) map[model.Phase]float64 {
	return map[model.Phase]float64{
		model.PhaseExtract:        extract,
		model.PhaseBGMDetect:      bgm,
		model.PhaseDemucs:         demucs,
		model.PhaseVAD:            vad,
		model.PhasePrimaryASR:     asr,
		model.PhaseSecondaryPatch: patch,
		model.PhaseLLMProof:       proof,
		model.PhaseLLMTrans:       trans,
		model.PhaseSRT:            srt,
	}
}

var presets = map[string]Preset{
	"default": {
		Name:      "default",
		Proof:     ProofOff,
		Translate: TranslateOff,
		Weights:   weights(5, 2, 8, 5, 50, 0, 0, 0, 10),
	},
	"preset1": {
		Name:           "preset1",
		SecondaryPatch: true,
		PatchLowOnly:   true,
		Proof:          ProofOff,
		Translate:      TranslateOff,
		Weights:        weights(5, 2, 8, 5, 35, 20, 0, 0, 10),
	},
	"preset2": {
		Name:           "preset2",
		SecondaryPatch: true,
		Proof:          ProofSparse,
		Translate:      TranslateOff,
		Weights:        weights(5, 2, 8, 5, 30, 15, 15, 0, 10),
	},
	"preset3": {
		Name:           "preset3",
		SecondaryPatch: true,
		Proof:          ProofFull,
		Translate:      TranslateOff,
		Weights:        weights(5, 2, 8, 5, 25, 15, 25, 0, 10),
	},
	"preset4": {
		Name:           "preset4",
		SecondaryPatch: true,
		Proof:          ProofFull,
		Translate:      TranslateFull,
		Weights:        weights(5, 2, 8, 5, 20, 10, 20, 15, 10),
	},
	"preset5": {
		Name:           "preset5",
		SecondaryPatch: true,
		Proof:          ProofFull,
		Translate:      TranslatePartial,
		Weights:        weights(5, 2, 8, 5, 22, 12, 20, 8, 10),
	},
}

// PresetByName resolves a preset id; unknown ids are an error so bad
// client input never silently falls back.
func PresetByName(name string) (Preset, error) {
	if name == "" {
		name = "default"
	}
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset: %q", name)
	}
	return p, nil
}

// PresetNames lists the registered preset ids.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	return names
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the shared domain types of the subtitle pipeline:
// job lifecycle states, chunk-level records, sentences and event tags.
// It has no dependencies on other internal packages so every layer can
// import it.
package model

// Status is the lifecycle state of a job.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusPaused     Status = "PAUSED"
	StatusFinished   Status = "FINISHED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Phase identifies one weighted stage of the pipeline for progress
// accounting and event tags.
type Phase string

const (
	PhaseExtract        Phase = "extract"
	PhaseBGMDetect      Phase = "bgm_detect"
	PhaseDemucs         Phase = "demucs"
	PhaseVAD            Phase = "vad"
	PhasePrimaryASR     Phase = "primary_asr"
	PhaseSecondaryPatch Phase = "secondary_patch"
	PhaseLLMProof       Phase = "llm_proof"
	PhaseLLMTrans       Phase = "llm_trans"
	PhaseSRT            Phase = "srt"
)

// Phases lists all phases in pipeline order.
func Phases() []Phase {
	return []Phase{
		PhaseExtract, PhaseBGMDetect, PhaseDemucs, PhaseVAD, PhasePrimaryASR,
		PhaseSecondaryPatch, PhaseLLMProof, PhaseLLMTrans, PhaseSRT,
	}
}

// SeparatorTier is the strength of source separation applied to a chunk.
// Tiers are ordered: None < Light < Heavy.
type SeparatorTier int

const (
	SeparatorNone SeparatorTier = iota
	SeparatorLight
	SeparatorHeavy
)

func (t SeparatorTier) String() string {
	switch t {
	case SeparatorLight:
		return "light"
	case SeparatorHeavy:
		return "heavy"
	default:
		return "none"
	}
}

// Next returns the tier one step up; Heavy is its own successor.
func (t SeparatorTier) Next() SeparatorTier {
	switch t {
	case SeparatorNone:
		return SeparatorLight
	default:
		return SeparatorHeavy
	}
}

// Verdict is the spectrum classifier's judgement of a chunk.
type Verdict string

const (
	VerdictClean Verdict = "CLEAN"
	VerdictMusic Verdict = "MUSIC"
	VerdictNoise Verdict = "NOISE"
	VerdictMixed Verdict = "MIXED"
)

// SentenceSource records which engine produced the current sentence text.
type SentenceSource string

const (
	SourcePrimary        SentenceSource = "PRIMARY"
	SourceSecondaryPatch SentenceSource = "SECONDARY_PATCH"
	SourceLLMCorrection  SentenceSource = "LLM_CORRECTION"
	SourceLLMTranslation SentenceSource = "LLM_TRANSLATION"
)

// Warning flags attached to a sentence for the editor.
type Warning string

const (
	WarningNone           Warning = "none"
	WarningLowConfidence  Warning = "low_confidence"
	WarningHighPerplexity Warning = "high_perplexity"
	WarningBoth           Warning = "both"
)

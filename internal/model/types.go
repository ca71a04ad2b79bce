// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// VADSegment is one speech-bounded interval produced by voice activity
// detection. Immutable once produced.
type VADSegment struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// Duration returns the segment length in seconds.
func (s VADSegment) Duration() float64 { return s.EndSec - s.StartSec }

// Diagnosis is the spectrum classifier output for one chunk. Immutable.
type Diagnosis struct {
	ChunkIndex  int           `json:"chunk_index"`
	Verdict     Verdict       `json:"verdict"`
	MusicScore  float64       `json:"music_score"`
	NoiseScore  float64       `json:"noise_score"`
	CleanScore  float64       `json:"clean_score"`
	Recommended SeparatorTier `json:"recommended_separator"`
	Features    FeatureVector `json:"features"`
}

// NeedSeparation reports whether the verdict calls for any separation.
func (d Diagnosis) NeedSeparation() bool { return d.Recommended > SeparatorNone }

// FeatureVector holds the per-chunk spectral features the classifier
// scores against its threshold table.
type FeatureVector struct {
	ZCRMean       float64 `json:"zcr_mean"`
	ZCRVar        float64 `json:"zcr_var"`
	Centroid      float64 `json:"spectral_centroid"`
	Bandwidth     float64 `json:"spectral_bandwidth"`
	Flatness      float64 `json:"spectral_flatness"`
	Rolloff       float64 `json:"spectral_rolloff"`
	HarmonicRatio float64 `json:"harmonic_ratio"`
	RMSEnergy     float64 `json:"rms_energy"`
	RMSVar        float64 `json:"rms_var"`
	HighFreqFrac  float64 `json:"high_freq_frac"`
	OnsetStrength float64 `json:"onset_strength"`
	Tempo         float64 `json:"tempo"`
}

// Word is a single word-level timestamp. IsPseudo marks entries produced
// by uniform redistribution after a text replacement rather than by the
// primary ASR aligner.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	IsPseudo   bool    `json:"is_pseudo,omitempty"`
}

// Sentence is one committed subtitle line. Start/End are fixed at the
// initial commit; text replacements preserve them and regenerate Words
// by pseudo-alignment.
type Sentence struct {
	ID           string         `json:"id"`
	Index        int            `json:"index"`
	Start        float64        `json:"start"`
	End          float64        `json:"end"`
	Text         string         `json:"text"`
	Confidence   float64        `json:"confidence"`
	Source       SentenceSource `json:"source"`
	IsModified   bool           `json:"is_modified,omitempty"`
	OriginalText string         `json:"original_text,omitempty"`
	AltText      string         `json:"alt_text,omitempty"`
	Warning      Warning        `json:"warning"`
	Perplexity   float64        `json:"perplexity,omitempty"`
	Translation  string         `json:"translation,omitempty"`
	Words        []Word         `json:"words,omitempty"`
}

// ErrorRecord captures a job-terminating failure on the job record.
type ErrorRecord struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Job is the persistent aggregate owned by the queue and, while active,
// by exactly one pipeline runner.
type Job struct {
	ID        string       `json:"job_id"`
	InputPath string       `json:"input_path"`
	Title     string       `json:"title"`
	Preset    string       `json:"preset"`
	Language  string       `json:"language,omitempty"`
	Status    Status       `json:"status"`
	Phase     Phase        `json:"phase,omitempty"`
	Progress  float64      `json:"progress"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Error     *ErrorRecord `json:"error,omitempty"`
	Sentences []Sentence   `json:"sentences,omitempty"`
}

// Clone returns a deep copy so readers never alias runner-owned state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.Sentences = make([]Sentence, len(j.Sentences))
	copy(cp.Sentences, j.Sentences)
	for i := range cp.Sentences {
		words := make([]Word, len(j.Sentences[i].Words))
		copy(words, j.Sentences[i].Words)
		cp.Sentences[i].Words = words
	}
	return &cp
}

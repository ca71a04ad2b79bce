// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package subtitle holds the per-job sentence session and the SRT
// codec. The session is the single authoritative ordered view of the
// evolving subtitle document; every mutation notifies the caller so
// events and checkpoints can follow each commit.
package subtitle

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/subpipe/internal/model"
)

// Event type names emitted through the session's notify hook.
const (
	EventPrimarySentence = "subtitle.primary_sentence"
	EventSecondaryPatch  = "subtitle.secondary_patch"
	EventLLMProof        = "subtitle.llm_proof"
	EventLLMTranslation  = "subtitle.llm_trans"
)

// NotifyFunc receives the event name and a snapshot of the affected
// sentence after each mutation.
type NotifyFunc func(event string, s model.Sentence)

// Session is the mutable ordered sentence collection of one job.
// Sentences are keyed by stable id with a side index by order. Safe for
// concurrent use: the runner writes while API readers snapshot.
type Session struct {
	mu             sync.RWMutex
	sentences      []model.Sentence
	byID           map[string]int
	warnConfidence float64
	perplexityWarn float64
	notify         NotifyFunc
}

// NewSession builds an empty session. notify may be nil.
func NewSession(warnConfidence, perplexityWarn float64, notify NotifyFunc) *Session {
	return &Session{
		byID:           make(map[string]int),
		warnConfidence: warnConfidence,
		perplexityWarn: perplexityWarn,
		notify:         notify,
	}
}

// Restore rebuilds a session from checkpointed sentences. Indexes are
// reassigned from list order so a truncated checkpoint stays dense.
func (s *Session) Restore(sentences []model.Sentence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentences = make([]model.Sentence, len(sentences))
	copy(s.sentences, sentences)
	s.byID = make(map[string]int, len(sentences))
	for i := range s.sentences {
		s.sentences[i].Index = i
		s.byID[s.sentences[i].ID] = i
	}
}

// Append commits a new sentence at the end of the session, assigning
// its id and index, and recomputing the warning flags.
func (s *Session) Append(sent model.Sentence) model.Sentence {
	s.mu.Lock()
	if sent.ID == "" {
		sent.ID = uuid.NewString()
	}
	sent.Index = len(s.sentences)
	if sent.Source == "" {
		sent.Source = model.SourcePrimary
	}
	sent.Warning = s.deriveWarning(sent.Confidence, sent.Perplexity)
	s.sentences = append(s.sentences, sent)
	s.byID[sent.ID] = sent.Index
	s.mu.Unlock()

	s.emit(EventPrimarySentence, sent)
	return sent
}

// Replacement carries the optional fields of a text replacement. Nil
// confidence keeps the sentence's previous confidence.
type Replacement struct {
	Text       string
	Source     model.SentenceSource
	Confidence *float64
	Perplexity *float64
}

// ReplaceText swaps a sentence's text while preserving its timing. The
// original text is stored on first replacement only, words are rebuilt
// by pseudo-alignment across the preserved interval, and the warning is
// recomputed from the new confidence and perplexity.
func (s *Session) ReplaceText(index int, r Replacement) (model.Sentence, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.sentences) {
		s.mu.Unlock()
		return model.Sentence{}, fmt.Errorf("subtitle: sentence index %d out of range [0,%d)", index, len(s.sentences))
	}

	sent := &s.sentences[index]
	if sent.OriginalText == "" {
		sent.OriginalText = sent.Text
	}
	sent.AltText = sent.Text
	sent.Text = r.Text
	sent.Source = r.Source
	sent.IsModified = true
	if r.Confidence != nil {
		sent.Confidence = *r.Confidence
	}
	if r.Perplexity != nil {
		sent.Perplexity = *r.Perplexity
	}
	sent.Words = pseudoAlign(sent.Start, sent.End, r.Text)
	sent.Warning = s.deriveWarning(sent.Confidence, sent.Perplexity)
	snapshot := *sent
	s.mu.Unlock()

	s.emit(eventForSource(r.Source), snapshot)
	return snapshot, nil
}

// SetTranslation attaches a translation without touching the text.
func (s *Session) SetTranslation(index int, translation string, confidence float64) (model.Sentence, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.sentences) {
		s.mu.Unlock()
		return model.Sentence{}, fmt.Errorf("subtitle: sentence index %d out of range [0,%d)", index, len(s.sentences))
	}
	sent := &s.sentences[index]
	sent.Translation = translation
	snapshot := *sent
	s.mu.Unlock()

	_ = confidence // recorded by the caller's event payload, not on the sentence
	s.emit(EventLLMTranslation, snapshot)
	return snapshot, nil
}

// ContextWindow returns the texts of up to k sentences preceding index,
// oldest first, for LLM prompting.
func (s *Session) ContextWindow(index, k int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index > len(s.sentences) {
		index = len(s.sentences)
	}
	lo := index - k
	if lo < 0 {
		lo = 0
	}
	out := make([]string, 0, index-lo)
	for i := lo; i < index; i++ {
		out = append(out, s.sentences[i].Text)
	}
	return out
}

// Get returns one sentence by order index.
func (s *Session) Get(index int) (model.Sentence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.sentences) {
		return model.Sentence{}, false
	}
	return s.sentences[index], true
}

// All returns an order-sorted snapshot of every sentence.
func (s *Session) All() []model.Sentence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Sentence, len(s.sentences))
	copy(out, s.sentences)
	return out
}

// Len is the number of committed sentences.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sentences)
}

func (s *Session) deriveWarning(confidence, perplexity float64) model.Warning {
	low := confidence < s.warnConfidence
	high := perplexity >= s.perplexityWarn && s.perplexityWarn > 0
	switch {
	case low && high:
		return model.WarningBoth
	case low:
		return model.WarningLowConfidence
	case high:
		return model.WarningHighPerplexity
	default:
		return model.WarningNone
	}
}

func (s *Session) emit(event string, sent model.Sentence) {
	if s.notify != nil {
		s.notify(event, sent)
	}
}

func eventForSource(src model.SentenceSource) string {
	switch src {
	case model.SourceSecondaryPatch:
		return EventSecondaryPatch
	case model.SourceLLMCorrection:
		return EventLLMProof
	case model.SourceLLMTranslation:
		return EventLLMTranslation
	default:
		return EventPrimarySentence
	}
}

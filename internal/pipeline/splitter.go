// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline orchestrates one job end to end: audio extraction,
// voice activity detection, spectrum diagnosis, selective separation,
// the per-chunk transcribe/fuse loop, preset-driven post enhancement
// and SRT emission. The runner is cooperative: it checks its control
// handle at stage and chunk boundaries and checkpoints before pausing.
package pipeline

import (
	"strings"

	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/model"
)

// Punctuation classes of the sentence splitter. Terminal marks always
// commit; weak marks are fallback boundaries when a sentence runs over
// the character limit.
var (
	terminalPunct = map[rune]bool{'。': true, '？': true, '！': true, '?': true, '!': true}
	weakPunct     = map[rune]bool{',': true, '，': true, '、': true, '；': true, '：': true}
)

// splitter turns an ordered word-timestamp stream into committed
// sentence drafts. Word times must already be on the job time axis.
type splitter struct {
	pauseThreshold float64
	maxDuration    float64
	maxChars       int
	minChars       int
}

func newSplitter(cfg config.PipelineConfig) *splitter {
	return &splitter{
		pauseThreshold: cfg.PauseThreshold,
		maxDuration:    cfg.MaxSentenceDuration,
		maxChars:       cfg.MaxSentenceChars,
		minChars:       cfg.MinSentenceChars,
	}
}

// Split walks the words once, committing on, in order: terminal
// punctuation, inter-word pause, accumulated duration, accumulated
// characters. A commit whose stripped text is below the minimum length
// is rejected and merged into the following sentence; a too-short
// leftover at stream end merges backward into the previous one.
func (sp *splitter) Split(words []model.Word) []model.Sentence {
	var out []model.Sentence
	var acc []model.Word

	commit := func() {
		if len(acc) == 0 {
			return
		}
		if strippedLen(joinWords(acc)) < sp.minChars {
			// Too short to stand alone; leave it in the accumulator so
			// it merges into the next sentence.
			return
		}
		out = append(out, sp.build(acc))
		acc = acc[:0]
	}

	for i, w := range words {
		acc = append(acc, w)

		switch {
		case endsWithTerminal(w.Text):
			commit()
		case i+1 < len(words) && words[i+1].Start-w.End > sp.pauseThreshold:
			commit()
		case accDuration(acc) >= sp.maxDuration:
			commit()
		case accChars(acc) >= sp.maxChars:
			if cut := sp.weakBoundary(acc); cut > 0 {
				head := append([]model.Word(nil), acc[:cut]...)
				tail := append([]model.Word(nil), acc[cut:]...)
				acc = head
				commit()
				acc = append(acc, tail...)
			} else {
				commit()
			}
		}
	}

	if len(acc) > 0 {
		if strippedLen(joinWords(acc)) < sp.minChars && len(out) > 0 {
			// Fold the dangling fragment into the previous sentence.
			prev := &out[len(out)-1]
			merged := append(append([]model.Word(nil), prev.Words...), acc...)
			*prev = sp.build(merged)
			prev.Index = len(out) - 1
		} else {
			out = append(out, sp.build(acc))
		}
	}
	return out
}

// weakBoundary returns the index after the last word ending in weak
// punctuation, or 0 when the accumulator holds none.
func (sp *splitter) weakBoundary(acc []model.Word) int {
	for i := len(acc) - 1; i >= 0; i-- {
		if endsWithWeak(acc[i].Text) {
			return i + 1
		}
	}
	return 0
}

// build assembles a sentence draft from the accumulated words. Timing
// spans the first word's start to the last word's end; confidence is
// the word mean.
func (sp *splitter) build(acc []model.Word) model.Sentence {
	words := append([]model.Word(nil), acc...)
	var conf float64
	for _, w := range words {
		conf += w.Confidence
	}
	conf /= float64(len(words))

	return model.Sentence{
		Start:      words[0].Start,
		End:        words[len(words)-1].End,
		Text:       joinWords(words),
		Confidence: conf,
		Source:     model.SourcePrimary,
		Words:      words,
	}
}

func joinWords(words []model.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func strippedLen(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			n++
		}
	}
	return n
}

func accDuration(acc []model.Word) float64 {
	return acc[len(acc)-1].End - acc[0].Start
}

func accChars(acc []model.Word) int {
	n := 0
	for _, w := range acc {
		n += strippedLen(w.Text)
	}
	return n
}

func endsWithTerminal(text string) bool { return endsIn(text, terminalPunct) }
func endsWithWeak(text string) bool     { return endsIn(text, weakPunct) }

func endsIn(text string, class map[rune]bool) bool {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return false
	}
	return class[runes[len(runes)-1]]
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/model"
)

func ptr(v float64) *float64 { return &v }

type recorded struct {
	event    string
	sentence model.Sentence
}

func newTestSession() (*Session, *[]recorded) {
	var events []recorded
	s := NewSession(0.6, 50.0, func(event string, sent model.Sentence) {
		events = append(events, recorded{event, sent})
	})
	return s, &events
}

func TestAppendAssignsIdentityAndEmits(t *testing.T) {
	s, events := newTestSession()

	first := s.Append(model.Sentence{Start: 0, End: 2.5, Text: "你好世界", Confidence: 0.9})
	second := s.Append(model.Sentence{Start: 2.5, End: 4.0, Text: "再见", Confidence: 0.8})

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, model.SourcePrimary, first.Source)
	assert.Equal(t, model.WarningNone, first.Warning)

	require.Len(t, *events, 2)
	assert.Equal(t, EventPrimarySentence, (*events)[0].event)
	assert.Equal(t, "你好世界", (*events)[0].sentence.Text)
}

func TestAppendDerivesWarning(t *testing.T) {
	s, _ := newTestSession()

	low := s.Append(model.Sentence{Text: "a", Confidence: 0.3})
	assert.Equal(t, model.WarningLowConfidence, low.Warning)

	boundary := s.Append(model.Sentence{Text: "b", Confidence: 0.6})
	assert.Equal(t, model.WarningNone, boundary.Warning, "warning threshold is strict less-than")
}

func TestReplaceTextPreservesTiming(t *testing.T) {
	s, events := newTestSession()
	s.Append(model.Sentence{
		Start: 1.0, End: 3.0, Text: "你好事界", Confidence: 0.4,
		Words: []model.Word{{Text: "你好事界", Start: 1.0, End: 3.0, Confidence: 0.4}},
	})

	got, err := s.ReplaceText(0, Replacement{
		Text:       "你好世界",
		Source:     model.SourceSecondaryPatch,
		Confidence: ptr(0.85),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, got.Start, "timing must survive replacement")
	assert.Equal(t, 3.0, got.End)
	assert.Equal(t, "你好世界", got.Text)
	assert.Equal(t, "你好事界", got.OriginalText)
	assert.True(t, got.IsModified)
	assert.Equal(t, model.SourceSecondaryPatch, got.Source)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, model.WarningNone, got.Warning)

	require.Len(t, got.Words, 4)
	for _, w := range got.Words {
		assert.True(t, w.IsPseudo)
	}
	assert.Equal(t, 1.0, got.Words[0].Start)
	assert.Equal(t, 3.0, got.Words[3].End)

	require.Len(t, *events, 2)
	assert.Equal(t, EventSecondaryPatch, (*events)[1].event)
}

func TestReplaceTextKeepsFirstOriginal(t *testing.T) {
	s, _ := newTestSession()
	s.Append(model.Sentence{Start: 0, End: 1, Text: "one", Confidence: 0.4})

	_, err := s.ReplaceText(0, Replacement{Text: "two", Source: model.SourceSecondaryPatch, Confidence: ptr(0.5)})
	require.NoError(t, err)
	got, err := s.ReplaceText(0, Replacement{Text: "three", Source: model.SourceLLMCorrection, Confidence: ptr(0.9)})
	require.NoError(t, err)

	assert.Equal(t, "one", got.OriginalText, "original is the first-ever text")
	assert.Equal(t, "two", got.AltText, "alt is the immediately prior text")
	assert.Equal(t, "three", got.Text)
}

func TestReplaceTextPerplexityWarning(t *testing.T) {
	s, events := newTestSession()
	s.Append(model.Sentence{Start: 0, End: 1, Text: "raw", Confidence: 0.9})

	got, err := s.ReplaceText(0, Replacement{
		Text:       "polished",
		Source:     model.SourceLLMCorrection,
		Perplexity: ptr(72.0),
	})
	require.NoError(t, err)

	assert.Equal(t, model.WarningHighPerplexity, got.Warning)
	assert.Equal(t, 0.9, got.Confidence, "nil confidence keeps the prior value")
	assert.Equal(t, EventLLMProof, (*events)[1].event)
}

func TestReplaceTextOutOfRange(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.ReplaceText(0, Replacement{Text: "x", Source: model.SourceSecondaryPatch})
	require.Error(t, err)
}

func TestSetTranslation(t *testing.T) {
	s, events := newTestSession()
	s.Append(model.Sentence{Start: 0, End: 1, Text: "你好", Confidence: 0.9})

	got, err := s.SetTranslation(0, "Hello", 0.95)
	require.NoError(t, err)

	assert.Equal(t, "Hello", got.Translation)
	assert.Equal(t, "你好", got.Text, "translation must not replace the text")
	assert.Equal(t, EventLLMTranslation, (*events)[1].event)
}

func TestContextWindow(t *testing.T) {
	s, _ := newTestSession()
	for _, text := range []string{"a", "b", "c", "d"} {
		s.Append(model.Sentence{Text: text, Confidence: 0.9})
	}

	assert.Equal(t, []string{"b", "c"}, s.ContextWindow(3, 2))
	assert.Equal(t, []string{"a", "b", "c"}, s.ContextWindow(3, 10), "window clamps at session start")
	assert.Empty(t, s.ContextWindow(0, 2))
}

func TestRestoreReindexes(t *testing.T) {
	s, _ := newTestSession()
	s.Restore([]model.Sentence{
		{ID: "x", Index: 4, Text: "one"},
		{ID: "y", Index: 9, Text: "two"},
	})

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Index)
	assert.Equal(t, 1, all[1].Index)

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "two", got.Text)
}

func TestAllReturnsSnapshot(t *testing.T) {
	s, _ := newTestSession()
	s.Append(model.Sentence{Text: "orig", Confidence: 0.9})

	snap := s.All()
	snap[0].Text = "mutated"

	got, _ := s.Get(0)
	assert.Equal(t, "orig", got.Text)
}

func TestPseudoAlignCoversInterval(t *testing.T) {
	words := pseudoAlign(10.0, 12.0, "你 好 世 界")

	require.Len(t, words, 4, "whitespace does not get a slot")
	var total float64
	for _, w := range words {
		total += w.End - w.Start
		assert.True(t, w.IsPseudo)
	}
	assert.InDelta(t, 2.0, total, 1e-9)
	assert.Equal(t, 10.0, words[0].Start)
	assert.Equal(t, 12.0, words[3].End)

	assert.Nil(t, pseudoAlign(0, 1, "   "))
}

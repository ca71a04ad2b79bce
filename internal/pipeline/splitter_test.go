// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/model"
)

func defaultSplitter() *splitter {
	return newSplitter(config.Default().Pipeline)
}

func word(text string, start, end, conf float64) model.Word {
	return model.Word{Text: text, Start: start, End: end, Confidence: conf}
}

func TestSplitTerminalPunctuation(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("今天天气真好。", 0, 1.0, 0.9),
		word("我们出去玩！", 1.1, 2.0, 0.8),
		word("好啊好啊", 2.1, 2.5, 0.7),
	})

	require.Len(t, got, 3)
	assert.Equal(t, "今天天气真好。", got[0].Text)
	assert.Equal(t, 0.0, got[0].Start)
	assert.Equal(t, 1.0, got[0].End)
	assert.Equal(t, "我们出去玩！", got[1].Text)
	assert.Equal(t, "好啊好啊", got[2].Text)
	for _, s := range got {
		assert.Equal(t, model.SourcePrimary, s.Source)
	}
}

func TestSplitPauseRule(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("hello", 0, 0.5, 0.9),
		word("world", 1.2, 1.7, 0.9), // 0.7 s gap, over the 0.4 s threshold
	})

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, 0.5, got[0].End)
	assert.Equal(t, 1.2, got[1].Start)
}

func TestSplitDurationRule(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("aaa", 0, 1.8, 0.9),
		word("bbb", 1.9, 3.6, 0.9),
		word("ccc", 3.7, 5.5, 0.9), // accumulated span 5.5 s >= 5.0 s
		word("ddd", 5.6, 6.0, 0.9),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "aaa bbb ccc", got[0].Text)
	assert.Equal(t, 5.5, got[0].End)
	assert.Equal(t, "ddd", got[1].Text)
}

func TestSplitMaxCharsWeakBoundary(t *testing.T) {
	sp := defaultSplitter()

	// Four 8-char words hit the 30-char cap at the fourth; the weak
	// boundary after the second word wins.
	got := sp.Split([]model.Word{
		word("字字字字字字字字", 0.0, 0.5, 0.9),
		word("字字字字字字字，", 0.55, 1.0, 0.9),
		word("字字字字字字字字", 1.05, 1.5, 0.9),
		word("字字字字字字字字", 1.55, 2.0, 0.9),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "字字字字字字字字 字字字字字字字，", got[0].Text)
	assert.Equal(t, 1.0, got[0].End)
	assert.Equal(t, 1.05, got[1].Start)
	assert.Equal(t, 2.0, got[1].End)
}

func TestSplitMaxCharsForceCommit(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("字字字字字字字字", 0.0, 0.5, 0.9),
		word("字字字字字字字字", 0.55, 1.0, 0.9),
		word("字字字字字字字字", 1.05, 1.5, 0.9),
		word("字字字字字字字字", 1.55, 2.0, 0.9),
	})

	// No weak punctuation anywhere: force-commit at the word that
	// crossed the cap.
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].End)
}

func TestSplitMinCharsMergesForward(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("！", 0, 0.2, 0.5), // single char, below the minimum
		word("好的。", 0.25, 1.0, 0.9),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "！ 好的。", got[0].Text)
	assert.Equal(t, 0.0, got[0].Start)
	assert.Equal(t, 1.0, got[0].End)
}

func TestSplitTrailingFragmentMergesBackward(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("你好。", 0, 1.0, 0.9),
		word("嗯", 1.1, 1.2, 0.4),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "你好。 嗯", got[0].Text)
	assert.Equal(t, 1.2, got[0].End)
	assert.Len(t, got[0].Words, 2)
}

func TestSplitConfidenceIsWordMean(t *testing.T) {
	sp := defaultSplitter()

	got := sp.Split([]model.Word{
		word("你好", 0, 0.5, 0.4),
		word("世界。", 0.55, 1.0, 0.8),
	})

	require.Len(t, got, 1)
	assert.InDelta(t, 0.6, got[0].Confidence, 1e-9)
}

func TestSplitEmptyInput(t *testing.T) {
	assert.Empty(t, defaultSplitter().Split(nil))
}

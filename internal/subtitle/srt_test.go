// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitle

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subpipe/internal/model"
)

func TestMarshalSRT(t *testing.T) {
	sentences := []model.Sentence{
		{Start: 0, End: 10, Text: "你好 世界"},
		{Start: 12.5, End: 15.25, Text: "second line", Translation: "zweite Zeile"},
	}

	want := "1\n" +
		"00:00:00,000 --> 00:00:10,000\n" +
		"你好 世界\n" +
		"\n" +
		"2\n" +
		"00:00:12,500 --> 00:00:15,250\n" +
		"second line\n" +
		"zweite Zeile\n"

	assert.Equal(t, want, string(MarshalSRT(sentences)))
}

func TestMarshalSRTEmpty(t *testing.T) {
	assert.Empty(t, MarshalSRT(nil))
}

func TestSRTRoundTrip(t *testing.T) {
	in := []model.Sentence{
		{Index: 0, Start: 0.123, End: 4.456, Text: "первый", Source: model.SourcePrimary},
		{Index: 1, Start: 5, End: 8.001, Text: "second", Translation: "секунда", Source: model.SourcePrimary},
		{Index: 2, Start: 3601.5, End: 3605, Text: "past the hour", Source: model.SourcePrimary},
	}

	out, err := ParseSRT(MarshalSRT(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSRTTolerantInput(t *testing.T) {
	// CRLF-free but with extra blank lines, as editors tend to save.
	doc := "\n1\n00:00:01,000 --> 00:00:02,000\nhello\n\n\n2\n00:00:03,000 --> 00:00:04,500\nworld\n"

	out, err := ParseSRT([]byte(doc))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "hello", out[0].Text)
	assert.Equal(t, 3.0, out[1].Start)
	assert.Equal(t, 4.5, out[1].End)
	assert.Equal(t, 1, out[1].Index)
}

func TestParseSRTErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"garbage cue number", "x\n00:00:01,000 --> 00:00:02,000\nhello\n"},
		{"missing timing", "1\n"},
		{"malformed timing", "1\n00:00:01,000 00:00:02,000\nhello\n"},
		{"end before start", "1\n00:00:05,000 --> 00:00:02,000\nhello\n"},
		{"empty text", "1\n00:00:01,000 --> 00:00:02,000\n\n"},
		{"minutes out of range", "1\n00:72:01,000 --> 01:13:02,000\nhello\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSRT([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestTimestampFormat(t *testing.T) {
	assert.Equal(t, "00:00:00,000", formatTimestamp(0))
	assert.Equal(t, "00:01:01,500", formatTimestamp(61.5))
	assert.Equal(t, "02:46:40,000", formatTimestamp(10000))
	assert.Equal(t, "00:00:00,000", formatTimestamp(-3), "negative clamps to zero")

	got, err := parseTimestamp("02:46:40,000")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, got)
}

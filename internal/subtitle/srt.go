// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ManuGH/subpipe/internal/model"
)

// MarshalSRT renders the sentences as an SRT document: entries numbered
// from 1, `HH:MM:SS,mmm --> HH:MM:SS,mmm` timing lines, one blank line
// between entries, UTF-8 without BOM. A sentence with a translation is
// rendered bilingual, translation on the second line.
func MarshalSRT(sentences []model.Sentence) []byte {
	var b bytes.Buffer
	for i, s := range sentences {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(s.Start), formatTimestamp(s.End))
		b.WriteString(s.Text)
		b.WriteByte('\n')
		if s.Translation != "" {
			b.WriteString(s.Translation)
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

// ParseSRT reads an SRT document back into sentences. Only timing and
// text survive a round trip; engine metadata does not exist in SRT.
// Multi-line cues keep their first line as Text and the second as
// Translation, mirroring MarshalSRT's bilingual layout.
func ParseSRT(data []byte) ([]model.Sentence, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var out []model.Sentence
	for {
		cue, err := nextCue(scanner)
		if err != nil {
			return nil, err
		}
		if cue == nil {
			break
		}
		cue.Index = len(out)
		out = append(out, *cue)
	}
	return out, nil
}

// nextCue consumes one cue block or returns nil at EOF.
func nextCue(scanner *bufio.Scanner) (*model.Sentence, error) {
	// Skip blank separators and find the sequence number line.
	var numLine string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			numLine = line
			break
		}
	}
	if numLine == "" {
		return nil, nil
	}
	if _, err := strconv.Atoi(strings.TrimPrefix(numLine, "\uFEFF")); err != nil {
		return nil, fmt.Errorf("srt: expected cue number, got %q", numLine)
	}

	if !scanner.Scan() {
		return nil, fmt.Errorf("srt: cue %s: missing timing line", numLine)
	}
	timing := strings.TrimSpace(scanner.Text())
	parts := strings.Split(timing, "-->")
	if len(parts) != 2 {
		return nil, fmt.Errorf("srt: cue %s: malformed timing line %q", numLine, timing)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("srt: cue %s: %w", numLine, err)
	}
	end, err := parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("srt: cue %s: %w", numLine, err)
	}
	if end < start {
		return nil, fmt.Errorf("srt: cue %s: end before start", numLine)
	}

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("srt: cue %s: empty text", numLine)
	}

	s := &model.Sentence{
		Start:  start,
		End:    end,
		Text:   lines[0],
		Source: model.SourcePrimary,
	}
	if len(lines) > 1 {
		s.Translation = strings.Join(lines[1:], "\n")
	}
	return s, nil
}

// formatTimestamp rounds to millisecond precision; parseTimestamp is
// its exact inverse so round trips are lossless at that precision.
func formatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func parseTimestamp(ts string) (float64, error) {
	var h, m, s, ms int64
	if _, err := fmt.Sscanf(ts, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, fmt.Errorf("srt: malformed timestamp %q", ts)
	}
	if m > 59 || s > 59 || ms > 999 {
		return 0, fmt.Errorf("srt: timestamp %q out of range", ts)
	}
	total := h*3600000 + m*60000 + s*1000 + ms
	return float64(total) / 1000, nil
}

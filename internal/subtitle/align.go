// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitle

import (
	"unicode"

	"github.com/ManuGH/subpipe/internal/model"
)

// pseudoAlign distributes the non-whitespace characters of text evenly
// across the preserved interval (start, end). Replacement text has no
// acoustic alignment, so uniform splitting is the honest choice; every
// produced entry is flagged as pseudo.
func pseudoAlign(start, end float64, text string) []model.Word {
	var chars []rune
	for _, r := range text {
		if !unicode.IsSpace(r) {
			chars = append(chars, r)
		}
	}
	if len(chars) == 0 {
		return nil
	}

	step := (end - start) / float64(len(chars))
	words := make([]model.Word, len(chars))
	for i, r := range chars {
		words[i] = model.Word{
			Text:     string(r),
			Start:    start + float64(i)*step,
			End:      start + float64(i+1)*step,
			IsPseudo: true,
		}
	}
	// Pin the last boundary so the cover is exact despite float drift.
	words[len(words)-1].End = end
	return words
}

// Package chunk splits documents into overlapping fixed-size windows.
//
// Windows are measured in runes so multi-byte text never splits inside a
// character. Consecutive windows share Overlap runes and the final window
// always reaches the end of the document.
package chunk

import (
	"fmt"
	"strings"
)

// Window describes a sliding window in runes.
type Window struct {
	Size    int
	Overlap int
}

// GlobalWindow is used for the shared reference corpus.
var GlobalWindow = Window{Size: 1000, Overlap: 180}

// UserWindow is used for personal notes, which tend to be short.
var UserWindow = Window{Size: 800, Overlap: 120}

// Validate checks that the window advances on every step.
func (w Window) Validate() error {
	if w.Size <= 0 {
		return fmt.Errorf("window size must be positive, got %d", w.Size)
	}
	if w.Overlap < 0 || w.Overlap >= w.Size {
		return fmt.Errorf("overlap must be in [0, %d), got %d", w.Size, w.Overlap)
	}
	return nil
}

// Split returns the windows of text. Whitespace-only input yields no chunks.
// Chunk text is returned verbatim, never trimmed.
func Split(text string, w Window) ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	step := w.Size - w.Overlap

	var chunks []string
	for start := 0; ; start += step {
		end := start + w.Size
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= n {
			break
		}
	}
	return chunks, nil
}

// Count returns how many chunks Split would produce for a text of n runes.
func Count(n int, w Window) int {
	if n <= 0 || w.Validate() != nil {
		return 0
	}
	if n <= w.Size {
		return 1
	}
	step := w.Size - w.Overlap
	return 1 + (n-w.Size+step-1)/step
}

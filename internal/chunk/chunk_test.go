package chunk

import (
	"strings"
	"testing"
)

func TestSplit_ThreeWindowsForTwentyFourHundredRunes(t *testing.T) {
	text := strings.Repeat("abcdefghij", 240)

	chunks, err := Split(text, GlobalWindow)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len([]rune(chunks[0])) != 1000 || len([]rune(chunks[1])) != 1000 {
		t.Errorf("expected full first windows, got %d and %d", len([]rune(chunks[0])), len([]rune(chunks[1])))
	}
	if got := len([]rune(chunks[2])); got != 2400-1640 {
		t.Errorf("expected last window of %d runes, got %d", 2400-1640, got)
	}
}

func TestSplit_Coverage(t *testing.T) {
	lengths := []int{1, 799, 800, 801, 1000, 1001, 2400, 5123}
	for _, w := range []Window{GlobalWindow, UserWindow} {
		for _, n := range lengths {
			runes := make([]rune, n)
			for i := range runes {
				runes[i] = rune('a' + i%26)
			}
			text := string(runes)

			chunks, err := Split(text, w)
			if err != nil {
				t.Fatalf("Split(%d): %v", n, err)
			}
			if len(chunks) != Count(n, w) {
				t.Errorf("n=%d size=%d: Count=%d but Split produced %d", n, w.Size, Count(n, w), len(chunks))
			}

			// Reassemble by dropping the overlap from every chunk after the first.
			var b strings.Builder
			for i, c := range chunks {
				r := []rune(c)
				if i > 0 {
					r = r[w.Overlap:]
				}
				b.WriteString(string(r))
			}
			if b.String() != text {
				t.Errorf("n=%d size=%d: reassembled text does not match input", n, w.Size)
			}
		}
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	text := strings.Repeat("0123456789", 300)
	chunks, err := Split(text, UserWindow)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])
		tail := string(prev[len(prev)-UserWindow.Overlap:])
		head := string(cur[:UserWindow.Overlap])
		if tail != head {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}

func TestSplit_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("é", 1500)
	chunks, err := Split(text, GlobalWindow)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len([]rune(chunks[0])) != 1000 {
		t.Errorf("expected 1000 runes, got %d", len([]rune(chunks[0])))
	}
}

func TestSplit_BlankInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		chunks, err := Split(text, GlobalWindow)
		if err != nil {
			t.Fatalf("Split(%q): %v", text, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Split(%q): expected no chunks, got %d", text, len(chunks))
		}
	}
}

func TestSplit_KeepsSurroundingWhitespace(t *testing.T) {
	chunks, err := Split("  short note  ", UserWindow)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "  short note  " {
		t.Errorf("expected verbatim chunk, got %q", chunks)
	}
}

func TestWindowValidate(t *testing.T) {
	bad := []Window{{Size: 0}, {Size: 10, Overlap: 10}, {Size: 10, Overlap: -1}}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Errorf("expected error for %+v", w)
		}
		if _, err := Split("text", w); err == nil {
			t.Errorf("Split should reject %+v", w)
		}
	}
}

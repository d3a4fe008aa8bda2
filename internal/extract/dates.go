package extract

import (
	"regexp"
	"strings"

	"github.com/araddon/dateparse"
)

// DateLayout is the normalized deadline format.
const DateLayout = "2006-01-02"

var (
	ordinalRE = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

	// Date-like fragments inside longer phrases such as "Due by March 1, 2025 at noon".
	dateFragmentREs = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`),
		regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`),
		regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+\d{4}`),
	}
)

// NormalizeDate parses a free-form date and returns it as YYYY-MM-DD, or
// nil when no date can be recognized.
func NormalizeDate(s string) *string {
	s = strings.TrimSpace(ordinalRE.ReplaceAllString(s, "$1"))
	if s == "" {
		return nil
	}

	var candidates []string
	for _, re := range dateFragmentREs {
		candidates = append(candidates, re.FindAllString(s, -1)...)
	}
	candidates = append(candidates, s)

	for _, c := range candidates {
		t, err := dateparse.ParseAny(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		out := t.Format(DateLayout)
		return &out
	}
	return nil
}

package extract

import (
	"regexp"
	"strings"
)

// AI usage policies.
const (
	PolicyOK        = "ok"
	PolicyCoachOnly = "coach_only"
)

// forbidPatterns match wording that rules out AI-authored submissions.
var forbidPatterns = []*regexp.Regexp{
	regexp.MustCompile(`no\s+ai[-\s]?generated\s+content`),
	regexp.MustCompile(`generative\s+ai\s+not\s+permitted`),
	regexp.MustCompile(`must\s+be\s+your\s+own\s+work`),
	regexp.MustCompile(`original\s+work\s+only`),
	regexp.MustCompile(`plagiarism`),
}

// DetectAIPolicy returns PolicyCoachOnly when the page or its retrieved
// context forbids AI-generated content, PolicyOK otherwise.
func DetectAIPolicy(pageText, context string) string {
	hay := strings.ToLower(pageText + "\n" + context)
	for _, re := range forbidPatterns {
		if re.MatchString(hay) {
			return PolicyCoachOnly
		}
	}
	return PolicyOK
}

// ValidPolicy reports whether p is a recognized policy value.
func ValidPolicy(p string) bool {
	return p == PolicyOK || p == PolicyCoachOnly
}

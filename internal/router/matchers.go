package router

import (
	"log/slog"
	"regexp"
	"strings"
)

// ContentPattern maps a message-content pattern to an agent.
type ContentPattern struct {
	Pattern string `json:"pattern"`
	Agent   string `json:"agent"`
}

// contentMatcher is one compiled content-pattern rule. Patterns compile as
// case-insensitive regexes; a pattern that fails to compile degrades to a
// case-insensitive substring check instead of being dropped.
type contentMatcher struct {
	raw    string
	agent  string
	re     *regexp.Regexp // nil when substring fallback is in effect
	substr string
}

func compileMatchers(patterns []ContentPattern) []contentMatcher {
	out := make([]contentMatcher, 0, len(patterns))
	for _, p := range patterns {
		m := contentMatcher{raw: p.Pattern, agent: p.Agent}
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			slog.Warn("invalid content pattern, falling back to substring match",
				"pattern", p.Pattern, "error", err)
			m.substr = strings.ToLower(p.Pattern)
		} else {
			m.re = re
		}
		out = append(out, m)
	}
	return out
}

func (m contentMatcher) matches(lowered string) bool {
	if m.re != nil {
		return m.re.MatchString(lowered)
	}
	return strings.Contains(lowered, m.substr)
}

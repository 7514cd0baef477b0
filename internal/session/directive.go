package session

import "regexp"

// agentDirectiveRe matches "agent:<name>" at the start of a directive,
// case-insensitive, tolerating whitespace after the colon.
var agentDirectiveRe = regexp.MustCompile(`(?i)^agent:\s*(\S+)`)

func parseAgentDirective(content string) string {
	m := agentDirectiveRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

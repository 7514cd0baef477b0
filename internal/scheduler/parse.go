package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// scheduleKind distinguishes the two grammar forms.
type scheduleKind int

const (
	kindCron scheduleKind = iota
	kindRelative
)

// schedule is a parsed job schedule: either a standard 5-field cron
// expression or a relative "in <N> <unit>" offset.
type schedule struct {
	kind  scheduleKind
	expr  string        // cron expression (kindCron)
	after time.Duration // offset (kindRelative)
}

// relativeRe matches "in <N> second|minute|hour|day" with an optional
// trailing "s", case-insensitive.
var relativeRe = regexp.MustCompile(`(?i)^in\s+(\d+)\s+(second|minute|hour|day)s?$`)

var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// parseSchedule accepts either grammar and rejects everything else.
func parseSchedule(raw string) (schedule, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return schedule{}, fmt.Errorf("empty schedule")
	}

	if m := relativeRe.FindStringSubmatch(trimmed); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return schedule{}, fmt.Errorf("invalid relative amount %q", m[1])
		}
		unit := unitDurations[strings.ToLower(m[2])]
		return schedule{kind: kindRelative, after: time.Duration(n) * unit}, nil
	}

	if gronx.New().IsValid(trimmed) {
		return schedule{kind: kindCron, expr: trimmed}, nil
	}

	return schedule{}, fmt.Errorf("schedule %q is neither a cron expression nor %q", raw, "in <N> second|minute|hour|day")
}

// next computes the next fire time strictly after ref.
func (s schedule) next(ref time.Time) (time.Time, error) {
	switch s.kind {
	case kindRelative:
		return ref.Add(s.after), nil
	default:
		return gronx.NextTickAfter(s.expr, ref, false)
	}
}

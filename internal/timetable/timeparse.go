package timetable

import (
	"fmt"
	"regexp"
	"strconv"
)

var digitRuns = regexp.MustCompile(`\d+`)

// ParseTimeRange reads "09:00-10:00" style ranges into minutes from midnight. Dots, spaces and
// en-dashes are tolerated, as are compact "0900-1000" ranges.
func ParseTimeRange(text string) (int, int, error) {
	runs := digitRuns.FindAllString(text, -1)

	var start, end int
	var err error
	switch len(runs) {
	case 4:
		if start, err = clock(runs[0], runs[1]); err != nil {
			return 0, 0, err
		}
		if end, err = clock(runs[2], runs[3]); err != nil {
			return 0, 0, err
		}
	case 2:
		if start, err = compactClock(runs[0]); err != nil {
			return 0, 0, err
		}
		if end, err = compactClock(runs[1]); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, fmt.Errorf("expected two clock times in %q", text)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("range %q ends before it starts", text)
	}
	return start, end, nil
}

func clock(hours, minutes string) (int, error) {
	h, err := strconv.Atoi(hours)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return 0, err
	}
	if h > 24 || m > 59 || (h == 24 && m > 0) {
		return 0, fmt.Errorf("invalid clock time %s:%s", hours, minutes)
	}
	return h*60 + m, nil
}

// compactClock reads "930", "0930" or a bare hour such as "9".
func compactClock(s string) (int, error) {
	switch len(s) {
	case 1, 2:
		return clock(s, "0")
	case 3:
		return clock(s[:1], s[1:])
	case 4:
		return clock(s[:2], s[2:])
	}
	return 0, fmt.Errorf("invalid clock time %q", s)
}

// ParseClock reads a single "16:00", "16.00" or "1600" time into minutes from midnight.
func ParseClock(text string) (int, error) {
	runs := digitRuns.FindAllString(text, -1)
	switch len(runs) {
	case 2:
		return clock(runs[0], runs[1])
	case 1:
		return compactClock(runs[0])
	}
	return 0, fmt.Errorf("expected one clock time in %q", text)
}

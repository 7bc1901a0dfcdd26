package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/timetable"
)

var trailingRange = regexp.MustCompile(`(\d{1,2}[:.]\d{2})\s*[-–—]\s*(\d{1,2}[:.]\d{2})\s*$`)

func splitEntries(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
}

func splitStaff(entry string) (int, string, error) {
	head, rest, ok := strings.Cut(entry, ":")
	if !ok {
		return 0, "", fmt.Errorf("missing staff id separator")
	}
	id, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || id < 1 {
		return 0, "", fmt.Errorf("invalid staff id %q", strings.TrimSpace(head))
	}
	return id, strings.TrimSpace(rest), nil
}

// ParseExemptions reads free-text exemption lists. Day entries look like
// "4:Tuesday (1st week)"; time entries like "3:16:00-21:00" or, scoped to a day,
// "1:Monday 08:00-12:00". Entries are separated by commas, semicolons or new lines. Malformed
// entries are skipped and described in the returned warnings.
func ParseExemptions(dayText, timeText string) ([]models.ExemptionRule, []string) {
	var rules []models.ExemptionRule
	var warnings []string

	for _, raw := range splitEntries(dayText) {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		id, day, err := splitStaff(entry)
		if err == nil && day == "" {
			err = fmt.Errorf("missing day")
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped day exemption %q: %v", entry, err))
			continue
		}
		rules = append(rules, models.ExemptionRule{Kind: models.ExemptionDay, StaffID: id, DaySubstring: day})
	}

	for _, raw := range splitEntries(timeText) {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		id, rest, err := splitStaff(entry)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped time exemption %q: %v", entry, err))
			continue
		}
		loc := trailingRange.FindStringIndex(rest)
		if loc == nil {
			warnings = append(warnings, fmt.Sprintf("skipped time exemption %q: no time range", entry))
			continue
		}
		start, end, err := timetable.ParseTimeRange(rest[loc[0]:])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped time exemption %q: %v", entry, err))
			continue
		}
		rules = append(rules, models.ExemptionRule{
			Kind:         models.ExemptionTimeRange,
			StaffID:      id,
			DaySubstring: strings.TrimSpace(rest[:loc[0]]),
			Start:        start,
			End:          end,
		})
	}
	return rules, warnings
}

// usableRules drops rules naming unknown staff or malformed intervals. Kept rules that ban
// none of tasks are reported too, since a misspelled day label silently does nothing.
func usableRules(rules []models.ExemptionRule, staffCount int, tasks []models.ExamTask) ([]models.ExemptionRule, []string) {
	usable := make([]models.ExemptionRule, 0, len(rules))
	var warnings []string
	for _, rule := range rules {
		switch {
		case rule.StaffID < 1 || rule.StaffID > staffCount:
			warnings = append(warnings, fmt.Sprintf("ignored exemption for unknown staff %d", rule.StaffID))
			continue
		case rule.Kind == models.ExemptionDay && strings.TrimSpace(rule.DaySubstring) == "":
			warnings = append(warnings, fmt.Sprintf("ignored day exemption for staff %d without a day", rule.StaffID))
			continue
		case rule.Kind == models.ExemptionTimeRange && (rule.Start < 0 || rule.End > 24*60 || rule.End <= rule.Start):
			warnings = append(warnings, fmt.Sprintf("ignored time exemption for staff %d with interval %d-%d", rule.StaffID, rule.Start, rule.End))
			continue
		case rule.Kind != models.ExemptionDay && rule.Kind != models.ExemptionTimeRange:
			warnings = append(warnings, fmt.Sprintf("ignored exemption of kind %q", rule.Kind))
			continue
		}
		usable = append(usable, rule)
		if !bansAny(rule, tasks) {
			warnings = append(warnings, unmatchedWarning(rule))
		}
	}
	return usable, warnings
}

func bansAny(rule models.ExemptionRule, tasks []models.ExamTask) bool {
	for _, task := range tasks {
		if bans(rule, task) {
			return true
		}
	}
	return false
}

func unmatchedWarning(rule models.ExemptionRule) string {
	if rule.Kind == models.ExemptionDay {
		return fmt.Sprintf("day exemption for staff %d matches no task (%q)", rule.StaffID, strings.TrimSpace(rule.DaySubstring))
	}
	return fmt.Sprintf("time exemption for staff %d (%s-%s) matches no task", rule.StaffID, models.FormatClock(rule.Start), models.FormatClock(rule.End))
}

func dayMatches(label, substring string) bool {
	return strings.Contains(strings.ToLower(label), strings.ToLower(strings.TrimSpace(substring)))
}

// bans reports whether rule forbids its staff member from task.
func bans(rule models.ExemptionRule, task models.ExamTask) bool {
	switch rule.Kind {
	case models.ExemptionDay:
		return dayMatches(task.DayLabel, rule.DaySubstring)
	case models.ExemptionTimeRange:
		if rule.DaySubstring != "" && !dayMatches(task.DayLabel, rule.DaySubstring) {
			return false
		}
		return task.Overlaps(rule.Start, rule.End)
	}
	return false
}

// restrictedStaff marks staff with a time-range exemption, and with day exemptions too when
// includeDay is set. Index 0 is staff 1.
func restrictedStaff(rules []models.ExemptionRule, staffCount int, includeDay bool) []bool {
	restricted := make([]bool, staffCount)
	for _, rule := range rules {
		if rule.Kind == models.ExemptionTimeRange || (includeDay && rule.Kind == models.ExemptionDay) {
			restricted[rule.StaffID-1] = true
		}
	}
	return restricted
}

package models

import "fmt"

// Session classifies a task by its position within the exam day.
type Session string

const (
	SessionMorning Session = "MORNING"
	SessionEvening Session = "EVENING"
	SessionNormal  Session = "NORMAL"
)

// ExamTask is one exam in one room that needs exactly one invigilator.
type ExamTask struct {
	ID       int     `json:"id"`
	Row      int     `json:"row"`
	DayLabel string  `json:"dayLabel"`
	Weekday  int     `json:"weekday"`
	Week     int     `json:"week"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Duration int     `json:"duration"`
	Room     string  `json:"room"`
	Subject  string  `json:"subject"`
	Session  Session `json:"session"`
	SlotKey  string  `json:"slotKey"`
}

// CalendarDay orders tasks across weeks; consecutive days differ by one.
func (t ExamTask) CalendarDay() int {
	return (t.Week-1)*7 + t.Weekday
}

// Overlaps reports whether [start, end) intersects the task interval.
func (t ExamTask) Overlaps(start, end int) bool {
	return max(t.Start, start) < min(t.End, end)
}

// TimeRange renders the task interval as HH:MM-HH:MM.
func (t ExamTask) TimeRange() string {
	return FormatClock(t.Start) + "-" + FormatClock(t.End)
}

// FormatClock renders minutes from midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ExemptionKind distinguishes day bans from time-range bans.
type ExemptionKind string

const (
	ExemptionDay       ExemptionKind = "DAY"
	ExemptionTimeRange ExemptionKind = "TIME_RANGE"
)

// ExemptionRule bans one staff member from a set of tasks. Day rules match tasks whose day
// label contains DaySubstring. Time-range rules match tasks overlapping [Start, End) and, when
// DaySubstring is set, only on matching days.
type ExemptionRule struct {
	Kind         ExemptionKind `json:"kind" validate:"required,oneof=DAY TIME_RANGE"`
	StaffID      int           `json:"staffId" validate:"required,min=1"`
	DaySubstring string        `json:"day,omitempty"`
	Start        int           `json:"start,omitempty" validate:"min=0,max=1440"`
	End          int           `json:"end,omitempty" validate:"min=0,max=1440"`
}

// Package timetable turns raw exam timetable rows into typed exam tasks: it resolves day and
// week identity, classifies sessions and groups simultaneous rooms under one slot key.
package timetable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/invigilation-planner/internal/models"
)

// LabelingMode selects how Evening tasks are recognised.
type LabelingMode string

const (
	// LabelingAuto uses the latest-task rule for multi-week timetables and the threshold rule
	// for single-week ones.
	LabelingAuto           LabelingMode = "auto"
	LabelingFixedThreshold LabelingMode = "fixed_threshold"
	LabelingLatestTask     LabelingMode = "latest_task_per_day"
)

// DefaultEveningThreshold is 16:00 in minutes from midnight.
const DefaultEveningThreshold = 16 * 60

// Options tunes normalisation.
type Options struct {
	Labeling         LabelingMode
	EveningThreshold int
}

// DefaultOptions returns auto labeling with a 16:00 threshold.
func DefaultOptions() Options {
	return Options{Labeling: LabelingAuto, EveningThreshold: DefaultEveningThreshold}
}

// RawRow is one timetable line as read from the source file.
type RawRow struct {
	Row     int    `csv:"-" json:"row"`
	Day     string `csv:"DAY" json:"day"`
	Time    string `csv:"TIME" json:"time"`
	Room    string `csv:"ROOM" json:"room"`
	Subject string `csv:"SUBJECT" json:"subject"`
}

// FailureKind enumerates why a row produced no tasks.
type FailureKind string

const (
	MissingField   FailureKind = "MissingField"
	UnknownDay     FailureKind = "UnknownDay"
	UnparsableTime FailureKind = "UnparsableTime"
)

// ParseFailure reports a skipped row.
type ParseFailure struct {
	Row    int         `json:"row"`
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

func (f ParseFailure) Error() string {
	return fmt.Sprintf("row %d: %s: %s", f.Row, f.Kind, f.Detail)
}

// Schedule is the normalised timetable.
type Schedule struct {
	Tasks   []models.ExamTask `json:"tasks"`
	Rooms   []string          `json:"rooms"`
	Days    []string          `json:"days"`
	Weeks   int               `json:"weeks"`
	Skipped []ParseFailure    `json:"skipped,omitempty"`
}

type pendingTask struct {
	row     int
	label   string
	weekday int
	week    int
	start   int
	end     int
	room    string
	subject string
}

// Normalize converts rows, in file order, into exam tasks. Rows that cannot be read are listed
// in Schedule.Skipped; an error is only returned for invalid options.
func Normalize(rows []RawRow, opts Options) (*Schedule, error) {
	if opts.Labeling == "" {
		opts.Labeling = LabelingAuto
	}
	switch opts.Labeling {
	case LabelingAuto, LabelingFixedThreshold, LabelingLatestTask:
	default:
		return nil, fmt.Errorf("unknown session labeling mode %q", opts.Labeling)
	}
	if opts.EveningThreshold <= 0 {
		opts.EveningThreshold = DefaultEveningThreshold
	}

	sched := &Schedule{}
	var pending []pendingTask
	week, prev := 1, -1
	for i, raw := range rows {
		rowNum := raw.Row
		if rowNum == 0 {
			rowNum = i + 1
		}
		skip := func(kind FailureKind, detail string) {
			sched.Skipped = append(sched.Skipped, ParseFailure{Row: rowNum, Kind: kind, Detail: detail})
		}

		dayText := strings.TrimSpace(raw.Day)
		if dayText == "" {
			skip(MissingField, "day is empty")
			continue
		}
		weekday, ok := MatchWeekday(dayText)
		if !ok {
			skip(UnknownDay, fmt.Sprintf("no weekday in %q", dayText))
			continue
		}
		// a weekday earlier than the previous valid row starts a new week
		if prev >= 0 && weekday < prev {
			week++
		}
		prev = weekday

		timeText := strings.TrimSpace(raw.Time)
		if timeText == "" {
			skip(MissingField, "time is empty")
			continue
		}
		start, end, err := ParseTimeRange(timeText)
		if err != nil {
			skip(UnparsableTime, err.Error())
			continue
		}

		rooms := SplitRooms(raw.Room)
		if len(rooms) == 0 {
			skip(MissingField, "room is empty")
			continue
		}
		label := DayLabel(weekday, week)
		for _, room := range rooms {
			pending = append(pending, pendingTask{
				row:     rowNum,
				label:   label,
				weekday: weekday,
				week:    week,
				start:   start,
				end:     end,
				room:    room,
				subject: strings.TrimSpace(raw.Subject),
			})
		}
	}

	sched.Tasks = buildTasks(pending, opts)
	sched.Days, sched.Rooms, sched.Weeks = summarize(sched.Tasks)
	return sched, nil
}

// SplitRooms expands "301-303" or "301, 303" into individual rooms. A dash separates rooms; it
// never denotes a numeric range.
func SplitRooms(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '-' || r == ';' || r == '\n'
	})
	rooms := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		room := strings.TrimSpace(p)
		if room == "" {
			continue
		}
		if _, dup := seen[room]; dup {
			continue
		}
		seen[room] = struct{}{}
		rooms = append(rooms, room)
	}
	return rooms
}

func buildTasks(pending []pendingTask, opts Options) []models.ExamTask {
	weeks := make(map[int]struct{})
	var order []string
	byLabel := make(map[string][]pendingTask)
	for _, p := range pending {
		weeks[p.week] = struct{}{}
		if _, ok := byLabel[p.label]; !ok {
			order = append(order, p.label)
		}
		byLabel[p.label] = append(byLabel[p.label], p)
	}

	latestRule := opts.Labeling == LabelingLatestTask ||
		(opts.Labeling == LabelingAuto && len(weeks) >= 2)

	tasks := make([]models.ExamTask, 0, len(pending))
	for _, label := range order {
		group := byLabel[label]
		earliest, latest := group[0].start, group[0].start
		for _, p := range group[1:] {
			earliest = min(earliest, p.start)
			latest = max(latest, p.start)
		}
		for _, p := range group {
			session := models.SessionNormal
			if p.start == earliest {
				session = models.SessionMorning
			}
			if latestRule && p.start == latest {
				session = models.SessionEvening
			}
			if !latestRule && p.start >= opts.EveningThreshold {
				session = models.SessionEvening
			}
			tasks = append(tasks, models.ExamTask{
				ID:       len(tasks),
				Row:      p.row,
				DayLabel: p.label,
				Weekday:  p.weekday,
				Week:     p.week,
				Start:    p.start,
				End:      p.end,
				Duration: p.end - p.start,
				Room:     p.room,
				Subject:  p.subject,
				Session:  session,
				SlotKey:  p.label + "_" + strconv.Itoa(p.start),
			})
		}
	}
	return tasks
}

func summarize(tasks []models.ExamTask) ([]string, []string, int) {
	days := make([]string, 0)
	rooms := make([]string, 0)
	seenDay := make(map[string]struct{})
	seenRoom := make(map[string]struct{})
	weeks := 0
	for _, t := range tasks {
		if _, ok := seenDay[t.DayLabel]; !ok {
			seenDay[t.DayLabel] = struct{}{}
			days = append(days, t.DayLabel)
		}
		if _, ok := seenRoom[t.Room]; !ok {
			seenRoom[t.Room] = struct{}{}
			rooms = append(rooms, t.Room)
		}
		weeks = max(weeks, t.Week)
	}
	sort.Strings(rooms)
	return days, rooms, weeks
}

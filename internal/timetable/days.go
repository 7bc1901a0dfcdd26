package timetable

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Weekday indexes run Monday=0 .. Sunday=6.
var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

type dayName struct {
	folded string
	index  int
}

// dayNames is matched by substring, longest first, so PAZARTESI wins over PAZAR and CUMARTESI
// over CUMA.
var dayNames = func() []dayName {
	names := []dayName{
		{"MONDAY", 0}, {"TUESDAY", 1}, {"WEDNESDAY", 2}, {"THURSDAY", 3},
		{"FRIDAY", 4}, {"SATURDAY", 5}, {"SUNDAY", 6},
		{"PAZARTESI", 0}, {"SALI", 1}, {"CARSAMBA", 2}, {"PERSEMBE", 3},
		{"CUMA", 4}, {"CUMARTESI", 5}, {"PAZAR", 6},
	}
	sort.SliceStable(names, func(i, j int) bool {
		return len(names[i].folded) > len(names[j].folded)
	})
	return names
}()

// Abbreviations only match as whole words.
var dayAbbreviations = map[string]int{
	"MON": 0, "TUE": 1, "TUES": 1, "WED": 2, "THU": 3, "THUR": 3, "THURS": 3,
	"FRI": 4, "SAT": 5, "SUN": 6,
}

// foldDay strips diacritics and upper-cases s so Turkish and English spellings compare equal.
func foldDay(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	// dotless i has no decomposition
	folded = strings.ReplaceAll(folded, "ı", "i")
	return cases.Upper(language.Und).String(folded)
}

// MatchWeekday resolves the weekday index named in text.
func MatchWeekday(text string) (int, bool) {
	folded := foldDay(text)
	if folded == "" {
		return 0, false
	}
	for _, name := range dayNames {
		if strings.Contains(folded, name.folded) {
			return name.index, true
		}
	}
	words := strings.FieldsFunc(folded, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if idx, ok := dayAbbreviations[w]; ok {
			return idx, true
		}
	}
	return 0, false
}

// DayLabel renders a weekday and week number, e.g. "Tuesday (1st week)".
func DayLabel(weekday, week int) string {
	return fmt.Sprintf("%s (%s week)", weekdayNames[weekday], ordinal(week))
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

package timetable

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchWeekday(t *testing.T) {
	cases := map[string]int{
		"Monday":              0,
		"tuesday 12.03":       1,
		"PAZARTESİ":           0,
		"Salı":                1,
		"SALI (1. Hafta)":     1,
		"Çarşamba":            2,
		"PERŞEMBE":            3,
		"Cuma":                4,
		"CUMARTESİ":           5,
		"Pazar":               6,
		"Fri 14 June":         4,
		"sunday morning exam": 6,
	}
	for text, want := range cases {
		got, ok := MatchWeekday(text)
		require.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}

	for _, text := range []string{"", "Blursday", "Monument"} {
		_, ok := MatchWeekday(text)
		assert.False(t, ok, text)
	}
}

func TestDayLabelOrdinals(t *testing.T) {
	assert.Equal(t, "Tuesday (1st week)", DayLabel(1, 1))
	assert.Equal(t, "Sunday (2nd week)", DayLabel(6, 2))
	assert.Equal(t, "Monday (3rd week)", DayLabel(0, 3))
	assert.Equal(t, "Monday (4th week)", DayLabel(0, 4))
	assert.Equal(t, "Monday (11th week)", DayLabel(0, 11))
	assert.Equal(t, "Monday (22nd week)", DayLabel(0, 22))
}

func TestParseTimeRange(t *testing.T) {
	cases := []struct {
		text       string
		start, end int
	}{
		{"09:00-10:00", 540, 600},
		{"09.00 - 10.00", 540, 600},
		{"9:00–10:30", 540, 630},
		{"0900-1000", 540, 600},
		{"16:00-21:00", 960, 1260},
		{"13-15", 780, 900},
		{"23:00-24:00", 1380, 1440},
	}
	for _, tc := range cases {
		start, end, err := ParseTimeRange(tc.text)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.start, start, tc.text)
		assert.Equal(t, tc.end, end, tc.text)
	}

	for _, text := range []string{"", "morning", "09:00", "10:00-09:00", "25:00-26:00", "09:75-10:00", "12345-1"} {
		_, _, err := ParseTimeRange(text)
		assert.Error(t, err, text)
	}
}

func TestParseClock(t *testing.T) {
	for text, want := range map[string]int{"16:00": 960, "8.30": 510, "1745": 1065, "9": 540} {
		got, err := ParseClock(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}
	for _, text := range []string{"", "evening", "25:00", "10:00-11:00"} {
		_, err := ParseClock(text)
		assert.Error(t, err, text)
	}
}

func TestSplitRooms(t *testing.T) {
	assert.Equal(t, []string{"301", "303"}, SplitRooms("301-303"))
	assert.Equal(t, []string{"301", "303", "Lab"}, SplitRooms(" 301 , 303 ; Lab "))
	assert.Equal(t, []string{"301"}, SplitRooms("301,301"))
	assert.Empty(t, SplitRooms(" - , "))
}

func TestLoadCSVTurkishHeaders(t *testing.T) {
	input := "\ufeffGÜN;SAAT;SINAV YERİ;DERSLER\n" +
		"PAZARTESİ;09.00-10.00;301-303;Matematik\n" +
		"Salı;16:00-17:00;304;Fizik\n"

	rows, err := LoadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, RawRow{Row: 2, Day: "PAZARTESİ", Time: "09.00-10.00", Room: "301-303", Subject: "Matematik"}, rows[0])
	assert.Equal(t, 3, rows[1].Row)

	sched, err := Normalize(rows, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, sched.Tasks, 3)
	assert.Equal(t, "Monday (1st week)", sched.Tasks[0].DayLabel)
	assert.Equal(t, "Tuesday (1st week)", sched.Tasks[2].DayLabel)
}

func TestLoadCSVEnglishHeaders(t *testing.T) {
	input := "Day,Time,Room,Subject,Notes\n" +
		"Monday,09:00-10:00,\"101, 102\",Math,bring ids\n"

	rows, err := LoadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "101, 102", rows[0].Room)
	assert.Equal(t, "Math", rows[0].Subject)
}

func TestLoadCSVMissingColumns(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("Day,Subject\nMonday,Math\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumns))

	_, err = LoadCSV(strings.NewReader("  \n"))
	assert.True(t, errors.Is(err, ErrMissingColumns))
}

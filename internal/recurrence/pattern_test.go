package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var farHorizon = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func starts(occ []Occurrence) []time.Time {
	out := make([]time.Time, len(occ))
	for i, o := range occ {
		out[i] = o.Start
	}
	return out
}

func normalized(t *testing.T, s Series) Series {
	t.Helper()
	require.NoError(t, s.Normalize())
	return s
}

func TestExpandWeeklyMondays(t *testing.T) {
	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Weekly, DaysOfWeek: []time.Weekday{time.Monday}},
		StartAt:        utc(2026, 3, 2, 9),
		MaxOccurrences: 10,
	})

	occ, exhausted, err := s.Expand(farHorizon)
	require.NoError(t, err)
	require.Len(t, occ, 10)
	assert.True(t, exhausted)
	for i, o := range occ {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, utc(2026, 3, 2, 9).AddDate(0, 0, 7*i), o.Start)
	}

	again, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Equal(t, occ, again)
}

func TestExpandRespectsCursorAndHorizon(t *testing.T) {
	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Weekly},
		StartAt:        utc(2026, 3, 2, 9),
		MaxOccurrences: 10,
	})

	occ, exhausted, err := s.Expand(utc(2026, 3, 20, 0))
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, []time.Time{utc(2026, 3, 2, 9), utc(2026, 3, 9, 9), utc(2026, 3, 16, 9)}, starts(occ))

	s.GeneratedCount = 8
	occ, exhausted, err = s.Expand(farHorizon)
	require.NoError(t, err)
	assert.True(t, exhausted)
	require.Len(t, occ, 2)
	assert.Equal(t, 8, occ[0].Index)
	assert.Equal(t, 9, occ[1].Index)
}

func TestExpandEndDateIsInclusive(t *testing.T) {
	end := utc(2026, 3, 16, 0)
	s := normalized(t, Series{
		Pattern: Pattern{Frequency: Weekly},
		StartAt: utc(2026, 3, 2, 9),
		EndDate: &end,
	})

	occ, exhausted, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, []time.Time{utc(2026, 3, 2, 9), utc(2026, 3, 9, 9), utc(2026, 3, 16, 9)}, starts(occ))
}

func TestExpandWeeklyInterval(t *testing.T) {
	s := normalized(t, Series{
		Pattern: Pattern{
			Frequency:  Weekly,
			Interval:   2,
			DaysOfWeek: []time.Weekday{time.Friday, time.Monday, time.Wednesday},
		},
		StartAt:        utc(2026, 3, 4, 9),
		MaxOccurrences: 5,
	})

	occ, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2026, 3, 4, 9), utc(2026, 3, 6, 9),
		utc(2026, 3, 16, 9), utc(2026, 3, 18, 9), utc(2026, 3, 20, 9),
	}, starts(occ))
}

func TestExpandDaily(t *testing.T) {
	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Daily, Interval: 3},
		StartAt:        utc(2026, 2, 26, 14),
		MaxOccurrences: 4,
	})

	occ, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2026, 2, 26, 14), utc(2026, 3, 1, 14), utc(2026, 3, 4, 14), utc(2026, 3, 7, 14),
	}, starts(occ))
}

func TestExpandMonthlySkipsShortMonths(t *testing.T) {
	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Monthly},
		StartAt:        utc(2026, 1, 31, 10),
		MaxOccurrences: 3,
	})
	assert.Equal(t, 31, s.Pattern.DayOfMonth)

	occ, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utc(2026, 1, 31, 10), utc(2026, 3, 31, 10), utc(2026, 5, 31, 10)}, starts(occ))
	for i, o := range occ {
		assert.Equal(t, i, o.Index)
	}
}

func TestExpandMonthlyLastWeekday(t *testing.T) {
	s := normalized(t, Series{
		Pattern: Pattern{
			Frequency:   Monthly,
			DaysOfWeek:  []time.Weekday{time.Friday},
			WeekOfMonth: LastWeek,
		},
		StartAt:        utc(2026, 1, 1, 15),
		MaxOccurrences: 3,
	})

	occ, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utc(2026, 1, 30, 15), utc(2026, 2, 27, 15), utc(2026, 3, 27, 15)}, starts(occ))
}

func TestExpandKeepsLocalTimeAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Weekly},
		StartAt:        time.Date(2026, 3, 2, 9, 0, 0, 0, ny),
		TimeZone:       "America/New_York",
		MaxOccurrences: 2,
	})

	occ, _, err := s.Expand(farHorizon)
	require.NoError(t, err)
	require.Len(t, occ, 2)
	for _, o := range occ {
		assert.Equal(t, 9, o.Start.In(ny).Hour())
	}
	assert.Equal(t, 14, occ[0].Start.UTC().Hour())
	assert.Equal(t, 13, occ[1].Start.UTC().Hour())
}

func TestExpandCapsOccurrences(t *testing.T) {
	s := normalized(t, Series{
		Pattern:        Pattern{Frequency: Daily},
		StartAt:        utc(2026, 1, 1, 9),
		MaxOccurrences: 500,
	})
	assert.Equal(t, MaxOccurrencesCap, s.MaxOccurrences)

	occ, exhausted, err := s.Expand(farHorizon)
	require.NoError(t, err)
	assert.Len(t, occ, MaxOccurrencesCap)
	assert.True(t, exhausted)
}

func TestNormalizeRejectsInvalidPatterns(t *testing.T) {
	start := utc(2026, 3, 2, 9)
	before := start.Add(-48 * time.Hour)

	tests := []struct {
		name   string
		series Series
		want   error
	}{
		{"no start", Series{Pattern: Pattern{Frequency: Daily}}, ErrInvalidPattern},
		{"unknown frequency", Series{Pattern: Pattern{Frequency: "YEARLY"}, StartAt: start}, ErrInvalidPattern},
		{"negative interval", Series{Pattern: Pattern{Frequency: Daily, Interval: -1}, StartAt: start}, ErrInvalidPattern},
		{"bad weekday", Series{Pattern: Pattern{Frequency: Weekly, DaysOfWeek: []time.Weekday{9}}, StartAt: start}, ErrInvalidPattern},
		{"week of month out of range", Series{Pattern: Pattern{Frequency: Monthly, WeekOfMonth: 5, DaysOfWeek: []time.Weekday{time.Monday}}, StartAt: start}, ErrInvalidPattern},
		{"week of month needs one weekday", Series{Pattern: Pattern{Frequency: Monthly, WeekOfMonth: 2}, StartAt: start}, ErrInvalidPattern},
		{"day and week both set", Series{Pattern: Pattern{Frequency: Monthly, WeekOfMonth: 1, DayOfMonth: 3, DaysOfWeek: []time.Weekday{time.Monday}}, StartAt: start}, ErrInvalidPattern},
		{"day of month out of range", Series{Pattern: Pattern{Frequency: Monthly, DayOfMonth: 32}, StartAt: start}, ErrInvalidPattern},
		{"end before start", Series{Pattern: Pattern{Frequency: Daily}, StartAt: start, EndDate: &before}, ErrInvalidPattern},
		{"unknown zone", Series{Pattern: Pattern{Frequency: Daily}, StartAt: start, TimeZone: "Mars/Olympus"}, ErrUnknownTimeZone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.series
			assert.ErrorIs(t, s.Normalize(), tt.want)
		})
	}
}

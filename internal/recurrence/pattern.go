package recurrence

import (
	"fmt"
	"sort"
	"time"
)

// maxPeriods stops pathological patterns (day 31 every 12 months starting
// in a short month, for example) from looping forever.
const maxPeriods = 5000

func (s *Series) location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimeZone, s.TimeZone)
	}
	return loc, nil
}

// Normalize fills defaults from StartAt and validates the pattern.
func (s *Series) Normalize() error {
	if s.StartAt.IsZero() {
		return fmt.Errorf("%w: start_at is required", ErrInvalidPattern)
	}
	loc, err := s.location()
	if err != nil {
		return err
	}
	local := s.StartAt.In(loc)

	p := &s.Pattern
	if p.Interval == 0 {
		p.Interval = 1
	}
	if p.Interval < 1 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidPattern)
	}
	for _, d := range p.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d", ErrInvalidPattern, d)
		}
	}

	switch p.Frequency {
	case Daily:
	case Weekly:
		if len(p.DaysOfWeek) == 0 {
			p.DaysOfWeek = []time.Weekday{local.Weekday()}
		}
		p.DaysOfWeek = sortedWeekdays(p.DaysOfWeek)
	case Monthly:
		switch {
		case p.WeekOfMonth != 0:
			if p.WeekOfMonth != LastWeek && (p.WeekOfMonth < 1 || p.WeekOfMonth > 4) {
				return fmt.Errorf("%w: week_of_month must be 1-4 or -1", ErrInvalidPattern)
			}
			if len(p.DaysOfWeek) != 1 {
				return fmt.Errorf("%w: week_of_month needs exactly one weekday", ErrInvalidPattern)
			}
			if p.DayOfMonth != 0 {
				return fmt.Errorf("%w: day_of_month and week_of_month are exclusive", ErrInvalidPattern)
			}
		case p.DayOfMonth == 0:
			p.DayOfMonth = local.Day()
		case p.DayOfMonth < 1 || p.DayOfMonth > 31:
			return fmt.Errorf("%w: day_of_month must be 1-31", ErrInvalidPattern)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidPattern, p.Frequency)
	}

	if s.MaxOccurrences <= 0 || s.MaxOccurrences > MaxOccurrencesCap {
		s.MaxOccurrences = MaxOccurrencesCap
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartAt) {
		return fmt.Errorf("%w: end_date before start_at", ErrInvalidPattern)
	}
	return nil
}

// mondayIndex orders weekdays Monday first.
func mondayIndex(d time.Weekday) int { return (int(d) + 6) % 7 }

func sortedWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return mondayIndex(out[i]) < mondayIndex(out[j]) })
	return out
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nthWeekday returns the day of month of the n-th (or last, n == -1)
// weekday wd, or 0 when the month has no such day.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) int {
	if n == LastWeek {
		last := daysIn(year, month)
		lastWd := time.Date(year, month, last, 0, 0, 0, 0, time.UTC).Weekday()
		return last - (int(lastWd)-int(wd)+7)%7
	}
	firstWd := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
	day := 1 + (int(wd)-int(firstWd)+7)%7 + (n-1)*7
	if day > daysIn(year, month) {
		return 0
	}
	return day
}

// walk calls fn with every candidate local start in chronological order,
// beginning at StartAt, until fn returns false or maxPeriods is reached.
// It reports whether it stopped because of maxPeriods.
func (s *Series) walk(loc *time.Location, fn func(time.Time) bool) bool {
	first := s.StartAt.In(loc)
	hh, mm, ss := first.Clock()
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hh, mm, ss, 0, loc)
	}
	emit := func(t time.Time) bool {
		if t.Before(first) {
			return true
		}
		return fn(t)
	}

	p := s.Pattern
	y, m, d := first.Date()
	for k := 0; k < maxPeriods; k++ {
		switch p.Frequency {
		case Daily:
			if !emit(at(y, m, d+k*p.Interval)) {
				return false
			}
		case Weekly:
			weekStart := d - mondayIndex(first.Weekday()) + k*p.Interval*7
			for _, wd := range p.DaysOfWeek {
				if !emit(at(y, m, weekStart+mondayIndex(wd))) {
					return false
				}
			}
		case Monthly:
			month := time.Date(y, m+time.Month(k*p.Interval), 1, 0, 0, 0, 0, loc)
			my, mon := month.Year(), month.Month()
			day := p.DayOfMonth
			if p.WeekOfMonth != 0 {
				day = nthWeekday(my, mon, p.DaysOfWeek[0], p.WeekOfMonth)
			}
			if day == 0 || day > daysIn(my, mon) {
				continue
			}
			if !emit(at(my, mon, day)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Expand returns the positions at or after the generation cursor that start
// before horizon. exhausted is true when the series bound was reached, so
// nothing exists beyond the returned positions.
func (s *Series) Expand(horizon time.Time) (occurrences []Occurrence, exhausted bool, err error) {
	loc, err := s.location()
	if err != nil {
		return nil, false, err
	}
	max := s.MaxOccurrences
	if max <= 0 || max > MaxOccurrencesCap {
		max = MaxOccurrencesCap
	}
	var endDay time.Time
	if s.EndDate != nil {
		ey, em, ed := s.EndDate.In(loc).Date()
		endDay = time.Date(ey, em, ed+1, 0, 0, 0, 0, loc)
	}

	index := 0
	capped := s.walk(loc, func(t time.Time) bool {
		if index >= max || (!endDay.IsZero() && !t.Before(endDay)) {
			exhausted = true
			return false
		}
		if !t.Before(horizon) {
			return false
		}
		if index >= s.GeneratedCount {
			occurrences = append(occurrences, Occurrence{Index: index, Start: t})
		}
		index++
		return true
	})
	if capped {
		exhausted = true
	}
	return occurrences, exhausted, nil
}

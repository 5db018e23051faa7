package waitlist

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

const minutesPerDay = 24 * 60

func (w Window) validate() error {
	if w.EarliestMinute < 0 || w.EarliestMinute >= minutesPerDay {
		return fmt.Errorf("%w: earliest_minute out of range", ErrInvalidWindow)
	}
	if w.LatestMinute < 0 || w.LatestMinute > minutesPerDay {
		return fmt.Errorf("%w: latest_minute out of range", ErrInvalidWindow)
	}
	if w.LatestMinute != 0 && w.LatestMinute <= w.EarliestMinute {
		return fmt.Errorf("%w: latest_minute must be after earliest_minute", ErrInvalidWindow)
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d", ErrInvalidWindow, d)
		}
	}
	if w.From != nil && w.To != nil && w.To.Before(*w.From) {
		return fmt.Errorf("%w: to before from", ErrInvalidWindow)
	}
	return nil
}

// covers reports whether the whole slot falls inside the window on the
// slot's local day.
func (w Window) covers(start, end time.Time, loc *time.Location) bool {
	if w.From != nil && start.Before(*w.From) {
		return false
	}
	if w.To != nil && end.After(*w.To) {
		return false
	}

	ls, le := start.In(loc), end.In(loc)
	if len(w.Days) > 0 {
		found := false
		for _, d := range w.Days {
			if d == ls.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	startMin := ls.Hour()*60 + ls.Minute()
	endMin := startMin + int(le.Sub(ls)/time.Minute)
	latest := w.LatestMinute
	if latest == 0 {
		latest = minutesPerDay
	}
	return startMin >= w.EarliestMinute && endMin <= latest
}

// Matches reports whether the entry wants this opening at time now.
func (e *Entry) Matches(o Opening, now time.Time, loc *time.Location) bool {
	if e.Status != EntryActive || !now.Before(e.ExpiresAt) {
		return false
	}
	if e.ProviderID != nil && *e.ProviderID != o.ProviderID {
		return false
	}
	if e.AppointmentTypeID != nil && *e.AppointmentTypeID != o.AppointmentTypeID {
		return false
	}
	if len(e.Windows) == 0 {
		return true
	}
	for _, w := range e.Windows {
		if w.covers(o.Start, o.End, loc) {
			return true
		}
	}
	return false
}

// Rank orders entries by priority tier, then oldest first. The ID breaks
// exact ties so the order is total.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Priority.Rank(), entries[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return bytes.Compare(entries[i].ID[:], entries[j].ID[:]) < 0
	})
}

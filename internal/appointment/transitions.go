package appointment

import (
	"fmt"

	"github.com/hackgods/scheduling-core/internal/events"
)

type Event string

const (
	EventConfirm  Event = "confirm"
	EventCheckIn  Event = "check_in"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventNoShow   Event = "no_show"

	// EventReschedule is not a status change; it is only valid while the
	// appointment has not been checked in.
	EventReschedule Event = "reschedule"
)

type transition struct {
	from []Status
	to   Status
}

var nonTerminal = []Status{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress}

var transitions = map[Event]transition{
	EventConfirm:  {from: []Status{StatusScheduled}, to: StatusConfirmed},
	EventCheckIn:  {from: []Status{StatusScheduled, StatusConfirmed}, to: StatusCheckedIn},
	EventStart:    {from: []Status{StatusCheckedIn}, to: StatusInProgress},
	EventComplete: {from: []Status{StatusInProgress}, to: StatusCompleted},
	EventCancel:   {from: nonTerminal, to: StatusCancelled},
	EventNoShow:   {from: nonTerminal, to: StatusNoShow},
}

// Next returns the status reached from `from` on ev.
func Next(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return "", &TransitionError{From: from, Event: ev}
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return "", &TransitionError{From: from, Event: ev}
}

func ParseEvent(raw string) (Event, error) {
	ev := Event(raw)
	if _, ok := transitions[ev]; !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, raw)
	}
	return ev, nil
}

func reschedulable(s Status) bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func domainEventFor(ev Event) events.Type {
	switch ev {
	case EventConfirm:
		return events.TypeConfirmed
	case EventCheckIn:
		return events.TypeCheckedIn
	case EventStart:
		return events.TypeStarted
	case EventComplete:
		return events.TypeCompleted
	case EventCancel:
		return events.TypeCancelled
	case EventNoShow:
		return events.TypeNoShow
	case EventReschedule:
		return events.TypeRescheduled
	}
	return events.Type(ev)
}

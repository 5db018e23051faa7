package risk

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-core/internal/appointment"
)

const (
	noShowWeight        = 10.0
	noShowCap           = 30.0
	cancellationWeight  = 5.0
	cancellationCap     = 20.0
	consecutiveWeight   = 12.5
	consecutiveCap      = 25.0
	inactivityCap       = 25.0
	completionDiscount  = 0.3
	defaultBaselineDays = 90
)

// Inputs are the behavioural counts a score is computed from.
type Inputs struct {
	Completed         int
	NoShows           int
	Cancellations     int
	ConsecutiveMisses int
	LastCompleted     *time.Time
}

// InputsFromHistory reduces a patient's appointments and cancellations to
// scoring inputs. Practice-initiated cancellations do not count against the
// patient. The consecutive run counts no-shows and late cancellations back
// from the most recent appointment until a completed visit.
func InputsFromHistory(h *appointment.History) Inputs {
	var in Inputs
	cancelType := make(map[uuid.UUID]appointment.CancellationType, len(h.Cancellations))
	for _, c := range h.Cancellations {
		cancelType[c.AppointmentID] = c.Type
		if c.Type == appointment.CancellationVoluntary || c.Type == appointment.CancellationLate {
			in.Cancellations++
		}
	}

	appts := make([]appointment.Appointment, len(h.Appointments))
	copy(appts, h.Appointments)
	sort.Slice(appts, func(i, j int) bool { return appts[i].Start.After(appts[j].Start) })

	streakOpen := true
	for _, a := range appts {
		switch a.Status {
		case appointment.StatusCompleted:
			in.Completed++
			if in.LastCompleted == nil {
				end := a.End
				in.LastCompleted = &end
			}
			streakOpen = false
		case appointment.StatusNoShow:
			in.NoShows++
			if streakOpen {
				in.ConsecutiveMisses++
			}
		case appointment.StatusCancelled:
			if streakOpen && cancelType[a.ID] == appointment.CancellationLate {
				in.ConsecutiveMisses++
			}
		}
	}
	return in
}

// Compute applies the weighted, capped factors and the completion discount.
// The score is clamped to [0,100] and rounded to one decimal.
func Compute(in Inputs, now time.Time, baselineDays int) (float64, Factors) {
	if baselineDays <= 0 {
		baselineDays = defaultBaselineDays
	}
	f := Factors{
		NoShows:           in.NoShows,
		Cancellations:     in.Cancellations,
		ConsecutiveMisses: in.ConsecutiveMisses,
		Completed:         in.Completed,
	}

	f.NoShowPoints = math.Min(noShowCap, noShowWeight*float64(in.NoShows))
	f.CancellationPoints = math.Min(cancellationCap, cancellationWeight*float64(in.Cancellations))
	f.ConsecutiveMissPoints = math.Min(consecutiveCap, consecutiveWeight*float64(in.ConsecutiveMisses))

	if in.LastCompleted != nil {
		days := int(now.Sub(*in.LastCompleted).Hours() / 24)
		if days < 0 {
			days = 0
		}
		f.DaysSinceLastVisit = days
		if over := days - baselineDays; over > 0 {
			f.InactivityPoints = math.Min(inactivityCap, float64(over)*inactivityCap/float64(baselineDays))
		}
	}

	if total := in.Completed + in.NoShows; total > 0 {
		f.CompletionRate = float64(in.Completed) / float64(total)
	}
	f.CompletionReduction = f.CompletionRate * completionDiscount

	raw := (f.NoShowPoints + f.CancellationPoints + f.ConsecutiveMissPoints + f.InactivityPoints) * (1 - f.CompletionReduction)
	score := math.Round(math.Max(0, math.Min(100, raw))*10) / 10
	return score, f
}

package risk

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSnapshotNotFound = errors.New("risk snapshot not found")

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Thresholds are the lower bounds of MEDIUM, HIGH and CRITICAL.
type Thresholds [3]float64

var DefaultThresholds = Thresholds{30, 60, 80}

func (t Thresholds) Level(score float64) Level {
	switch {
	case score >= t[2]:
		return LevelCritical
	case score >= t[1]:
		return LevelHigh
	case score >= t[0]:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Factors is the scoring breakdown. Point fields are already capped.
type Factors struct {
	NoShows            int     `json:"no_shows"`
	Cancellations      int     `json:"cancellations"`
	ConsecutiveMisses  int     `json:"consecutive_misses"`
	Completed          int     `json:"completed"`
	DaysSinceLastVisit int     `json:"days_since_last_visit"`
	CompletionRate     float64 `json:"completion_rate"`

	NoShowPoints          float64 `json:"no_show_points"`
	CancellationPoints    float64 `json:"cancellation_points"`
	ConsecutiveMissPoints float64 `json:"consecutive_miss_points"`
	InactivityPoints      float64 `json:"inactivity_points"`
	CompletionReduction   float64 `json:"completion_reduction"`
}

// Snapshot is one computed score. Snapshots are never updated; a newer one
// supersedes it. The level is derived on read.
type Snapshot struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Score      float64   `json:"score"`
	Factors    Factors   `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}

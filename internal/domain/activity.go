// Package domain holds the documents that flow through the sync pipeline.
package domain

import "time"

// Collection names used by the document store.
const (
	CollectionActivities    = "activities"
	CollectionStreams       = "streams"
	CollectionUsers         = "users"
	CollectionNotifications = "notifications"
)

// Activity is a single workout as stored in the activities collection.
type Activity struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type,omitempty"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone,omitempty"`
	Distance           float64   `json:"distance"`
	MovingTime         float64   `json:"moving_time"`
	ElapsedTime        float64   `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageHeartrate   float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate       float64   `json:"max_heartrate,omitempty"`
	HasHeartrate       bool      `json:"has_heartrate"`
	AverageCadence     float64   `json:"average_cadence,omitempty"`
	Calories           float64   `json:"calories,omitempty"`
	Description        string    `json:"description,omitempty"`
	DeviceName         string    `json:"device_name,omitempty"`
	GearID             string    `json:"gear_id,omitempty"`
	Manual             bool      `json:"manual"`
	Trainer            bool      `json:"trainer"`
	Laps               []Lap     `json:"laps,omitempty"`
	BestEfforts        []Lap     `json:"best_efforts,omitempty"`

	FullData               bool `json:"full_data"`
	CustomFieldsCalculated bool `json:"custom_fields_calculated"`

	HRReserve       *float64        `json:"hr_reserve"`
	PaceReserve     *float64        `json:"pace_reserve"`
	HRTrimp         *float64        `json:"hr_trimp"`
	PaceTrimp       *float64        `json:"pace_trimp"`
	HRMaxPercentage *float64        `json:"hr_max_percentage"`
	VO2MaxEstimate  *VO2MaxEstimate `json:"vo2max_estimate"`

	UserInput UserInput `json:"user_input"`
}

// Lap is a sub-range of an activity. Best efforts share the same shape.
type Lap struct {
	Name             string    `json:"name,omitempty"`
	StartDate        time.Time `json:"start_date"`
	StartDateLocal   time.Time `json:"start_date_local"`
	ElapsedTime      float64   `json:"elapsed_time"`
	MovingTime       float64   `json:"moving_time"`
	Distance         float64   `json:"distance"`
	AverageSpeed     float64   `json:"average_speed"`
	AverageHeartrate float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate     float64   `json:"max_heartrate,omitempty"`
	StartIndex       *int      `json:"start_index,omitempty"`
	EndIndex         *int      `json:"end_index,omitempty"`

	HRReserve   *float64 `json:"hr_reserve"`
	PaceReserve *float64 `json:"pace_reserve"`
	HRTrimp     *float64 `json:"hr_trimp"`
	PaceTrimp   *float64 `json:"pace_trimp"`
}

// VO2MaxEstimate groups the outputs of the VO2max estimation.
type VO2MaxEstimate struct {
	WorkoutVO2Max    float64  `json:"workout_vo2_max"`
	VO2MaxPercentage *float64 `json:"vo2_max_percentage"`
	EstimatedVO2Max  *float64 `json:"estimated_vo2_max"`
}

// UserInput carries fields edited by the athlete. The pipeline never overwrites them.
type UserInput struct {
	IncludeInVO2MaxEstimate bool     `json:"include_in_vo2max_estimate"`
	Tags                    []string `json:"tags"`
	Notes                   string   `json:"notes"`
}

// DefaultUserInput returns the user input assigned to freshly ingested activities.
func DefaultUserInput() UserInput {
	return UserInput{IncludeInVO2MaxEstimate: true, Tags: []string{}}
}

// ResetDerived clears every computed field on the activity and its laps.
func (a *Activity) ResetDerived() {
	a.HRReserve = nil
	a.PaceReserve = nil
	a.HRTrimp = nil
	a.PaceTrimp = nil
	a.HRMaxPercentage = nil
	a.VO2MaxEstimate = nil
	a.CustomFieldsCalculated = false
	for i := range a.Laps {
		a.Laps[i].resetDerived()
	}
	for i := range a.BestEfforts {
		a.BestEfforts[i].resetDerived()
	}
}

func (l *Lap) resetDerived() {
	l.HRReserve = nil
	l.PaceReserve = nil
	l.HRTrimp = nil
	l.PaceTrimp = nil
}

// PreserveFrom carries state that must survive a re-enrichment from the stored
// copy of the same activity: the athlete's input and, once calculated, the
// derived metrics together with their flag.
func (a *Activity) PreserveFrom(prev Activity) {
	a.UserInput = prev.UserInput
	if prev.FullData {
		a.FullData = true
	}
	if !prev.CustomFieldsCalculated {
		return
	}
	a.CustomFieldsCalculated = true
	a.HRReserve = prev.HRReserve
	a.PaceReserve = prev.PaceReserve
	a.HRTrimp = prev.HRTrimp
	a.PaceTrimp = prev.PaceTrimp
	a.HRMaxPercentage = prev.HRMaxPercentage
	a.VO2MaxEstimate = prev.VO2MaxEstimate
	if len(prev.Laps) != len(a.Laps) {
		return
	}
	for i := range a.Laps {
		a.Laps[i].StartIndex = prev.Laps[i].StartIndex
		a.Laps[i].EndIndex = prev.Laps[i].EndIndex
		a.Laps[i].AverageHeartrate = prev.Laps[i].AverageHeartrate
		a.Laps[i].HRReserve = prev.Laps[i].HRReserve
		a.Laps[i].PaceReserve = prev.Laps[i].PaceReserve
		a.Laps[i].HRTrimp = prev.Laps[i].HRTrimp
		a.Laps[i].PaceTrimp = prev.Laps[i].PaceTrimp
	}
}

// Checkpoint identifies the most recent stored activity of a user. Both fields
// are nil when the user has no activities yet, which means a full-history sync.
type Checkpoint struct {
	ID        *string    `json:"id"`
	StartDate *time.Time `json:"start_date"`
}

// IsZero reports whether the checkpoint requests a full-history fetch.
func (c Checkpoint) IsZero() bool {
	return c.ID == nil || c.StartDate == nil
}

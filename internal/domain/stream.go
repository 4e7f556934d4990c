package domain

// StreamChannels lists the channels requested for every activity.
var StreamChannels = []string{
	"time",
	"latlng",
	"distance",
	"altitude",
	"velocity_smooth",
	"heartrate",
	"cadence",
	"moving",
	"grade_smooth",
}

// Stream holds the time-series payload of one activity, keyed by the activity id.
type Stream struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	Time           *Series[float64]    `json:"time,omitempty"`
	Latlng         *Series[[2]float64] `json:"latlng,omitempty"`
	Distance       *Series[float64]    `json:"distance,omitempty"`
	Altitude       *Series[float64]    `json:"altitude,omitempty"`
	VelocitySmooth *Series[float64]    `json:"velocity_smooth,omitempty"`
	Heartrate      *Series[float64]    `json:"heartrate,omitempty"`
	Cadence        *Series[float64]    `json:"cadence,omitempty"`
	Moving         *Series[bool]       `json:"moving,omitempty"`
	GradeSmooth    *Series[float64]    `json:"grade_smooth,omitempty"`
}

// Series is one channel of a stream.
type Series[T any] struct {
	Data         []T    `json:"data"`
	SeriesType   string `json:"series_type,omitempty"`
	OriginalSize int    `json:"original_size,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
}

// TimeData returns the time channel or nil.
func (s *Stream) TimeData() []float64 {
	if s == nil || s.Time == nil {
		return nil
	}
	return s.Time.Data
}

// HeartrateData returns the heart-rate channel or nil.
func (s *Stream) HeartrateData() []float64 {
	if s == nil || s.Heartrate == nil {
		return nil
	}
	return s.Heartrate.Data
}

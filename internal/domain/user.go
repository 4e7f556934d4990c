package domain

// Supported values of UserSettings.Gender.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// UserSettings is the users collection document; its id is the user id.
type UserSettings struct {
	ID        string            `json:"id"`
	DarkMode  string            `json:"dark_mode,omitempty"`
	Gender    string            `json:"gender"`
	HeartRate HeartRateSettings `json:"heart_rate"`
	Pace      PaceSettings      `json:"pace"`
	Strava    StravaAuth        `json:"strava_authentication"`
}

// HeartRateSettings are the athlete's physiological heart-rate values.
type HeartRateSettings struct {
	Max       float64   `json:"max"`
	Resting   float64   `json:"resting"`
	Threshold float64   `json:"threshold"`
	Zones     []float64 `json:"zones,omitempty"`
}

// PaceSettings holds the threshold pace in meters per second.
type PaceSettings struct {
	Threshold float64   `json:"threshold"`
	Zones     []float64 `json:"zones,omitempty"`
}

// StravaAuth is the persisted OAuth state for the external API.
type StravaAuth struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

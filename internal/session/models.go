package session

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Location is a position reading without a timestamp.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

// Coordinate is one server-timestamped sample appended to a session.
type Coordinate struct {
	Location
	Timestamp time.Time `json:"timestamp"`
}

// Session is a trigger session. EndTime is set iff Status is completed.
// Coordinates is only populated by loaders that ask for it; CoordinatesCount
// and LastUpdate are always filled.
type Session struct {
	ID                   string       `json:"id"`
	DeviceID             string       `json:"deviceId"`
	UserID               string       `json:"userId,omitempty"`
	Status               Status       `json:"status"`
	StartTime            time.Time    `json:"startTime"`
	EndTime              *time.Time   `json:"endTime"`
	TriggerStartLocation *Location    `json:"triggerStartLocation"`
	ManualStop           bool         `json:"manualStop"`
	Coordinates          []Coordinate `json:"coordinates,omitempty"`
	CoordinatesCount     int          `json:"coordinatesCount"`
	LastUpdate           *time.Time   `json:"lastUpdate,omitempty"`
}

func (s Session) Active() bool {
	return s.Status == StatusActive
}

// Duration is EndTime - StartTime, never negative. ok is false while active.
func (s Session) Duration() (d time.Duration, ok bool) {
	if s.EndTime == nil {
		return 0, false
	}
	d = s.EndTime.Sub(s.StartTime)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Filter selects sessions for Query. Zero-valued fields are ignored.
type Filter struct {
	UserID   string
	DeviceID string
	Status   Status
	Page     int
	Limit    int
}

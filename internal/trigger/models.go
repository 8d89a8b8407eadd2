package trigger

import (
	"time"

	"github.com/kushagra0333/complete-mitr/internal/session"
)

type StartResult struct {
	SessionID            string            `json:"sessionId"`
	StartTime            time.Time         `json:"startTime"`
	TriggerStartLocation *session.Location `json:"triggerStartLocation"`

	// SMSSent reports that the device had contacts to alert, not that delivery succeeded.
	SMSSent bool `json:"smsSent"`
}

type CoordinateResult struct {
	SessionID        string             `json:"sessionId"`
	CoordinatesCount int                `json:"coordinatesCount"`
	LatestLocation   session.Coordinate `json:"latestLocation"`
}

type StopResult struct {
	SessionID        string    `json:"sessionId"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	CoordinatesCount int       `json:"coordinatesCount"`

	// Duration is EndTime - StartTime in seconds.
	Duration   float64 `json:"duration"`
	DistanceKm float64 `json:"distanceKm"`
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type HistoryPage struct {
	Sessions   []session.Session `json:"sessions"`
	Pagination Pagination        `json:"pagination"`
}

type Details struct {
	session.Session
	Duration   *float64 `json:"duration"`
	DistanceKm float64  `json:"distanceKm"`
}

type DeviceStatus struct {
	IsActive         bool       `json:"isActive"`
	Message          string     `json:"message,omitempty"`
	SessionID        string     `json:"sessionId,omitempty"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	CoordinatesCount *int       `json:"coordinatesCount,omitempty"`
	LastUpdate       *time.Time `json:"lastUpdate,omitempty"`
	UpdateInterval   int        `json:"updateInterval,omitempty"`
}

type EventType string

const (
	EventCoordinate EventType = "coordinate"
	EventStopped    EventType = "stopped"
)

// Event is what live viewers of a session receive.
type Event struct {
	Type             EventType           `json:"type"`
	SessionID        string              `json:"sessionId"`
	DeviceID         string              `json:"deviceId"`
	Coordinate       *session.Coordinate `json:"coordinate,omitempty"`
	CoordinatesCount int                 `json:"coordinatesCount"`
	At               time.Time           `json:"at"`
}

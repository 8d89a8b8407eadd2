package device

import "time"

const DefaultLocationUpdateInterval = 30

type EmergencyContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Device is a registered SOS device. IsTriggered is true iff CurrentSessionID
// references an active trigger session.
type Device struct {
	DeviceID               string             `json:"deviceId"`
	OwnerID                string             `json:"ownerId,omitempty"`
	EmergencyContacts      []EmergencyContact `json:"emergencyContacts"`
	TriggerWords           []string           `json:"triggerWords"`
	IsTriggered            bool               `json:"isTriggered"`
	CurrentSessionID       string             `json:"currentSessionId,omitempty"`
	LocationUpdateInterval int                `json:"locationUpdateInterval"`
	LastActive             time.Time          `json:"lastActive"`
}

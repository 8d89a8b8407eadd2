package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/db"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("device not found")

// Store persists device records.
type Store struct {
	db db.Querier
}

func NewStore(q db.Querier) *Store {
	return &Store{db: q}
}

const deviceColumns = `device_id, owner_id, emergency_contacts, trigger_words, is_triggered,
	current_session_id, location_update_interval, last_active`

func (s *Store) FindByDeviceID(ctx context.Context, deviceID string) (Device, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices WHERE device_id=$1
	`, deviceID)
	return scanDevice(row)
}

// FindOwned returns the device only when it belongs to userID.
func (s *Store) FindOwned(ctx context.Context, deviceID, userID string) (Device, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices WHERE device_id=$1 AND owner_id=$2
	`, deviceID, userID)
	return scanDevice(row)
}

func (s *Store) Save(ctx context.Context, d Device) error {
	contacts, err := json.Marshal(nonNilContacts(d.EmergencyContacts))
	if err != nil {
		return err
	}
	if d.LocationUpdateInterval == 0 {
		d.LocationUpdateInterval = DefaultLocationUpdateInterval
	}
	if d.TriggerWords == nil {
		d.TriggerWords = []string{}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO devices (device_id, owner_id, emergency_contacts, trigger_words, is_triggered,
		                     current_session_id, location_update_interval, last_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (device_id) DO UPDATE
		SET owner_id=EXCLUDED.owner_id, emergency_contacts=EXCLUDED.emergency_contacts,
		    trigger_words=EXCLUDED.trigger_words, is_triggered=EXCLUDED.is_triggered,
		    current_session_id=EXCLUDED.current_session_id,
		    location_update_interval=EXCLUDED.location_update_interval, last_active=EXCLUDED.last_active
	`, d.DeviceID, nullable(d.OwnerID), contacts, d.TriggerWords, d.IsTriggered,
		nullable(d.CurrentSessionID), d.LocationUpdateInterval, d.LastActive)
	return err
}

// ClaimSession points the device at sessionID unless it already references an
// active session. It reports false when the claim lost.
func (s *Store) ClaimSession(ctx context.Context, deviceID, sessionID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE devices
		SET current_session_id=$2, is_triggered=TRUE, last_active=GREATEST(COALESCE(last_active, $3), $3)
		WHERE device_id=$1
		  AND (current_session_id IS NULL OR NOT EXISTS (
		        SELECT 1 FROM trigger_sessions ts
		        WHERE ts.id = devices.current_session_id AND ts.status = 'active'))
	`, deviceID, sessionID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSession clears the current session if it is still sessionID.
func (s *Store) ReleaseSession(ctx context.Context, deviceID, sessionID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE devices
		SET current_session_id=NULL, is_triggered=FALSE, last_active=GREATEST(COALESCE(last_active, $3), $3)
		WHERE device_id=$1 AND current_session_id=$2
	`, deviceID, sessionID, at)
	return err
}

// Touch advances last_active; it never moves it backwards.
func (s *Store) Touch(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE devices SET last_active=GREATEST(COALESCE(last_active, $2), $2)
		WHERE device_id=$1
	`, deviceID, at)
	return err
}

func scanDevice(row pgx.Row) (Device, error) {
	var (
		d         Device
		ownerID   *string
		currentID *string
		contacts  []byte
		lastSeen  *time.Time
	)
	err := row.Scan(&d.DeviceID, &ownerID, &contacts, &d.TriggerWords, &d.IsTriggered,
		&currentID, &d.LocationUpdateInterval, &lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	if ownerID != nil {
		d.OwnerID = *ownerID
	}
	if currentID != nil {
		d.CurrentSessionID = *currentID
	}
	if lastSeen != nil {
		d.LastActive = *lastSeen
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &d.EmergencyContacts); err != nil {
			return Device{}, fmt.Errorf("decode emergency contacts: %w", err)
		}
	}
	d.EmergencyContacts = nonNilContacts(d.EmergencyContacts)
	if d.TriggerWords == nil {
		d.TriggerWords = []string{}
	}
	return d, nil
}

func nonNilContacts(c []EmergencyContact) []EmergencyContact {
	if c == nil {
		return []EmergencyContact{}
	}
	return c
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package trigger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kushagra0333/complete-mitr/internal/device"
	"github.com/kushagra0333/complete-mitr/internal/session"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// History lists the user's sessions newest first, optionally for one device.
func (m *Manager) History(ctx context.Context, userID, deviceID string, page, limit int) (HistoryPage, error) {
	if userID == "" {
		return HistoryPage{}, invalid("user ID is required")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if page > math.MaxInt/limit {
		return HistoryPage{}, invalid("page is out of range")
	}

	sessions, total, err := m.sessions.Query(ctx, session.Filter{UserID: userID, DeviceID: deviceID, Page: page, Limit: limit})
	if err != nil {
		return HistoryPage{}, fmt.Errorf("query sessions: %w", err)
	}
	return HistoryPage{
		Sessions:   sessions,
		Pagination: Pagination{Total: total, Page: page, Limit: limit},
	}, nil
}

// ActiveForUser returns the user's active sessions with their coordinates.
func (m *Manager) ActiveForUser(ctx context.Context, userID string) ([]session.Session, error) {
	if userID == "" {
		return nil, invalid("user ID is required")
	}
	sessions, _, err := m.sessions.Query(ctx, session.Filter{UserID: userID, Status: session.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	for i := range sessions {
		coords, err := m.sessions.Coordinates(ctx, sessions[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load coordinates: %w", err)
		}
		sessions[i].Coordinates = coords
	}
	return sessions, nil
}

// Details returns one of the user's sessions with its full coordinate trail.
func (m *Manager) Details(ctx context.Context, sessionID, userID string) (Details, error) {
	if sessionID == "" {
		return Details{}, invalid("session ID is required")
	}
	sess, err := m.sessions.FindOwned(ctx, sessionID, userID)
	if errors.Is(err, session.ErrNotFound) {
		return Details{}, ErrSessionNotFound
	}
	if err != nil {
		return Details{}, fmt.Errorf("load session: %w", err)
	}
	coords, err := m.sessions.Coordinates(ctx, sessionID)
	if err != nil {
		return Details{}, fmt.Errorf("load coordinates: %w", err)
	}
	sess.Coordinates = coords

	out := Details{Session: sess, DistanceKm: distanceKm(coords)}
	if d, ok := sess.Duration(); ok {
		secs := seconds(d)
		out.Duration = &secs
	}
	return out, nil
}

// StatusForDevice reports whether the user's device is streaming. The active
// index answers when it agrees with the device record; the store is the
// fallback and the authority.
func (m *Manager) StatusForDevice(ctx context.Context, deviceID, userID string) (DeviceStatus, error) {
	if deviceID == "" {
		return DeviceStatus{}, invalid("device ID is required")
	}
	dev, err := m.devices.FindOwned(ctx, deviceID, userID)
	if errors.Is(err, device.ErrNotFound) {
		return DeviceStatus{}, ErrDeviceNotFound
	}
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("load device: %w", err)
	}

	interval := dev.LocationUpdateInterval
	if interval <= 0 {
		interval = device.DefaultLocationUpdateInterval
	}
	inactive := DeviceStatus{IsActive: false, Message: "No active session"}

	if !dev.IsTriggered || dev.CurrentSessionID == "" {
		return inactive, nil
	}

	if e, ok := m.index.Get(deviceID); ok && e.SessionID == dev.CurrentSessionID {
		st := DeviceStatus{
			IsActive:         true,
			SessionID:        e.SessionID,
			StartTime:        &e.StartTime,
			CoordinatesCount: &e.CoordinatesCount,
			UpdateInterval:   interval,
		}
		if e.CoordinatesCount > 0 {
			last := e.LastUpdate
			st.LastUpdate = &last
		}
		return st, nil
	}

	sess, err := m.sessions.FindByID(ctx, dev.CurrentSessionID)
	if errors.Is(err, session.ErrNotFound) {
		return inactive, nil
	}
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Active() {
		return inactive, nil
	}
	count := sess.CoordinatesCount
	start := sess.StartTime
	return DeviceStatus{
		IsActive:         true,
		SessionID:        sess.ID,
		StartTime:        &start,
		CoordinatesCount: &count,
		LastUpdate:       sess.LastUpdate,
		UpdateInterval:   interval,
	}, nil
}

// Package trigger runs the emergency trigger-session lifecycle: starting a
// session for a device, streaming coordinates into it, alerting contacts and
// stopping it, with at most one active session per device.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/device"
	"github.com/kushagra0333/complete-mitr/internal/logging"
	"github.com/kushagra0333/complete-mitr/internal/notify"
	"github.com/kushagra0333/complete-mitr/internal/session"
	"github.com/kushagra0333/complete-mitr/internal/shared/geo"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type DeviceRegistry interface {
	FindByDeviceID(ctx context.Context, deviceID string) (device.Device, error)
	FindOwned(ctx context.Context, deviceID, userID string) (device.Device, error)
	// ClaimSession sets the current session only if the device has no active one.
	ClaimSession(ctx context.Context, deviceID, sessionID string, at time.Time) (bool, error)
	ReleaseSession(ctx context.Context, deviceID, sessionID string, at time.Time) error
	Touch(ctx context.Context, deviceID string, at time.Time) error
}

type SessionStore interface {
	Create(ctx context.Context, s session.Session) (session.Session, error)
	FindByID(ctx context.Context, id string) (session.Session, error)
	FindOwned(ctx context.Context, id, userID string) (session.Session, error)
	FindActiveByDevice(ctx context.Context, deviceID string) (session.Session, error)
	AppendCoordinate(ctx context.Context, sessionID string, c session.Coordinate) (int, error)
	Complete(ctx context.Context, sessionID string, endTime time.Time, manualStop bool) (session.Session, error)
	Coordinates(ctx context.Context, sessionID string) ([]session.Coordinate, error)
	Query(ctx context.Context, f session.Filter) ([]session.Session, int, error)
	ListActive(ctx context.Context) ([]session.Session, error)
}

// Transactor runs fn with a registry and store bound to one atomic unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(DeviceRegistry, SessionStore) error) error
}

type Notifier interface {
	SendEmergencyAlerts(ctx context.Context, contacts []device.EmergencyContact, deviceID string) []notify.Result
}

type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

type Deps struct {
	Devices  DeviceRegistry
	Sessions SessionStore
	Tx       Transactor
	Notifier Notifier
	Index    *ActiveIndex
	Hub      Broadcaster

	// AsyncNotify hands alert dispatch to a background goroutine once the
	// session is committed.
	AsyncNotify bool
	Now         func() time.Time
	Logger      *clog.Logger
}

type Manager struct {
	devices  DeviceRegistry
	sessions SessionStore
	tx       Transactor
	notifier Notifier
	index    *ActiveIndex
	hub      Broadcaster
	async    bool
	now      func() time.Time
	log      *clog.Logger
	locks    *deviceLocks
	pending  sync.WaitGroup
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		devices:  d.Devices,
		sessions: d.Sessions,
		tx:       d.Tx,
		notifier: d.Notifier,
		index:    d.Index,
		hub:      d.Hub,
		async:    d.AsyncNotify,
		now:      d.Now,
		log:      d.Logger,
		locks:    newDeviceLocks(),
	}
	if m.index == nil {
		m.index = NewActiveIndex()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logging.Component("trigger")
	}
	return m
}

// Index exposes the advisory cache for read paths and diagnostics.
func (m *Manager) Index() *ActiveIndex {
	return m.index
}

// Wait blocks until background alert dispatches have finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Rehydrate rebuilds the active index from persisted active sessions.
func (m *Manager) Rehydrate(ctx context.Context) error {
	active, err := m.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate active index: %w", err)
	}
	m.index.Replace(active)
	m.log.Info("active index rehydrated", "sessions", len(active))
	return nil
}

func (m *Manager) Start(ctx context.Context, deviceID string, initial *session.Location) (StartResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return StartResult{}, invalid("device ID is required")
	}
	if initial != nil {
		if err := validateLocation(*initial); err != nil {
			return StartResult{}, err
		}
	}

	unlock := m.locks.lock(deviceID)
	defer unlock()

	dev, err := m.devices.FindByDeviceID(ctx, deviceID)
	if errors.Is(err, device.ErrNotFound) {
		return StartResult{}, ErrDeviceNotFound
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("load device: %w", err)
	}
	if dev.CurrentSessionID != "" {
		current, err := m.sessions.FindByID(ctx, dev.CurrentSessionID)
		switch {
		case err == nil && current.Active():
			return StartResult{}, ErrAlreadyActive
		case err != nil && !errors.Is(err, session.ErrNotFound):
			return StartResult{}, fmt.Errorf("load current session: %w", err)
		}
	}

	now := m.storageNow()
	sess := session.Session{
		ID:                   uuid.NewString(),
		DeviceID:             deviceID,
		UserID:               dev.OwnerID,
		Status:               session.StatusActive,
		StartTime:            now,
		TriggerStartLocation: initial,
	}

	err = m.tx.WithinTx(ctx, func(devices DeviceRegistry, sessions SessionStore) error {
		created, err := sessions.Create(ctx, sess)
		if errors.Is(err, session.ErrActiveExists) {
			return ErrAlreadyActive
		}
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sess = created

		claimed, err := devices.ClaimSession(ctx, deviceID, sess.ID, now)
		if err != nil {
			return fmt.Errorf("claim device: %w", err)
		}
		if !claimed {
			return ErrAlreadyActive
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyActive) {
			m.log.Error("start trigger failed", "device_id", deviceID, "session_id", sess.ID, "err", err)
		}
		return StartResult{}, err
	}

	m.index.Put(deviceID, IndexEntry{SessionID: sess.ID, StartTime: now, LastUpdate: now})
	m.log.Info("trigger session started", "device_id", deviceID, "session_id", sess.ID, "contacts", len(dev.EmergencyContacts))

	m.dispatch(ctx, dev)

	return StartResult{
		SessionID:            sess.ID,
		StartTime:            sess.StartTime,
		TriggerStartLocation: sess.TriggerStartLocation,
		SMSSent:              len(dev.EmergencyContacts) > 0,
	}, nil
}

// dispatch alerts the device's contacts. It is only called after the session
// is committed.
func (m *Manager) dispatch(ctx context.Context, dev device.Device) {
	if m.notifier == nil || len(dev.EmergencyContacts) == 0 {
		return
	}
	contacts := append([]device.EmergencyContact(nil), dev.EmergencyContacts...)
	run := func(ctx context.Context) {
		results := m.notifier.SendEmergencyAlerts(ctx, contacts, dev.DeviceID)
		for _, r := range results {
			if r.Status != notify.StatusSent {
				m.log.Warn("alert not delivered", "device_id", dev.DeviceID, "contact", r.ContactName, "err", r.Error)
			}
		}
	}
	if !m.async {
		run(ctx)
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		run(context.WithoutCancel(ctx))
	}()
}

func (m *Manager) AddCoordinate(ctx context.Context, deviceID string, latitude, longitude float64, accuracy, speed *float64) (CoordinateResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return CoordinateResult{}, invalid("device ID is required")
	}
	loc := session.Location{Latitude: latitude, Longitude: longitude, Accuracy: accuracy, Speed: speed}
	if err := validateLocation(loc); err != nil {
		return CoordinateResult{}, err
	}

	unlock := m.locks.lock(deviceID)
	defer unlock()

	sess, err := m.activeSession(ctx, deviceID)
	if err != nil {
		return CoordinateResult{}, err
	}

	coord := session.Coordinate{Location: loc, Timestamp: m.storageNow()}
	var count int
	err = m.tx.WithinTx(ctx, func(devices DeviceRegistry, sessions SessionStore) error {
		n, err := sessions.AppendCoordinate(ctx, sess.ID, coord)
		if errors.Is(err, session.ErrNotActive) {
			return ErrNoActiveSession
		}
		if err != nil {
			return fmt.Errorf("append coordinate: %w", err)
		}
		count = n
		if err := devices.Touch(ctx, deviceID, coord.Timestamp); err != nil {
			return fmt.Errorf("touch device: %w", err)
		}
		return nil
	})
	if err != nil {
		return CoordinateResult{}, err
	}

	if !m.index.Touch(deviceID, sess.ID, coord.Timestamp, count) {
		m.log.Debug("active index miss on append", "device_id", deviceID, "session_id", sess.ID)
	}
	m.publish(Event{Type: EventCoordinate, SessionID: sess.ID, DeviceID: deviceID, Coordinate: &coord, CoordinatesCount: count, At: coord.Timestamp})

	return CoordinateResult{SessionID: sess.ID, CoordinatesCount: count, LatestLocation: coord}, nil
}

func (m *Manager) Stop(ctx context.Context, deviceID string, manualStop bool) (StopResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return StopResult{}, invalid("device ID is required")
	}

	unlock := m.locks.lock(deviceID)
	defer unlock()

	sess, err := m.activeSession(ctx, deviceID)
	if err != nil {
		return StopResult{}, err
	}

	now := m.storageNow()
	var completed session.Session
	err = m.tx.WithinTx(ctx, func(devices DeviceRegistry, sessions SessionStore) error {
		c, err := sessions.Complete(ctx, sess.ID, now, manualStop)
		if errors.Is(err, session.ErrNotActive) {
			return ErrNoActiveSession
		}
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		completed = c
		if err := devices.ReleaseSession(ctx, deviceID, sess.ID, now); err != nil {
			return fmt.Errorf("release device: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoActiveSession) {
			m.log.Error("stop trigger failed", "device_id", deviceID, "session_id", sess.ID, "err", err)
		}
		return StopResult{}, err
	}

	m.index.Remove(deviceID)

	end := now
	if completed.EndTime != nil {
		end = *completed.EndTime
	}
	res := StopResult{
		SessionID:        sess.ID,
		StartTime:        completed.StartTime,
		EndTime:          end,
		CoordinatesCount: completed.CoordinatesCount,
		Duration:         seconds(end.Sub(completed.StartTime)),
	}
	if coords, err := m.sessions.Coordinates(ctx, sess.ID); err == nil {
		res.DistanceKm = distanceKm(coords)
	} else {
		m.log.Warn("distance unavailable", "session_id", sess.ID, "err", err)
	}

	m.log.Info("trigger session stopped", "device_id", deviceID, "session_id", sess.ID, "manual", manualStop, "duration_s", res.Duration)
	m.publish(Event{Type: EventStopped, SessionID: sess.ID, DeviceID: deviceID, CoordinatesCount: res.CoordinatesCount, At: end})
	return res, nil
}

// activeSession resolves the device's current session and requires it to be active.
func (m *Manager) activeSession(ctx context.Context, deviceID string) (session.Session, error) {
	dev, err := m.devices.FindByDeviceID(ctx, deviceID)
	if errors.Is(err, device.ErrNotFound) {
		return session.Session{}, ErrNoActiveSession
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load device: %w", err)
	}
	if dev.CurrentSessionID == "" {
		return session.Session{}, ErrNoActiveSession
	}
	sess, err := m.sessions.FindByID(ctx, dev.CurrentSessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, ErrNoActiveSession
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Active() {
		return session.Session{}, ErrNoActiveSession
	}
	return sess, nil
}

// storageNow is the current UTC time at the precision postgres keeps, so
// responses match what later reads return.
func (m *Manager) storageNow() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

func (m *Manager) publish(ev Event) {
	if m.hub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Warn("event encode failed", "session_id", ev.SessionID, "err", err)
		return
	}
	m.hub.Broadcast(ev.SessionID, payload)
}

func validateLocation(l session.Location) error {
	switch {
	case math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90:
		return invalid("latitude must be between -90 and 90")
	case math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180:
		return invalid("longitude must be between -180 and 180")
	case l.Accuracy != nil && (math.IsNaN(*l.Accuracy) || *l.Accuracy < 0):
		return invalid("accuracy must be non-negative")
	case l.Speed != nil && (math.IsNaN(*l.Speed) || *l.Speed < 0):
		return invalid("speed must be non-negative")
	}
	return nil
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func distanceKm(coords []session.Coordinate) float64 {
	points := make([]geo.Point, len(coords))
	for i, c := range coords {
		points[i] = geo.Point{Lat: c.Latitude, Lng: c.Longitude}
	}
	return geo.PathKm(points)
}

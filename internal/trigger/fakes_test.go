package trigger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/device"
	"github.com/kushagra0333/complete-mitr/internal/notify"
	"github.com/kushagra0333/complete-mitr/internal/session"
)

// memDB is an in-memory Transactor backing memDevices and memSessions with the
// same conditional semantics as the postgres stores.
type memDB struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	devices  map[string]device.Device
	sessions map[string]session.Session
	coords   map[string][]session.Coordinate

	claimErr  error
	createErr error
}

func newMemDB(devs ...device.Device) *memDB {
	m := &memDB{
		devices:  map[string]device.Device{},
		sessions: map[string]session.Session{},
		coords:   map[string][]session.Coordinate{},
	}
	for _, d := range devs {
		m.devices[d.DeviceID] = d
	}
	return m
}

func (m *memDB) WithinTx(ctx context.Context, fn func(DeviceRegistry, SessionStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	devs := make(map[string]device.Device, len(m.devices))
	for k, v := range m.devices {
		devs[k] = v
	}
	sess := make(map[string]session.Session, len(m.sessions))
	for k, v := range m.sessions {
		sess[k] = v
	}
	coords := make(map[string][]session.Coordinate, len(m.coords))
	for k, v := range m.coords {
		coords[k] = append([]session.Coordinate(nil), v...)
	}
	m.mu.Unlock()

	if err := fn(memDevices{m}, memSessions{m}); err != nil {
		m.mu.Lock()
		m.devices, m.sessions, m.coords = devs, sess, coords
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) FindByDeviceID(_ context.Context, deviceID string) (device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return device.Device{}, device.ErrNotFound
	}
	return d, nil
}

type memDevices struct{ *memDB }

type memSessions struct{ *memDB }

func (m memDevices) FindOwned(_ context.Context, deviceID, userID string) (device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok || d.OwnerID != userID {
		return device.Device{}, device.ErrNotFound
	}
	return d, nil
}

func (m *memDB) ClaimSession(_ context.Context, deviceID, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	d, ok := m.devices[deviceID]
	if !ok {
		return false, nil
	}
	if d.CurrentSessionID != "" {
		if cur, ok := m.sessions[d.CurrentSessionID]; ok && cur.Active() && cur.ID != sessionID {
			return false, nil
		}
	}
	d.CurrentSessionID = sessionID
	d.IsTriggered = true
	d.LastActive = at
	m.devices[deviceID] = d
	return true, nil
}

func (m *memDB) ReleaseSession(_ context.Context, deviceID, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok || d.CurrentSessionID != sessionID {
		return nil
	}
	d.CurrentSessionID = ""
	d.IsTriggered = false
	d.LastActive = at
	m.devices[deviceID] = d
	return nil
}

func (m *memDB) Touch(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok && at.After(d.LastActive) {
		d.LastActive = at
		m.devices[deviceID] = d
	}
	return nil
}

func (m *memDB) Create(_ context.Context, s session.Session) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return session.Session{}, m.createErr
	}
	for _, other := range m.sessions {
		if other.DeviceID == s.DeviceID && other.Active() {
			return session.Session{}, session.ErrActiveExists
		}
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memDB) withCounts(s session.Session) session.Session {
	c := m.coords[s.ID]
	s.CoordinatesCount = len(c)
	if len(c) > 0 {
		ts := c[len(c)-1].Timestamp
		s.LastUpdate = &ts
	}
	return s
}

func (m *memDB) FindByID(_ context.Context, id string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return m.withCounts(s), nil
}

func (m memSessions) FindOwned(_ context.Context, id, userID string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return session.Session{}, session.ErrNotFound
	}
	return m.withCounts(s), nil
}

func (m *memDB) FindActiveByDevice(_ context.Context, deviceID string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.Active() {
			return m.withCounts(s), nil
		}
	}
	return session.Session{}, session.ErrNotFound
}

func (m *memDB) AppendCoordinate(_ context.Context, sessionID string, c session.Coordinate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active() {
		return 0, session.ErrNotActive
	}
	m.coords[sessionID] = append(m.coords[sessionID], c)
	return len(m.coords[sessionID]), nil
}

func (m *memDB) Complete(_ context.Context, sessionID string, endTime time.Time, manualStop bool) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active() {
		return session.Session{}, session.ErrNotActive
	}
	if endTime.Before(s.StartTime) {
		endTime = s.StartTime
	}
	s.Status = session.StatusCompleted
	s.EndTime = &endTime
	s.ManualStop = manualStop
	m.sessions[sessionID] = s
	return m.withCounts(s), nil
}

func (m *memDB) Coordinates(_ context.Context, sessionID string) ([]session.Coordinate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Coordinate{}, m.coords[sessionID]...), nil
}

func (m *memDB) Query(_ context.Context, f session.Filter) ([]session.Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []session.Session{}
	for _, s := range m.sessions {
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.DeviceID != "" && s.DeviceID != f.DeviceID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, m.withCounts(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	total := len(out)
	if f.Limit > 0 {
		from := (f.Page - 1) * f.Limit
		if from > total {
			from = total
		}
		to := from + f.Limit
		if to > total {
			to = total
		}
		out = out[from:to]
	}
	return out, total, nil
}

func (m *memDB) ListActive(ctx context.Context) ([]session.Session, error) {
	out, _, err := m.Query(ctx, session.Filter{Status: session.StatusActive})
	return out, err
}

func (m *memDB) deviceByID(id string) device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[id]
}

func (m *memDB) sessionByID(id string) session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withCounts(m.sessions[id])
}

func (m *memDB) activeCount(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.Active() {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls [][]device.EmergencyContact

	// seen records whether the session was already persisted when alerts went out.
	seen  []bool
	check func() bool
}

func (n *fakeNotifier) SendEmergencyAlerts(_ context.Context, contacts []device.EmergencyContact, _ string) []notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, contacts)
	if n.check != nil {
		n.seen = append(n.seen, n.check())
	}
	out := make([]notify.Result, len(contacts))
	for i, c := range contacts {
		out[i] = notify.Result{ContactName: c.Name, Status: notify.StatusSent}
	}
	return out
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeHub struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func (h *fakeHub) Broadcast(sessionID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events == nil {
		h.events = map[string][][]byte{}
	}
	h.events[sessionID] = append(h.events[sessionID], payload)
}

func (h *fakeHub) count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events[sessionID])
}

var errBoom = errors.New("boom")

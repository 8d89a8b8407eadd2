package trigger

import (
	"sync"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/session"
)

// IndexEntry is the cached streaming state of one device.
type IndexEntry struct {
	SessionID        string    `json:"sessionId"`
	StartTime        time.Time `json:"startTime"`
	LastUpdate       time.Time `json:"lastUpdate"`
	CoordinatesCount int       `json:"coordinatesCount"`
}

// ActiveIndex is a process-local, non-authoritative cache of devices with an
// active session. It starts empty, is refilled by Manager.Rehydrate and is
// mutated only by Manager.
type ActiveIndex struct {
	mu      sync.RWMutex
	entries map[string]IndexEntry
}

func NewActiveIndex() *ActiveIndex {
	return &ActiveIndex{entries: map[string]IndexEntry{}}
}

func (x *ActiveIndex) Get(deviceID string) (IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[deviceID]
	return e, ok
}

func (x *ActiveIndex) Put(deviceID string, e IndexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[deviceID] = e
}

// Touch records an append for sessionID. Missing or stale entries are ignored.
func (x *ActiveIndex) Touch(deviceID, sessionID string, at time.Time, count int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[deviceID]
	if !ok || e.SessionID != sessionID {
		return false
	}
	e.LastUpdate = at
	e.CoordinatesCount = count
	x.entries[deviceID] = e
	return true
}

func (x *ActiveIndex) Remove(deviceID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, deviceID)
}

func (x *ActiveIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Snapshot copies the current entries.
func (x *ActiveIndex) Snapshot() map[string]IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]IndexEntry, len(x.entries))
	for k, v := range x.entries {
		out[k] = v
	}
	return out
}

// Replace swaps the contents for the given active sessions.
func (x *ActiveIndex) Replace(active []session.Session) {
	entries := make(map[string]IndexEntry, len(active))
	for _, s := range active {
		e := IndexEntry{
			SessionID:        s.ID,
			StartTime:        s.StartTime,
			LastUpdate:       s.StartTime,
			CoordinatesCount: s.CoordinatesCount,
		}
		if s.LastUpdate != nil {
			e.LastUpdate = *s.LastUpdate
		}
		entries[s.DeviceID] = e
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = entries
}

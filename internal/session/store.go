package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/db"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrNotActive is returned when a mutation targets a completed session.
	ErrNotActive = errors.New("session not active")
	// ErrActiveExists is returned when the device already owns an active session.
	ErrActiveExists = errors.New("device already has an active session")
)

// Store persists trigger sessions and their coordinate samples.
type Store struct {
	db db.Querier
}

func NewStore(q db.Querier) *Store {
	return &Store{db: q}
}

const sessionColumns = `s.id, s.device_id, s.user_id, s.status, s.start_time, s.end_time,
	s.trigger_start_location, s.manual_stop,
	(SELECT COUNT(*) FROM session_coordinates c WHERE c.session_id = s.id),
	(SELECT MAX(c.recorded_at) FROM session_coordinates c WHERE c.session_id = s.id)`

func (s *Store) Create(ctx context.Context, sess Session) (Session, error) {
	var start []byte
	if sess.TriggerStartLocation != nil {
		b, err := json.Marshal(sess.TriggerStartLocation)
		if err != nil {
			return Session{}, err
		}
		start = b
	}
	var userID *string
	if sess.UserID != "" {
		userID = &sess.UserID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO trigger_sessions (id, device_id, user_id, status, start_time, trigger_start_location, manual_stop)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE)
	`, sess.ID, sess.DeviceID, userID, string(sess.Status), sess.StartTime, start)
	if db.IsUniqueViolation(err) {
		return Session{}, ErrActiveExists
	}
	if err != nil {
		return Session{}, err
	}
	sess.Coordinates = nil
	sess.CoordinatesCount = 0
	return sess, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM trigger_sessions s WHERE s.id=$1
	`, id)
	return scanSession(row)
}

// FindOwned returns the session only when it belongs to userID.
func (s *Store) FindOwned(ctx context.Context, id, userID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM trigger_sessions s WHERE s.id=$1 AND s.user_id=$2
	`, id, userID)
	return scanSession(row)
}

func (s *Store) FindActiveByDevice(ctx context.Context, deviceID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM trigger_sessions s WHERE s.device_id=$1 AND s.status='active'
	`, deviceID)
	return scanSession(row)
}

// AppendCoordinate adds c to an active session and returns the new sample count.
// The session row is share-locked so a concurrent Complete cannot slip in between.
func (s *Store) AppendCoordinate(ctx context.Context, sessionID string, c Coordinate) (int, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO session_coordinates (session_id, location, accuracy, speed, recorded_at)
		SELECT id, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6
		FROM trigger_sessions WHERE id=$1 AND status='active'
		FOR SHARE
	`, sessionID, c.Longitude, c.Latitude, c.Accuracy, c.Speed, c.Timestamp)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotActive
	}

	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM session_coordinates WHERE session_id=$1`, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Complete finalizes an active session. Completed sessions are never changed again.
func (s *Store) Complete(ctx context.Context, sessionID string, endTime time.Time, manualStop bool) (Session, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trigger_sessions
		SET status='completed', end_time=GREATEST($2, start_time), manual_stop=$3
		WHERE id=$1 AND status='active'
	`, sessionID, endTime, manualStop)
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return Session{}, ErrNotActive
	}
	return s.FindByID(ctx, sessionID)
}

// Coordinates returns the samples of a session in append order.
func (s *Store) Coordinates(ctx context.Context, sessionID string) ([]Coordinate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), accuracy, speed, recorded_at
		FROM session_coordinates WHERE session_id=$1
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coords := []Coordinate{}
	for rows.Next() {
		var c Coordinate
		if err := rows.Scan(&c.Latitude, &c.Longitude, &c.Accuracy, &c.Speed, &c.Timestamp); err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, rows.Err()
}

// Query returns one page of sessions matching f, newest first, with the total match count.
func (s *Store) Query(ctx context.Context, f Filter) ([]Session, int, error) {
	where, args := f.where()

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trigger_sessions s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := `SELECT ` + sessionColumns + ` FROM trigger_sessions s` + where + ` ORDER BY s.start_time DESC`
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		args = append(args, f.Limit, (page-1)*f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	sessions, err := s.list(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// ListActive returns every active session; used to rebuild the in-memory index.
func (s *Store) ListActive(ctx context.Context) ([]Session, error) {
	return s.list(ctx, `SELECT `+sessionColumns+` FROM trigger_sessions s WHERE s.status='active' ORDER BY s.start_time`)
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]Session, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+"=$"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		add("s.user_id", f.UserID)
	}
	if f.DeviceID != "" {
		add("s.device_id", f.DeviceID)
	}
	if f.Status != "" {
		add("s.status", string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess       Session
		userID     *string
		status     string
		endTime    *time.Time
		start      []byte
		lastUpdate *time.Time
	)
	err := row.Scan(&sess.ID, &sess.DeviceID, &userID, &status, &sess.StartTime, &endTime,
		&start, &sess.ManualStop, &sess.CoordinatesCount, &lastUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if userID != nil {
		sess.UserID = *userID
	}
	sess.Status = Status(status)
	sess.EndTime = endTime
	sess.LastUpdate = lastUpdate
	if len(start) > 0 {
		var loc Location
		if err := json.Unmarshal(start, &loc); err != nil {
			return Session{}, fmt.Errorf("decode trigger start location: %w", err)
		}
		sess.TriggerStartLocation = &loc
	}
	return sess, nil
}

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteService is a durable SessionService backed by SQLite. Sessions,
// events and the shared app/user state scopes each live in their own table;
// state values and event payloads are stored as JSON text. Event ordering
// relies on insertion order (rowid), matching the append-only log contract.
type SQLiteService struct {
	db     *sql.DB
	logger logging.Logger
}

// SQLiteServiceOption configures a SQLiteService.
type SQLiteServiceOption func(*SQLiteService)

// WithSQLiteLogger sets the logger used by the service.
func WithSQLiteLogger(l logging.Logger) SQLiteServiceOption {
	return func(s *SQLiteService) { s.logger = l }
}

// NewSQLiteService opens (or creates) the database at dsn and runs the
// schema migrations. Use ":memory:" for an ephemeral database.
func NewSQLiteService(dsn string, opts ...SQLiteServiceOption) (*SQLiteService, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteService{db: db, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteService) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			state TEXT NOT NULL,
			base_state TEXT NOT NULL,
			update_time REAL NOT NULL,
			PRIMARY KEY (app_name, user_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT NOT NULL,
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			invocation_id TEXT NOT NULL,
			timestamp REAL NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (id, app_name, user_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(app_name, user_id, session_id)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			app_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (app_name, key)
		)`,
		`CREATE TABLE IF NOT EXISTS user_state (
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (app_name, user_id, key)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteService) Close() error { return s.db.Close() }

// CreateSession creates a new session. A uuid is generated when sessionID is
// empty. Initial state is split into scopes the same way AppendEvent routes
// state deltas. Returns core.ErrAlreadyExists on an id collision within
// (appName, userID).
func (s *SQLiteService) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	if sessionID == "" {
		sessionID = core.NewID()
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("session %q: %w", sessionID, core.ErrAlreadyExists)
	}

	appDelta, userDelta, sessionState := core.SplitStateDelta(state)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stateJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, err
	}
	now := core.NowUnixSeconds()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (app_name, user_id, id, state, base_state, update_time) VALUES (?, ?, ?, ?, ?, ?)`,
		appName, userID, sessionID, string(stateJSON), string(stateJSON), now); err != nil {
		return nil, err
	}
	if err := upsertScopeTx(ctx, tx,
		`INSERT INTO app_state (app_name, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(app_name, key) DO UPDATE SET value = excluded.value`,
		appDelta, appName); err != nil {
		return nil, err
	}
	if err := upsertScopeTx(ctx, tx,
		`INSERT INTO user_state (app_name, user_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(app_name, user_id, key) DO UPDATE SET value = excluded.value`,
		userDelta, appName, userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug("session created", "app_name", appName, "user_id", userID, "session_id", sessionID)

	return s.GetSession(ctx, appName, userID, sessionID, nil)
}

// GetSession returns a session with merged scoped state, or nil (without
// error) when the session does not exist. The optional config filters the
// returned events.
func (s *SQLiteService) GetSession(ctx context.Context, appName, userID, sessionID string, config *core.GetSessionConfig) (*core.Session, error) {
	var stateJSON string
	var updateTime float64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, update_time FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID).Scan(&stateJSON, &updateTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := map[string]any{}
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, err
	}
	if err := s.readScope(ctx, state,
		`SELECT key, value FROM user_state WHERE app_name = ? AND user_id = ?`, appName, userID); err != nil {
		return nil, err
	}
	if err := s.readScope(ctx, state,
		`SELECT key, value FROM app_state WHERE app_name = ?`, appName); err != nil {
		return nil, err
	}

	events, err := s.readEvents(ctx, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(appName, userID, sessionID)
	sess.ApplyStateDelta(state)
	for _, ev := range filterEvents(events, config) {
		sess.AddEvent(ev)
	}
	sess.LastUpdateTime = updateTime
	return sess, nil
}

// ListSessions returns all sessions of an app for one user, or for every
// user when userID is empty. The returned sessions carry merged scoped state
// but no events.
func (s *SQLiteService) ListSessions(ctx context.Context, appName, userID string) ([]*core.Session, error) {
	query := `SELECT user_id, id FROM sessions WHERE app_name = ? ORDER BY user_id, id`
	args := []any{appName}
	if userID != "" {
		query = `SELECT user_id, id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY id`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct{ userID, id string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.userID, &k.id); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*core.Session
	for _, k := range keys {
		sess, err := s.GetSession(ctx, appName, k.userID, k.id, nil)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			continue
		}
		sess.Events = nil
		out = append(out, sess)
	}
	return out, nil
}

// DeleteSession removes a session and its events. Absent sessions are a
// no-op.
func (s *SQLiteService) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendEvent persists an event to the session log. Partial events are
// returned unchanged and never stored. Temp-prefixed state keys are applied
// to the caller's in-memory session but stripped from the persisted delta;
// app:/user: prefixed keys are routed to the shared scope tables.
func (s *SQLiteService) AppendEvent(ctx context.Context, session *core.Session, event core.Event) (core.Event, error) {
	if event.ID == "" {
		event.ID = core.NewID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = core.NowUnixSeconds()
	}
	if event.IsPartial() {
		return event, nil
	}

	session.ApplyStateDelta(event.Actions.StateDelta)
	event.Actions.StateDelta = core.StripTempStateKeys(event.Actions.StateDelta)

	appDelta, userDelta, sessionDelta := core.SplitStateDelta(event.Actions.StateDelta)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event, err
	}
	defer tx.Rollback()

	var stateJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		session.AppName, session.UserID, session.ID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return event, fmt.Errorf("session %q: %w", session.ID, core.ErrSessionNotFound)
	}
	if err != nil {
		return event, err
	}

	state := map[string]any{}
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return event, err
	}
	for k, v := range sessionDelta {
		state[k] = v
	}
	newStateJSON, err := json.Marshal(state)
	if err != nil {
		return event, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, update_time = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(newStateJSON), event.Timestamp, session.AppName, session.UserID, session.ID); err != nil {
		return event, err
	}

	if err := upsertScopeTx(ctx, tx,
		`INSERT INTO app_state (app_name, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(app_name, key) DO UPDATE SET value = excluded.value`,
		appDelta, session.AppName); err != nil {
		return event, err
	}
	if err := upsertScopeTx(ctx, tx,
		`INSERT INTO user_state (app_name, user_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(app_name, user_id, key) DO UPDATE SET value = excluded.value`,
		userDelta, session.AppName, session.UserID); err != nil {
		return event, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return event, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, app_name, user_id, session_id, invocation_id, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, session.AppName, session.UserID, session.ID, event.InvocationID, event.Timestamp, string(payload)); err != nil {
		return event, err
	}
	if err := tx.Commit(); err != nil {
		return event, err
	}

	session.AddEvent(event)
	session.LastUpdateTime = event.Timestamp
	return event, nil
}

// RewindSession truncates the session log at the first event of the given
// invocation and refolds session-scope state from the base state plus the
// retained deltas, all inside one transaction. Shared app/user scopes are
// left untouched. Returns the rewound session and the dropped events, or
// core.ErrEventNotFound when no event carries the invocation id.
func (s *SQLiteService) RewindSession(ctx context.Context, appName, userID, sessionID, beforeInvocationID string) (*core.Session, []core.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var baseJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT base_state FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID).Scan(&baseJSON)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("session %q: %w", sessionID, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT payload FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY rowid`,
		appName, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, nil, err
	}

	cut := -1
	for i, ev := range events {
		if ev.InvocationID == beforeInvocationID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, nil, fmt.Errorf("invocation %q: %w", beforeInvocationID, core.ErrEventNotFound)
	}

	retained := events[:cut]
	dropped := events[cut:]

	state := map[string]any{}
	if err := json.Unmarshal([]byte(baseJSON), &state); err != nil {
		return nil, nil, err
	}
	for _, ev := range retained {
		_, _, sessionDelta := core.SplitStateDelta(ev.Actions.StateDelta)
		for k, v := range sessionDelta {
			state[k] = v
		}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, nil, err
	}

	updateTime := core.NowUnixSeconds()
	if len(retained) > 0 {
		updateTime = retained[len(retained)-1].Timestamp
	}

	for _, ev := range dropped {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE id = ? AND app_name = ? AND user_id = ? AND session_id = ?`,
			ev.ID, appName, userID, sessionID); err != nil {
			return nil, nil, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, update_time = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(stateJSON), updateTime, appName, userID, sessionID); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	s.logger.Info("session rewound", "session_id", sessionID, "dropped_events", len(dropped))

	sess, err := s.GetSession(ctx, appName, userID, sessionID, nil)
	if err != nil {
		return nil, nil, err
	}
	return sess, dropped, nil
}

func (s *SQLiteService) readEvents(ctx context.Context, appName, userID, sessionID string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY rowid`,
		appName, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *SQLiteService) readScope(ctx context.Context, into map[string]any, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return err
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return err
		}
		into[key] = value
	}
	return rows.Err()
}

func scanEvents(rows *sql.Rows) ([]core.Event, error) {
	defer rows.Close()
	var out []core.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func upsertScopeTx(ctx context.Context, tx *sql.Tx, query string, delta map[string]any, keyArgs ...any) error {
	for k, v := range delta {
		valueJSON, err := json.Marshal(v)
		if err != nil {
			return err
		}
		args := append(append([]any{}, keyArgs...), k, string(valueJSON))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

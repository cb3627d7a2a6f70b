package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"codedesk/internal/logging"
)

// Session is a durable session row. HarnessSessionID is empty until the
// session has been created on the harness side; the column is unique so
// two local sessions can never map to the same remote one.
type Session struct {
	ID               uuid.UUID
	ProjectID        uuid.UUID
	ShowInGUI        bool
	Name             string
	HarnessType      string
	HarnessSessionID string
	CreatedAt        string
	UpdatedAt        string
}

const sessionColumns = "id, project_id, show_in_gui, name, harness_type, harness_session_id, created_at, updated_at"

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		sess      Session
		id        string
		projectID string
		harnessID sql.NullString
	)
	if err := row.Scan(&id, &projectID, &sess.ShowInGUI, &sess.Name,
		&sess.HarnessType, &harnessID, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return Session{}, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return Session{}, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	parsedProject, err := uuid.Parse(projectID)
	if err != nil {
		return Session{}, fmt.Errorf("invalid project id %q: %w", projectID, err)
	}

	sess.ID = parsedID
	sess.ProjectID = parsedProject
	sess.HarnessSessionID = harnessID.String
	return sess, nil
}

// nullableHarnessID keeps the unique index meaningful: empty ids are
// stored as NULL, which sqlite exempts from uniqueness.
func nullableHarnessID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// ListSessions returns every session across all projects, most recently
// updated first.
func (s *Store) ListSessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT " + sessionColumns + " FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, wrapExecError("list_sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list_sessions: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListSessionsByProject returns a project's sessions, most recently
// updated first.
func (s *Store) ListSessionsByProject(projectID uuid.UUID) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+sessionColumns+" FROM sessions WHERE project_id = ?1 ORDER BY updated_at DESC",
		projectID.String())
	if err != nil {
		return nil, wrapExecError("list_sessions_by_project", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list_sessions_by_project: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns one session, or ErrNotFound.
func (s *Store) GetSession(sessionID uuid.UUID) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := scanSession(s.db.QueryRow(
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?1", sessionID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("get_session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get_session: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a new session and returns the stored row. The
// project must exist (FK) and the id must be fresh, else ErrConflict.
func (s *Store) CreateSession(session Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating session %s in project %s", session.ID, session.ProjectID)

	if session.CreatedAt == "" {
		session.CreatedAt = NowUTCString()
	}
	if session.UpdatedAt == "" {
		session.UpdatedAt = session.CreatedAt
	}

	created, err := scanSession(s.db.QueryRow(
		`INSERT INTO sessions (id, project_id, show_in_gui, name, harness_type, harness_session_id, created_at, updated_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
		 RETURNING `+sessionColumns,
		session.ID.String(), session.ProjectID.String(), session.ShowInGUI, session.Name,
		session.HarnessType, nullableHarnessID(session.HarnessSessionID),
		session.CreatedAt, session.UpdatedAt))
	if err != nil {
		return Session{}, wrapExecError("create_session", err)
	}
	return created, nil
}

// UpdateSession rewrites the mutable fields, refreshes updated_at, and
// returns the stored row. ErrNotFound if the id does not exist.
func (s *Store) UpdateSession(session Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := scanSession(s.db.QueryRow(
		`UPDATE sessions
		 SET project_id = ?2, show_in_gui = ?3, name = ?4, harness_session_id = ?5, updated_at = ?6
		 WHERE id = ?1
		 RETURNING `+sessionColumns,
		session.ID.String(), session.ProjectID.String(), session.ShowInGUI, session.Name,
		nullableHarnessID(session.HarnessSessionID), NowUTCString()))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("update_session %s: %w", session.ID, ErrNotFound)
	}
	if err != nil {
		return Session{}, wrapExecError("update_session", err)
	}
	return updated, nil
}

// SetSessionHarnessID binds a session to its remote counterpart.
func (s *Store) SetSessionHarnessID(sessionID uuid.UUID, harnessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE sessions SET harness_session_id = ?2, updated_at = ?3 WHERE id = ?1",
		sessionID.String(), nullableHarnessID(harnessID), NowUTCString())
	if err != nil {
		return wrapExecError("set_session_harness_id", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set_session_harness_id: %w", err)
	}
	return assertOneRowAffected("set_session_harness_id", n)
}

// DeleteSession removes a session; its messages cascade. ErrNotFound if
// the id does not exist.
func (s *Store) DeleteSession(sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Deleting session %s", sessionID)

	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?1", sessionID.String())
	if err != nil {
		return wrapExecError("delete_session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete_session: %w", err)
	}
	return assertOneRowAffected("delete_session", n)
}

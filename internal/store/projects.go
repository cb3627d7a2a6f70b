package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"codedesk/internal/logging"
)

// Project is a durable project row. Timestamps are opaque formatted
// strings, never parsed at this layer.
type Project struct {
	ID        uuid.UUID
	Name      string
	Dir       string
	CreatedAt string
	UpdatedAt string
}

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var (
		p  Project
		id string
	)
	if err := row.Scan(&id, &p.Name, &p.Dir, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Project{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Project{}, fmt.Errorf("invalid project id %q: %w", id, err)
	}
	p.ID = parsed
	return p, nil
}

// ListProjects returns all projects, most recently updated first.
func (s *Store) ListProjects() ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, name, dir, created_at, updated_at FROM projects ORDER BY updated_at DESC")
	if err != nil {
		return nil, wrapExecError("list_projects", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("list_projects: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns one project, or ErrNotFound.
func (s *Store) GetProject(projectID uuid.UUID) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProject(s.db.QueryRow(
		"SELECT id, name, dir, created_at, updated_at FROM projects WHERE id = ?1",
		projectID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("get_project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get_project: %w", err)
	}
	return p, nil
}

// CreateProject inserts a new project and returns the stored row. A
// duplicate id surfaces as ErrConflict and leaves the existing row intact.
func (s *Store) CreateProject(project Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating project %s (%s)", project.ID, project.Name)

	if project.CreatedAt == "" {
		project.CreatedAt = NowUTCString()
	}
	if project.UpdatedAt == "" {
		project.UpdatedAt = project.CreatedAt
	}

	created, err := scanProject(s.db.QueryRow(
		`INSERT INTO projects (id, name, dir, created_at, updated_at)
		 VALUES (?1, ?2, ?3, ?4, ?5)
		 RETURNING id, name, dir, created_at, updated_at`,
		project.ID.String(), project.Name, project.Dir, project.CreatedAt, project.UpdatedAt))
	if err != nil {
		return Project{}, wrapExecError("create_project", err)
	}
	return created, nil
}

// UpdateProject rewrites name and dir, refreshes updated_at, and returns
// the stored row. ErrNotFound if the id does not exist.
func (s *Store) UpdateProject(project Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := scanProject(s.db.QueryRow(
		`UPDATE projects
		 SET name = ?2, dir = ?3, updated_at = ?4
		 WHERE id = ?1
		 RETURNING id, name, dir, created_at, updated_at`,
		project.ID.String(), project.Name, project.Dir, NowUTCString()))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("update_project %s: %w", project.ID, ErrNotFound)
	}
	if err != nil {
		return Project{}, wrapExecError("update_project", err)
	}
	return updated, nil
}

// DeleteProject removes a project; its sessions cascade. ErrNotFound if
// the id does not exist.
func (s *Store) DeleteProject(projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Deleting project %s", projectID)

	res, err := s.db.Exec("DELETE FROM projects WHERE id = ?1", projectID.String())
	if err != nil {
		return wrapExecError("delete_project", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete_project: %w", err)
	}
	return assertOneRowAffected("delete_project", n)
}

package repo

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"codedesk/internal/logging"
	"codedesk/internal/store"
)

// ProjectRepo manages project rows. Deleting a project cascades to its
// sessions and their messages through foreign keys.
type ProjectRepo struct {
	store *store.Store
}

func NewProjectRepo(st *store.Store) *ProjectRepo {
	return &ProjectRepo{store: st}
}

func (r *ProjectRepo) List() ([]store.Project, error) {
	return r.store.ListProjects()
}

func (r *ProjectRepo) Get(projectID uuid.UUID) (store.Project, error) {
	return r.store.GetProject(projectID)
}

// Create registers a directory as a project. Name defaults to the last
// path element when blank.
func (r *ProjectRepo) Create(name, dir string) (store.Project, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return store.Project{}, fmt.Errorf("%w: project dir is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = lastPathElement(dir)
	}

	project, err := r.store.CreateProject(store.Project{
		ID:   uuid.New(),
		Name: name,
		Dir:  dir,
	})
	if err != nil {
		return store.Project{}, err
	}
	logging.Repo("created project %s (%s)", project.ID, project.Dir)
	return project, nil
}

func (r *ProjectRepo) Rename(projectID uuid.UUID, name string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	project, err := r.store.GetProject(projectID)
	if err != nil {
		return store.Project{}, err
	}
	project.Name = name
	return r.store.UpdateProject(project)
}

func (r *ProjectRepo) Delete(projectID uuid.UUID) error {
	if err := r.store.DeleteProject(projectID); err != nil {
		return err
	}
	logging.Repo("deleted project %s", projectID)
	return nil
}

func lastPathElement(dir string) string {
	trimmed := strings.TrimRight(dir, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return dir
	}
	return trimmed
}

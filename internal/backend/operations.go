package backend

import (
	"context"

	"github.com/google/uuid"

	"codedesk/internal/repo"
	"codedesk/internal/store"
)

// ListProjects reads from the cache, which mirrors the store.
func (b *Backend) ListProjects() ([]store.Project, error) {
	return b.projectCache.List()
}

func (b *Backend) GetProject(projectID uuid.UUID) (store.Project, error) {
	return b.projects.Get(projectID)
}

func (b *Backend) CreateProject(name, dir string) (store.Project, error) {
	project, err := b.projects.Create(name, dir)
	if err != nil {
		return store.Project{}, err
	}
	if err := b.projectCache.Upsert(project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (b *Backend) RenameProject(projectID uuid.UUID, name string) (store.Project, error) {
	project, err := b.projects.Rename(projectID, name)
	if err != nil {
		return store.Project{}, err
	}
	if err := b.projectCache.Upsert(project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// DeleteProject removes the project and, through foreign keys, all of its
// sessions; the caches and message feeds are torn down to match.
func (b *Backend) DeleteProject(projectID uuid.UUID) error {
	sessions, err := b.sessionCache.ListGroup(projectID)
	if err != nil {
		return err
	}
	if err := b.projects.Delete(projectID); err != nil {
		return err
	}
	if err := b.projectCache.Remove(projectID); err != nil {
		return err
	}
	if err := b.sessionCache.RemoveGroup(projectID); err != nil {
		return err
	}
	for _, s := range sessions {
		b.retireMessageFeed(s.ID)
	}
	return nil
}

func (b *Backend) ListSessions(projectID uuid.UUID) ([]store.Session, error) {
	return b.sessionCache.ListGroup(projectID)
}

func (b *Backend) GetSession(sessionID uuid.UUID) (store.Session, error) {
	return b.sessions.Get(sessionID)
}

func (b *Backend) CreateSession(ctx context.Context, projectID uuid.UUID, name string) (store.Session, error) {
	session, err := b.sessions.Create(ctx, projectID, name)
	if err != nil {
		return store.Session{}, err
	}
	if err := b.sessionCache.Upsert(session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (b *Backend) RenameSession(sessionID uuid.UUID, name string) (store.Session, error) {
	session, err := b.sessions.Rename(sessionID, name)
	if err != nil {
		return store.Session{}, err
	}
	if err := b.sessionCache.Upsert(session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (b *Backend) SetSessionVisibility(sessionID uuid.UUID, show bool) (store.Session, error) {
	session, err := b.sessions.SetShowInGUI(sessionID, show)
	if err != nil {
		return store.Session{}, err
	}
	if err := b.sessionCache.Upsert(session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (b *Backend) DeleteSession(sessionID uuid.UUID) error {
	if err := b.sessions.Delete(sessionID); err != nil {
		return err
	}
	if err := b.sessionCache.Remove(sessionID); err != nil {
		return err
	}
	b.retireMessageFeed(sessionID)
	return nil
}

// SendMessage posts a prompt and republishes the session's transcript once
// the response is durable.
func (b *Backend) SendMessage(ctx context.Context, sessionID uuid.UUID, input repo.SendMessageInput) (store.Message, error) {
	msg, err := b.messages.SendMessage(ctx, sessionID, input)
	if err != nil {
		return store.Message{}, err
	}
	b.publishSessionMessages(sessionID)
	return msg, nil
}

func (b *Backend) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]store.Message, error) {
	return b.messages.ListMessages(ctx, sessionID, limit)
}

// ReconcileSession pulls the harness's full transcript for the session and
// republishes.
func (b *Backend) ReconcileSession(ctx context.Context, sessionID uuid.UUID, limit int) error {
	if err := b.messages.ReconcileSessionMessages(ctx, sessionID, limit); err != nil {
		return err
	}
	b.publishSessionMessages(sessionID)
	return nil
}

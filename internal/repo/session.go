package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/logging"
	"codedesk/internal/store"
)

// HarnessClient is the slice of the harness client the repositories use.
// *harness.Client satisfies it; tests substitute a fake.
type HarnessClient interface {
	CreateSession(ctx context.Context, req harness.CreateSessionRequest, directory string) (harness.RemoteSession, error)
	SendMessage(ctx context.Context, harnessSessionID string, req harness.SendMessageRequest, directory string) (harness.MessageWithParts, error)
	ListSessionMessages(ctx context.Context, harnessSessionID string, limit int, directory string) ([]harness.MessageWithParts, error)
}

// SessionRepo manages session rows and their binding to harness sessions.
type SessionRepo struct {
	store   *store.Store
	harness HarnessClient
}

func NewSessionRepo(st *store.Store, hc HarnessClient) *SessionRepo {
	return &SessionRepo{store: st, harness: hc}
}

func (r *SessionRepo) ListByProject(projectID uuid.UUID) ([]store.Session, error) {
	return r.store.ListSessionsByProject(projectID)
}

func (r *SessionRepo) Get(sessionID uuid.UUID) (store.Session, error) {
	return r.store.GetSession(sessionID)
}

// Create opens the session on the harness first, then persists the row
// with the remote id bound. A failed remote create leaves nothing behind
// locally.
func (r *SessionRepo) Create(ctx context.Context, projectID uuid.UUID, name string) (store.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "New Session"
	}

	project, err := r.store.GetProject(projectID)
	if err != nil {
		return store.Session{}, err
	}

	remote, err := r.harness.CreateSession(ctx,
		harness.CreateSessionRequest{Title: name}, project.Dir)
	if err != nil {
		return store.Session{}, fmt.Errorf("create harness session: %w", err)
	}

	session, err := r.store.CreateSession(store.Session{
		ID:               uuid.New(),
		ProjectID:        projectID,
		ShowInGUI:        true,
		Name:             name,
		HarnessType:      "opencode",
		HarnessSessionID: remote.ID,
	})
	if err != nil {
		return store.Session{}, err
	}
	logging.Repo("created session %s bound to harness session %s", session.ID, remote.ID)
	return session, nil
}

func (r *SessionRepo) Rename(sessionID uuid.UUID, name string) (store.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Session{}, fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return store.Session{}, err
	}
	session.Name = name
	return r.store.UpdateSession(session)
}

func (r *SessionRepo) SetShowInGUI(sessionID uuid.UUID, show bool) (store.Session, error) {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return store.Session{}, err
	}
	session.ShowInGUI = show
	return r.store.UpdateSession(session)
}

func (r *SessionRepo) Delete(sessionID uuid.UUID) error {
	if err := r.store.DeleteSession(sessionID); err != nil {
		return err
	}
	logging.Repo("deleted session %s", sessionID)
	return nil
}

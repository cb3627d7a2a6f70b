// Package backend composes the store, the harness client, and the reactive
// caches into the surface the desktop UI subscribes to. Every mutation
// flows store first, then cache, so subscribers only ever observe durable
// state.
package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/logging"
	"codedesk/internal/repo"
	"codedesk/internal/state"
	"codedesk/internal/store"
)

// Harness is the slice of the harness client the backend drives.
type Harness interface {
	repo.HarnessClient
	Events(ctx context.Context) (*harness.EventStream, error)
}

type Backend struct {
	store    *store.Store
	harness  Harness
	projects *repo.ProjectRepo
	sessions *repo.SessionRepo
	messages *repo.MessageRepo

	projectCache *state.EntityCache[uuid.UUID, store.Project]
	sessionCache *state.GroupedCache[uuid.UUID, uuid.UUID, store.Session]

	mu           sync.Mutex
	messageFeeds map[uuid.UUID]*state.Watch[[]store.Message]
}

// New seeds the caches from the store and wires the repositories. The
// event pump is started separately via Run.
func New(st *store.Store, hc Harness) (*Backend, error) {
	projects, err := st.ListProjects()
	if err != nil {
		return nil, err
	}
	sessions, err := st.ListSessions()
	if err != nil {
		return nil, err
	}

	b := &Backend{
		store:    st,
		harness:  hc,
		projects: repo.NewProjectRepo(st),
		sessions: repo.NewSessionRepo(st, hc),
		messages: repo.NewMessageRepo(st, hc),
		projectCache: state.NewEntityCache("projects", projects,
			func(p store.Project) uuid.UUID { return p.ID }, projectLess),
		sessionCache: state.NewGroupedCache("sessions", sessions,
			func(s store.Session) uuid.UUID { return s.ProjectID },
			func(s store.Session) uuid.UUID { return s.ID }, sessionLess),
		messageFeeds: make(map[uuid.UUID]*state.Watch[[]store.Message]),
	}
	logging.Boot("backend ready: %d projects, %d sessions", len(projects), len(sessions))
	return b, nil
}

// Recently updated first; id tiebreak keeps ordering deterministic when
// timestamps collide.
func projectLess(a, b store.Project) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.ID.String() < b.ID.String()
}

func sessionLess(a, b store.Session) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.ID.String() < b.ID.String()
}

// SubscribeProjects observes the full project list.
func (b *Backend) SubscribeProjects() *state.Receiver[[]store.Project] {
	return b.projectCache.SubscribeAll()
}

// SubscribeProject observes one project, including its disappearance.
func (b *Backend) SubscribeProject(projectID uuid.UUID) (*state.Receiver[state.Item[store.Project]], error) {
	return b.projectCache.SubscribeOne(projectID)
}

// SubscribeSessions observes one project's session list.
func (b *Backend) SubscribeSessions(projectID uuid.UUID) (*state.Receiver[[]store.Session], error) {
	return b.sessionCache.SubscribeGroup(projectID)
}

// SubscribeSessionMessages observes a session's live transcript. The feed
// is seeded from the store on first subscription and republished after
// every ingested event touching the session. An unknown session yields
// repo.ErrSessionNotFound rather than an empty feed.
func (b *Backend) SubscribeSessionMessages(sessionID uuid.UUID) (*state.Receiver[[]store.Message], error) {
	watch, err := b.messageFeed(sessionID)
	if err != nil {
		return nil, err
	}
	return watch.Subscribe(), nil
}

// messageFeed seeds and registers under one mu hold, so a publish racing
// the first subscription either precedes the seed read or finds the feed
// registered. Released in between, an event could land unobserved and
// leave the subscriber seeded stale.
func (b *Backend) messageFeed(sessionID uuid.UUID) (*state.Watch[[]store.Message], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.messageFeeds[sessionID]; ok {
		return w, nil
	}

	if _, err := b.store.GetSession(sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, repo.ErrSessionNotFound
		}
		return nil, err
	}
	msgs, err := b.store.ListSessionMessages(sessionID, 0)
	if err != nil {
		return nil, err
	}

	w := state.NewWatch(msgs)
	b.messageFeeds[sessionID] = w
	return w, nil
}

// publishSessionMessages pushes the session's current transcript to its
// feed, if anyone ever opened one. The store read happens under mu to keep
// publishes ordered against feed seeding.
func (b *Backend) publishSessionMessages(sessionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	watch, ok := b.messageFeeds[sessionID]
	if !ok {
		return
	}
	msgs, err := b.store.ListSessionMessages(sessionID, 0)
	if err != nil {
		logging.SyncError("republish session %s: %v", sessionID, err)
		return
	}
	watch.Send(msgs)
}

func (b *Backend) retireMessageFeed(sessionID uuid.UUID) {
	b.mu.Lock()
	watch, ok := b.messageFeeds[sessionID]
	if ok {
		delete(b.messageFeeds, sessionID)
	}
	b.mu.Unlock()
	if ok {
		watch.Send(nil)
		watch.Close()
	}
}

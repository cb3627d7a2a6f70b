package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/logging"
	"codedesk/internal/store"
)

// SendMessageInput is an outgoing prompt before validation.
type SendMessageInput struct {
	Parts []harness.PartInput
	Model *harness.ModelSelection
	Agent string
}

// MessageRepo reconciles the local message transcript against the harness:
// it sends prompts, snapshots whole sessions, and applies individual stream
// events.
type MessageRepo struct {
	store   *store.Store
	harness HarnessClient
}

func NewMessageRepo(st *store.Store, hc HarnessClient) *MessageRepo {
	return &MessageRepo{store: st, harness: hc}
}

// SendMessage validates the prompt, posts it to the harness, and persists
// the returned assistant message with its parts in one transaction.
// Validation failures surface as ErrInvalidInput before any I/O.
func (r *MessageRepo) SendMessage(ctx context.Context, sessionID uuid.UUID, input SendMessageInput) (store.Message, error) {
	if err := validateSendInput(input); err != nil {
		return store.Message{}, err
	}

	session, directory, err := r.boundSession(sessionID)
	if err != nil {
		return store.Message{}, err
	}

	resp, err := r.harness.SendMessage(ctx, session.HarnessSessionID, harness.SendMessageRequest{
		Model: input.Model,
		Agent: input.Agent,
		Parts: input.Parts,
	}, directory)
	if err != nil {
		return store.Message{}, fmt.Errorf("send message: %w", err)
	}

	msg, err := messageWithPartsFromWire(sessionID, resp)
	if err != nil {
		return store.Message{}, err
	}
	if err := r.store.UpsertSessionMessageWithParts(msg); err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the session's live transcript, oldest first.
// limit <= 0 lists everything.
func (r *MessageRepo) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]store.Message, error) {
	if _, err := r.store.GetSession(sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return r.store.ListSessionMessages(sessionID, limit)
}

// ReconcileSessionMessages pulls a full snapshot from the harness and
// upserts every message whole. Used on session open and on idle as a
// self-healing pass over whatever individual events may have missed.
func (r *MessageRepo) ReconcileSessionMessages(ctx context.Context, sessionID uuid.UUID, limit int) error {
	session, directory, err := r.boundSession(sessionID)
	if err != nil {
		return err
	}

	timer := logging.StartTimer(logging.CategorySync, "reconcile_session_messages")
	defer timer.Stop()

	remote, err := r.harness.ListSessionMessages(ctx, session.HarnessSessionID, limit, directory)
	if err != nil {
		return fmt.Errorf("list harness messages: %w", err)
	}
	for _, mp := range remote {
		msg, err := messageWithPartsFromWire(sessionID, mp)
		if err != nil {
			logging.SyncWarn("skipping unmappable message %s: %v", mp.ID(), err)
			continue
		}
		if err := r.store.UpsertSessionMessageWithParts(msg); err != nil {
			return err
		}
	}
	logging.Sync("reconciled %d messages for session %s", len(remote), sessionID)
	return nil
}

// IngestEvent applies one stream event. The returned session id names the
// local session the event touched; ok=false means the event's harness
// session is not tracked locally (or the event type carries no session
// work) and nothing was changed.
func (r *MessageRepo) IngestEvent(ctx context.Context, ev harness.Event) (uuid.UUID, bool, error) {
	switch ev.Payload.Type {
	case harness.EventMessageUpdated:
		props := ev.Payload.MessageUpdated
		sessionID, ok, err := r.store.GetSessionIDByHarnessID(props.Info.SessionID())
		if err != nil || !ok {
			return uuid.Nil, false, err
		}
		msg, err := messageFromWire(sessionID, props.Info)
		if err != nil {
			return uuid.Nil, false, err
		}
		return sessionID, true, r.store.UpsertSessionMessage(msg)

	case harness.EventMessagePartUpdated:
		props := ev.Payload.MessagePartUpdated
		sessionID, ok, err := r.store.GetSessionIDByHarnessID(props.Part.SessionID())
		if err != nil || !ok {
			return uuid.Nil, false, err
		}
		part, err := partFromWire(props.Part)
		if err != nil {
			return uuid.Nil, false, err
		}
		// Part events can outrun the message.updated that introduces
		// their message; a placeholder header keeps the insert valid.
		if err := r.store.EnsureSessionMessageExists(sessionID, part.MessageID); err != nil {
			return uuid.Nil, false, err
		}
		return sessionID, true, r.store.UpsertSessionMessagePart(sessionID, part, props.Delta)

	case harness.EventMessageRemoved:
		props := ev.Payload.MessageRemoved
		sessionID, ok, err := r.store.GetSessionIDByHarnessID(props.SessionID)
		if err != nil || !ok {
			return uuid.Nil, false, err
		}
		return sessionID, true, r.store.MarkSessionMessageRemoved(sessionID, props.MessageID)

	case harness.EventSessionIdle:
		props := ev.Payload.SessionIdle
		sessionID, ok, err := r.store.GetSessionIDByHarnessID(props.SessionID)
		if err != nil || !ok {
			return uuid.Nil, false, err
		}
		return sessionID, true, r.ReconcileSessionMessages(ctx, sessionID, 0)
	}

	logging.SyncDebug("ignoring event type %q", ev.Payload.Type)
	return uuid.Nil, false, nil
}

// boundSession loads a session and the directory its project lives in,
// requiring the harness binding to exist.
func (r *MessageRepo) boundSession(sessionID uuid.UUID) (store.Session, string, error) {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return store.Session{}, "", err
	}
	if session.HarnessSessionID == "" {
		return store.Session{}, "", fmt.Errorf("%w: session %s has no harness session", ErrInvalidInput, sessionID)
	}
	project, err := r.store.GetProject(session.ProjectID)
	if err != nil {
		return store.Session{}, "", err
	}
	return session, project.Dir, nil
}

func validateSendInput(input SendMessageInput) error {
	if len(input.Parts) == 0 {
		return fmt.Errorf("%w: message needs at least one part", ErrInvalidInput)
	}
	for _, part := range input.Parts {
		if part.Type == "text" && strings.TrimSpace(part.Text) == "" {
			return fmt.Errorf("%w: text part is blank", ErrInvalidInput)
		}
	}
	return nil
}

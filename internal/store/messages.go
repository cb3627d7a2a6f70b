package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"codedesk/internal/logging"
)

// Message is a durable session message. Ids are assigned by the harness,
// scoped to a session. A removed message stays on disk with removed_at set
// and is excluded from listings; any later upsert clears the tombstone.
type Message struct {
	ID          string
	SessionID   uuid.UUID
	Role        string
	CreatedAt   string
	CompletedAt string
	ParentID    string
	ProviderID  string
	ModelID     string
	ErrorJSON   string
	Parts       []MessagePart
}

// MessagePart is one ordered piece of a message: streamed text, reasoning,
// or a structured tool call serialized into ToolJSON.
type MessagePart struct {
	ID        string
	MessageID string
	PartType  string
	Text      string
	ToolJSON  string
}

// GetSessionIDByHarnessID translates the harness's own session identifier
// to the local session id. A missing mapping is not an error: ok=false
// means no local session tracks that remote session.
func (s *Store) GetSessionIDByHarnessID(harnessID string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRow(
		"SELECT id FROM sessions WHERE harness_session_id = ?1", harnessID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("get_session_id_by_harness_id: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("get_session_id_by_harness_id: invalid session id %q: %w", id, err)
	}
	return parsed, true, nil
}

// UpsertSessionMessage inserts or replaces a message header. Parts are
// untouched; they arrive through UpsertSessionMessagePart. An upsert
// unconditionally clears removed_at: the harness resending a message is
// authoritative over a stale tombstone.
func (s *Store) UpsertSessionMessage(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSessionMessage(s.db, msg)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertSessionMessage(db execer, msg Message) error {
	_, err := db.Exec(
		`INSERT INTO session_messages (
		    session_id, id, role, created_at, completed_at, parent_id,
		    provider_id, model_id, error_json, removed_at, updated_at
		) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, NULL, ?10)
		ON CONFLICT(session_id, id) DO UPDATE SET
		    role = excluded.role,
		    created_at = excluded.created_at,
		    completed_at = excluded.completed_at,
		    parent_id = excluded.parent_id,
		    provider_id = excluded.provider_id,
		    model_id = excluded.model_id,
		    error_json = excluded.error_json,
		    removed_at = NULL,
		    updated_at = excluded.updated_at`,
		msg.SessionID.String(), msg.ID, msg.Role, msg.CreatedAt, msg.CompletedAt,
		msg.ParentID, msg.ProviderID, msg.ModelID, msg.ErrorJSON, NowUTCString())
	return wrapExecError("upsert_session_message", err)
}

// UpsertSessionMessageWithParts persists a message and all of its parts in
// one transaction. Any failure rolls the whole write back: a session never
// shows a message with only some of its parts persisted.
func (s *Store) UpsertSessionMessageWithParts(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert_session_message_with_parts: %w", err)
	}

	if err := func() error {
		if err := upsertSessionMessage(tx, msg); err != nil {
			return err
		}
		for _, part := range msg.Parts {
			if err := upsertSessionMessagePart(tx, msg.SessionID, part, ""); err != nil {
				return err
			}
		}
		return nil
	}(); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// EnsureSessionMessageExists inserts a placeholder message shell so a part
// arriving before its parent message header has a row to attach to. The
// placeholder is overwritten whole once the real header arrives.
func (s *Store) EnsureSessionMessageExists(sessionID uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := NowUTCString()
	_, err := s.db.Exec(
		`INSERT INTO session_messages (
		    session_id, id, role, created_at, completed_at, parent_id,
		    provider_id, model_id, error_json, removed_at, updated_at
		) VALUES (?1, ?2, 'assistant', ?3, '', '', '', '', '', NULL, ?3)
		ON CONFLICT(session_id, id) DO NOTHING`,
		sessionID.String(), messageID, now)
	return wrapExecError("ensure_session_message_exists", err)
}

// MarkSessionMessageRemoved tombstones a message. The row survives so a
// delayed duplicate of an older event cannot resurrect removed history by
// reinserting it from scratch. Marking an unknown message is a no-op.
func (s *Store) MarkSessionMessageRemoved(sessionID uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Tombstoning message %s in session %s", messageID, sessionID)

	now := NowUTCString()
	_, err := s.db.Exec(
		`UPDATE session_messages
		 SET removed_at = ?3, updated_at = ?3
		 WHERE session_id = ?1 AND id = ?2`,
		sessionID.String(), messageID, now)
	return wrapExecError("mark_session_message_removed", err)
}

// UpsertSessionMessagePart inserts or merges one part. Merge rules: a
// non-empty incoming text is authoritative and replaces the stored text;
// otherwise a non-empty delta is appended unless the stored text already
// ends with exactly that delta (the duplicate-delivery guard); otherwise
// the stored text is kept. On first insert the delta seeds the text when
// no full text was sent. Stored text is only ever extended, never
// truncated.
func (s *Store) UpsertSessionMessagePart(sessionID uuid.UUID, part MessagePart, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSessionMessagePart(s.db, sessionID, part, delta)
}

func upsertSessionMessagePart(db execer, sessionID uuid.UUID, part MessagePart, delta string) error {
	var deltaArg any
	if delta != "" {
		deltaArg = delta
	}
	_, err := db.Exec(
		`INSERT INTO session_message_parts (
		    session_id, message_id, id, part_type, text, tool_json, updated_at
		) VALUES (?1, ?2, ?3, ?4,
		    CASE WHEN ?5 <> '' THEN ?5 ELSE COALESCE(?8, '') END,
		    ?6, ?7)
		ON CONFLICT(session_id, message_id, id) DO UPDATE SET
		    part_type = excluded.part_type,
		    text = CASE
		        WHEN excluded.text <> '' THEN excluded.text
		        WHEN ?8 IS NOT NULL
		             AND ?8 <> ''
		             AND substr(session_message_parts.text, -length(?8)) <> ?8
		            THEN session_message_parts.text || ?8
		        ELSE session_message_parts.text
		    END,
		    tool_json = excluded.tool_json,
		    updated_at = excluded.updated_at`,
		sessionID.String(), part.MessageID, part.ID, part.PartType, part.Text,
		part.ToolJSON, NowUTCString(), deltaArg)
	return wrapExecError("upsert_session_message_part", err)
}

const listMessagesWithLimit = `WITH selected_messages AS (
    SELECT id, session_id, role, created_at, completed_at, parent_id, provider_id, model_id, error_json
    FROM session_messages
    WHERE session_id = ?1 AND removed_at IS NULL
    ORDER BY created_at ASC, id ASC
    LIMIT ?2
)
SELECT
    m.id,
    m.role,
    m.created_at,
    m.completed_at,
    m.parent_id,
    m.provider_id,
    m.model_id,
    m.error_json,
    p.id,
    p.message_id,
    p.part_type,
    p.text,
    p.tool_json
FROM selected_messages m
LEFT JOIN session_message_parts p
    ON p.session_id = m.session_id
   AND p.message_id = m.id
ORDER BY m.created_at ASC, m.id ASC, p.id ASC`

const listMessagesWithoutLimit = `SELECT
    m.id,
    m.role,
    m.created_at,
    m.completed_at,
    m.parent_id,
    m.provider_id,
    m.model_id,
    m.error_json,
    p.id,
    p.message_id,
    p.part_type,
    p.text,
    p.tool_json
FROM session_messages m
LEFT JOIN session_message_parts p
    ON p.session_id = m.session_id
   AND p.message_id = m.id
WHERE m.session_id = ?1 AND m.removed_at IS NULL
ORDER BY m.created_at ASC, m.id ASC, p.id ASC`

// ListSessionMessages returns a session's live messages with their parts
// nested, ordered by (created_at, id); parts by id. Tombstoned messages
// are excluded. A limit of 0 or less means no limit; the limit bounds the
// message count, not the joined row count.
func (s *Store) ListSessionMessages(sessionID uuid.UUID, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(listMessagesWithLimit, sessionID.String(), limit)
	} else {
		rows, err = s.db.Query(listMessagesWithoutLimit, sessionID.String())
	}
	if err != nil {
		return nil, wrapExecError("list_session_messages", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg          Message
			partID       sql.NullString
			partMsgID    sql.NullString
			partType     sql.NullString
			partText     sql.NullString
			partToolJSON sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.CreatedAt, &msg.CompletedAt,
			&msg.ParentID, &msg.ProviderID, &msg.ModelID, &msg.ErrorJSON,
			&partID, &partMsgID, &partType, &partText, &partToolJSON); err != nil {
			return nil, fmt.Errorf("list_session_messages: %w", err)
		}
		msg.SessionID = sessionID

		if len(messages) == 0 || messages[len(messages)-1].ID != msg.ID {
			messages = append(messages, msg)
		}

		if partID.Valid && partMsgID.Valid && partType.Valid && partText.Valid && partToolJSON.Valid {
			last := &messages[len(messages)-1]
			last.Parts = append(last.Parts, MessagePart{
				ID:        partID.String,
				MessageID: partMsgID.String,
				PartType:  partType.String,
				Text:      partText.String,
				ToolJSON:  partToolJSON.String,
			})
		}
	}
	return messages, rows.Err()
}

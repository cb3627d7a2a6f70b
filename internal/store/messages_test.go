package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func textPart(messageID, partID, text string) MessagePart {
	return MessagePart{
		ID:        partID,
		MessageID: messageID,
		PartType:  "text",
		Text:      text,
	}
}

func headerMessage(sessionID uuid.UUID, id, createdAt string) Message {
	return Message{
		ID:         id,
		SessionID:  sessionID,
		Role:       "assistant",
		CreatedAt:  createdAt,
		ProviderID: "anthropic",
		ModelID:    "claude-sonnet-4",
	}
}

func TestUpsertSessionMessage_InsertAndReplace(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	msg := headerMessage(sess.ID, "msg-1", "2026-01-01 00:00:01.000000000")
	if err := s.UpsertSessionMessage(msg); err != nil {
		t.Fatalf("UpsertSessionMessage failed: %v", err)
	}

	msg.Role = "user"
	msg.CompletedAt = "2026-01-01 00:00:02.000000000"
	if err := s.UpsertSessionMessage(msg); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(listed))
	}
	if listed[0].Role != "user" || listed[0].CompletedAt != "2026-01-01 00:00:02.000000000" {
		t.Errorf("expected replaced header, got %+v", listed[0])
	}
}

func TestDeltaIdempotence(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	if err := s.EnsureSessionMessageExists(sess.ID, "m1"); err != nil {
		t.Fatalf("EnsureSessionMessageExists failed: %v", err)
	}

	part := textPart("m1", "p1", "")
	// Same delta applied twice must not double-append.
	for i := 0; i < 2; i++ {
		if err := s.UpsertSessionMessagePart(sess.ID, part, "hello"); err != nil {
			t.Fatalf("UpsertSessionMessagePart failed: %v", err)
		}
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Parts) != 1 {
		t.Fatalf("expected 1 message with 1 part, got %+v", listed)
	}
	if got := listed[0].Parts[0].Text; got != "hello" {
		t.Errorf("expected text %q, got %q", "hello", got)
	}
}

func TestDeltaAccumulation(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	if err := s.EnsureSessionMessageExists(sess.ID, "m1"); err != nil {
		t.Fatalf("EnsureSessionMessageExists failed: %v", err)
	}

	for _, delta := range []string{"he", "llo"} {
		if err := s.UpsertSessionMessagePart(sess.ID, textPart("m1", "p1", ""), delta); err != nil {
			t.Fatalf("delta %q failed: %v", delta, err)
		}
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if got := listed[0].Parts[0].Text; got != "hello" {
		t.Errorf("expected accumulated %q, got %q", "hello", got)
	}
}

func TestFullTextReplacesAccumulatedDeltas(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	if err := s.EnsureSessionMessageExists(sess.ID, "m1"); err != nil {
		t.Fatalf("EnsureSessionMessageExists failed: %v", err)
	}
	if err := s.UpsertSessionMessagePart(sess.ID, textPart("m1", "p1", ""), "partial gar"); err != nil {
		t.Fatalf("delta upsert failed: %v", err)
	}
	// The harness sends the authoritative full value.
	if err := s.UpsertSessionMessagePart(sess.ID, textPart("m1", "p1", "the full text"), ""); err != nil {
		t.Fatalf("full-text upsert failed: %v", err)
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if got := listed[0].Parts[0].Text; got != "the full text" {
		t.Errorf("expected full text to win, got %q", got)
	}
}

func TestShellBeforePart(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	// Part arrives before its parent message header.
	if err := s.EnsureSessionMessageExists(sess.ID, "msg-x"); err != nil {
		t.Fatalf("EnsureSessionMessageExists failed: %v", err)
	}
	if err := s.UpsertSessionMessagePart(sess.ID, textPart("msg-x", "part-1", "hi"), ""); err != nil {
		t.Fatalf("part upsert after shell failed: %v", err)
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Parts) != 1 {
		t.Fatalf("expected exactly one message with one part, got %+v", listed)
	}
	if listed[0].Role != "assistant" {
		t.Errorf("placeholder shell should default to assistant, got %q", listed[0].Role)
	}

	// Ensure on an existing message is a no-op.
	if err := s.EnsureSessionMessageExists(sess.ID, "msg-x"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	listed, _ = s.ListSessionMessages(sess.ID, 0)
	if len(listed) != 1 {
		t.Errorf("ensure must not duplicate the message, got %d", len(listed))
	}
}

func TestTombstoneExclusionAndResurrection(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	msg := headerMessage(sess.ID, "msg-1", "2026-01-01 00:00:01.000000000")
	if err := s.UpsertSessionMessage(msg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := s.MarkSessionMessageRemoved(sess.ID, "msg-1"); err != nil {
		t.Fatalf("MarkSessionMessageRemoved failed: %v", err)
	}
	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("tombstoned message must be excluded, got %+v", listed)
	}

	// Tombstoning an unknown message is a no-op.
	if err := s.MarkSessionMessageRemoved(sess.ID, "msg-nope"); err != nil {
		t.Errorf("tombstoning unknown message should be a no-op, got %v", err)
	}

	// Any upsert is authoritative over the tombstone.
	if err := s.UpsertSessionMessage(msg); err != nil {
		t.Fatalf("resurrecting upsert failed: %v", err)
	}
	listed, _ = s.ListSessionMessages(sess.ID, 0)
	if len(listed) != 1 {
		t.Errorf("upsert should clear removed_at, got %d messages", len(listed))
	}
}

func TestUpsertWithParts_RollsBackWhole(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	msg := headerMessage(sess.ID, "msg-1", "2026-01-01 00:00:01.000000000")
	msg.Parts = []MessagePart{
		textPart("msg-1", "part-1", "valid"),
		textPart("msg-other", "part-2", "references a message that does not exist"),
	}

	if err := s.UpsertSessionMessageWithParts(msg); err == nil {
		t.Fatal("expected failure for part referencing a foreign message id")
	}

	// Nothing persisted: not even the valid message row.
	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected full rollback, got %+v", listed)
	}
}

func TestUpsertWithParts_PersistsWhole(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	msg := headerMessage(sess.ID, "msg-1", "2026-01-01 00:00:01.000000000")
	msg.Parts = []MessagePart{
		textPart("msg-1", "part-1", "first"),
		textPart("msg-1", "part-2", "second"),
	}

	if err := s.UpsertSessionMessageWithParts(msg); err != nil {
		t.Fatalf("UpsertSessionMessageWithParts failed: %v", err)
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Parts) != 2 {
		t.Fatalf("expected 1 message with 2 parts, got %+v", listed)
	}
	if listed[0].Parts[0].ID != "part-1" || listed[0].Parts[1].ID != "part-2" {
		t.Errorf("parts out of order: %+v", listed[0].Parts)
	}
}

func TestListSessionMessages_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	// Insert out of chronological order.
	for _, m := range []struct{ id, createdAt string }{
		{"msg-c", "2026-01-01 00:00:03.000000000"},
		{"msg-a", "2026-01-01 00:00:01.000000000"},
		{"msg-b", "2026-01-01 00:00:02.000000000"},
	} {
		if err := s.UpsertSessionMessage(headerMessage(sess.ID, m.id, m.createdAt)); err != nil {
			t.Fatalf("upsert %s failed: %v", m.id, err)
		}
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	var order []string
	for _, m := range listed {
		order = append(order, m.ID)
	}
	want := fmt.Sprintf("%v", []string{"msg-a", "msg-b", "msg-c"})
	if got := fmt.Sprintf("%v", order); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	// The limit bounds messages, not joined part rows.
	if err := s.UpsertSessionMessagePart(sess.ID, textPart("msg-a", "p1", "x"), ""); err != nil {
		t.Fatalf("part upsert failed: %v", err)
	}
	if err := s.UpsertSessionMessagePart(sess.ID, textPart("msg-a", "p2", "y"), ""); err != nil {
		t.Fatalf("part upsert failed: %v", err)
	}
	limited, err := s.ListSessionMessages(sess.ID, 2)
	if err != nil {
		t.Fatalf("ListSessionMessages with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(limited))
	}
	if limited[0].ID != "msg-a" || len(limited[0].Parts) != 2 {
		t.Errorf("expected msg-a with both parts, got %+v", limited[0])
	}
}

func TestListSessionMessages_CreatedAtTieBrokenByID(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "alpha")
	sess := mustCreateSession(t, s, p.ID, "work")

	at := "2026-01-01 00:00:01.000000000"
	for _, id := range []string{"msg-b", "msg-a"} {
		if err := s.UpsertSessionMessage(headerMessage(sess.ID, id, at)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	listed, err := s.ListSessionMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSessionMessages failed: %v", err)
	}
	if listed[0].ID != "msg-a" || listed[1].ID != "msg-b" {
		t.Errorf("expected id tiebreak ascending, got %s then %s", listed[0].ID, listed[1].ID)
	}
}

func TestUpsertPart_MissingSessionFails(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertSessionMessagePart(uuid.New(), textPart("m1", "p1", "hi"), "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for part in unknown session, got %v", err)
	}
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/store"
)

func TestSendMessage_RejectsBlankInputBeforeIO(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)

	cases := []SendMessageInput{
		{},
		{Parts: []harness.PartInput{harness.TextPartInput("")}},
		{Parts: []harness.PartInput{harness.TextPartInput("   \n\t")}},
	}
	for i, input := range cases {
		_, err := msgs.SendMessage(context.Background(), f.session.ID, input)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestSendMessage_PersistsReturnedMessage(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/ses-fake/message" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("directory"); got != "/work/demo" {
			t.Errorf("directory = %q", got)
		}
		fmt.Fprint(w, `{
			"info": {"id": "msg-assistant-1", "sessionID": "ses-fake", "role": "assistant",
				"time": {"created": 1700000000000, "completed": 1700000002000},
				"modelID": "claude", "providerID": "anthropic"},
			"parts": [{"id": "part-1", "sessionID": "ses-fake", "messageID": "msg-assistant-1",
				"type": "text", "text": "hello"}]
		}`)
	}))
	msgs := NewMessageRepo(f.store, f.client)

	got, err := msgs.SendMessage(context.Background(), f.session.ID, SendMessageInput{
		Model: &harness.ModelSelection{ProviderID: "anthropic", ModelID: "claude"},
		Parts: []harness.PartInput{harness.TextPartInput("hi")},
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if got.ID != "msg-assistant-1" || got.Role != "assistant" {
		t.Errorf("returned message = %+v", got)
	}

	stored, err := f.store.ListSessionMessages(f.session.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || len(stored[0].Parts) != 1 || stored[0].Parts[0].Text != "hello" {
		t.Fatalf("stored = %+v", stored)
	}
	if stored[0].CompletedAt == "" {
		t.Errorf("completed_at not persisted")
	}
}

func TestListMessages_UnknownSession(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)

	_, err := msgs.ListMessages(context.Background(), uuid.New(), 0)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestEvent_UnmappedSessionIsNoMatch(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)

	ev := harness.Event{Payload: harness.EventPayload{
		Type:        harness.EventSessionIdle,
		SessionIdle: &harness.SessionIdleProps{SessionID: "ses-nobody"},
	}}
	id, ok, err := msgs.IngestEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ok || id != uuid.Nil {
		t.Errorf("expected no match, got ok=%v id=%s", ok, id)
	}
}

func TestIngestEvent_MessageLifecycle(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)
	ctx := context.Background()

	updated := harness.Event{Payload: harness.EventPayload{
		Type: harness.EventMessageUpdated,
		MessageUpdated: &harness.MessageUpdatedProps{Info: harness.WireMessage{
			Role: "assistant",
			Assistant: &harness.AssistantMessage{
				ID:         "msg-event-assistant-1",
				SessionID:  f.harnessID,
				Time:       harness.MessageTimeCompleted{Created: 1700000000000},
				ProviderID: "anthropic",
				ModelID:    "claude",
			},
		}},
	}}
	id, ok, err := msgs.IngestEvent(ctx, updated)
	if err != nil || !ok || id != f.session.ID {
		t.Fatalf("message.updated: id=%s ok=%v err=%v", id, ok, err)
	}

	// The same delta delivered twice lands exactly once.
	partEv := harness.Event{Payload: harness.EventPayload{
		Type: harness.EventMessagePartUpdated,
		MessagePartUpdated: &harness.MessagePartUpdatedProps{
			Part: harness.WirePart{Type: "text", Text: &harness.TextPart{
				ID:        "part-event-1",
				SessionID: f.harnessID,
				MessageID: "msg-event-assistant-1",
			}},
			Delta: "hello",
		},
	}}
	for i := 0; i < 2; i++ {
		if _, _, err := msgs.IngestEvent(ctx, partEv); err != nil {
			t.Fatalf("part event %d: %v", i, err)
		}
	}

	listed, err := msgs.ListMessages(ctx, f.session.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Parts) != 1 {
		t.Fatalf("listed = %+v", listed)
	}
	if got := listed[0].Parts[0].Text; got != "hello" {
		t.Errorf("part text = %q", got)
	}

	removed := harness.Event{Payload: harness.EventPayload{
		Type: harness.EventMessageRemoved,
		MessageRemoved: &harness.MessageRemovedProps{
			SessionID: f.harnessID,
			MessageID: "msg-event-assistant-1",
		},
	}}
	if _, _, err := msgs.IngestEvent(ctx, removed); err != nil {
		t.Fatalf("message.removed: %v", err)
	}
	listed, err = msgs.ListMessages(ctx, f.session.ID, 0)
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("tombstoned message still listed: %+v", listed)
	}
}

func TestIngestEvent_PartBeforeMessageCreatesShell(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)

	ev := harness.Event{Payload: harness.EventPayload{
		Type: harness.EventMessagePartUpdated,
		MessagePartUpdated: &harness.MessagePartUpdatedProps{
			Part: harness.WirePart{Type: "text", Text: &harness.TextPart{
				ID:        "part-early",
				SessionID: f.harnessID,
				MessageID: "msg-unseen",
				Text:      "partial",
			}},
		},
	}}
	id, ok, err := msgs.IngestEvent(context.Background(), ev)
	if err != nil || !ok || id != f.session.ID {
		t.Fatalf("ingest: id=%s ok=%v err=%v", id, ok, err)
	}

	listed, err := msgs.ListMessages(context.Background(), f.session.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "msg-unseen" || listed[0].Role != "assistant" {
		t.Fatalf("shell message = %+v", listed)
	}
	if len(listed[0].Parts) != 1 || listed[0].Parts[0].Text != "partial" {
		t.Errorf("parts = %+v", listed[0].Parts)
	}
}

func TestIngestEvent_ToolPartSerialized(t *testing.T) {
	f := newFixture(t, noHarness(t))
	msgs := NewMessageRepo(f.store, f.client)

	ev := harness.Event{Payload: harness.EventPayload{
		Type: harness.EventMessagePartUpdated,
		MessagePartUpdated: &harness.MessagePartUpdatedProps{
			Part: harness.WirePart{Type: "tool", Tool: &harness.ToolPart{
				ID:        "part-tool-1",
				SessionID: f.harnessID,
				MessageID: "msg-tool",
				CallID:    "call-1",
				Tool:      "bash",
				State:     json.RawMessage(`{"status":"completed"}`),
			}},
		},
	}}
	if _, _, err := msgs.IngestEvent(context.Background(), ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	listed, err := msgs.ListMessages(context.Background(), f.session.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	part := listed[0].Parts[0]
	if part.PartType != "tool" {
		t.Fatalf("part type = %q", part.PartType)
	}
	var blob struct {
		CallID string          `json:"callID"`
		Tool   string          `json:"tool"`
		State  json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal([]byte(part.ToolJSON), &blob); err != nil {
		t.Fatalf("tool_json invalid: %v", err)
	}
	if blob.CallID != "call-1" || blob.Tool != "bash" {
		t.Errorf("tool_json = %q", part.ToolJSON)
	}
}

func TestIngestEvent_SessionIdleReconciles(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/ses-fake/message" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `[{
			"info": {"id": "msg-assistant-1", "sessionID": "ses-fake", "role": "assistant",
				"time": {"created": 1700000000000}, "modelID": "claude", "providerID": "anthropic"},
			"parts": [{"id": "part-1", "sessionID": "ses-fake", "messageID": "msg-assistant-1",
				"type": "text", "text": "hello"}]
		}]`)
	}))
	msgs := NewMessageRepo(f.store, f.client)

	ev := harness.Event{Payload: harness.EventPayload{
		Type:        harness.EventSessionIdle,
		SessionIdle: &harness.SessionIdleProps{SessionID: f.harnessID},
	}}
	id, ok, err := msgs.IngestEvent(context.Background(), ev)
	if err != nil || !ok || id != f.session.ID {
		t.Fatalf("ingest: id=%s ok=%v err=%v", id, ok, err)
	}

	listed, err := f.store.ListSessionMessages(f.session.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Parts[0].Text != "hello" {
		t.Fatalf("reconciled = %+v", listed)
	}
}

func TestReconcile_RequiresBoundSession(t *testing.T) {
	f := newFixture(t, noHarness(t))
	unbound, err := f.store.CreateSession(store.Session{
		ID:          uuid.New(),
		ProjectID:   f.project.ID,
		Name:        "unbound",
		HarnessType: "opencode",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	msgs := NewMessageRepo(f.store, f.client)
	err = msgs.ReconcileSessionMessages(context.Background(), unbound.ID, 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unbound session, got %v", err)
	}
}

package repo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"codedesk/internal/harness"
	"codedesk/internal/store"
)

// messageFromWire maps a harness message header to the canonical store
// shape. Unix-millisecond wire times become the store's formatted strings;
// structured error payloads are kept serialized.
func messageFromWire(sessionID uuid.UUID, msg harness.WireMessage) (store.Message, error) {
	switch {
	case msg.User != nil:
		u := msg.User
		return store.Message{
			ID:        u.ID,
			SessionID: sessionID,
			Role:      "user",
			CreatedAt: formatMillis(u.Time.Created),
		}, nil
	case msg.Assistant != nil:
		a := msg.Assistant
		out := store.Message{
			ID:         a.ID,
			SessionID:  sessionID,
			Role:       "assistant",
			CreatedAt:  formatMillis(a.Time.Created),
			ParentID:   a.ParentID,
			ProviderID: a.ProviderID,
			ModelID:    a.ModelID,
		}
		if a.Time.Completed != nil {
			out.CompletedAt = formatMillis(*a.Time.Completed)
		}
		if len(a.Error) > 0 {
			out.ErrorJSON = string(a.Error)
		}
		return out, nil
	}
	return store.Message{}, fmt.Errorf("message %q: unknown role %q", msg.ID(), msg.Role)
}

// partFromWire maps a harness part to the canonical store shape. Tool parts
// collapse to a single serialized blob; the store never interprets it.
func partFromWire(part harness.WirePart) (store.MessagePart, error) {
	switch {
	case part.Text != nil:
		return store.MessagePart{
			ID:        part.Text.ID,
			MessageID: part.Text.MessageID,
			PartType:  "text",
			Text:      part.Text.Text,
		}, nil
	case part.Reasoning != nil:
		return store.MessagePart{
			ID:        part.Reasoning.ID,
			MessageID: part.Reasoning.MessageID,
			PartType:  "reasoning",
			Text:      part.Reasoning.Text,
		}, nil
	case part.Tool != nil:
		blob, err := json.Marshal(struct {
			CallID string          `json:"callID"`
			Tool   string          `json:"tool"`
			State  json.RawMessage `json:"state"`
		}{part.Tool.CallID, part.Tool.Tool, part.Tool.State})
		if err != nil {
			return store.MessagePart{}, fmt.Errorf("part %q: serialize tool state: %w", part.Tool.ID, err)
		}
		return store.MessagePart{
			ID:        part.Tool.ID,
			MessageID: part.Tool.MessageID,
			PartType:  "tool",
			ToolJSON:  string(blob),
		}, nil
	}
	return store.MessagePart{}, fmt.Errorf("part %q: unknown type %q", part.ID(), part.Type)
}

// messageWithPartsFromWire maps a complete harness message, dropping parts
// of kinds this store does not persist.
func messageWithPartsFromWire(sessionID uuid.UUID, mp harness.MessageWithParts) (store.Message, error) {
	msg, err := messageFromWire(sessionID, mp.Info)
	if err != nil {
		return store.Message{}, err
	}
	for _, wp := range mp.Parts {
		part, err := partFromWire(wp)
		if err != nil {
			continue
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg, nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return store.FormatUTC(time.UnixMilli(ms))
}

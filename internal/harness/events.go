// Package harness talks to the out-of-process coding agent: a local HTTP
// server ("opencode serve") plus a server-sent event stream of lifecycle
// events. The wire format is the harness's own and is preserved exactly:
// camelCase identifier fields, "type"/"role" tagged unions, events
// wrapping a "properties" object.
package harness

import (
	"encoding/json"
	"fmt"
)

// Event payload type tags.
const (
	EventMessageUpdated     = "message.updated"
	EventMessagePartUpdated = "message.part.updated"
	EventMessageRemoved     = "message.removed"
	EventSessionIdle        = "session.idle"
)

// Event is the envelope every stream event arrives in.
type Event struct {
	Directory string       `json:"directory,omitempty"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload is a "type"-tagged union. Exactly one of the props pointers
// is set for the four event kinds this client understands; payloads of any
// other type decode with just Type set and are ignored by consumers.
type EventPayload struct {
	Type string

	MessageUpdated     *MessageUpdatedProps
	MessagePartUpdated *MessagePartUpdatedProps
	MessageRemoved     *MessageRemovedProps
	SessionIdle        *SessionIdleProps
}

func (p *EventPayload) UnmarshalJSON(data []byte) error {
	var head struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*p = EventPayload{Type: head.Type}

	switch head.Type {
	case EventMessageUpdated:
		p.MessageUpdated = &MessageUpdatedProps{}
		return json.Unmarshal(head.Properties, p.MessageUpdated)
	case EventMessagePartUpdated:
		p.MessagePartUpdated = &MessagePartUpdatedProps{}
		return json.Unmarshal(head.Properties, p.MessagePartUpdated)
	case EventMessageRemoved:
		p.MessageRemoved = &MessageRemovedProps{}
		return json.Unmarshal(head.Properties, p.MessageRemoved)
	case EventSessionIdle:
		p.SessionIdle = &SessionIdleProps{}
		return json.Unmarshal(head.Properties, p.SessionIdle)
	}
	// Unknown event type: tolerated, properties dropped.
	return nil
}

func (p EventPayload) MarshalJSON() ([]byte, error) {
	var props any
	switch p.Type {
	case EventMessageUpdated:
		props = p.MessageUpdated
	case EventMessagePartUpdated:
		props = p.MessagePartUpdated
	case EventMessageRemoved:
		props = p.MessageRemoved
	case EventSessionIdle:
		props = p.SessionIdle
	}
	return json.Marshal(struct {
		Type       string `json:"type"`
		Properties any    `json:"properties,omitempty"`
	}{p.Type, props})
}

// MessageUpdatedProps carries a complete message header; parts arrive
// separately.
type MessageUpdatedProps struct {
	Info WireMessage `json:"info"`
}

// MessagePartUpdatedProps carries the full current part plus an optional
// delta holding only the newly appended text since the previous event for
// that part id.
type MessagePartUpdatedProps struct {
	Part  WirePart `json:"part"`
	Delta string   `json:"delta,omitempty"`
}

type MessageRemovedProps struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

type SessionIdleProps struct {
	SessionID string `json:"sessionID"`
}

// WireMessage is a "role"-tagged union over user and assistant messages.
type WireMessage struct {
	Role string

	User      *UserMessage
	Assistant *AssistantMessage
}

func (m *WireMessage) UnmarshalJSON(data []byte) error {
	var head struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*m = WireMessage{Role: head.Role}

	switch head.Role {
	case "user":
		m.User = &UserMessage{}
		return json.Unmarshal(data, m.User)
	case "assistant":
		m.Assistant = &AssistantMessage{}
		return json.Unmarshal(data, m.Assistant)
	}
	return fmt.Errorf("unknown message role %q", head.Role)
}

func (m WireMessage) MarshalJSON() ([]byte, error) {
	switch m.Role {
	case "user":
		return marshalWithRole(m.User, "user")
	case "assistant":
		return marshalWithRole(m.Assistant, "assistant")
	}
	return nil, fmt.Errorf("unknown message role %q", m.Role)
}

func marshalWithRole(v any, role string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["role"] = json.RawMessage(fmt.Sprintf("%q", role))
	return json.Marshal(fields)
}

// ID returns the message id regardless of role.
func (m WireMessage) ID() string {
	if m.User != nil {
		return m.User.ID
	}
	if m.Assistant != nil {
		return m.Assistant.ID
	}
	return ""
}

// SessionID returns the harness's own session id regardless of role.
func (m WireMessage) SessionID() string {
	if m.User != nil {
		return m.User.SessionID
	}
	if m.Assistant != nil {
		return m.Assistant.SessionID
	}
	return ""
}

// MessageTime carries unix-millisecond timestamps.
type MessageTime struct {
	Created int64 `json:"created"`
}

type MessageTimeCompleted struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

type ModelInfo struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

type MessagePath struct {
	Cwd  string `json:"cwd"`
	Root string `json:"root"`
}

type UserMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID"`
	Time      MessageTime     `json:"time"`
	Agent     string          `json:"agent,omitempty"`
	Model     *ModelInfo      `json:"model,omitempty"`
	System    string          `json:"system,omitempty"`
	Tools     map[string]bool `json:"tools,omitempty"`
}

type AssistantMessage struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"sessionID"`
	Time       MessageTimeCompleted `json:"time"`
	Error      json.RawMessage      `json:"error,omitempty"`
	ParentID   string               `json:"parentID,omitempty"`
	ModelID    string               `json:"modelID"`
	ProviderID string               `json:"providerID"`
	Mode       string               `json:"mode,omitempty"`
	Path       *MessagePath         `json:"path,omitempty"`
	Cost       float64              `json:"cost,omitempty"`
	Finish     string               `json:"finish,omitempty"`
}

// WirePart is a "type"-tagged union over streamed message parts.
type WirePart struct {
	Type string

	Text      *TextPart
	Reasoning *ReasoningPart
	Tool      *ToolPart
}

func (p *WirePart) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*p = WirePart{Type: head.Type}

	switch head.Type {
	case "text":
		p.Text = &TextPart{}
		return json.Unmarshal(data, p.Text)
	case "reasoning":
		p.Reasoning = &ReasoningPart{}
		return json.Unmarshal(data, p.Reasoning)
	case "tool":
		p.Tool = &ToolPart{}
		return json.Unmarshal(data, p.Tool)
	}
	return fmt.Errorf("unknown part type %q", head.Type)
}

func (p WirePart) MarshalJSON() ([]byte, error) {
	var inner any
	switch p.Type {
	case "text":
		inner = p.Text
	case "reasoning":
		inner = p.Reasoning
	case "tool":
		inner = p.Tool
	default:
		return nil, fmt.Errorf("unknown part type %q", p.Type)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", p.Type))
	return json.Marshal(fields)
}

// ID returns the part id regardless of kind.
func (p WirePart) ID() string {
	switch {
	case p.Text != nil:
		return p.Text.ID
	case p.Reasoning != nil:
		return p.Reasoning.ID
	case p.Tool != nil:
		return p.Tool.ID
	}
	return ""
}

// SessionID returns the harness's own session id regardless of kind.
func (p WirePart) SessionID() string {
	switch {
	case p.Text != nil:
		return p.Text.SessionID
	case p.Reasoning != nil:
		return p.Reasoning.SessionID
	case p.Tool != nil:
		return p.Tool.SessionID
	}
	return ""
}

// MessageID returns the owning message id regardless of kind.
func (p WirePart) MessageID() string {
	switch {
	case p.Text != nil:
		return p.Text.MessageID
	case p.Reasoning != nil:
		return p.Reasoning.MessageID
	case p.Tool != nil:
		return p.Tool.MessageID
	}
	return ""
}

type TextPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Text      string `json:"text"`
	Synthetic *bool  `json:"synthetic,omitempty"`
	Ignored   *bool  `json:"ignored,omitempty"`
}

type ReasoningPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Text      string `json:"text"`
}

// ToolPart keeps the state union raw; it is persisted serialized, never
// interpreted at this layer.
type ToolPart struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID"`
	MessageID string          `json:"messageID"`
	CallID    string          `json:"callID"`
	Tool      string          `json:"tool"`
	State     json.RawMessage `json:"state"`
}

// MessageWithParts pairs a message header with its parts, as returned by
// send and list calls.
type MessageWithParts struct {
	Info  WireMessage `json:"info"`
	Parts []WirePart  `json:"parts"`
}

// ID returns the message id.
func (m MessageWithParts) ID() string { return m.Info.ID() }

// SessionID returns the harness's own session id.
func (m MessageWithParts) SessionID() string { return m.Info.SessionID() }

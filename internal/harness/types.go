package harness

import "encoding/json"

// RemoteSession is a session as the harness reports it.
type RemoteSession struct {
	ID       string             `json:"id"`
	ParentID string             `json:"parentID,omitempty"`
	Title    string             `json:"title"`
	Version  string             `json:"version"`
	Time     *RemoteSessionTime `json:"time,omitempty"`
}

type RemoteSessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// CreateSessionRequest asks the harness to open a new session.
type CreateSessionRequest struct {
	ParentID string `json:"parentID,omitempty"`
	Title    string `json:"title,omitempty"`
}

// ModelSelection names the provider/model pair a prompt should run on.
type ModelSelection struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// PartInput is one input part of an outgoing prompt. Only text parts are
// sent today.
type PartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextPartInput builds a text part for SendMessage.
func TextPartInput(text string) PartInput {
	return PartInput{Type: "text", Text: text}
}

// SendMessageRequest is the body of a prompt POST.
type SendMessageRequest struct {
	MessageID string          `json:"messageID,omitempty"`
	Model     *ModelSelection `json:"model,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	System    string          `json:"system,omitempty"`
	Tools     map[string]bool `json:"tools,omitempty"`
	Parts     []PartInput     `json:"parts"`
}

// Provider describes one model provider the harness can route to.
type Provider struct {
	ID     string                     `json:"id"`
	Name   string                     `json:"name"`
	Env    []string                   `json:"env,omitempty"`
	Models map[string]json.RawMessage `json:"models"`
}

// ProvidersResponse is the harness's provider inventory.
type ProvidersResponse struct {
	Providers []Provider        `json:"providers"`
	Default   map[string]string `json:"default"`
}

package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"codedesk/internal/logging"
)

// Client is an HTTP client for one running harness server. All request
// methods honor the passed context and the configured per-request timeout;
// Events uses a separate client with no timeout since the stream is
// long-lived.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient builds a client for the harness listening at hostname:port.
func NewClient(hostname string, port int, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:      fmt.Sprintf("http://%s:%d", hostname, port),
		httpClient:   &http.Client{Timeout: requestTimeout},
		streamClient: &http.Client{},
	}
}

// BaseURL reports the server address this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// ListSessions fetches every session the harness knows about.
func (c *Client) ListSessions(ctx context.Context) ([]RemoteSession, error) {
	var out []RemoteSession
	if err := c.do(ctx, http.MethodGet, "/session", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession opens a new harness session rooted at directory.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest, directory string) (RemoteSession, error) {
	var out RemoteSession
	q := directoryQuery(directory)
	if err := c.do(ctx, http.MethodPost, "/session", q, req, &out); err != nil {
		return RemoteSession{}, err
	}
	return out, nil
}

// SendMessage posts a prompt to a session and returns the completed
// assistant message once the harness finishes the turn.
func (c *Client) SendMessage(ctx context.Context, harnessSessionID string, req SendMessageRequest, directory string) (MessageWithParts, error) {
	var out MessageWithParts
	path := "/session/" + url.PathEscape(harnessSessionID) + "/message"
	if err := c.do(ctx, http.MethodPost, path, directoryQuery(directory), req, &out); err != nil {
		return MessageWithParts{}, err
	}
	return out, nil
}

// ListSessionMessages fetches a session's transcript. limit <= 0 means no
// limit.
func (c *Client) ListSessionMessages(ctx context.Context, harnessSessionID string, limit int, directory string) ([]MessageWithParts, error) {
	q := directoryQuery(directory)
	if limit > 0 {
		if q == nil {
			q = url.Values{}
		}
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/session/" + url.PathEscape(harnessSessionID) + "/message"
	var out []MessageWithParts
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Providers fetches the harness's provider/model inventory.
func (c *Client) Providers(ctx context.Context, directory string) (ProvidersResponse, error) {
	var out ProvidersResponse
	if err := c.do(ctx, http.MethodGet, "/provider", directoryQuery(directory), nil, &out); err != nil {
		return ProvidersResponse{}, err
	}
	return out, nil
}

// Events opens the harness's event stream. The caller owns the returned
// stream and must Close it; canceling ctx also terminates it.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, &Error{Op: "GET /event", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "GET /event", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{Op: "GET /event", Status: resp.StatusCode, Body: string(body)}
	}
	logging.Harness("event stream connected to %s", c.baseURL)
	return newEventStream(resp.Body), nil
}

// Ping reports whether the server answers at all. Used while waiting for a
// freshly spawned process to come up.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := method + " " + path

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timer := logging.StartTimer(logging.CategoryHarness, op)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		timer.Stop()
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	timer.Stop()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &Error{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func directoryQuery(directory string) url.Values {
	if directory == "" {
		return nil
	}
	return url.Values{"directory": []string{directory}}
}

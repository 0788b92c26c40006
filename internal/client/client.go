// Package client is a small HTTP client for the taskchat API. It keeps the
// session cookie in a jar, so a Login carries over to later calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s", e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// User is the public account view returned by the auth endpoints.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Client talks to one taskchat server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:8080". A bare
// host:port is treated as http.
func New(baseURL string) (*Client, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: u,
		http: &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) Register(ctx context.Context, email, password string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodPost, "/auth/register", credentials{email, password}, &u)
	return u, err
}

func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", credentials{email, password}, &out)
	return out.User, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u)
	return u, err
}

// Chat sends one message to the assistant.
func (c *Client) Chat(ctx context.Context, message string) (chat.Reply, error) {
	var r chat.Reply
	err := c.do(ctx, http.MethodPost, "/chat", map[string]string{"message": message}, &r)
	return r, err
}

// ClearHistory deletes the caller's conversation and returns how many
// messages went with it.
func (c *Client) ClearHistory(ctx context.Context) (int64, error) {
	var out struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	err := c.do(ctx, http.MethodDelete, "/chat/history", nil, &out)
	return out.DeletedCount, err
}

func (c *Client) ChatStatus(ctx context.Context) (chat.Status, error) {
	var s chat.Status
	err := c.do(ctx, http.MethodGet, "/chat/status", nil, &s)
	return s, err
}

// Tasks lists the caller's tasks, newest first.
func (c *Client) Tasks(ctx context.Context) ([]persistence.Task, error) {
	var out struct {
		Tasks []persistence.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/tasks", nil, &out)
	return out.Tasks, err
}

// Event is one frame from the live task feed.
type Event struct {
	Type string        `json:"type"`
	Task bus.TaskEvent `json:"task"`
}

// Events is an open subscription to the caller's task feed.
type Events struct {
	conn *websocket.Conn
}

// Subscribe opens the task feed with the current session. The server
// registers the subscription before the upgrade completes, so changes made
// after Subscribe returns are delivered.
func (c *Client) Subscribe(ctx context.Context) (*Events, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/events"

	// The dial is bounded by ctx; a client timeout would cut the stream.
	hc := *c.http
	hc.Timeout = 0
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("client: subscribe: %w", err)
	}
	return &Events{conn: conn}, nil
}

// Next blocks until the next event arrives or ctx is done.
func (e *Events) Next(ctx context.Context) (Event, error) {
	var ev Event
	if err := wsjson.Read(ctx, e.conn, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e *Events) Close() error {
	return e.conn.Close(websocket.StatusNormalClosure, "done")
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

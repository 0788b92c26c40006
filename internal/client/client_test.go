package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/client"
	"github.com/basket/taskchat/internal/confirm"
	"github.com/basket/taskchat/internal/gateway"
	"github.com/basket/taskchat/internal/kv"
	"github.com/basket/taskchat/internal/persistence"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	eventBus := bus.New()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "taskchat.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tokens := auth.NewTokenService([]byte("client-test-secret-0123456789abcdef"), time.Hour, nil)
	s := gateway.New(gateway.Config{
		Store: store,
		Auth:  auth.NewService(store, tokens, auth.Config{BcryptCost: 4}, nil),
		Chat:  chat.NewService(store, confirm.New(kv.NewMemory(nil), 0, nil), nil, eventBus, nil, nil, chat.Config{}),
		Bus:   eventBus,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SessionFlow(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := c.Me(ctx); !client.IsUnauthorized(err) {
		t.Fatalf("me before login: %v", err)
	}
	if _, err := c.Register(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	u, err := c.Login(ctx, "Alice@Example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Email != "alice@example.com" || u.ID == "" {
		t.Fatalf("login user = %+v", u)
	}
	me, err := c.Me(ctx)
	if err != nil || me.ID != u.ID {
		t.Fatalf("me = %+v, %v", me, err)
	}

	reply, err := c.Chat(ctx, "add buy milk")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !reply.DemoMode || !strings.Contains(reply.Response, "buy milk") {
		t.Fatalf("reply = %+v", reply)
	}
	tasks, err := c.Tasks(ctx)
	if err != nil || len(tasks) != 1 || tasks[0].Title != "buy milk" {
		t.Fatalf("tasks = %+v, %v", tasks, err)
	}
	status, err := c.ChatStatus(ctx)
	if err != nil || status.Available {
		t.Fatalf("status = %+v, %v", status, err)
	}
	n, err := c.ClearHistory(ctx)
	if err != nil || n != 2 {
		t.Fatalf("clear = %d, %v", n, err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.Tasks(ctx); !client.IsUnauthorized(err) {
		t.Fatalf("tasks after logout: %v", err)
	}
}

func TestClient_DecodesErrorEnvelope(t *testing.T) {
	srv := newServer(t)
	c, err := client.New(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Login(context.Background(), "nobody@example.com", "password123")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "AUTHENTICATION_ERROR" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestClient_SubscribeReceivesTaskEvents(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := c.Subscribe(ctx); !client.IsUnauthorized(err) {
		t.Fatalf("subscribe before login: %v", err)
	}

	if _, err := c.Register(ctx, "bob@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.Login(ctx, "bob@example.com", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	events, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer events.Close()

	if _, err := c.Chat(ctx, "add buy bread"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	ev, err := events.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type != "task.created" || ev.Task.Title != "buy bread" {
		t.Fatalf("event = %+v", ev)
	}
}

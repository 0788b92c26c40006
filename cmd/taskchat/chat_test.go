package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/client"
	"github.com/basket/taskchat/internal/persistence"
)

type fakeChatter struct {
	sent []string
	err  error
}

func (f *fakeChatter) Chat(_ context.Context, message string) (chat.Reply, error) {
	f.sent = append(f.sent, message)
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	return chat.Reply{Response: "echo: " + message}, nil
}

func (f *fakeChatter) Tasks(context.Context) ([]persistence.Task, error) { return nil, nil }
func (f *fakeChatter) ClearHistory(context.Context) (int64, error)       { return 0, nil }
func (f *fakeChatter) ChatStatus(context.Context) (chat.Status, error)   { return chat.Status{}, nil }

func TestChatLines_RelaysUntilEOF(t *testing.T) {
	fc := &fakeChatter{}
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("add milk\n\n  show my tasks"))
	if err := chatLines(context.Background(), fc, in, &out); err != nil {
		t.Fatalf("chatLines: %v", err)
	}
	if len(fc.sent) != 2 || fc.sent[1] != "show my tasks" {
		t.Fatalf("sent = %q", fc.sent)
	}
	if out.String() != "echo: add milk\necho: show my tasks\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestChatLines_QuitStops(t *testing.T) {
	fc := &fakeChatter{}
	in := bufio.NewReader(strings.NewReader("/quit\nadd milk\n"))
	if err := chatLines(context.Background(), fc, in, &bytes.Buffer{}); err != nil {
		t.Fatalf("chatLines: %v", err)
	}
	if len(fc.sent) != 0 {
		t.Fatalf("nothing should be sent after /quit, got %q", fc.sent)
	}
}

func TestChatLines_ErrorsAreReported(t *testing.T) {
	fc := &fakeChatter{err: &client.APIError{Status: http.StatusTooManyRequests, Message: "slow down"}}
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("hi\nagain\n"))
	if err := chatLines(context.Background(), fc, in, &out); err != nil {
		t.Fatalf("chatLines: %v", err)
	}
	if strings.Count(out.String(), "error: api: slow down") != 2 {
		t.Fatalf("output = %q", out.String())
	}
}

func TestChatLines_UnauthorizedEndsSession(t *testing.T) {
	fc := &fakeChatter{err: &client.APIError{Status: http.StatusUnauthorized}}
	in := bufio.NewReader(strings.NewReader("hi\nagain\n"))
	err := chatLines(context.Background(), fc, in, &bytes.Buffer{})
	if !client.IsUnauthorized(err) {
		t.Fatalf("got %v, want unauthorized", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("sent = %q", fc.sent)
	}
}

func TestRunChat_LogsInAndRelays(t *testing.T) {
	var loggedOut atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter22" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"AUTHENTICATION_ERROR","message":"invalid email or password"}}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "tok", Path: "/"})
		json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"id": "u1", "email": body["email"]}})
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("access_token"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(chat.Reply{Response: "Created task 'milk'."})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		loggedOut.Store(true)
		w.Write([]byte(`{"message":"Logged out"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("TASKCHAT_PASSWORD", "")
	var out bytes.Buffer
	err := runChat(context.Background(), chatOptions{
		server: srv.URL,
		email:  "alice@example.com",
		in:     strings.NewReader("hunter22\nadd milk\n"),
		out:    &out,
	})
	if err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), "Password for alice@example.com:") {
		t.Fatalf("missing password prompt: %q", out.String())
	}
	if !strings.Contains(out.String(), "Created task 'milk'.") {
		t.Fatalf("missing reply: %q", out.String())
	}
	if !loggedOut.Load() {
		t.Fatal("session should be logged out on exit")
	}
}

func TestRunChat_BadPassword(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"AUTHENTICATION_ERROR","message":"invalid email or password"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("TASKCHAT_PASSWORD", "wrong")
	err := runChat(context.Background(), chatOptions{
		server: srv.URL,
		email:  "alice@example.com",
		in:     strings.NewReader(""),
		out:    &bytes.Buffer{},
	})
	if !client.IsUnauthorized(err) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

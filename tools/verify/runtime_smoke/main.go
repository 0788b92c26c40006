// Command runtime_smoke drives a running taskchat server through one full
// session: health, register, login, live events, create, confirmed delete
// and logout. It prints one CHECK line per step and a final VERDICT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/client"
)

const smokeTitle = "runtime smoke check"

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "taskchat base url")
	email := flag.String("email", "", "account email (default: a fresh smoke-<uuid>@example.com)")
	password := flag.String("password", "smoke-password-123", "account password")
	timeout := flag.Duration("timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	if strings.TrimSpace(*email) == "" {
		*email = "smoke-" + uuid.NewString() + "@example.com"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *server, *email, *password, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}

func run(ctx context.Context, server, email, password string, out io.Writer) error {
	c, err := client.New(server)
	if err != nil {
		return err
	}
	if err := checkHealth(ctx, strings.TrimRight(withScheme(server), "/")+"/healthz"); err != nil {
		return fmt.Errorf("healthz: %w", err)
	}
	fmt.Fprintln(out, "CHECK healthz ok")

	if _, err := c.Register(ctx, email, password); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	user, err := c.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(out, "CHECK login ok user_id=%s\n", user.ID)

	events, err := c.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer events.Close()
	fmt.Fprintln(out, "CHECK events subscribed")

	reply, err := c.Chat(ctx, "add "+smokeTitle)
	if err != nil {
		return fmt.Errorf("chat create: %w", err)
	}
	if len(reply.ActionsTaken) == 0 {
		return fmt.Errorf("chat create took no action: %q", reply.Response)
	}
	ev, err := waitForEvent(ctx, events, bus.TopicTaskCreated)
	if err != nil {
		return fmt.Errorf("created event: %w", err)
	}
	if ev.Task.Title != smokeTitle {
		return fmt.Errorf("created event title: got %q want %q", ev.Task.Title, smokeTitle)
	}
	fmt.Fprintf(out, "CHECK task created task_id=%s demo_mode=%t\n", ev.Task.TaskID, reply.DemoMode)

	reply, err = c.Chat(ctx, "delete "+smokeTitle)
	if err != nil {
		return fmt.Errorf("chat delete: %w", err)
	}
	if _, ok := reply.Data["pending_action"]; !ok {
		return fmt.Errorf("delete did not ask for confirmation: %q", reply.Response)
	}
	fmt.Fprintln(out, "CHECK delete awaiting confirmation")

	if _, err := c.Chat(ctx, "yes"); err != nil {
		return fmt.Errorf("chat confirm: %w", err)
	}
	ev, err = waitForEvent(ctx, events, bus.TopicTaskDeleted)
	if err != nil {
		return fmt.Errorf("deleted event: %w", err)
	}
	fmt.Fprintf(out, "CHECK task deleted task_id=%s\n", ev.Task.TaskID)

	tasks, err := c.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) != 0 {
		return fmt.Errorf("expected no tasks after delete, got %d", len(tasks))
	}

	if err := c.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if _, err := c.Me(ctx); !client.IsUnauthorized(err) {
		return fmt.Errorf("session still valid after logout: %v", err)
	}
	fmt.Fprintln(out, "CHECK logout ok")
	return nil
}

func waitForEvent(ctx context.Context, events *client.Events, topic string) (client.Event, error) {
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			return client.Event{}, err
		}
		if ev.Type == topic {
			return ev, nil
		}
	}
}

func checkHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func withScheme(server string) string {
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return server
	}
	return "http://" + server
}

// Package audit keeps an append-only trail of security decisions: failed
// logins, rejected tokens, cross-owner access attempts and rate-limit
// rejections. Entries go to logs/audit.jsonl and, once a sink is set, to the
// audit_log table.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/taskchat/internal/shared"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Entry is one audit record. Channel and UserID only reach the file trail;
// the table keeps the subject.
type Entry struct {
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	Channel   string `json:"channel"`
	UserID    string `json:"user_id,omitempty"`
	Decision  string `json:"decision"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Subject   string `json:"subject,omitempty"`
}

// Sink persists entries to durable storage.
type Sink interface {
	InsertAudit(ctx context.Context, e Entry) error
}

// Trail writes entries to a JSON-lines file and an optional Sink.
type Trail struct {
	mu     sync.Mutex
	out    io.WriteCloser
	sink   Sink
	denies atomic.Int64
}

func (t *Trail) open(homeDir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out != nil {
		return nil
	}
	dir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	t.out = f
	return nil
}

func (t *Trail) setSink(s Sink) {
	t.mu.Lock()
	t.sink = s
	t.mu.Unlock()
}

func (t *Trail) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return nil
	}
	err := t.out.Close()
	t.out = nil
	return err
}

func (t *Trail) record(ctx context.Context, decision, action, reason, subject string) {
	if decision == DecisionDeny {
		t.denies.Add(1)
	}
	e := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:   shared.TraceID(ctx),
		Channel:   shared.Channel(ctx),
		UserID:    shared.UserID(ctx),
		Decision:  decision,
		Action:    action,
		Reason:    shared.Redact(reason),
		Subject:   shared.Redact(subject),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out != nil {
		if line, err := json.Marshal(e); err == nil {
			_, _ = t.out.Write(append(line, '\n'))
		}
	}
	if t.sink != nil {
		// A cancelled request still gets its row.
		_ = t.sink.InsertAudit(context.WithoutCancel(ctx), e)
	}
}

var std Trail

// Init opens logs/audit.jsonl under homeDir. Calling it again is a no-op
// until Close.
func Init(homeDir string) error { return std.open(homeDir) }

// SetSink configures table writes. Pass nil to detach.
func SetSink(s Sink) { std.setSink(s) }

func Close() error { return std.close() }

// DenyCount returns the total number of deny decisions since startup.
func DenyCount() int64 { return std.denies.Load() }

// Deny records a rejected request.
func Deny(ctx context.Context, action, reason, subject string) {
	std.record(ctx, DecisionDeny, action, reason, subject)
}

// Record appends one entry. reason and subject are redacted first.
func Record(ctx context.Context, decision, action, reason, subject string) {
	std.record(ctx, decision, action, reason, subject)
}

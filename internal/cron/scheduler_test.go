package cron_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/cron"
	"github.com/basket/taskchat/internal/kv"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/ratelimit"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open(filepath.Join(dir, "taskchat.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := cron.NewScheduler(cron.Config{})
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	if s.Next("tick").IsZero() {
		t.Fatal("expected next run time after start")
	}
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
}

func TestScheduler_RejectsBadSpecAndDuplicates(t *testing.T) {
	s := cron.NewScheduler(cron.Config{})
	noop := func(context.Context) error { return nil }

	if err := s.Add("bad", "not a cron", noop); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.Add("job", "@hourly", noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("job", "@daily", noop); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "job" {
		t.Fatalf("jobs = %v", got)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := cron.NewScheduler(cron.Config{})
	boom := errors.New("boom")
	if err := s.Add("fails", "@daily", func(context.Context) error { return boom }); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunNow(context.Background(), "fails"); !errors.Is(err, boom) {
		t.Fatalf("RunNow error = %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := cron.NewScheduler(cron.Config{})
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	if err := s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	if !cancelled.Load() {
		t.Fatal("expected job context to be cancelled by Stop")
	}
}

func TestAddMaintenance_Retention(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	store.SetClock(func() time.Time { return old })
	user, err := store.CreateUser(ctx, "a@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	conv, err := store.CurrentConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if _, err := store.AddMessage(ctx, user.ID, conv.ID, "user", "old message", nil); err != nil {
		t.Fatalf("add message: %v", err)
	}
	store.SetClock(nil)
	if _, err := store.AddMessage(ctx, user.ID, conv.ID, "user", "new message", nil); err != nil {
		t.Fatalf("add message: %v", err)
	}

	s := cron.NewScheduler(cron.Config{})
	if err := cron.AddMaintenance(s, cron.Maintenance{
		Store:             store,
		RetentionSchedule: "0 3 * * *",
		MessagesDays:      30,
	}, nil); err != nil {
		t.Fatalf("add maintenance: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != cron.JobRetention {
		t.Fatalf("jobs = %v", got)
	}
	if err := s.RunNow(ctx, cron.JobRetention); err != nil {
		t.Fatalf("retention: %v", err)
	}

	msgs, err := store.ListMessages(ctx, user.ID, conv.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "new message" {
		t.Fatalf("messages after retention = %+v", msgs)
	}
}

func TestAddMaintenance_SweepsAndEvicts(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }

	mem := kv.NewMemory(clock)
	_ = mem.Set(ctx, "confirm:u1", "x", time.Minute)
	_ = mem.Set(ctx, "keep", "y", 0)

	rl := ratelimit.NewMemory(5, time.Minute, clock)
	if _, err := rl.Allow(ctx, "tasks:user:u1"); err != nil {
		t.Fatalf("allow: %v", err)
	}

	s := cron.NewScheduler(cron.Config{})
	if err := cron.AddMaintenance(s, cron.Maintenance{
		KV:         []cron.Sweeper{mem},
		Limiters:   []cron.Evicter{rl},
		EvictAfter: 10 * time.Minute,
	}, nil); err != nil {
		t.Fatalf("add maintenance: %v", err)
	}

	now = now.Add(time.Hour)
	if err := s.RunNow(ctx, cron.JobKVSweep); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("kv len after sweep = %d", mem.Len())
	}
	if err := s.RunNow(ctx, cron.JobRateLimitEvict); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if rl.Len() != 0 {
		t.Fatalf("limiter len after evict = %d", rl.Len())
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	next, err := cron.NextRunTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if _, err := cron.NextRunTime("bogus", after); err == nil {
		t.Fatal("expected error for bad expression")
	}
}

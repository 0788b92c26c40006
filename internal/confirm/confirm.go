// Package confirm holds the single pending destructive action per user.
//
// States are NONE (no entry) and AWAITING_CONFIRMATION (an entry under
// "confirm:<owner>"). Entries live in a kv.Store, so every server process
// sharing that store sees the same pending action.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/taskchat/internal/kv"
)

// DefaultTTL bounds how long a pending action waits for a reply.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "confirm:"

// ActionDelete is the only action that needs confirmation today.
const ActionDelete = "DELETE"

// Pending is an action awaiting a yes/no reply.
type Pending struct {
	Action    string    `json:"pending_action"`
	TaskID    string    `json:"task_id"`
	TaskTitle string    `json:"task_title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is what a reply did to the pending state.
type Outcome int

const (
	// NoPending means there was nothing to resolve.
	NoPending Outcome = iota
	// Confirmed means the reply was affirmative; the entry is cleared.
	Confirmed
	// Cancelled means the reply was negative; the entry is cleared.
	Cancelled
	// Unresolved means the reply was neither; the entry stays.
	Unresolved
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Cancelled:
		return "cancelled"
	case Unresolved:
		return "unresolved"
	default:
		return "none"
	}
}

// Machine reads and writes pending actions.
type Machine struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(store kv.Store, ttl time.Duration, now func() time.Time) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{store: store, ttl: ttl, now: now}
}

func key(owner string) string {
	return keyPrefix + owner
}

// Pending returns the owner's pending action, or nil.
func (m *Machine) Pending(ctx context.Context, owner string) (*Pending, error) {
	raw, err := m.store.Get(ctx, key(owner))
	if err != nil {
		if errors.Is(err, kv.ErrMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending confirmation: %w", err)
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// A corrupt entry is as good as none.
		_, _ = m.store.Del(ctx, key(owner))
		return nil, nil
	}
	return &p, nil
}

// Await moves the owner to AWAITING_CONFIRMATION, replacing any older entry.
func (m *Machine) Await(ctx context.Context, owner string, p Pending) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending confirmation: %w", err)
	}
	if err := m.store.Set(ctx, key(owner), string(b), m.ttl); err != nil {
		return fmt.Errorf("store pending confirmation: %w", err)
	}
	return nil
}

// Clear returns the owner to NONE.
func (m *Machine) Clear(ctx context.Context, owner string) error {
	if _, err := m.store.Del(ctx, key(owner)); err != nil {
		return fmt.Errorf("clear pending confirmation: %w", err)
	}
	return nil
}

// Resolve applies a reply to the owner's pending action. isYes and isNo
// classify the reply; affirmative wins when both match. On Confirmed and
// Cancelled the entry is cleared and returned; on Unresolved it is kept.
func (m *Machine) Resolve(ctx context.Context, owner, reply string, isYes, isNo func(string) bool) (Outcome, *Pending, error) {
	p, err := m.Pending(ctx, owner)
	if err != nil {
		return NoPending, nil, err
	}
	if p == nil {
		return NoPending, nil, nil
	}
	var out Outcome
	switch {
	case isYes(reply):
		out = Confirmed
	case isNo(reply):
		out = Cancelled
	default:
		return Unresolved, p, nil
	}
	if err := m.Clear(ctx, owner); err != nil {
		return out, p, err
	}
	return out, p, nil
}

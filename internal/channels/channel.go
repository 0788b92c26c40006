// Package channels connects chat platforms to the chat facade.
package channels

import (
	"context"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
)

// Channel is a chat platform bridged to taskchat accounts.
type Channel interface {
	// Name is the channel tag recorded on audit entries, e.g. "telegram".
	Name() string
	// Start relays messages until ctx is done. It returns early only when
	// the platform cannot be reached at all.
	Start(ctx context.Context) error
}

// Chatter is the part of the chat facade a channel drives.
type Chatter interface {
	Handle(ctx context.Context, owner, message string) (chat.Reply, error)
	ClearHistory(ctx context.Context, owner string) (int64, error)
}

// UserLookup resolves a linked account by email.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
}

package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by conditional updates whose key does not exist.
// Plain lookups of a missing key return a nil record and a nil error instead.
var ErrNotFound = errors.New("store: item not found")

// Store is the key-value persistence adapter. Every method is a single key
// operation, a partition query, or a table scan; there are no transactions.
type Store interface {
	GetUser(ctx context.Context, email string) (*User, error)
	PutUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, email string) error
	UpdateUserPassword(ctx context.Context, email, passwordHash string) error
	UpdateUserName(ctx context.Context, email, firstName, lastName string) (*User, error)

	PutChat(ctx context.Context, chat *ChatSession) error
	GetChat(ctx context.Context, userID, chatID string) (*ChatSession, error)
	ListChats(ctx context.Context, userID string) ([]ChatSession, error)
	UpdateChatTitle(ctx context.Context, userID, chatID, title string, updatedAt time.Time) (*ChatSession, error)

	PutMessage(ctx context.Context, msg *ChatMessage) error
	ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error)

	PutSSOConfig(ctx context.Context, cfg *SSOConfig) error
	GetSSOConfig(ctx context.Context, id string) (*SSOConfig, error)
	ListSSOConfigs(ctx context.Context) ([]SSOConfig, error)
	GetActiveSSOConfig(ctx context.Context) (*SSOConfig, error)
	SetSSOConfigActive(ctx context.Context, id string, active bool) error
	DeleteSSOConfig(ctx context.Context, id string) error

	PutSecret(ctx context.Context, secret *Secret) error
	ListSecrets(ctx context.Context) ([]Secret, error)
	DeleteSecret(ctx context.Context, name string) error

	CreateTables(ctx context.Context) error
	Close() error
}

// Tables names the five tables backing a Store.
type Tables struct {
	Users     string
	Chats     string
	Messages  string
	SSOConfig string
	Secrets   string
}

// DefaultTables returns the table names used when none are configured.
func DefaultTables() Tables {
	return Tables{
		Users:     "Users",
		Chats:     "ChatSessions",
		Messages:  "ChatMessages",
		SSOConfig: "SSOConfig",
		Secrets:   "Secrets",
	}
}

func sortChatsByUpdated(chats []ChatSession) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

func sortMessagesByTimestamp(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func sortSecretsByName(secrets []Secret) {
	sort.Slice(secrets, func(i, j int) bool {
		return secrets[i].Name < secrets[j].Name
	})
}

package store

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	AuthTypeLocal = "local"
	AuthTypeSSO   = "sso"

	SenderUser      = "user"
	SenderAssistant = "assistant"

	DefaultChatTitle = "New Chat"
)

type User struct {
	Email        string    `json:"email"`
	UserID       string    `json:"userId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	PasswordHash string    `json:"-"` // Empty for SSO accounts
	Role         string    `json:"role"`
	AuthType     string    `json:"authType"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FullName joins first and last name the way the login response reports it.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsSSO reports whether the account must sign in through the identity provider.
// Records written before authType existed are local accounts.
func (u *User) IsSSO() bool {
	return u.AuthType == AuthTypeSSO
}

// EffectiveRole returns the stored role, defaulting to RoleUser.
func (u *User) EffectiveRole() string {
	if u.Role == "" {
		return RoleUser
	}
	return u.Role
}

type ChatSession struct {
	UserID    string    `json:"userId"`
	ChatID    string    `json:"chatId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
}

type SSOConfig struct {
	ID         string    `json:"id"`
	Issuer     string    `json:"issuer"`
	EntryPoint string    `json:"entryPoint"`
	Cert       string    `json:"cert"`
	IsActive   bool      `json:"isActive"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Secret struct {
	Name      string    `json:"name"`
	Value     string    `json:"-"` // Never returned to clients
	UpdatedAt time.Time `json:"updatedAt"`
}

// TimeLayout is ISO-8601 with fixed millisecond precision so stored sort
// keys compare lexically in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Fall back for records written with other RFC 3339 precisions.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

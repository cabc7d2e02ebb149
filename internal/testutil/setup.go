package testutil

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gravity.com/gravity-chat/internal/store"
)

// SetupStore returns an empty in-memory SQLite store, closed when the test ends.
func SetupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedUser stores a local account with the given password, or an SSO account
// when password is empty.
func SeedUser(t *testing.T, s store.Store, email, password, role string) *store.User {
	t.Helper()

	user := &store.User{
		Email:     email,
		UserID:    "id-" + email,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
		AuthType:  store.AuthTypeSSO,
		CreatedAt: time.Now().UTC(),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("Failed to hash password: %v", err)
		}
		user.PasswordHash = string(hash)
		user.AuthType = store.AuthTypeLocal
	}

	if err := s.PutUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

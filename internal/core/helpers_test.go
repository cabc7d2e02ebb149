package core

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"gravity.com/gravity-chat/internal/sso"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	history []PromptMessage
	message string
	model   string
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, history []PromptMessage, userMessage, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.history = history
	f.message = userMessage
	f.model = model
	return f.reply, f.err
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func keycloakMetadata(t *testing.T) *sso.Metadata {
	t.Helper()
	data, err := os.ReadFile("../sso/testdata/keycloak-metadata.xml")
	if err != nil {
		t.Fatalf("Failed to read metadata fixture: %v", err)
	}
	md, err := sso.ParseMetadata(data)
	if err != nil {
		t.Fatalf("Failed to parse metadata fixture: %v", err)
	}
	return md
}

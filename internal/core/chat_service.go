package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gravity.com/gravity-chat/internal/store"
)

const (
	titleLength = 30
	// assistantOffset keeps the reply's sort key after the user message.
	assistantOffset = 100 * time.Millisecond
)

type ChatService struct {
	store        store.Store
	llm          LLM
	defaultModel string
	historyLimit int
	now          func() time.Time
}

func NewChatService(s store.Store, llm LLM, defaultModel string, historyLimit int) *ChatService {
	return &ChatService{
		store:        s,
		llm:          llm,
		defaultModel: defaultModel,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// MessageExchange is the pair of messages stored for one prompt.
type MessageExchange struct {
	UserMessage      store.ChatMessage `json:"userMessage"`
	AssistantMessage store.ChatMessage `json:"assistantMessage"`
}

func (s *ChatService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]store.ChatSession, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *ChatService) CreateChat(ctx context.Context, userID string) (*store.ChatSession, error) {
	now := s.timestamp()
	chat := &store.ChatSession{
		UserID:    userID,
		ChatID:    uuid.NewString(),
		Title:     store.DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	return chat, nil
}

func (s *ChatService) ownedChat(ctx context.Context, userID, chatID string) (*store.ChatSession, error) {
	chat, err := s.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// GetMessages returns the messages of a chat owned by userID, oldest first.
func (s *ChatService) GetMessages(ctx context.Context, userID, chatID string) ([]store.ChatMessage, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return msgs, nil
}

// PostMessage stores the user's message, asks the model for a reply and
// stores that too. A model failure is reported in the reply text, never as
// an error.
func (s *ChatService) PostMessage(ctx context.Context, userID, chatID, content, model string) (*MessageExchange, error) {
	chat, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = s.defaultModel
	}

	prior, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	userMsg := store.ChatMessage{
		ChatID:    chatID,
		Timestamp: s.timestamp(),
		Role:      store.SenderUser,
		Content:   content,
	}
	if err := s.store.PutMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	reply, err := s.llm.GenerateResponse(ctx, promptHistory(prior, s.historyLimit), content, model)
	if err != nil {
		log.Printf("Error generating model response for chat %s: %v", chatID, err)
		reply = failedReplyText
	} else if strings.TrimSpace(reply) == "" {
		reply = emptyReplyText
	}

	assistantMsg := store.ChatMessage{
		ChatID:    chatID,
		Timestamp: userMsg.Timestamp.Add(assistantOffset),
		Role:      store.SenderAssistant,
		Content:   reply,
	}
	if err := s.store.PutMessage(ctx, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	title := chat.Title
	if title == store.DefaultChatTitle {
		title = titleFromMessage(content)
	}
	if _, err := s.store.UpdateChatTitle(ctx, userID, chatID, title, assistantMsg.Timestamp); err != nil {
		// Both messages are already stored.
		log.Printf("Failed to update chat %s after message: %v", chatID, err)
	}

	return &MessageExchange{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

func (s *ChatService) RenameChat(ctx context.Context, userID, chatID, title string) (*store.ChatSession, error) {
	chat, err := s.store.UpdateChatTitle(ctx, userID, chatID, title, s.timestamp())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to rename chat: %w", err)
	}
	return chat, nil
}

func titleFromMessage(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes) + "..."
}

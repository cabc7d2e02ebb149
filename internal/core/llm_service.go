package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gravity.com/gravity-chat/internal/store"
)

const (
	emptyReplyText  = "Sorry, I could not generate a response."
	failedReplyText = "I'm sorry, I encountered an error while processing your request. Please try again later."

	maxPromptResponseBytes = 4 << 20
)

// PromptMessage is one turn of the conversation sent to the model.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM generates the assistant reply to userMessage given the prior turns.
type LLM interface {
	GenerateResponse(ctx context.Context, history []PromptMessage, userMessage, model string) (string, error)
}

func promptHistory(msgs []store.ChatMessage, limit int) []PromptMessage {
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	history := make([]PromptMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, PromptMessage{Role: m.Role, Content: m.Content})
	}
	return history
}

// MCPClient talks to the model-serving process over its /prompt endpoint.
type MCPClient struct {
	host   string
	client *http.Client
}

func NewMCPClient(host string, timeout time.Duration) *MCPClient {
	return &MCPClient{
		host:   strings.TrimRight(host, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type promptRequest struct {
	Messages []PromptMessage `json:"messages"`
	Model    string          `json:"model"`
}

type promptResponse struct {
	Content string `json:"content"`
}

func (c *MCPClient) GenerateResponse(ctx context.Context, history []PromptMessage, userMessage, model string) (string, error) {
	body, err := json.Marshal(promptRequest{
		Messages: append(append([]PromptMessage{}, history...), PromptMessage{Role: store.SenderUser, Content: userMessage}),
		Model:    model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	debugf("Sending prompt to MCP server at %s with model %s (%d history messages)", c.host, model, len(history))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("MCP server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("MCP server error: %s", resp.Status)
	}

	var out promptResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPromptResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode MCP server response: %w", err)
	}
	return out.Content, nil
}

// GeminiClient answers prompts with the Gemini API directly.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiClient(ctx context.Context, apiKey, defaultModel string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, defaultModel: defaultModel}, nil
}

func (c *GeminiClient) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// modelName keeps a requested Gemini model and maps anything else (the
// frontend's llama3, mistral, ...) to the configured default.
func (c *GeminiClient) modelName(requested string) string {
	if strings.HasPrefix(requested, "gemini-") {
		return requested
	}
	return c.defaultModel
}

func (c *GeminiClient) GenerateResponse(ctx context.Context, history []PromptMessage, userMessage, model string) (string, error) {
	if userMessage == "" {
		return "", errors.New("user message is empty")
	}

	chatSession := c.client.GenerativeModel(c.modelName(model)).StartChat()
	for _, m := range history {
		role := "user"
		if m.Role == store.SenderAssistant {
			role = "model"
		}
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(userMessage))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		log.Println("Gemini response was empty or had no valid candidates.")
		return "", nil
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return responseText.String(), nil
}

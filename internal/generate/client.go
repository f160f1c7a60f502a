// Package generate implements the research, scriptwriting, image and speech
// collaborators of the generation pipeline on top of HTTP APIs.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned by clients that lack an API key.
var ErrNotConfigured = errors.New("client not configured")

// ChatConfig configures an OpenAI-compatible chat completion endpoint.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ChatClient handles communication with an OpenAI-compatible chat API
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewChatClient creates a chat client. A nil httpClient gets a two minute
// timeout.
func NewChatClient(cfg ChatConfig, httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &ChatClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *ChatClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// ChatCompletion sends a system and user prompt and returns the reply text.
func (c *ChatClient) ChatCompletion(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("chat: %w", ErrNotConfigured)
	}

	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// CompleteJSON asks for a JSON reply and decodes it into out. Markdown code
// fences and prose around the JSON value are ignored.
func (c *ChatClient) CompleteJSON(ctx context.Context, system, user string, maxTokens int, out any) error {
	reply, err := c.ChatCompletion(ctx, system+"\nRespond with JSON only.", user, maxTokens)
	if err != nil {
		return err
	}
	raw := extractJSON(reply)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model reply: %w (reply: %s)", err, truncate(reply, 200))
	}
	return nil
}

// extractJSON returns the first JSON object or array in s.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

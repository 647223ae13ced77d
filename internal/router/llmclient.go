package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPResponder is the local LLM fallback collaborator: a single-shot
// OpenAI-compatible chat-completions call against /v1/chat/completions,
// passing the rolling history as proper chat turns.
type HTTPResponder struct {
	apiBase     string
	apiKey      string
	model       string
	maxTokens   int
	maxTurns    int
	temperature float64
	client      *http.Client
}

// NewHTTPResponder builds an HTTPResponder posting to apiBase. maxTurns
// bounds how many trailing history entries are sent with each request.
func NewHTTPResponder(apiBase, apiKey, model string, maxTokens, maxTurns int, temperature float64, timeout time.Duration) *HTTPResponder {
	return &HTTPResponder{
		apiBase:     apiBase,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		maxTurns:    maxTurns,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Respond satisfies Responder: it builds a messages array from systemPrompt,
// the trailing maxTurns of history, and userMessage, then posts it to the
// configured chat-completions endpoint.
func (c *HTTPResponder) Respond(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, t := range c.trailing(history) {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMessage})

	body, err := json.Marshal(chatCompletionsRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat status %d: %s", resp.StatusCode, errBody)
	}

	var result chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("chat decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat response had no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *HTTPResponder) trailing(history []Turn) []Turn {
	if c.maxTurns <= 0 || len(history) <= c.maxTurns {
		return history
	}
	return history[len(history)-c.maxTurns:]
}

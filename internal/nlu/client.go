package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are the intent classifier for a single-operator remote-control agent.
Given the conversation and the operator's latest message, respond with ONE JSON object and nothing else:

{"action": "...", "name": "...", "command": "...", "description": "...", "reply": "..."}

Allowed actions:
- "run_command": the operator wants an ad-hoc shell command executed; put the exact command in "command".
- "run_task": the operator wants a saved task executed; put its name in "name".
- "save_task": the operator wants to create or update a named task; fill whichever of "name", "command", "description" the message provides and omit the rest.
- "delete_task": the operator wants a saved task removed; put its name in "name".
- "show_task": the operator asks what a saved task does; put its name in "name".
- "list_tasks": the operator asks what tasks exist.
- "unclear": none of the above; put a short clarification question in "reply".

Never invent shell commands the operator did not ask for. Omit fields you cannot fill.`

// Client classifies text through an OpenAI-compatible chat completions
// endpoint.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewClient creates a classifier against baseURL (e.g.
// "https://api.openai.com/v1"). apiKey may be empty for local
// endpoints that require none.
func NewClient(baseURL, model, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify implements Classifier
func (c *Client) Classify(ctx context.Context, text string, history []Turn) (*Classification, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	bodyBytes, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrClassificationFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrClassificationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrClassificationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned %d: %s", ErrClassificationFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrClassificationFailed, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrClassificationFailed, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrClassificationFailed)
	}

	content := stripCodeFences(parsed.Choices[0].Message.Content)

	var classification Classification
	if err := json.Unmarshal([]byte(content), &classification); err != nil {
		return nil, fmt.Errorf("%w: provider emitted non-JSON classification: %v", ErrClassificationFailed, err)
	}

	return &classification, nil
}

// stripCodeFences unwraps ```json ... ``` blocks some models insist on
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

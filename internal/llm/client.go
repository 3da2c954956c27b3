package llm

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

	"github.com/parleychat/parley/internal/models"
)

// ErrNotConfigured indicates the upstream credential is missing; callers
// report it as service-unavailable, distinct from internal failure.
var ErrNotConfigured = errors.New("llm: api key not configured")

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Per-mode upstream model selection.
var modelByMode = map[string]string{
	models.ModeChat: "llama-3.3-70b-versatile",
	models.ModeCode: "meta-llama/llama-4-maverick-17b-128e-instruct",
}

// ModelForMode maps a chat session mode to an upstream model name, defaulting
// to the chat model.
func ModelForMode(mode string) string {
	if model, ok := modelByMode[mode]; ok {
		return model
	}
	return modelByMode[models.ModeChat]
}

// ChatMessage is one turn sent to the upstream API.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the assistant reply plus usage metadata.
type Completion struct {
	Content string
	Usage   Usage
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Client calls a Groq-compatible chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. An empty apiKey produces a client whose
// calls fail with ErrNotConfigured.
func NewClient(apiKey, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured reports whether an upstream credential is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Complete sends the conversation upstream and returns the assistant reply.
func (c *Client) Complete(ctx context.Context, mode string, messages []ChatMessage) (*Completion, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := completionRequest{
		Model:       ModelForMode(mode),
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", errMarshal)
	}

	request, errRequest := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if errRequest != nil {
		return nil, fmt.Errorf("llm: build request: %w", errRequest)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, errDo := c.httpClient.Do(request)
	if errDo != nil {
		return nil, fmt.Errorf("llm: request: %w", errDo)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("llm: upstream status %d: %s", response.StatusCode, string(snippet))
	}

	var decoded completionResponse
	if errDecode := json.NewDecoder(response.Body).Decode(&decoded); errDecode != nil {
		return nil, fmt.Errorf("llm: decode response: %w", errDecode)
	}
	if len(decoded.Choices) == 0 {
		return &Completion{Usage: decoded.Usage}, nil
	}
	return &Completion{
		Content: decoded.Choices[0].Message.Content,
		Usage:   decoded.Usage,
	}, nil
}

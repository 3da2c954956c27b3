package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleychat/parley/internal/models"
)

func TestModelForMode(t *testing.T) {
	if ModelForMode(models.ModeChat) == "" {
		t.Fatalf("expected chat model")
	}
	if ModelForMode(models.ModeCode) == ModelForMode(models.ModeChat) {
		t.Fatalf("expected distinct code model")
	}
	if ModelForMode("bogus") != ModelForMode(models.ModeChat) {
		t.Fatalf("unknown mode must fall back to chat model")
	}
}

func TestCompleteNotConfigured(t *testing.T) {
	client := NewClient("", "")
	_, errComplete := client.Complete(context.Background(), models.ModeChat, nil)
	if !errors.Is(errComplete, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", errComplete)
	}
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&body); errDecode != nil {
			t.Errorf("decode request: %v", errDecode)
		}
		if body.Model != ModelForMode(models.ModeCode) {
			t.Errorf("expected code model, got %q", body.Model)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hi there"}},
			},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL)
	completion, errComplete := client.Complete(context.Background(), models.ModeCode, []ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	})
	if errComplete != nil {
		t.Fatalf("Complete: %v", errComplete)
	}
	if completion.Content != "hi there" {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if completion.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected usage %+v", completion.Usage)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL)
	_, errComplete := client.Complete(context.Background(), models.ModeChat, nil)
	if errComplete == nil {
		t.Fatalf("expected error for upstream failure")
	}
}

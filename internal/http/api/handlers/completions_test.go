package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/ratelimit"
)

// fakeUpstream serves a canned chat completion response.
func fakeUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompletionValidation(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing messages", map[string]any{"mode": "chat"}},
		{"invalid role", map[string]any{"messages": []map[string]string{{"role": "system", "content": "x"}}}},
		{"empty content", map[string]any{"messages": []map[string]string{{"role": "user", "content": ""}}}},
		{"invalid mode", map[string]any{
			"mode":     "paint",
			"messages": []map[string]string{{"role": "user", "content": "x"}},
		}},
	}
	for _, tc := range cases {
		recorder := env.do(t, http.MethodPost, "/api/chat/completions", tc.body, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", tc.name, recorder.Code, recorder.Body.String())
		}
	}
}

func TestCompletionNotConfigured(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{llmClient: llm.NewClient("", "")})

	recorder := env.do(t, http.MethodPost, "/api/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (%s)", recorder.Code, recorder.Body.String())
	}
}

func TestCompletionSuccess(t *testing.T) {
	upstream := fakeUpstream(t, "hello there")
	env := newTestEnv(t, testEnvOptions{llmClient: llm.NewClient("test-key", upstream.URL)})

	recorder := env.do(t, http.MethodPost, "/api/chat/completions", map[string]any{
		"mode":     "code",
		"messages": []map[string]string{{"role": "user", "content": "write a loop"}},
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	body := decodeJSON(t, recorder)
	if body["content"] != "hello there" {
		t.Fatalf("unexpected content %v", body["content"])
	}
	if body["model"] != llm.ModelForMode("code") {
		t.Fatalf("expected code model, got %v", body["model"])
	}
}

func TestCompletionPersistsExchange(t *testing.T) {
	upstream := fakeUpstream(t, "the answer")
	env := newTestEnv(t, testEnvOptions{llmClient: llm.NewClient("test-key", upstream.URL)})

	created := env.do(t, http.MethodPost, "/api/sessions",
		map[string]string{"title": "chat"}, withAnonymousToken("tok-c"))
	sessionID, _ := decodeJSON(t, created)["id"].(string)

	recorder := env.do(t, http.MethodPost, "/api/chat/completions", map[string]any{
		"sessionId": sessionID,
		"messages":  []map[string]string{{"role": "user", "content": "question"}},
	}, withAnonymousToken("tok-c"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	messages := env.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/messages", nil, nil)
	var decoded []map[string]any
	if errDecode := json.Unmarshal(messages.Body.Bytes(), &decoded); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected user and assistant messages, got %v", decoded)
	}
	if decoded[0]["role"] != "user" || decoded[0]["content"] != "question" {
		t.Fatalf("unexpected first message %v", decoded[0])
	}
	if decoded[1]["role"] != "assistant" || decoded[1]["content"] != "the answer" {
		t.Fatalf("unexpected second message %v", decoded[1])
	}
	if decoded[1]["usage"] == nil {
		t.Fatal("expected usage recorded on the assistant message")
	}
}

func TestCompletionRateLimited(t *testing.T) {
	upstream := fakeUpstream(t, "ok")
	// A frozen clock keeps every request inside one fixed window.
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewManager(ratelimit.Settings{Limit: 1}, func() time.Time { return frozen }, nil)
	env := newTestEnv(t, testEnvOptions{
		llmClient: llm.NewClient("test-key", upstream.URL),
		limiter:   limiter,
	})

	body := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}
	first := env.do(t, http.MethodPost, "/api/chat/completions", body, withAnonymousToken("tok-rl"))
	if first.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", first.Code)
	}
	second := env.do(t, http.MethodPost, "/api/chat/completions", body, withAnonymousToken("tok-rl"))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", second.Code)
	}

	// A different principal has its own window.
	other := env.do(t, http.MethodPost, "/api/chat/completions", body, withAnonymousToken("tok-other"))
	if other.Code != http.StatusOK {
		t.Fatalf("other principal: expected 200, got %d", other.Code)
	}
}

func TestCompletionRateLimitCoversUnidentifiedCallers(t *testing.T) {
	upstream := fakeUpstream(t, "ok")
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewManager(ratelimit.Settings{Limit: 1}, func() time.Time { return frozen }, nil)
	env := newTestEnv(t, testEnvOptions{
		llmClient: llm.NewClient("test-key", upstream.URL),
		limiter:   limiter,
	})

	// No cookie, no anonymous header: the shared per-address window applies.
	body := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}
	first := env.do(t, http.MethodPost, "/api/chat/completions", body, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", first.Code)
	}
	second := env.do(t, http.MethodPost, "/api/chat/completions", body, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", second.Code)
	}
}

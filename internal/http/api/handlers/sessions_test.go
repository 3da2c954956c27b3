package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
)

func withAnonymousToken(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(AnonymousSessionHeader, token)
	}
}

func TestCreateSessionAnonymous(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	recorder := env.do(t, http.MethodPost, "/api/sessions",
		map[string]string{"title": "First chat"}, withAnonymousToken("tok-123"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	body := decodeJSON(t, recorder)
	if body["mode"] != "chat" {
		t.Fatalf("expected default chat mode, got %v", body["mode"])
	}
	if body["anonymousSessionId"] != "tok-123" {
		t.Fatalf("expected anonymous token recorded, got %v", body["anonymousSessionId"])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	recorder := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"mode": "chat"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing title: expected 400, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/sessions",
		map[string]string{"title": "x", "mode": "paint"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode: expected 400, got %d", recorder.Code)
	}
}

func TestListSessionsScopedByIdentity(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	_, cookie := env.seedVerifiedUser(t, "owner@example.com")

	// One session per identity: the owner, one anonymous token, another token.
	env.do(t, http.MethodPost, "/api/sessions", map[string]string{"title": "owned"},
		func(r *http.Request) { r.AddCookie(cookie) })
	env.do(t, http.MethodPost, "/api/sessions", map[string]string{"title": "anon-a"},
		withAnonymousToken("tok-a"))
	env.do(t, http.MethodPost, "/api/sessions", map[string]string{"title": "anon-b"},
		withAnonymousToken("tok-b"))

	recorder := env.do(t, http.MethodGet, "/api/sessions", nil, withAnonymousToken("tok-a"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var sessions []map[string]any
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &sessions); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(sessions) != 1 || sessions[0]["title"] != "anon-a" {
		t.Fatalf("expected only tok-a session, got %v", sessions)
	}

	// The authenticated identity wins even when a token is also supplied.
	recorder = env.do(t, http.MethodGet, "/api/sessions", nil, func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set(AnonymousSessionHeader, "tok-a")
	})
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &sessions); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(sessions) != 1 || sessions[0]["title"] != "owned" {
		t.Fatalf("expected only the owned session, got %v", sessions)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	recorder := env.do(t, http.MethodGet, "/api/sessions/nope", nil, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestCreateMessageFlow(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	created := env.do(t, http.MethodPost, "/api/sessions",
		map[string]string{"title": "chat"}, withAnonymousToken("tok-1"))
	sessionID, _ := decodeJSON(t, created)["id"].(string)
	if sessionID == "" {
		t.Fatalf("expected session id, got %s", created.Body.String())
	}

	recorder := env.do(t, http.MethodPost, "/api/messages",
		map[string]string{"sessionId": sessionID, "role": "user", "content": "hello"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/messages", nil, nil)
	var messages []map[string]any
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &messages); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(messages) != 1 || messages[0]["content"] != "hello" {
		t.Fatalf("expected one message, got %v", messages)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing sessionId", map[string]string{"role": "user", "content": "x"}, http.StatusBadRequest},
		{"invalid role", map[string]string{"sessionId": "s", "role": "system", "content": "x"}, http.StatusBadRequest},
		{"missing content", map[string]string{"sessionId": "s", "role": "user"}, http.StatusBadRequest},
		{"unknown session", map[string]string{"sessionId": "missing", "role": "user", "content": "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		recorder := env.do(t, http.MethodPost, "/api/messages", tc.body, nil)
		if recorder.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, recorder.Code)
		}
	}
}

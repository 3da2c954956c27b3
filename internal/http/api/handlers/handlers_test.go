package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/email"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/security"
	"github.com/parleychat/parley/internal/storage"
)

type testEnv struct {
	store      storage.Store
	middleware *auth.Middleware
	tokens     *auth.TokenManager
	router     *gin.Engine
}

type testEnvOptions struct {
	requireVerification bool
	llmClient           *llm.Client
	limiter             *ratelimit.Manager
}

func newTestEnv(t *testing.T, opts testEnvOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore(storage.Options{})
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	middleware := auth.NewMiddleware(store, tokens)
	if opts.llmClient == nil {
		opts.llmClient = llm.NewClient("", "")
	}

	router := gin.New()
	authHandler := NewAuthHandler(store, middleware, email.LogSender{}, opts.requireVerification)
	router.POST("/api/auth/signup", authHandler.Signup)
	router.POST("/api/auth/verify-otp", authHandler.VerifyOTP)
	router.POST("/api/auth/login", authHandler.Login)
	router.POST("/api/auth/logout", authHandler.Logout)
	router.GET("/api/auth/me", middleware.RequireSession(), authHandler.Me)
	router.DELETE("/api/auth/account", middleware.RequireSession(), authHandler.DeleteAccount)

	sessionHandler := NewSessionHandler(store)
	router.GET("/api/sessions", middleware.OptionalIdentity(), sessionHandler.List)
	router.POST("/api/sessions", middleware.OptionalIdentity(), sessionHandler.Create)
	router.GET("/api/sessions/:id", middleware.OptionalIdentity(), sessionHandler.Get)
	router.GET("/api/sessions/:id/messages", middleware.OptionalIdentity(), sessionHandler.Messages)
	router.POST("/api/messages", middleware.OptionalIdentity(), sessionHandler.CreateMessage)

	apiKeyHandler := NewAPIKeyHandler(store)
	router.GET("/api/keys", middleware.RequireSession(), apiKeyHandler.List)
	router.POST("/api/keys", middleware.RequireSession(), apiKeyHandler.Create)
	router.DELETE("/api/keys/:id", middleware.RequireSession(), apiKeyHandler.Delete)

	completionHandler := NewCompletionHandler(store, opts.llmClient, opts.limiter)
	router.POST("/api/chat/completions", middleware.OptionalIdentity(), completionHandler.Complete)

	return &testEnv{store: store, middleware: middleware, tokens: tokens, router: router}
}

// seedVerifiedUser creates a verified account and returns its id plus a
// session cookie for requests.
func (env *testEnv) seedVerifiedUser(t *testing.T, emailAddr string) (userID string, cookie *http.Cookie) {
	t.Helper()
	ctx := context.Background()

	hash, errHash := security.HashSecret("password123")
	if errHash != nil {
		t.Fatalf("HashSecret: %v", errHash)
	}
	user, errCreate := env.store.CreateUser(ctx, emailAddr, hash)
	if errCreate != nil {
		t.Fatalf("CreateUser: %v", errCreate)
	}
	if errMark := env.store.MarkUserVerified(ctx, user.ID); errMark != nil {
		t.Fatalf("MarkUserVerified: %v", errMark)
	}

	token, errIssue := env.tokens.Issue(user.ID, user.Email)
	if errIssue != nil {
		t.Fatalf("Issue: %v", errIssue)
	}
	return user.ID, &http.Cookie{Name: auth.SessionCookieName, Value: token}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(request)
	}
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, request)
	return recorder
}

func timeInOneHour() time.Time {
	return time.Now().UTC().Add(time.Hour)
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &decoded); errDecode != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), errDecode)
	}
	return decoded
}

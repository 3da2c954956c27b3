package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/security"
)

func sessionCookieFrom(recorder interface{ Result() *http.Response }) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == auth.SessionCookieName {
			return cookie
		}
	}
	return nil
}

func TestSignupAutoVerify(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{requireVerification: false})

	recorder := env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"email": "New@Example.com", "password": "password123"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	body := decodeJSON(t, recorder)
	user, _ := body["user"].(map[string]any)
	if user == nil {
		t.Fatalf("expected user in response, got %v", body)
	}
	if user["email"] != "new@example.com" {
		t.Fatalf("expected normalized email, got %v", user["email"])
	}
	if user["isVerified"] != true {
		t.Fatalf("expected auto-verified user, got %v", user["isVerified"])
	}
	if cookie := sessionCookieFrom(recorder); cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie to be set")
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing email", map[string]string{"password": "password123"}},
		{"malformed email", map[string]string{"email": "not-an-email", "password": "password123"}},
		{"short password", map[string]string{"email": "a@example.com", "password": "short"}},
	}
	for _, tc := range cases {
		recorder := env.do(t, http.MethodPost, "/api/auth/signup", tc.body, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, recorder.Code)
		}
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	env.seedVerifiedUser(t, "dupe@example.com")

	recorder := env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"email": "dupe@example.com", "password": "password123"}, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestSignupWithVerificationHoldsSession(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{requireVerification: true})

	recorder := env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"email": "pending@example.com", "password": "password123"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	body := decodeJSON(t, recorder)
	user, _ := body["user"].(map[string]any)
	if user == nil || user["isVerified"] != false {
		t.Fatalf("expected unverified user, got %v", body)
	}
	if cookie := sessionCookieFrom(recorder); cookie != nil && cookie.Value != "" {
		t.Fatal("expected no session cookie before verification")
	}
}

func TestVerifyOTPFlow(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{requireVerification: true})
	ctx := context.Background()

	hash, _ := security.HashSecret("password123")
	user, errCreate := env.store.CreateUser(ctx, "otp@example.com", hash)
	if errCreate != nil {
		t.Fatalf("CreateUser: %v", errCreate)
	}
	otpHash, _ := security.HashSecret("123456")
	if _, errVerification := env.store.CreateEmailVerification(ctx, user.ID, otpHash, timeInOneHour()); errVerification != nil {
		t.Fatalf("CreateEmailVerification: %v", errVerification)
	}

	// Wrong code leaves the user unverified.
	recorder := env.do(t, http.MethodPost, "/api/auth/verify-otp",
		map[string]string{"email": "otp@example.com", "otp": "000000"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("wrong code: expected 400, got %d", recorder.Code)
	}
	reloaded, _ := env.store.GetUserByID(ctx, user.ID)
	if reloaded.IsVerified {
		t.Fatal("wrong code must not verify the user")
	}

	// Correct code verifies and starts a session.
	recorder = env.do(t, http.MethodPost, "/api/auth/verify-otp",
		map[string]string{"email": "otp@example.com", "otp": "123456"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	if cookie := sessionCookieFrom(recorder); cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie after verification")
	}
	reloaded, _ = env.store.GetUserByID(ctx, user.ID)
	if !reloaded.IsVerified {
		t.Fatal("expected user verified")
	}

	// The code is consumed; replaying it fails.
	recorder = env.do(t, http.MethodPost, "/api/auth/verify-otp",
		map[string]string{"email": "otp@example.com", "otp": "123456"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("replay: expected 400, got %d", recorder.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	env.seedVerifiedUser(t, "login@example.com")

	recorder := env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "login@example.com", "password": "password123"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	if cookie := sessionCookieFrom(recorder); cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie")
	}
}

func TestLoginUniformFailure(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	env.seedVerifiedUser(t, "known@example.com")

	wrongPassword := env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "known@example.com", "password": "wrong-password"}, nil)
	unknownEmail := env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ghost@example.com", "password": "password123"}, nil)

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("responses must not reveal which factor failed: %q vs %q",
			wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestLoginUnverifiedRejected(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{requireVerification: true})
	ctx := context.Background()

	hash, _ := security.HashSecret("password123")
	if _, errCreate := env.store.CreateUser(ctx, "unverified@example.com", hash); errCreate != nil {
		t.Fatalf("CreateUser: %v", errCreate)
	}

	recorder := env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "unverified@example.com", "password": "password123"}, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestMeRequiresSession(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	_, cookie := env.seedVerifiedUser(t, "me@example.com")

	recorder := env.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/api/auth/me", nil, func(r *http.Request) {
		r.AddCookie(cookie)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	body := decodeJSON(t, recorder)
	user, _ := body["user"].(map[string]any)
	if user == nil || user["email"] != "me@example.com" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t, testEnvOptions{})
	userID, cookie := env.seedVerifiedUser(t, "gone@example.com")

	recorder := env.do(t, http.MethodDelete, "/api/auth/account", nil, func(r *http.Request) {
		r.AddCookie(cookie)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	if _, errGet := env.store.GetUserByID(context.Background(), userID); errGet == nil {
		t.Fatal("expected user to be deleted")
	}
}

package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides per-second fixed-window rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// Settings captures the limiter configuration resolved at startup.
type Settings struct {
	// Limit is the allowed requests per second per key; zero disables.
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// PrincipalKey builds the limiter key for an authenticated user or anonymous
// token.
func PrincipalKey(userID, anonymousToken string) string {
	if userID != "" {
		return "user:" + userID
	}
	if anonymousToken != "" {
		return "anon:" + anonymousToken
	}
	return ""
}

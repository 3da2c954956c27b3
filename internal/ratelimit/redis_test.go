package ratelimit

import "testing"

func TestReplyToInt64(t *testing.T) {
	for _, raw := range []any{int64(7), int(7), uint64(7)} {
		got, errReply := replyToInt64(raw)
		if errReply != nil {
			t.Fatalf("replyToInt64(%T): %v", raw, errReply)
		}
		if got != 7 {
			t.Fatalf("replyToInt64(%T) = %d, want 7", raw, got)
		}
	}
	if _, errReply := replyToInt64("7"); errReply == nil {
		t.Fatal("expected error for a string reply")
	}
}

func TestWindowKeyNamespacing(t *testing.T) {
	plain := &RedisLimiter{}
	if got := plain.windowKey("user:1", 42); got != "user:1:42" {
		t.Fatalf("unexpected key %q", got)
	}
	prefixed := NewRedisLimiter(nil, " parley:rl ")
	if got := prefixed.windowKey("user:1", 42); got != "parley:rl:user:1:42" {
		t.Fatalf("unexpected key %q", got)
	}
}

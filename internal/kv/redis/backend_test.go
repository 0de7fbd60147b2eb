package redis

import (
	"context"
	"errors"
	"sort"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"offline-quiz-store/internal/kv"
)

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	if _, err := backend.Get(ctx, "quiz_session_1"); !errors.Is(err, kv.ErrKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := backend.Set(ctx, "quiz_session_1", `{"sessionId":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := backend.Get(ctx, "quiz_session_1")
	if err != nil || value != `{"sessionId":1}` {
		t.Fatalf("get: %q %v", value, err)
	}

	if err := backend.Delete(ctx, "quiz_session_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := backend.Get(ctx, "quiz_session_1"); !errors.Is(err, kv.ErrKeyNotFound) {
		t.Fatalf("expected key gone, got %v", err)
	}
}

func TestBackendKeysScansPrefixOnly(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	for _, key := range []string{"quiz_session_1", "quiz_session_2", "quiz_storage_metadata", "course_progress_5"} {
		if err := backend.Set(ctx, key, "{}"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	keys, err := backend.Keys(ctx, "quiz_session_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "quiz_session_1" || keys[1] != "quiz_session_2" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewBackend(client)
}

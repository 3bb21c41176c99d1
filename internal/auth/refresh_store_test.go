package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRefreshStore(t *testing.T, ttl time.Duration) (*RefreshStore, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })
	store, err := NewRefreshStore(client, ttl)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store, mini
}

func TestRefreshIssueAndValidate(t *testing.T) {
	store, mini := newTestRefreshStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a non-empty token")
	}
	if !mini.Exists("refreshToken:user-1") {
		t.Fatalf("expected token stored under the user key")
	}

	if err := store.Validate(ctx, "user-1", token); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := store.Validate(ctx, "user-1", "forged"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if err := store.Validate(ctx, "user-2", token); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected invalid token for other user, got %v", err)
	}
}

func TestRefreshTokenExpires(t *testing.T) {
	store, mini := newTestRefreshStore(t, time.Minute)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	mini.FastForward(2 * time.Minute)

	if err := store.Validate(ctx, "user-1", token); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestRefreshRotateInvalidatesOldToken(t *testing.T) {
	store, _ := newTestRefreshStore(t, time.Hour)
	ctx := context.Background()

	oldToken, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	newToken, err := store.Rotate(ctx, "user-1", oldToken)
	if err != nil {
		t.Fatalf("unexpected rotate error: %v", err)
	}
	if newToken == oldToken {
		t.Fatalf("expected rotation to mint a new token")
	}

	if err := store.Validate(ctx, "user-1", oldToken); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected old token dead after rotation, got %v", err)
	}
	if err := store.Validate(ctx, "user-1", newToken); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if _, err := store.Rotate(ctx, "user-1", "forged"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected rotate with a forged token to fail, got %v", err)
	}
}

func TestRefreshRevokeEndsSession(t *testing.T) {
	store, _ := newTestRefreshStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if err := store.Revoke(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if err := store.Validate(ctx, "user-1", token); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected revoked token rejection, got %v", err)
	}
}

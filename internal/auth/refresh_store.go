package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	refreshKeyPrefix  = "refreshToken:"
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// ErrRefreshTokenInvalid indicates the presented refresh token does not match
// the stored one or has expired.
var ErrRefreshTokenInvalid = errors.New("auth: refresh token invalid or expired")

// RefreshStore keeps one refresh token per user in the cache store with a
// sliding expiry. Issuing a new token replaces the previous one, so a stolen
// older token dies on the next legitimate refresh.
type RefreshStore struct {
	cache redis.Cmdable
	ttl   time.Duration
}

// NewRefreshStore constructs the refresh-token store.
func NewRefreshStore(cache redis.Cmdable, ttl time.Duration) (*RefreshStore, error) {
	if cache == nil {
		return nil, fmt.Errorf("auth: cache client is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	return &RefreshStore{cache: cache, ttl: ttl}, nil
}

func refreshKey(userID string) string {
	return refreshKeyPrefix + userID
}

// Issue mints and stores a fresh refresh token for the user.
func (s *RefreshStore) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errMissingSubjectClaim
	}
	token := uuid.NewString()
	if err := s.cache.Set(ctx, refreshKey(userID), token, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store refresh token: %w", err)
	}
	return token, nil
}

// Validate checks the presented token against the stored one.
func (s *RefreshStore) Validate(ctx context.Context, userID, token string) error {
	stored, err := s.cache.Get(ctx, refreshKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrRefreshTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("auth: read refresh token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrRefreshTokenInvalid
	}
	return nil
}

// Rotate validates the presented token and replaces it with a new one.
func (s *RefreshStore) Rotate(ctx context.Context, userID, token string) (string, error) {
	if err := s.Validate(ctx, userID, token); err != nil {
		return "", err
	}
	return s.Issue(ctx, userID)
}

// Revoke removes the user's refresh token, ending the refresh session.
func (s *RefreshStore) Revoke(ctx context.Context, userID string) error {
	if err := s.cache.Del(ctx, refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("auth: revoke refresh token: %w", err)
	}
	return nil
}

package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const topFollowersKey = "top_followers"

var (
	// ErrInvalidUser indicates a missing or malformed user reference.
	ErrInvalidUser = errors.New("users: invalid user")
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrSelfFollow indicates a user attempted to follow themselves.
	ErrSelfFollow = errors.New("users: cannot follow self")
)

// IDProvider issues unique identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Database *gorm.DB
	Cache    redis.Cmdable
	Clock    func() time.Time
	IDs      IDProvider
	Logger   *zap.Logger
}

// Service manages accounts and the follow graph.
type Service struct {
	db     *gorm.DB
	cache  redis.Cmdable
	now    func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		cache:  cfg.Cache,
		now:    clock,
		ids:    cfg.IDs,
		logger: logger,
	}, nil
}

// Register creates an account for a new nickname.
func (s *Service) Register(ctx context.Context, nickname, email string) (User, error) {
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return User{}, ErrInvalidUser
	}
	id, err := s.ids.NewID()
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:       id,
		Nickname: trimmed,
		Email:    strings.TrimSpace(email),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Follow records the follower → followee edge. Re-following is a no-op;
// a previously removed edge is restored in place.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == "" || followeeID == "" {
		return ErrInvalidUser
	}
	if followerID == followeeID {
		return ErrSelfFollow
	}

	followee, err := s.Get(ctx, followeeID)
	if err != nil {
		return err
	}

	var existing Follow
	err = s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	edge := Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: s.now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "follower_id"}, {Name: "followee_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"deleted_at": nil}),
	}).Create(&edge).Error
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.ZIncrBy(ctx, topFollowersKey, 1, followee.Nickname).Err(); err != nil {
			s.logger.Warn("top follower bump failed",
				zap.String("followee_id", followeeID), zap.Error(err))
		}
	}
	return nil
}

// Unfollow soft-deletes the follow edge if present.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == "" || followeeID == "" {
		return ErrInvalidUser
	}
	result := s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&Follow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	if s.cache != nil {
		followee, err := s.Get(ctx, followeeID)
		if err == nil {
			if err := s.cache.ZIncrBy(ctx, topFollowersKey, -1, followee.Nickname).Err(); err != nil {
				s.logger.Warn("top follower decrement failed",
					zap.String("followee_id", followeeID), zap.Error(err))
			}
		}
	}
	return nil
}

// FollowerIDs lists the ids of everyone following the given user. Used as the
// recipient set for followed-board fan-out.
func (s *Service) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("followee_id = ?", userID).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TopFollowers reads the highest-scored nicknames from the cache-side
// leaderboard, most followed first.
func (s *Service) TopFollowers(ctx context.Context, limit int) ([]string, error) {
	if s.cache == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return s.cache.ZRevRange(ctx, topFollowersKey, 0, int64(limit-1)).Result()
}

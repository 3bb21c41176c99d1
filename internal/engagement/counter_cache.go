package engagement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inkwell-labs/inkwell/backend/internal/boards"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingCache    = errors.New("cache client is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a failure with an operation-scoped code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opCacheNew     = "engagement.cache.new"
	opRecordView   = "engagement.record_view"
	opRecordLike   = "engagement.record_like"
	opCancelLike   = "engagement.cancel_like"
	opVoteComment  = "engagement.vote_comment"
	opUnvoteCommnt = "engagement.unvote_comment"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// VoteOutcome reports how a like/vote request was absorbed.
type VoteOutcome string

const (
	// OutcomeApplied means the action was newly recorded (cache or durable).
	OutcomeApplied VoteOutcome = "applied"
	// OutcomeDuplicate means the identical action was already recorded; no-op.
	OutcomeDuplicate VoteOutcome = "duplicate"
)

// CounterCacheConfig describes the dependencies of the counter cache.
type CounterCacheConfig struct {
	Database *gorm.DB
	Cache    redis.Cmdable
	Clock    func() time.Time
	Logger   *zap.Logger
}

// CounterCache absorbs view, like and vote actions into the cache store,
// de-duplicated per user, so the durable counters are only touched by the
// reconciler. Vote flips and cancels of already-reconciled actions fall
// through to the durable store to keep signed counters exact.
type CounterCache struct {
	db     *gorm.DB
	cache  redis.Cmdable
	clock  func() time.Time
	logger *zap.Logger
}

// NewCounterCache validates dependencies and constructs the counter cache.
func NewCounterCache(cfg CounterCacheConfig) (*CounterCache, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opCacheNew, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opCacheNew, "missing_cache", errMissingCache)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &CounterCache{
		db:     cfg.Database,
		cache:  cfg.Cache,
		clock:  clock,
		logger: logger,
	}, nil
}

// RecordView adds the user to the board's view set. It reports whether this
// user was new for the board since the last flush; repeats are no-ops.
func (c *CounterCache) RecordView(ctx context.Context, boardID, userID string) (bool, error) {
	added, err := c.cache.SAdd(ctx, boardViewKey(boardID), userID).Result()
	if err != nil {
		c.logError(opRecordView, "cache_write_failed", err, boardID, userID)
		return false, newServiceError(opRecordView, "cache_write_failed", err)
	}
	return added > 0, nil
}

// RecordLike adds the user to the board's like set. A durable like row from a
// previous reconciliation counts as already-liked and leaves the cache alone.
func (c *CounterCache) RecordLike(ctx context.Context, boardID, userID string) (VoteOutcome, error) {
	var existing boards.BoardLike
	err := c.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Take(&existing).Error
	if err == nil {
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.logError(opRecordLike, "durable_check_failed", err, boardID, userID)
		return "", newServiceError(opRecordLike, "durable_check_failed", err)
	}

	added, err := c.cache.SAdd(ctx, boardLikeKey(boardID), userID).Result()
	if err != nil {
		c.logError(opRecordLike, "cache_write_failed", err, boardID, userID)
		return "", newServiceError(opRecordLike, "cache_write_failed", err)
	}
	if added == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

// CancelLike removes the user from the like set; when the like was already
// reconciled the durable ownership row is soft-deleted and the counter
// decremented instead.
func (c *CounterCache) CancelLike(ctx context.Context, boardID, userID string) error {
	removed, err := c.cache.SRem(ctx, boardLikeKey(boardID), userID).Result()
	if err != nil {
		c.logError(opCancelLike, "cache_remove_failed", err, boardID, userID)
		return newServiceError(opCancelLike, "cache_remove_failed", err)
	}
	if removed > 0 {
		return nil
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("board_id = ? AND user_id = ?", boardID, userID).
			Delete(&boards.BoardLike{})
		if result.Error != nil {
			c.logError(opCancelLike, "durable_delete_failed", result.Error, boardID, userID)
			return newServiceError(opCancelLike, "durable_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			// Nothing cached and nothing durable: cancel of a like that never was.
			return nil
		}
		err := tx.Model(&boards.Board{}).
			Where("id = ?", boardID).
			UpdateColumn("like_count", gorm.Expr("like_count - ?", 1)).Error
		if err != nil {
			c.logError(opCancelLike, "counter_decrement_failed", err, boardID, userID)
			return newServiceError(opCancelLike, "counter_decrement_failed", err)
		}
		return nil
	})
}

// VoteComment records a like (true) or dislike (false) for a comment. First
// votes are absorbed by the cache hash; a flip of an already-reconciled vote
// is applied durably in one step so the signed counters cannot drift.
func (c *CounterCache) VoteComment(ctx context.Context, commentID, userID string, isLike bool) (VoteOutcome, error) {
	vote := boards.VoteDislike
	if isLike {
		vote = boards.VoteLike
	}

	var existing boards.CommentVote
	err := c.db.WithContext(ctx).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Take(&existing).Error
	switch {
	case err == nil && existing.Vote == vote:
		return OutcomeDuplicate, nil
	case err == nil:
		if err := c.flipDurableVote(ctx, commentID, userID, vote); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		c.logError(opVoteComment, "durable_check_failed", err, commentID, userID)
		return "", newServiceError(opVoteComment, "durable_check_failed", err)
	}

	// Hash overwrite keeps the invariant of one vote per user per comment.
	err = c.cache.HSet(ctx, commentLikeKey(commentID), userID, strconv.Itoa(vote)).Err()
	if err != nil {
		c.logError(opVoteComment, "cache_write_failed", err, commentID, userID)
		return "", newServiceError(opVoteComment, "cache_write_failed", err)
	}
	return OutcomeApplied, nil
}

// flipDurableVote upserts the ownership row to the new sign and moves one
// count between the like and dislike columns in the same transaction.
func (c *CounterCache) flipDurableVote(ctx context.Context, commentID, userID string, vote int) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := boards.CommentVote{
			CommentID: commentID,
			UserID:    userID,
			Vote:      vote,
			UpdatedAt: c.clock().UTC(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "comment_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"vote": vote, "updated_at": row.UpdatedAt}),
		}).Create(&row).Error
		if err != nil {
			c.logError(opVoteComment, "vote_upsert_failed", err, commentID, userID)
			return newServiceError(opVoteComment, "vote_upsert_failed", err)
		}

		likeDelta, dislikeDelta := 1, -1
		if vote == boards.VoteDislike {
			likeDelta, dislikeDelta = -1, 1
		}
		err = tx.Model(&boards.Comment{}).
			Where("id = ?", commentID).
			UpdateColumns(map[string]interface{}{
				"like_count":    gorm.Expr("like_count + ?", likeDelta),
				"dislike_count": gorm.Expr("dislike_count + ?", dislikeDelta),
			}).Error
		if err != nil {
			c.logError(opVoteComment, "counter_flip_failed", err, commentID, userID)
			return newServiceError(opVoteComment, "counter_flip_failed", err)
		}
		return nil
	})
}

// UnvoteComment removes the user's pending cached vote; when the vote was
// already reconciled the ownership row is soft-deleted and the matching
// counter decremented.
func (c *CounterCache) UnvoteComment(ctx context.Context, commentID, userID string) error {
	removed, err := c.cache.HDel(ctx, commentLikeKey(commentID), userID).Result()
	if err != nil {
		c.logError(opUnvoteCommnt, "cache_remove_failed", err, commentID, userID)
		return newServiceError(opUnvoteCommnt, "cache_remove_failed", err)
	}
	if removed > 0 {
		return nil
	}

	var existing boards.CommentVote
	err = c.db.WithContext(ctx).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		c.logError(opUnvoteCommnt, "durable_check_failed", err, commentID, userID)
		return newServiceError(opUnvoteCommnt, "durable_check_failed", err)
	}

	column := "dislike_count"
	if existing.Vote == boards.VoteLike {
		column = "like_count"
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("comment_id = ? AND user_id = ?", commentID, userID).
			Delete(&boards.CommentVote{})
		if result.Error != nil {
			c.logError(opUnvoteCommnt, "durable_delete_failed", result.Error, commentID, userID)
			return newServiceError(opUnvoteCommnt, "durable_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		err := tx.Model(&boards.Comment{}).
			Where("id = ?", commentID).
			UpdateColumn(column, gorm.Expr(column+" - ?", 1)).Error
		if err != nil {
			c.logError(opUnvoteCommnt, "counter_decrement_failed", err, commentID, userID)
			return newServiceError(opUnvoteCommnt, "counter_decrement_failed", err)
		}
		return nil
	})
}

func (c *CounterCache) logError(operation, reason string, err error, entityID, userID string) {
	c.logger.Error("counter cache error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("entity_id", entityID),
		zap.String("user_id", userID),
		zap.Error(err))
}

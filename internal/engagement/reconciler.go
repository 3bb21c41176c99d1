package engagement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inkwell-labs/inkwell/backend/internal/boards"
)

const (
	opReconcile      = "engagement.reconcile"
	opPopularity     = "engagement.refresh_popularity"
	defaultScanCount = 100

	tagPopularKey   = "tag_popular"
	topFollowersKey = "top_followers"
)

// ErrPartialFlush reports that a reconciliation run finished but left one or
// more keys unflushed for the next scheduled pass.
var ErrPartialFlush = errors.New("engagement: reconciliation completed with pending keys")

// ReconcilerConfig describes the dependencies of the reconciliation job.
type ReconcilerConfig struct {
	Database  *gorm.DB
	Cache     redis.Cmdable
	Clock     func() time.Time
	Logger    *zap.Logger
	ScanCount int
}

// Reconciler drains the counter cache into the durable counters. Deltas are
// applied as additive updates so a retried flush can never double-count, and
// a cache key is evicted only after its contribution demonstrably landed.
type Reconciler struct {
	db        *gorm.DB
	cache     redis.Cmdable
	clock     func() time.Time
	logger    *zap.Logger
	scanCount int64
}

// NewReconciler validates dependencies and constructs the reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opReconcile, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opReconcile, "missing_cache", errMissingCache)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	scanCount := cfg.ScanCount
	if scanCount <= 0 {
		scanCount = defaultScanCount
	}
	return &Reconciler{
		db:        cfg.Database,
		cache:     cfg.Cache,
		clock:     clock,
		logger:    logger,
		scanCount: int64(scanCount),
	}, nil
}

// FlushAll runs one reconciliation pass over every metric. A failure on one
// key is logged and skipped; the pass keeps going and reports ErrPartialFlush
// at the end when anything was left behind.
func (r *Reconciler) FlushAll(ctx context.Context) error {
	clean := true
	if !r.flushMetric(ctx, boardViewPrefix, r.flushViewKey) {
		clean = false
	}
	if !r.flushMetric(ctx, boardLikePrefix, r.flushLikeKey) {
		clean = false
	}
	if !r.flushMetric(ctx, commentLikePrefix, r.flushVoteKey) {
		clean = false
	}
	if !clean {
		return ErrPartialFlush
	}
	return nil
}

// flushMetric drains every key under the metric's prefix with the supplied
// per-key flush. Returns false when any key failed or was retained.
func (r *Reconciler) flushMetric(ctx context.Context, prefix string, flushKey func(ctx context.Context, key string) bool) bool {
	clean := true
	err := r.scanKeys(ctx, prefix, func(key string) {
		if !flushKey(ctx, key) {
			clean = false
		}
	})
	if err != nil {
		r.logger.Error("reconciliation scan failed",
			zap.String("operation", opReconcile),
			zap.String("metric", prefix),
			zap.Error(err))
		return false
	}
	return clean
}

// flushViewKey applies a view set's cardinality to the board's view counter.
func (r *Reconciler) flushViewKey(ctx context.Context, key string) bool {
	boardID := entityID(key, boardViewPrefix)

	count, err := r.cache.SCard(ctx, key).Result()
	if err != nil {
		r.logKeyError("cardinality_read_failed", key, boardViewPrefix, err)
		return false
	}
	if count <= 0 {
		return true
	}

	result := r.db.WithContext(ctx).Model(&boards.Board{}).
		Where("id = ?", boardID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", count))
	if result.Error != nil {
		r.logKeyError("durable_update_failed", key, boardViewPrefix, result.Error)
		return false
	}
	if result.RowsAffected == 0 {
		// Board gone (or soft-deleted) right now; keep the key so the counts
		// survive until the next run instead of vanishing.
		r.logger.Warn("reconciliation target missing, key retained",
			zap.String("operation", opReconcile),
			zap.String("metric", boardViewPrefix),
			zap.String("entity_id", boardID))
		return false
	}

	if err := r.cache.Del(ctx, key).Err(); err != nil {
		// The delta landed; a failed eviction only risks a retained key that
		// the additive update will re-apply, so surface it loudly.
		r.logKeyError("evict_failed", key, boardViewPrefix, err)
		return false
	}
	return true
}

// flushLikeKey turns each cached liker into a durable ownership row, then
// applies the count of rows that landed to the board's like counter. The
// ownership rows are what RecordLike's duplicate pre-check and CancelLike's
// durable fallback consult after the cache entry is gone.
func (r *Reconciler) flushLikeKey(ctx context.Context, key string) bool {
	boardID := entityID(key, boardLikePrefix)

	members, err := r.cache.SMembers(ctx, key).Result()
	if err != nil {
		r.logKeyError("members_read_failed", key, boardLikePrefix, err)
		return false
	}
	if len(members) == 0 {
		return true
	}

	flushed := make([]string, 0, len(members))
	pending := false
	now := r.clock().UTC()

	for _, userID := range members {
		row := boards.BoardLike{BoardID: boardID, UserID: userID, CreatedAt: now}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "board_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"deleted_at": nil}),
		}).Create(&row).Error
		if err != nil {
			r.logger.Error("like upsert failed, member retained",
				zap.String("operation", opReconcile),
				zap.String("entity_id", boardID),
				zap.String("user_id", userID),
				zap.Error(err))
			pending = true
			continue
		}
		flushed = append(flushed, userID)
	}

	if len(flushed) > 0 {
		result := r.db.WithContext(ctx).Model(&boards.Board{}).
			Where("id = ?", boardID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", len(flushed)))
		if result.Error != nil {
			r.logKeyError("durable_update_failed", key, boardLikePrefix, result.Error)
			return false
		}
		if result.RowsAffected == 0 {
			r.logger.Warn("reconciliation target missing, key retained",
				zap.String("operation", opReconcile),
				zap.String("metric", boardLikePrefix),
				zap.String("entity_id", boardID))
			return false
		}
		if err := r.cache.SRem(ctx, key, memberArgs(flushed)...).Err(); err != nil {
			r.logKeyError("evict_failed", key, boardLikePrefix, err)
			return false
		}
	}

	if pending {
		return false
	}
	if err := r.cache.Del(ctx, key).Err(); err != nil {
		r.logKeyError("evict_failed", key, boardLikePrefix, err)
		return false
	}
	return true
}

func memberArgs(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, member := range members {
		out[i] = member
	}
	return out
}

// flushVoteKey drains one comment-vote hash. Each user's vote becomes an
// upsert into the ownership row; only succeeded fields contribute to the
// aggregate delta and only succeeded fields are evicted, so a failed vote
// stays pending for the next run.
func (r *Reconciler) flushVoteKey(ctx context.Context, key string) bool {
	commentID := entityID(key, commentLikePrefix)

	votes, err := r.cache.HGetAll(ctx, key).Result()
	if err != nil {
		r.logKeyError("hash_read_failed", key, commentLikePrefix, err)
		return false
	}
	if len(votes) == 0 {
		return true
	}

	var likeDelta, dislikeDelta int64
	flushed := make([]string, 0, len(votes))
	pending := false
	now := r.clock().UTC()

	for userID, raw := range votes {
		vote, err := strconv.Atoi(raw)
		if err != nil || (vote != boards.VoteLike && vote != boards.VoteDislike) {
			r.logger.Warn("malformed cached vote skipped",
				zap.String("operation", opReconcile),
				zap.String("entity_id", commentID),
				zap.String("user_id", userID),
				zap.String("value", raw))
			flushed = append(flushed, userID)
			continue
		}

		row := boards.CommentVote{
			CommentID: commentID,
			UserID:    userID,
			Vote:      vote,
			UpdatedAt: now,
		}
		err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "comment_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"vote": vote, "updated_at": now, "deleted_at": nil}),
		}).Create(&row).Error
		if err != nil {
			r.logger.Error("vote upsert failed, field retained",
				zap.String("operation", opReconcile),
				zap.String("entity_id", commentID),
				zap.String("user_id", userID),
				zap.Error(err))
			pending = true
			continue
		}

		if vote == boards.VoteLike {
			likeDelta++
		} else {
			dislikeDelta++
		}
		flushed = append(flushed, userID)
	}

	if likeDelta > 0 || dislikeDelta > 0 {
		result := r.db.WithContext(ctx).Model(&boards.Comment{}).
			Where("id = ?", commentID).
			UpdateColumns(map[string]interface{}{
				"like_count":    gorm.Expr("like_count + ?", likeDelta),
				"dislike_count": gorm.Expr("dislike_count + ?", dislikeDelta),
			})
		if result.Error != nil {
			r.logKeyError("durable_update_failed", key, commentLikePrefix, result.Error)
			return false
		}
		if result.RowsAffected == 0 {
			r.logger.Warn("reconciliation target missing, key retained",
				zap.String("operation", opReconcile),
				zap.String("metric", commentLikePrefix),
				zap.String("entity_id", commentID))
			return false
		}
	}

	if len(flushed) > 0 {
		if err := r.cache.HDel(ctx, key, flushed...).Err(); err != nil {
			r.logKeyError("evict_failed", key, commentLikePrefix, err)
			return false
		}
	}
	if pending {
		return false
	}
	if err := r.cache.Del(ctx, key).Err(); err != nil {
		r.logKeyError("evict_failed", key, commentLikePrefix, err)
		return false
	}
	return true
}

// RefreshPopularity rebuilds the tag-popularity and top-follower sorted sets
// from durable state. Runs on the hourly schedule.
func (r *Reconciler) RefreshPopularity(ctx context.Context) error {
	type tagRow struct {
		Tag   string
		Total int64
	}
	var tagRows []tagRow
	err := r.db.WithContext(ctx).Model(&boards.BoardTag{}).
		Select("tag, COUNT(*) AS total").
		Group("tag").
		Order("total DESC").
		Limit(100).
		Scan(&tagRows).Error
	if err != nil {
		return newServiceError(opPopularity, "tag_query_failed", err)
	}

	type followerRow struct {
		Nickname string
		Total    int64
	}
	var followerRows []followerRow
	err = r.db.WithContext(ctx).
		Raw(`SELECT u.nickname AS nickname, COUNT(*) AS total
		     FROM follows f
		     JOIN users u ON u.id = f.followee_id
		     WHERE f.deleted_at IS NULL AND u.deleted_at IS NULL
		     GROUP BY u.nickname
		     ORDER BY total DESC
		     LIMIT ?`, 100).
		Scan(&followerRows).Error
	if err != nil {
		return newServiceError(opPopularity, "follower_query_failed", err)
	}

	pipe := r.cache.TxPipeline()
	pipe.Del(ctx, tagPopularKey)
	for _, row := range tagRows {
		pipe.ZAdd(ctx, tagPopularKey, redis.Z{Score: float64(row.Total), Member: row.Tag})
	}
	pipe.Del(ctx, topFollowersKey)
	for _, row := range followerRows {
		pipe.ZAdd(ctx, topFollowersKey, redis.Z{Score: float64(row.Total), Member: row.Nickname})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return newServiceError(opPopularity, "cache_rebuild_failed", err)
	}

	r.logger.Info("popularity refreshed",
		zap.Int("tags", len(tagRows)),
		zap.Int("followers", len(followerRows)))
	return nil
}

// scanKeys pages through cache keys matching prefix* with a bounded batch
// size until the cursor wraps to its start sentinel.
func (r *Reconciler) scanKeys(ctx context.Context, prefix string, visit func(key string)) error {
	var cursor uint64
	for {
		keys, next, err := r.cache.Scan(ctx, cursor, prefix+"*", r.scanCount).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			visit(key)
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Reconciler) logKeyError(reason, key, metric string, err error) {
	r.logger.Error("reconciliation key failed",
		zap.String("operation", opReconcile),
		zap.String("reason", reason),
		zap.String("metric", metric),
		zap.String("key", key),
		zap.Error(err))
}

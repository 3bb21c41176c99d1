package engagement

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-labs/inkwell/backend/internal/boards"
)

const (
	opOverlayBoards   = "engagement.overlay.boards"
	opOverlayComments = "engagement.overlay.comments"
)

// Overlay merges durable counters with the live, not-yet-flushed cache
// contribution at read time. It never mutates cache or durable state; a
// missing cache key contributes zero.
type Overlay struct {
	cache redis.Cmdable
}

// NewOverlay constructs a read overlay over the shared cache store.
func NewOverlay(cache redis.Cmdable) (*Overlay, error) {
	if cache == nil {
		return nil, newServiceError(opOverlayBoards, "missing_cache", errMissingCache)
	}
	return &Overlay{cache: cache}, nil
}

// AttachBoardCounts returns the rows with live view/like cardinality added to
// the durable counters.
func (o *Overlay) AttachBoardCounts(ctx context.Context, rows []boards.Board) ([]boards.Board, error) {
	out := make([]boards.Board, len(rows))
	copy(out, rows)
	for i := range out {
		views, err := o.cache.SCard(ctx, boardViewKey(out[i].ID)).Result()
		if err != nil {
			return nil, newServiceError(opOverlayBoards, "view_read_failed", fmt.Errorf("board %s: %w", out[i].ID, err))
		}
		likes, err := o.cache.SCard(ctx, boardLikeKey(out[i].ID)).Result()
		if err != nil {
			return nil, newServiceError(opOverlayBoards, "like_read_failed", fmt.Errorf("board %s: %w", out[i].ID, err))
		}
		out[i].ViewCount += views
		out[i].LikeCount += likes
	}
	return out, nil
}

// AttachBoardCount is the single-row convenience form of AttachBoardCounts.
func (o *Overlay) AttachBoardCount(ctx context.Context, row boards.Board) (boards.Board, error) {
	rows, err := o.AttachBoardCounts(ctx, []boards.Board{row})
	if err != nil {
		return boards.Board{}, err
	}
	return rows[0], nil
}

// AttachCommentCounts returns the rows with pending cached votes tallied into
// the durable like/dislike counters.
func (o *Overlay) AttachCommentCounts(ctx context.Context, rows []boards.Comment) ([]boards.Comment, error) {
	out := make([]boards.Comment, len(rows))
	copy(out, rows)
	for i := range out {
		votes, err := o.cache.HVals(ctx, commentLikeKey(out[i].ID)).Result()
		if err != nil {
			return nil, newServiceError(opOverlayComments, "vote_read_failed", fmt.Errorf("comment %s: %w", out[i].ID, err))
		}
		likes, dislikes := tallyVotes(votes)
		out[i].LikeCount += likes
		out[i].DislikeCount += dislikes
	}
	return out, nil
}

func tallyVotes(values []string) (likes, dislikes int64) {
	for _, value := range values {
		if value == "1" {
			likes++
		} else {
			dislikes++
		}
	}
	return likes, dislikes
}

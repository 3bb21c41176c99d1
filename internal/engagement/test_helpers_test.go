package engagement

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/inkwell-labs/inkwell/backend/internal/boards"
	"github.com/inkwell-labs/inkwell/backend/internal/users"
)

func newTestBackends(t *testing.T) (*gorm.DB, *redis.Client) {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })

	dsn := fmt.Sprintf("file:engagement_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&boards.Board{},
		&boards.BoardTag{},
		&boards.Comment{},
		&boards.BoardLike{},
		&boards.CommentVote{},
		&users.User{},
		&users.Follow{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db, client
}

func testClock() time.Time {
	return time.Unix(1724800000, 0).UTC()
}

func newTestCounterCache(t *testing.T, db *gorm.DB, client *redis.Client) *CounterCache {
	t.Helper()
	cache, err := NewCounterCache(CounterCacheConfig{
		Database: db,
		Cache:    client,
		Clock:    testClock,
	})
	if err != nil {
		t.Fatalf("unexpected counter cache error: %v", err)
	}
	return cache
}

func newTestReconciler(t *testing.T, db *gorm.DB, client *redis.Client) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(ReconcilerConfig{
		Database: db,
		Cache:    client,
		Clock:    testClock,
	})
	if err != nil {
		t.Fatalf("unexpected reconciler error: %v", err)
	}
	return reconciler
}

func newTestOverlay(t *testing.T, client *redis.Client) *Overlay {
	t.Helper()
	overlay, err := NewOverlay(client)
	if err != nil {
		t.Fatalf("unexpected overlay error: %v", err)
	}
	return overlay
}

func seedBoard(t *testing.T, db *gorm.DB, id string, viewCount, likeCount int64) boards.Board {
	t.Helper()
	board := boards.Board{
		ID:        id,
		AuthorID:  "author-1",
		Title:     "seeded board",
		Content:   "content",
		ViewCount: viewCount,
		LikeCount: likeCount,
	}
	if err := db.Create(&board).Error; err != nil {
		t.Fatalf("failed to seed board: %v", err)
	}
	return board
}

func seedComment(t *testing.T, db *gorm.DB, id string, likeCount, dislikeCount int64) boards.Comment {
	t.Helper()
	comment := boards.Comment{
		ID:           id,
		BoardID:      "board-1",
		AuthorID:     "author-1",
		Content:      "seeded comment",
		LikeCount:    likeCount,
		DislikeCount: dislikeCount,
	}
	if err := db.Create(&comment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}
	return comment
}

func reloadBoard(t *testing.T, db *gorm.DB, id string) boards.Board {
	t.Helper()
	var board boards.Board
	if err := db.Where("id = ?", id).Take(&board).Error; err != nil {
		t.Fatalf("failed to reload board: %v", err)
	}
	return board
}

func reloadComment(t *testing.T, db *gorm.DB, id string) boards.Comment {
	t.Helper()
	var comment boards.Comment
	if err := db.Where("id = ?", id).Take(&comment).Error; err != nil {
		t.Fatalf("failed to reload comment: %v", err)
	}
	return comment
}

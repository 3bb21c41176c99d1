package boards

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return "record-" + strconv.Itoa(p.next), nil
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })

	dsn := fmt.Sprintf("file:boards_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Board{}, &BoardTag{}, &Category{}, &Comment{}, &BoardLike{}, &CommentVote{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Cache:    client,
		Clock:    func() time.Time { return time.Unix(1724800000, 0).UTC() },
		IDs:      &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, mini
}

func TestCreateBoardPersistsTagsAndBumpsPopularity(t *testing.T) {
	service, mini := newTestService(t)
	ctx := context.Background()

	board, err := service.CreateBoard(ctx, CreateBoardRequest{
		AuthorID: "author-1",
		Title:    "First post",
		Content:  "hello",
		Tags:     []string{"Go", "go", " redis ", ""},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if board.ID == "" {
		t.Fatalf("expected board id assigned")
	}

	var tags []BoardTag
	if err := service.db.Where("board_id = ?", board.ID).Order("tag ASC").Find(&tags).Error; err != nil {
		t.Fatalf("unexpected tag query error: %v", err)
	}
	if len(tags) != 2 || tags[0].Tag != "go" || tags[1].Tag != "redis" {
		t.Fatalf("expected normalized tags [go redis], got %v", tags)
	}

	score, err := mini.ZScore("tag_popular", "go")
	if err != nil {
		t.Fatalf("unexpected zscore error: %v", err)
	}
	if score != 1 {
		t.Fatalf("expected popularity 1 for go, got %v", score)
	}
}

func TestCreateBoardRequiresAuthorAndTitle(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateBoard(ctx, CreateBoardRequest{Title: "no author"}); err == nil {
		t.Fatalf("expected missing author error")
	}
	if _, err := service.CreateBoard(ctx, CreateBoardRequest{AuthorID: "author-1", Title: "  "}); err == nil {
		t.Fatalf("expected missing title error")
	}
}

func TestListBoardsSearchTreatsWildcardsAsLiterals(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"100% cotton", "100x cotton", "plain shirt"} {
		if _, err := service.CreateBoard(ctx, CreateBoardRequest{AuthorID: "author-1", Title: title}); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	rows, err := service.ListBoards(ctx, ListQuery{Search: "100%"})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "100% cotton" {
		t.Fatalf("expected the literal %% match only, got %v", rows)
	}
}

func TestListBoardsFiltersByCategoryAndPages(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := CreateBoardRequest{AuthorID: "author-1", Title: fmt.Sprintf("board %d", i), CategoryID: "cat-1"}
		if _, err := service.CreateBoard(ctx, req); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	if _, err := service.CreateBoard(ctx, CreateBoardRequest{AuthorID: "author-1", Title: "other", CategoryID: "cat-2"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	rows, err := service.ListBoards(ctx, ListQuery{CategoryID: "cat-1", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows on the first page, got %d", len(rows))
	}

	rest, err := service.ListBoards(ctx, ListQuery{CategoryID: "cat-1", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 row on the second page, got %d", len(rest))
	}
}

func TestDeleteBoardIsAuthorScoped(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	board, err := service.CreateBoard(ctx, CreateBoardRequest{AuthorID: "author-1", Title: "mine"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.DeleteBoard(ctx, board.ID, "intruder"); !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("expected not-found for foreign author, got %v", err)
	}
	if err := service.DeleteBoard(ctx, board.ID, "author-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.GetBoard(ctx, board.ID); !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("expected soft-deleted board hidden, got %v", err)
	}
}

func TestCreateCommentRequiresLiveBoard(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateComment(ctx, "missing-board", "author-1", "hello", nil); !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("expected board-not-found, got %v", err)
	}

	board, err := service.CreateBoard(ctx, CreateBoardRequest{AuthorID: "author-1", Title: "post"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	comment, err := service.CreateComment(ctx, board.ID, "author-2", "hello", nil)
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}

	reply, err := service.CreateComment(ctx, board.ID, "author-1", "welcome", &comment.ID)
	if err != nil {
		t.Fatalf("unexpected reply error: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != comment.ID {
		t.Fatalf("expected reply parent %s, got %v", comment.ID, reply.ParentID)
	}

	rows, err := service.ListComments(ctx, board.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != comment.ID {
		t.Fatalf("expected comments oldest first, got %v", rows)
	}
}

func TestPopularTagsReadsHighestFirst(t *testing.T) {
	service, mini := newTestService(t)
	ctx := context.Background()

	mini.ZAdd("tag_popular", 5, "go")
	mini.ZAdd("tag_popular", 2, "redis")
	mini.ZAdd("tag_popular", 9, "sqlite")

	tags, err := service.PopularTags(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 || tags[0] != "sqlite" || tags[1] != "go" {
		t.Fatalf("expected [sqlite go], got %v", tags)
	}
}

func TestCategoriesRoundTrip(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCategory(ctx, "  "); err == nil {
		t.Fatalf("expected missing name error")
	}
	for _, name := range []string{"tech", "art"} {
		if _, err := service.CreateCategory(ctx, name); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	rows, err := service.ListCategories(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "art" || rows[1].Name != "tech" {
		t.Fatalf("expected categories ordered by name, got %v", rows)
	}
}

func TestNewBoardIDValidation(t *testing.T) {
	if _, err := NewBoardID("   "); !errors.Is(err, ErrInvalidBoardID) {
		t.Fatalf("expected invalid id for blank input, got %v", err)
	}
	long := make([]byte, maxIdentifierLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewBoardID(string(long)); !errors.Is(err, ErrInvalidBoardID) {
		t.Fatalf("expected invalid id for oversized input, got %v", err)
	}
	id, err := NewBoardID(" board-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "board-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

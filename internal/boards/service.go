package boards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tagPopularKey = "tag_popular"

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrBoardNotFound indicates the requested board does not exist or was removed.
	ErrBoardNotFound = errors.New("boards: board not found")
	// ErrCommentNotFound indicates the requested comment does not exist or was removed.
	ErrCommentNotFound = errors.New("boards: comment not found")
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
	opServiceNew    = "boards.service.new"
	opCreateBoard   = "boards.create_board"
	opGetBoard      = "boards.get_board"
	opListBoards    = "boards.list_boards"
	opDeleteBoard   = "boards.delete_board"
	opCreateComment = "boards.create_comment"
	opListComments  = "boards.list_comments"
	opCategories    = "boards.categories"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues unique identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the board service.
type ServiceConfig struct {
	Database *gorm.DB
	Cache    redis.Cmdable
	Clock    func() time.Time
	IDs      IDProvider
	Logger   *zap.Logger
}

// Service owns board, comment and category persistence.
type Service struct {
	db     *gorm.DB
	cache  redis.Cmdable
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService validates dependencies and constructs the board service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDs == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		cache:  cfg.Cache,
		clock:  clock,
		ids:    cfg.IDs,
		logger: logger,
	}, nil
}

// CreateBoardRequest carries the validated payload for a new board.
type CreateBoardRequest struct {
	AuthorID   string
	CategoryID string
	Title      string
	Content    string
	Tags       []string
}

// CreateBoard persists a new board with its tags and bumps tag popularity.
func (s *Service) CreateBoard(ctx context.Context, req CreateBoardRequest) (Board, error) {
	if strings.TrimSpace(req.AuthorID) == "" {
		return Board{}, newServiceError(opCreateBoard, "missing_author", ErrInvalidUserID)
	}
	if strings.TrimSpace(req.Title) == "" {
		return Board{}, newServiceError(opCreateBoard, "missing_title", errors.New("title is required"))
	}

	boardID, err := s.ids.NewID()
	if err != nil {
		return Board{}, newServiceError(opCreateBoard, "id_generation_failed", err)
	}

	board := Board{
		ID:         boardID,
		AuthorID:   strings.TrimSpace(req.AuthorID),
		CategoryID: strings.TrimSpace(req.CategoryID),
		Title:      strings.TrimSpace(req.Title),
		Content:    req.Content,
		CreatedAt:  s.clock().UTC(),
	}

	tags := normalizeTags(req.Tags)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&board).Error; err != nil {
			return newServiceError(opCreateBoard, "board_insert_failed", err)
		}
		for _, tag := range tags {
			if err := tx.Create(&BoardTag{BoardID: board.ID, Tag: tag}).Error; err != nil {
				return newServiceError(opCreateBoard, "tag_insert_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateBoard, "transaction_failed", txErr, zap.String("author_id", board.AuthorID))
		return Board{}, txErr
	}

	// Popularity is advisory; a cache hiccup must not fail the write.
	if s.cache != nil {
		for _, tag := range tags {
			if err := s.cache.ZIncrBy(ctx, tagPopularKey, 1, tag).Err(); err != nil {
				s.logger.Warn("tag popularity bump failed", zap.String("tag", tag), zap.Error(err))
				break
			}
		}
	}

	return board, nil
}

// GetBoard loads a single board by id.
func (s *Service) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.WithContext(ctx).Where("id = ?", boardID).Take(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Board{}, newServiceError(opGetBoard, "not_found", ErrBoardNotFound)
	}
	if err != nil {
		s.logError(opGetBoard, "query_failed", err, zap.String("board_id", boardID))
		return Board{}, newServiceError(opGetBoard, "query_failed", err)
	}
	return board, nil
}

// ListQuery narrows and pages a board listing. Search terms are always bound
// as placeholders, never interpolated.
type ListQuery struct {
	CategoryID string
	Search     string
	Page       int
	PageSize   int
}

// ListBoards returns boards matching the query, newest first.
func (s *Service) ListBoards(ctx context.Context, query ListQuery) ([]Board, error) {
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	page := query.Page
	if page < 1 {
		page = 1
	}

	tx := s.db.WithContext(ctx).Model(&Board{})
	if category := strings.TrimSpace(query.CategoryID); category != "" {
		tx = tx.Where("category_id = ?", category)
	}
	if term := strings.TrimSpace(query.Search); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		tx = tx.Where("title LIKE ? ESCAPE '\\' OR content LIKE ? ESCAPE '\\'", pattern, pattern)
	}

	var rows []Board
	err := tx.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		s.logError(opListBoards, "query_failed", err)
		return nil, newServiceError(opListBoards, "query_failed", err)
	}
	return rows, nil
}

// DeleteBoard soft-deletes a board owned by the caller.
func (s *Service) DeleteBoard(ctx context.Context, boardID, authorID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND author_id = ?", boardID, authorID).
		Delete(&Board{})
	if result.Error != nil {
		s.logError(opDeleteBoard, "delete_failed", result.Error, zap.String("board_id", boardID))
		return newServiceError(opDeleteBoard, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteBoard, "not_found", ErrBoardNotFound)
	}
	return nil
}

// CreateComment persists a comment under an existing board.
func (s *Service) CreateComment(ctx context.Context, boardID, authorID, content string, parentID *string) (Comment, error) {
	if strings.TrimSpace(content) == "" {
		return Comment{}, newServiceError(opCreateComment, "missing_content", errors.New("content is required"))
	}
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return Comment{}, newServiceError(opCreateComment, "board_missing", ErrBoardNotFound)
	}

	commentID, err := s.ids.NewID()
	if err != nil {
		return Comment{}, newServiceError(opCreateComment, "id_generation_failed", err)
	}

	comment := Comment{
		ID:        commentID,
		BoardID:   boardID,
		AuthorID:  strings.TrimSpace(authorID),
		ParentID:  parentID,
		Content:   content,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opCreateComment, "insert_failed", err, zap.String("board_id", boardID))
		return Comment{}, newServiceError(opCreateComment, "insert_failed", err)
	}
	return comment, nil
}

// GetComment loads a single comment by id.
func (s *Service) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.WithContext(ctx).Where("id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, newServiceError(opListComments, "not_found", ErrCommentNotFound)
	}
	if err != nil {
		return Comment{}, newServiceError(opListComments, "query_failed", err)
	}
	return comment, nil
}

// ListComments returns a board's comments oldest first.
func (s *Service) ListComments(ctx context.Context, boardID string) ([]Comment, error) {
	var rows []Comment
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("board_id", boardID))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return rows, nil
}

// CreateCategory inserts a category with a unique name.
func (s *Service) CreateCategory(ctx context.Context, name string) (Category, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Category{}, newServiceError(opCategories, "missing_name", errors.New("name is required"))
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Category{}, newServiceError(opCategories, "id_generation_failed", err)
	}
	category := Category{ID: id, Name: trimmed, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		return Category{}, newServiceError(opCategories, "insert_failed", err)
	}
	return category, nil
}

// ListCategories returns all live categories ordered by name.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	var rows []Category
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, newServiceError(opCategories, "query_failed", err)
	}
	return rows, nil
}

// PopularTags reads the top-n tag popularity entries, highest usage first.
func (s *Service) PopularTags(ctx context.Context, limit int) ([]string, error) {
	if s.cache == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	tags, err := s.cache.ZRevRange(ctx, tagPopularKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, newServiceError(opCategories, "popular_tags_failed", err)
	}
	return tags, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("board service error", attrs...)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		cleaned := strings.ToLower(strings.TrimSpace(tag))
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

// escapeLike neutralizes LIKE wildcards inside a user-supplied search term.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

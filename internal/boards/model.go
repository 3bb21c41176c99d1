package boards

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidBoardID indicates that a board identifier is empty or exceeds storage bounds.
	ErrInvalidBoardID = errors.New("boards: invalid board id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("boards: invalid user id")
)

// BoardID represents a validated board identifier.
type BoardID string

// NewBoardID validates raw input and returns a BoardID.
func NewBoardID(rawInput string) (BoardID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBoardID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBoardID, maxIdentifierLength)
	}
	return BoardID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BoardID) String() string {
	return string(id)
}

// Board models a published post with durable engagement counters.
type Board struct {
	ID         string         `gorm:"column:id;primaryKey;size:190;not null"`
	AuthorID   string         `gorm:"column:author_id;size:190;not null;index:idx_boards_author"`
	CategoryID string         `gorm:"column:category_id;size:190;index:idx_boards_category"`
	Title      string         `gorm:"column:title;size:320;not null"`
	Content    string         `gorm:"column:content;type:text;not null"`
	ViewCount  int64          `gorm:"column:view_count;not null;default:0"`
	LikeCount  int64          `gorm:"column:like_count;not null;default:0"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Board) TableName() string {
	return "boards"
}

// BoardTag records one tag attached to a board, one row per tag.
type BoardTag struct {
	BoardID string `gorm:"column:board_id;primaryKey;size:190;not null"`
	Tag     string `gorm:"column:tag;primaryKey;size:64;not null;index:idx_board_tags_tag"`
}

// TableName provides the explicit table binding for GORM.
func (BoardTag) TableName() string {
	return "board_tags"
}

// Category is a flat grouping for boards.
type Category struct {
	ID        string         `gorm:"column:id;primaryKey;size:190;not null"`
	Name      string         `gorm:"column:name;size:120;not null;uniqueIndex"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// Comment models a board comment with signed vote counters.
type Comment struct {
	ID           string         `gorm:"column:id;primaryKey;size:190;not null"`
	BoardID      string         `gorm:"column:board_id;size:190;not null;index:idx_comments_board"`
	AuthorID     string         `gorm:"column:author_id;size:190;not null"`
	ParentID     *string        `gorm:"column:parent_id;size:190"`
	Content      string         `gorm:"column:content;type:text;not null"`
	LikeCount    int64          `gorm:"column:like_count;not null;default:0"`
	DislikeCount int64          `gorm:"column:dislike_count;not null;default:0"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// BoardLike is the durable ownership row for a reconciled board like.
type BoardLike struct {
	BoardID   string         `gorm:"column:board_id;primaryKey;size:190;not null"`
	UserID    string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (BoardLike) TableName() string {
	return "board_likes"
}

// Vote values stored on CommentVote rows and in the comment-vote cache hash.
const (
	VoteDislike = 0
	VoteLike    = 1
)

// CommentVote is the durable ownership row for a reconciled comment vote.
type CommentVote struct {
	CommentID string         `gorm:"column:comment_id;primaryKey;size:190;not null"`
	UserID    string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	Vote      int            `gorm:"column:vote;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (CommentVote) TableName() string {
	return "comment_votes"
}

package notify

import (
	"time"

	"gorm.io/gorm"
)

// Type enumerates the events that raise notifications.
type Type string

const (
	// TypeComment signals a new comment or reply on the recipient's board.
	TypeComment Type = "comment"
	// TypeBoardLike signals a like on the recipient's board.
	TypeBoardLike Type = "board_like"
	// TypeFollowedBoardPost signals a new board from someone the recipient follows.
	TypeFollowedBoardPost Type = "followed_board_post"
	// TypeNewFollower signals that someone started following the recipient.
	TypeNewFollower Type = "new_follower"
)

// Notification is the durable record of one event for one recipient. The
// persisted row doubles as the in-app notification list entry; the redis
// fallback list is a separate delivery-on-reconnect copy.
type Notification struct {
	ID          string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	RecipientID string         `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient" json:"recipient_id"`
	ActorID     string         `gorm:"column:actor_id;size:190;not null" json:"actor_id"`
	Type        Type           `gorm:"column:type;size:64;not null" json:"type"`
	LocationRef string         `gorm:"column:location_ref;size:320;not null" json:"location_ref"`
	ReadAt      *time.Time     `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

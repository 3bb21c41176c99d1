package users

import (
	"time"

	"gorm.io/gorm"
)

// User captures an account on the platform.
type User struct {
	ID        string         `gorm:"column:id;primaryKey;size:190;not null"`
	Nickname  string         `gorm:"column:nickname;size:120;not null;uniqueIndex"`
	Email     string         `gorm:"column:email;size:320"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Follow links a follower to the user they follow.
type Follow struct {
	FollowerID string         `gorm:"column:follower_id;primaryKey;size:190;not null"`
	FolloweeID string         `gorm:"column:followee_id;primaryKey;size:190;not null;index:idx_follows_followee"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName exposes the table backing follow relationships.
func (Follow) TableName() string {
	return "follows"
}

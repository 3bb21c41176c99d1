package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotificationNotFound indicates the referenced notification row is missing.
var ErrNotificationNotFound = errors.New("notify: notification not found")

// Store is the durable persistence contract for notifications. Dispatch
// depends on this seam rather than a database handle so partial-failure
// behavior is testable without faulting a real database.
type Store interface {
	Create(ctx context.Context, notification *Notification) error
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string, readAt time.Time) error
}

// GormStore implements Store on the relational database of record.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs the durable notification store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("notify: database handle is required")
	}
	return &GormStore{db: db}, nil
}

// Create inserts the notification row.
func (s *GormStore) Create(ctx context.Context, notification *Notification) error {
	return s.db.WithContext(ctx).Create(notification).Error
}

// ListForRecipient returns the recipient's notifications, newest first.
func (s *GormStore) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead stamps the read time on one of the recipient's notifications.
func (s *GormStore) MarkRead(ctx context.Context, recipientID, notificationID string, readAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Update("read_at", readAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore     = errors.New("notification store is required")
	errMissingPresence  = errors.New("presence directory is required")
	errMissingQueue     = errors.New("fallback queue is required")
	errMissingIDs       = errors.New("id provider is required")
	errMissingRecipient = errors.New("recipient id is required")
	noOpLogger          = zap.NewNop()
)

// IDProvider issues unique identifiers for new notifications.
type IDProvider interface {
	NewID() (string, error)
}

// FanOutError aggregates the recipients that could not be reached even after
// the retry pass. It is the user-visible partial-failure report.
type FanOutError struct {
	FailedRecipients []string
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("notification fan-out failed for %d recipient(s): %s",
		len(e.FailedRecipients), strings.Join(e.FailedRecipients, ", "))
}

// failureSet tracks one fan-out's per-recipient failures, split by which step
// failed. Discarded once the operation (including retry) completes.
type failureSet struct {
	attempts         map[string]Notification
	dbSaveFailures   []string
	deliveryFailures []string
}

func (f *failureSet) empty() bool {
	return len(f.dbSaveFailures) == 0 && len(f.deliveryFailures) == 0
}

// DispatcherConfig describes the dependencies of the notification dispatcher.
type DispatcherConfig struct {
	Store    Store
	Presence Presence
	Queue    Queue
	IDs      IDProvider
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Dispatcher persists notifications and hands them to a live channel when the
// recipient is connected, or to the fallback queue when not. Persistence
// always precedes delivery: a notification that cannot be stored is never
// pushed anywhere.
type Dispatcher struct {
	store    Store
	presence Presence
	queue    Queue
	ids      IDProvider
	clock    func() time.Time
	logger   *zap.Logger
	retry    *RetryCoordinator
}

// NewDispatcher validates dependencies and constructs the dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.IDs == nil {
		return nil, errMissingIDs
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	dispatcher := &Dispatcher{
		store:    cfg.Store,
		presence: cfg.Presence,
		queue:    cfg.Queue,
		ids:      cfg.IDs,
		clock:    clock,
		logger:   logger,
	}
	dispatcher.retry = &RetryCoordinator{
		store:    cfg.Store,
		presence: cfg.Presence,
		queue:    cfg.Queue,
		logger:   logger,
	}
	return dispatcher, nil
}

// Dispatch persists and delivers one notification. The durable write happens
// first; if it fails, delivery is not attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, notification Notification) error {
	prepared, err := d.prepare(notification)
	if err != nil {
		return err
	}
	if err := d.store.Create(ctx, &prepared); err != nil {
		d.logger.Error("notification persist failed",
			zap.String("recipient_id", prepared.RecipientID),
			zap.String("type", string(prepared.Type)),
			zap.Error(err))
		return fmt.Errorf("notify: persist notification: %w", err)
	}
	if err := deliverOrQueue(ctx, d.presence, d.queue, prepared); err != nil {
		d.logger.Error("notification delivery failed",
			zap.String("recipient_id", prepared.RecipientID),
			zap.String("notification_id", prepared.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// DispatchMany fans the template out to every recipient independently,
// collects per-step failures, runs exactly one retry pass, and reports any
// residue as a FanOutError.
func (d *Dispatcher) DispatchMany(ctx context.Context, template Notification, recipientIDs []string) error {
	failures := &failureSet{attempts: make(map[string]Notification, len(recipientIDs))}

	for _, recipientID := range recipientIDs {
		perRecipient := template
		perRecipient.RecipientID = recipientID
		perRecipient.ID = ""
		prepared, err := d.prepare(perRecipient)
		if err != nil {
			failures.dbSaveFailures = append(failures.dbSaveFailures, recipientID)
			continue
		}
		failures.attempts[recipientID] = prepared

		if err := d.store.Create(ctx, &prepared); err != nil {
			d.logger.Warn("fan-out persist failed, will retry",
				zap.String("recipient_id", recipientID),
				zap.String("type", string(prepared.Type)),
				zap.Error(err))
			failures.dbSaveFailures = append(failures.dbSaveFailures, recipientID)
			continue
		}
		if err := deliverOrQueue(ctx, d.presence, d.queue, prepared); err != nil {
			d.logger.Warn("fan-out delivery failed, will retry",
				zap.String("recipient_id", recipientID),
				zap.String("notification_id", prepared.ID),
				zap.Error(err))
			failures.deliveryFailures = append(failures.deliveryFailures, recipientID)
		}
	}

	if failures.empty() {
		return nil
	}

	remaining := d.retry.Retry(ctx, failures.attempts, failures.dbSaveFailures, failures.deliveryFailures)
	if len(remaining) == 0 {
		return nil
	}
	sort.Strings(remaining)
	return &FanOutError{FailedRecipients: remaining}
}

// prepare validates the recipient and stamps identity and creation time.
// The id is assigned before persistence so the same identifier survives a
// retry of the durable write.
func (d *Dispatcher) prepare(notification Notification) (Notification, error) {
	if strings.TrimSpace(notification.RecipientID) == "" {
		return Notification{}, errMissingRecipient
	}
	if notification.ID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return Notification{}, fmt.Errorf("notify: assign notification id: %w", err)
		}
		notification.ID = id
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = d.clock().UTC()
	}
	return notification, nil
}

// deliverOrQueue is the shared second step of dispatch: live write when a
// channel exists, fallback queue append otherwise. The persisted row is left
// alone either way; it is the in-app record, not the delivery queue.
func deliverOrQueue(ctx context.Context, presence Presence, queue Queue, notification Notification) error {
	if presence.Deliver(notification) {
		return nil
	}
	return queue.Push(ctx, notification)
}

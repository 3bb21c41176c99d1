package notify

import (
	"context"

	"go.uber.org/zap"
)

// RetryCoordinator re-attempts the failed step for every recipient that lost
// either persistence or delivery during a fan-out. Exactly one pass: whatever
// still fails is returned for the caller's partial-failure report, never
// retried again here.
type RetryCoordinator struct {
	store    Store
	presence Presence
	queue    Queue
	logger   *zap.Logger
}

// Retry replays the failed step per recipient using the notifications built
// for the original attempt, so persistence retries reuse the same id rather
// than minting a second row for the same logical event. Returns the recipient
// ids that failed again.
func (r *RetryCoordinator) Retry(ctx context.Context, attempts map[string]Notification, dbSaveFailures, deliveryFailures []string) []string {
	var final []string

	for _, recipientID := range dbSaveFailures {
		notification, ok := attempts[recipientID]
		if !ok {
			final = append(final, recipientID)
			continue
		}
		if err := r.store.Create(ctx, &notification); err != nil {
			r.logger.Error("notification persist retry failed",
				zap.String("recipient_id", recipientID),
				zap.String("notification_id", notification.ID),
				zap.String("type", string(notification.Type)),
				zap.Error(err))
			final = append(final, recipientID)
			continue
		}
		if err := deliverOrQueue(ctx, r.presence, r.queue, notification); err != nil {
			r.logger.Error("notification delivery retry failed",
				zap.String("recipient_id", recipientID),
				zap.String("notification_id", notification.ID),
				zap.Error(err))
			final = append(final, recipientID)
		}
	}

	for _, recipientID := range deliveryFailures {
		notification, ok := attempts[recipientID]
		if !ok {
			final = append(final, recipientID)
			continue
		}
		if err := deliverOrQueue(ctx, r.presence, r.queue, notification); err != nil {
			r.logger.Error("notification delivery retry failed",
				zap.String("recipient_id", recipientID),
				zap.String("notification_id", notification.ID),
				zap.Error(err))
			final = append(final, recipientID)
		}
	}

	return final
}

package notify

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchPersistsThenDeliversLive(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence("recipient-1")
	queue := newFakeQueue()
	dispatcher := newTestDispatcher(t, store, presence, queue)

	err := dispatcher.Dispatch(context.Background(), Notification{
		RecipientID: "recipient-1",
		ActorID:     "actor-1",
		Type:        TypeComment,
		LocationRef: "/boards/1#c1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.createdFor("recipient-1")) != 1 {
		t.Fatalf("expected one persisted notification")
	}
	if len(presence.deliveredFor("recipient-1")) != 1 {
		t.Fatalf("expected one live delivery")
	}
	if len(queue.queuedFor("recipient-1")) != 0 {
		t.Fatalf("expected nothing queued for a connected recipient")
	}
}

func TestDispatchQueuesForOfflineRecipient(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence()
	queue := newFakeQueue()
	dispatcher := newTestDispatcher(t, store, presence, queue)

	err := dispatcher.Dispatch(context.Background(), Notification{
		RecipientID: "recipient-1",
		ActorID:     "actor-1",
		Type:        TypeBoardLike,
		LocationRef: "/boards/1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.createdFor("recipient-1")) != 1 {
		t.Fatalf("expected one persisted notification")
	}
	if len(queue.queuedFor("recipient-1")) != 1 {
		t.Fatalf("expected one queued notification")
	}
}

func TestDispatchNeverDeliversUnpersistedNotification(t *testing.T) {
	store := newFakeStore()
	store.failFor["recipient-1"] = 1
	presence := newFakePresence("recipient-1")
	queue := newFakeQueue()
	dispatcher := newTestDispatcher(t, store, presence, queue)

	err := dispatcher.Dispatch(context.Background(), Notification{
		RecipientID: "recipient-1",
		ActorID:     "actor-1",
		Type:        TypeComment,
		LocationRef: "/boards/1#c1",
	})
	if err == nil {
		t.Fatalf("expected persistence failure to surface")
	}
	if len(presence.deliveredFor("recipient-1")) != 0 {
		t.Fatalf("expected no delivery attempt after persistence failure")
	}
	if len(queue.queuedFor("recipient-1")) != 0 {
		t.Fatalf("expected nothing queued after persistence failure")
	}
}

func TestDispatchRejectsMissingRecipient(t *testing.T) {
	dispatcher := newTestDispatcher(t, newFakeStore(), newFakePresence(), newFakeQueue())
	if err := dispatcher.Dispatch(context.Background(), Notification{ActorID: "actor-1"}); err == nil {
		t.Fatalf("expected missing recipient error")
	}
}

func TestDispatchManyAllRecipientsSucceed(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence("recipient-1")
	queue := newFakeQueue()
	dispatcher := newTestDispatcher(t, store, presence, queue)

	template := Notification{
		ActorID:     "actor-1",
		Type:        TypeFollowedBoardPost,
		LocationRef: "/boards/1",
	}
	err := dispatcher.DispatchMany(context.Background(), template, []string{"recipient-1", "recipient-2", "recipient-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.created) != 3 {
		t.Fatalf("expected 3 persisted notifications, got %d", len(store.created))
	}
	// recipient-1 was live; the others fell back to the queue.
	if len(presence.deliveredFor("recipient-1")) != 1 {
		t.Fatalf("expected live delivery for recipient-1")
	}
	if len(queue.queuedFor("recipient-2")) != 1 || len(queue.queuedFor("recipient-3")) != 1 {
		t.Fatalf("expected offline recipients queued")
	}
}

func TestDispatchManyAssignsDistinctIDs(t *testing.T) {
	store := newFakeStore()
	dispatcher := newTestDispatcher(t, store, newFakePresence(), newFakeQueue())

	template := Notification{ActorID: "actor-1", Type: TypeFollowedBoardPost, LocationRef: "/boards/1"}
	if err := dispatcher.DispatchMany(context.Background(), template, []string{"r1", "r2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := make(map[string]struct{})
	for _, notification := range store.created {
		if notification.ID == "" {
			t.Fatalf("expected every notification to carry an id")
		}
		ids[notification.ID] = struct{}{}
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct ids, got %d", len(ids))
	}
}

func TestDispatchManyRetryClearsBothFailureKinds(t *testing.T) {
	store := newFakeStore()
	store.failFor["recipient-a"] = 1 // persistence fails once, retry succeeds
	presence := newFakePresence()
	queue := newFakeQueue()
	queue.failFor["recipient-b"] = 1 // delivery fails once, retry succeeds
	dispatcher := newTestDispatcher(t, store, presence, queue)

	template := Notification{ActorID: "actor-1", Type: TypeFollowedBoardPost, LocationRef: "/boards/1"}
	err := dispatcher.DispatchMany(context.Background(), template, []string{"recipient-a", "recipient-b", "recipient-c"})
	if err != nil {
		t.Fatalf("expected retry pass to clear all failures, got %v", err)
	}

	for _, recipientID := range []string{"recipient-a", "recipient-b", "recipient-c"} {
		if len(store.createdFor(recipientID)) != 1 {
			t.Fatalf("expected exactly one persisted row for %s, got %d", recipientID, len(store.createdFor(recipientID)))
		}
		if len(queue.queuedFor(recipientID)) != 1 {
			t.Fatalf("expected exactly one queued copy for %s", recipientID)
		}
	}
}

func TestDispatchManyReportsResidualFailures(t *testing.T) {
	store := newFakeStore()
	store.failFor["recipient-a"] = 2 // fails the first attempt and the retry
	presence := newFakePresence()
	queue := newFakeQueue()
	queue.failFor["recipient-b"] = 1 // cleared by the retry
	dispatcher := newTestDispatcher(t, store, presence, queue)

	template := Notification{ActorID: "actor-1", Type: TypeFollowedBoardPost, LocationRef: "/boards/1"}
	err := dispatcher.DispatchMany(context.Background(), template, []string{"recipient-a", "recipient-b", "recipient-c"})
	if err == nil {
		t.Fatalf("expected residual failure report")
	}

	var fanOutErr *FanOutError
	if !errors.As(err, &fanOutErr) {
		t.Fatalf("expected FanOutError, got %T", err)
	}
	if len(fanOutErr.FailedRecipients) != 1 || fanOutErr.FailedRecipients[0] != "recipient-a" {
		t.Fatalf("expected exactly [recipient-a], got %v", fanOutErr.FailedRecipients)
	}
}

func TestDispatchManyRetryReusesNotificationID(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence()
	queue := newFakeQueue()
	queue.failFor["recipient-a"] = 1
	dispatcher := newTestDispatcher(t, store, presence, queue)

	template := Notification{ActorID: "actor-1", Type: TypeFollowedBoardPost, LocationRef: "/boards/1"}
	if err := dispatcher.DispatchMany(context.Background(), template, []string{"recipient-a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := store.createdFor("recipient-a")
	queued := queue.queuedFor("recipient-a")
	if len(created) != 1 || len(queued) != 1 {
		t.Fatalf("expected one persisted and one queued notification")
	}
	if created[0].ID != queued[0].ID {
		t.Fatalf("expected retry to reuse id %s, got %s", created[0].ID, queued[0].ID)
	}
}

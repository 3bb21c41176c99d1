package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue, err := NewRedisQueue(client)
	if err != nil {
		t.Fatalf("unexpected queue error: %v", err)
	}
	return queue, server
}

func TestRedisQueueDrainReturnsNewestFirst(t *testing.T) {
	queue, _ := newTestRedisQueue(t)
	ctx := context.Background()

	for _, id := range []string{"n-1", "n-2", "n-3"} {
		err := queue.Push(ctx, Notification{ID: id, RecipientID: "recipient-1", Type: TypeComment})
		if err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
	}

	drained, err := queue.Drain(ctx, "recipient-1")
	if err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	if len(drained) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(drained))
	}
	for i, wantID := range []string{"n-3", "n-2", "n-1"} {
		if drained[i].ID != wantID {
			t.Fatalf("entry %d: expected %s, got %s", i, wantID, drained[i].ID)
		}
	}
}

func TestRedisQueueDrainClearsTheList(t *testing.T) {
	queue, server := newTestRedisQueue(t)
	ctx := context.Background()

	if err := queue.Push(ctx, Notification{ID: "n-1", RecipientID: "recipient-1"}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if _, err := queue.Drain(ctx, "recipient-1"); err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}

	if server.Exists("notification:recipient-1") {
		t.Fatalf("expected fallback list removed after drain")
	}
	again, err := queue.Drain(ctx, "recipient-1")
	if err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second drain, got %d entries", len(again))
	}
}

func TestRedisQueueDrainSkipsUndecodableEntries(t *testing.T) {
	queue, server := newTestRedisQueue(t)
	ctx := context.Background()

	if err := queue.Push(ctx, Notification{ID: "n-1", RecipientID: "recipient-1"}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if _, err := server.Lpush("notification:recipient-1", "not json"); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	drained, err := queue.Drain(ctx, "recipient-1")
	if err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	if len(drained) != 1 || drained[0].ID != "n-1" {
		t.Fatalf("expected only the decodable entry, got %v", drained)
	}
}

func TestRedisQueueKeysIsolateRecipients(t *testing.T) {
	queue, _ := newTestRedisQueue(t)
	ctx := context.Background()

	if err := queue.Push(ctx, Notification{ID: "n-1", RecipientID: "recipient-1"}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if err := queue.Push(ctx, Notification{ID: "n-2", RecipientID: "recipient-2"}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	drained, err := queue.Drain(ctx, "recipient-1")
	if err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}
	if len(drained) != 1 || drained[0].ID != "n-1" {
		t.Fatalf("expected only recipient-1 entries, got %v", drained)
	}
}

package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/troupe/pkg/queue"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client, err := NewClient("redis://"+mr.Addr(), logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}

	return client, mr
}

func TestTurnQueue_FIFO(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()

	ids := []string{"r1", "r2", "r3"}
	for _, id := range ids {
		err := q.EnqueueRequest(ctx, &queue.Request{RequestID: id, Type: queue.RequestTypeTurn, LocationID: "loc", CharacterID: "c"})
		if err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("Expected depth 3, got %d (%v)", depth, err)
	}

	for _, want := range ids {
		req, err := q.DequeueRequest(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if req.RequestID != want {
			t.Errorf("Expected %s, got %s", want, req.RequestID)
		}
		if req.EnqueuedAt.IsZero() {
			t.Error("Expected EnqueuedAt to be set")
		}
	}

	req, err := q.DequeueRequest(ctx)
	if err != nil || req != nil {
		t.Errorf("Expected nil request from empty queue, got %v (%v)", req, err)
	}
}

func TestTurnQueue_RejectsInvalid(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	err := q.EnqueueRequest(context.Background(), &queue.Request{RequestID: "x", Type: queue.RequestTypeTurn})
	if err == nil {
		t.Error("Expected validation error for missing location")
	}
}

func TestTurnQueue_Requeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	req := &queue.Request{RequestID: "r", Type: queue.RequestTypeRetry, LocationID: "loc", MessageID: "m"}

	if err := q.RequeueRequest(ctx, req); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	got, err := q.DequeueRequest(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}
}

func TestTurnQueue_BlockingDequeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()

	if err := q.EnqueueRequest(ctx, &queue.Request{RequestID: "b", Type: queue.RequestTypeTurn, LocationID: "loc", CharacterID: "c"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	req, err := q.BlockingDequeueRequest(ctx, time.Second)
	if err != nil {
		t.Fatalf("Blocking dequeue failed: %v", err)
	}
	if req == nil || req.RequestID != "b" {
		t.Errorf("Expected request b, got %v", req)
	}
}

func TestTurnQueue_Pending(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	for _, loc := range []string{"a", "b", "a"} {
		if err := q.EnqueueRequest(ctx, &queue.Request{RequestID: loc, Type: queue.RequestTypeTurn, LocationID: loc, CharacterID: "c"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	pending, err := q.Pending(ctx, "a")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending for a, got %d", len(pending))
	}
	if depth, _ := q.Depth(ctx); depth != 3 {
		t.Errorf("Pending must not consume, depth %d", depth)
	}
}

func TestTurnQueue_LocationOrder(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	reqs := []*queue.Request{
		{RequestID: "a1", Type: queue.RequestTypeTurn, LocationID: "a", CharacterID: "c"},
		{RequestID: "a2", Type: queue.RequestTypeTurn, LocationID: "a", CharacterID: "c"},
		{RequestID: "b1", Type: queue.RequestTypeTurn, LocationID: "b", CharacterID: "c"},
	}
	for _, req := range reqs {
		if err := q.EnqueueRequest(ctx, req); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if reqs[0].Seq != 1 || reqs[1].Seq != 2 || reqs[2].Seq != 1 {
		t.Fatalf("Expected per-location sequence 1,2,1, got %d,%d,%d", reqs[0].Seq, reqs[1].Seq, reqs[2].Seq)
	}

	next := func(req *queue.Request) bool {
		t.Helper()
		ok, err := q.IsNext(ctx, req)
		if err != nil {
			t.Fatalf("IsNext failed: %v", err)
		}
		return ok
	}
	if !next(reqs[0]) || !next(reqs[2]) {
		t.Error("Expected first request of each location to be next")
	}
	if next(reqs[1]) {
		t.Error("Expected a2 to wait for a1")
	}

	// a1 bounces and is re-queued behind a2; a2 still has to wait.
	a1, _ := q.DequeueRequest(ctx)
	if err := q.RequeueRequest(ctx, a1); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	a2, _ := q.DequeueRequest(ctx)
	if a2.RequestID != "a2" || next(a2) {
		t.Errorf("Expected a2 to be dequeued first and still wait, got %s", a2.RequestID)
	}
	if a1.Seq != 1 {
		t.Errorf("Expected re-queue to keep seq 1, got %d", a1.Seq)
	}

	if err := q.MarkDone(ctx, "a", 1); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if !next(a2) {
		t.Error("Expected a2 to be next once a1 finished")
	}

	// The finished mark never moves backwards.
	if err := q.MarkDone(ctx, "a", 2); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := q.MarkDone(ctx, "a", 1); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if got, _ := mr.Get(doneKey("a")); got != "2" {
		t.Errorf("Expected finished mark 2, got %q", got)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/jwebster45206/troupe/internal/services/queue"
	queuePkg "github.com/jwebster45206/troupe/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "Redis URL")
	locationID := flag.StringP("location", "l", "", "location id (required)")
	characterID := flag.StringP("character", "c", "", "character id (required)")
	message := flag.StringP("message", "m", "Hello, this is a test message!", "user message to send before the turn")
	nudge := flag.StringP("nudge", "n", "", "one-off direction for the character")
	count := flag.IntP("count", "k", 1, "number of turn requests to enqueue")
	flag.Parse()

	if *locationID == "" || *characterID == "" {
		flag.Usage()
		log.Fatal("--location and --character are required")
	}

	client, err := queue.NewClient(*redisURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer client.Close()

	fmt.Println("Connected to Redis successfully!")

	ctx := context.Background()
	turnQueue := queue.NewTurnQueue(client)
	for i := 0; i < *count; i++ {
		req := &queuePkg.Request{
			RequestID:   uuid.New().String(),
			Type:        queuePkg.RequestTypeTurn,
			LocationID:  *locationID,
			CharacterID: *characterID,
			Message:     *message,
			Nudge:       *nudge,
			EnqueuedAt:  time.Now(),
		}
		if err := turnQueue.EnqueueRequest(ctx, req); err != nil {
			log.Fatal("Failed to enqueue request: ", err)
		}
		fmt.Printf("Enqueued turn request: %s\n", req.RequestID)
	}

	depth, err := turnQueue.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth: ", err)
	}

	fmt.Printf("\nQueue depth: %d requests\n", depth)
	fmt.Println("Now start the worker to see it process these requests:")
	fmt.Println("   go run ./cmd/worker")
}

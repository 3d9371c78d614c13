package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwebster45206/troupe/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const requestsKey = "requests"

func seqKey(locationID string) string {
	return fmt.Sprintf("requests:seq:%s", locationID)
}

func doneKey(locationID string) string {
	return fmt.Sprintf("requests:done:%s", locationID)
}

// Only ever move the finished mark forward
var markDoneScript = redis.NewScript(`
	local seq = tonumber(ARGV[1])
	if seq > tonumber(redis.call("get", KEYS[1]) or "0") then
		redis.call("set", KEYS[1], seq)
	end
	return 0
`)

// TurnQueue is the global FIFO of turn and retry requests consumed by
// the worker. Requests for one location also carry a sequence number so
// they run in order even after being re-queued.
type TurnQueue struct {
	client *Client
}

func NewTurnQueue(client *Client) *TurnQueue {
	return &TurnQueue{client: client}
}

// EnqueueRequest adds a request to the end of the queue
func (q *TurnQueue) EnqueueRequest(ctx context.Context, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	if req.Seq == 0 {
		seq, err := q.client.rdb.Incr(ctx, seqKey(req.LocationID)).Result()
		if err != nil {
			return fmt.Errorf("failed to sequence request: %w", err)
		}
		req.Seq = seq
	}
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, requestsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	q.client.logger.Debug("Request enqueued",
		"request_id", req.RequestID,
		"type", req.Type,
		"location_id", req.LocationID,
		"seq", req.Seq)
	return nil
}

// RequeueRequest puts a request back at the end of the queue after its
// location was busy or an earlier request for it was still pending. The
// request keeps its sequence number.
func (q *TurnQueue) RequeueRequest(ctx context.Context, req *queue.Request) error {
	req.Attempts++
	return q.EnqueueRequest(ctx, req)
}

// DequeueRequest removes and returns the next request.
// Returns nil if the queue is empty.
func (q *TurnQueue) DequeueRequest(ctx context.Context) (*queue.Request, error) {
	result, err := q.client.rdb.LPop(ctx, requestsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}
	req, err := queue.FromJSON([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// BlockingDequeueRequest waits up to timeout for a request. It returns
// nil, nil when the timeout passes with nothing queued. A zero timeout
// waits forever.
func (q *TurnQueue) BlockingDequeueRequest(ctx context.Context, timeout time.Duration) (*queue.Request, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, requestsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	req, err := queue.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// IsNext reports whether every earlier request for req's location has
// finished. Unsequenced requests are always next.
func (q *TurnQueue) IsNext(ctx context.Context, req *queue.Request) (bool, error) {
	if req.Seq == 0 {
		return true, nil
	}
	done, err := q.client.rdb.Get(ctx, doneKey(req.LocationID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to read finished mark: %w", err)
	}
	return req.Seq <= done+1, nil
}

// MarkDone records that requests for locationID up to seq have finished.
func (q *TurnQueue) MarkDone(ctx context.Context, locationID string, seq int64) error {
	if seq <= 0 {
		return nil
	}
	if err := markDoneScript.Run(ctx, q.client.rdb, []string{doneKey(locationID)}, seq).Err(); err != nil {
		return fmt.Errorf("failed to mark request done: %w", err)
	}
	return nil
}

// Depth returns the number of queued requests
func (q *TurnQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, requestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get request queue depth: %w", err)
	}
	return int(count), nil
}

// Pending returns queued requests for one location without removing them.
func (q *TurnQueue) Pending(ctx context.Context, locationID string) ([]*queue.Request, error) {
	items, err := q.client.rdb.LRange(ctx, requestsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read request queue: %w", err)
	}
	var out []*queue.Request
	for _, item := range items {
		req, err := queue.FromJSON([]byte(item))
		if err != nil {
			q.client.logger.Warn("Skipping unparseable queued request", "error", err)
			continue
		}
		if req.LocationID == locationID {
			out = append(out, req)
		}
	}
	return out, nil
}

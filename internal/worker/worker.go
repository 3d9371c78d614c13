package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/troupe/internal/logger"
	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/internal/services/events"
	"github.com/jwebster45206/troupe/internal/services/queue"
	"github.com/jwebster45206/troupe/pkg/chat"
	queuePkg "github.com/jwebster45206/troupe/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second

	// requeueDelay keeps a worker from spinning on a busy location.
	requeueDelay = 250 * time.Millisecond

	// MaxAttempts is how many times a request may find its location busy
	// before it is dropped. A request waiting on an earlier one for its
	// location runs anyway after this many attempts.
	MaxAttempts = 120
)

// Worker processes turn requests from the queue
type Worker struct {
	id          string
	queue       *queue.TurnQueue
	processor   *TurnProcessor
	broadcaster *events.Broadcaster
	metrics     *metrics.Collector
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(turnQueue *queue.TurnQueue, processor *TurnProcessor, broadcaster *events.Broadcaster, collector *metrics.Collector, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       turnQueue,
		processor:   processor,
		broadcaster: broadcaster,
		metrics:     collector,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Start begins processing requests from the queue. It returns when Stop
// is called or ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Worker starting", "worker_id", w.id)
	stop := context.AfterFunc(ctx, w.cancel)
	defer stop()

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err, "worker_id", w.id)
				// Continue processing even on error
				select {
				case <-w.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	req, err := w.queue.BlockingDequeueRequest(w.ctx, workerTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue request: %w", err)
	}
	w.updateDepth()

	if req == nil {
		// Queue is empty or timeout occurred - this is normal
		return nil
	}

	w.log.Info("Received request from queue",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"type", req.Type,
		"location_id", req.LocationID,
		"attempts", req.Attempts,
	)

	next, err := w.queue.IsNext(w.ctx, req)
	if err != nil {
		w.log.Warn("Could not check request order, processing anyway", "error", err, "request_id", req.RequestID)
		next = true
	}
	if !next {
		if req.Attempts+1 < MaxAttempts {
			return w.requeue(req)
		}
		// The earlier request was most likely lost with a crashed worker.
		w.log.Warn("Earlier request for location never finished, skipping ahead",
			"worker_id", w.id,
			"request_id", req.RequestID,
			"location_id", req.LocationID,
			"seq", req.Seq)
		w.finish(&queuePkg.Request{LocationID: req.LocationID, Seq: req.Seq - 1})
	}

	err = w.processRequest(req)
	if errors.Is(err, ErrTurnInProgress) {
		return w.requeue(req)
	}
	w.finish(req)
	return err
}

// finish lets the location's next request run.
func (w *Worker) finish(req *queuePkg.Request) {
	if err := w.queue.MarkDone(context.WithoutCancel(w.ctx), req.LocationID, req.Seq); err != nil {
		w.log.Error("Failed to mark request done", "error", err, "request_id", req.RequestID)
	}
}

// requeue puts a request that cannot run yet back at the end of the queue.
func (w *Worker) requeue(req *queuePkg.Request) error {
	if req.Attempts+1 >= MaxAttempts {
		w.log.Warn("Dropping request, location stayed busy",
			"worker_id", w.id,
			"request_id", req.RequestID,
			"location_id", req.LocationID,
			"attempts", req.Attempts)
		if err := w.broadcaster.PublishTurnFailed(w.ctx, req.LocationID, req.RequestID, ErrTurnInProgress.Error()); err != nil {
			w.log.Error("Failed to publish failure event", "error", err)
		}
		w.finish(req)
		return nil
	}

	w.log.Info("Request cannot run yet, re-queueing",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"location_id", req.LocationID)
	if err := w.queue.RequeueRequest(w.ctx, req); err != nil {
		return fmt.Errorf("failed to re-queue request: %w", err)
	}
	w.updateDepth()

	select {
	case <-w.ctx.Done():
	case <-time.After(requeueDelay):
	}
	return nil
}

// processRequest runs a single request through the TurnProcessor
func (w *Worker) processRequest(req *queuePkg.Request) error {
	start := time.Now()
	log := logger.ForTurn(w.log, req.RequestID, req.LocationID).With("worker_id", w.id)

	var err error
	switch req.Type {
	case queuePkg.RequestTypeTurn:
		_, err = w.processor.RunTurn(w.ctx, req.RequestID, chat.TurnRequest{
			LocationID:  req.LocationID,
			CharacterID: req.CharacterID,
			Message:     req.Message,
			Nudge:       req.Nudge,
		})
	case queuePkg.RequestTypeRetry:
		_, err = w.processor.Retry(w.ctx, req.RequestID, req.LocationID, chat.RetryRequest{
			MessageID:      req.MessageID,
			ConfirmDiscard: req.ConfirmDiscard,
		})
	default:
		err = fmt.Errorf("unknown request type: %s", req.Type)
	}

	switch {
	case err == nil:
		log.Info("Request processed successfully", "type", req.Type, "duration_ms", time.Since(start).Milliseconds())
		return nil
	case errors.Is(err, ErrTurnInProgress):
		return err
	case errors.Is(err, ErrConfirmationRequired), errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrNotCharacterMessage), errors.Is(err, ErrCharacterNotPresent):
		// Caller errors: report them to subscribers, nothing to retry.
		if pubErr := w.broadcaster.PublishTurnFailed(w.ctx, req.LocationID, req.RequestID, err.Error()); pubErr != nil {
			log.Error("Failed to publish failure event", "error", pubErr)
		}
		log.Warn("Request rejected", "error", err)
		return nil
	default:
		return fmt.Errorf("failed to process %s request %s: %w", req.Type, req.RequestID, err)
	}
}

func (w *Worker) updateDepth() {
	if w.metrics == nil {
		return
	}
	n, err := w.queue.Depth(w.ctx)
	if err != nil {
		return
	}
	w.metrics.SetQueueDepth(n)
}

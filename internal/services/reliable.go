package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/pkg/chat"
	"golang.org/x/time/rate"
)

// ReliableLLM wraps a provider with a per-attempt timeout, a shared rate
// limit and retries for transient failures.
type ReliableLLM struct {
	inner    LLMService
	provider string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// ReliableOptions configures ReliableLLM. Zero values disable the
// corresponding behavior.
type ReliableOptions struct {
	Provider string
	Timeout  time.Duration
	Retries  int
	RPS      float64
	Backoff  time.Duration
	Metrics  *metrics.Collector
}

var _ LLMService = (*ReliableLLM)(nil)

func NewReliableLLM(inner LLMService, opts ReliableOptions, logger *slog.Logger) *ReliableLLM {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &ReliableLLM{
		inner:    inner,
		provider: opts.Provider,
		timeout:  opts.Timeout,
		retries:  opts.Retries,
		backoff:  backoff,
		limiter:  limiter,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

func (r *ReliableLLM) InitModel(ctx context.Context, modelName string) error {
	return r.inner.InitModel(ctx, modelName)
}

func (r *ReliableLLM) Generate(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			delay := r.backoff << (attempt - 1)
			r.logger.Warn("Retrying generation", "provider", r.provider, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("generation cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := r.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
	}
	return nil, lastErr
}

func (r *ReliableLLM) attempt(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := r.inner.Generate(callCtx, req)
	r.metrics.RecordGeneration(r.provider, time.Since(start), err)
	return resp, err
}

// isTransient reports whether err is worth retrying: network errors,
// timeouts, rate limiting and server errors.
func isTransient(err error) bool {
	if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrNoModel) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

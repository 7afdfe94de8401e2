// Package rush re-runs the purchase pipeline from a pool of workers around
// the moment a sale opens, until one attempt creates an order.
//
// Every attempt is a fresh Purchase (fresh reservation, fresh payload).
// Workers pull attempt numbers from a shared channel, so the attempt budget
// is global; a single collector goroutine aggregates results.
package rush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Amorter/bili-ticket/internal/purchase"
	"github.com/Amorter/bili-ticket/internal/remote"
)

type Options struct {
	Logger *slog.Logger
}

// Runner executes plans against a Purchaser.
type Runner struct {
	purchaser Purchaser
	logger    *slog.Logger
}

func New(purchaser Purchaser, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{purchaser: purchaser, logger: logger}
}

// Run executes plan until an order is created, the attempt budget is spent,
// an unretryable error occurs, or ctx ends. The returned error is only
// non-nil when ctx ended before any attempt ran; everything else is
// reported in the Summary.
func (r *Runner) Run(ctx context.Context, plan Plan) (Summary, error) {
	plan = plan.withDefaults()

	if !plan.StartAt.IsZero() {
		r.logger.InfoContext(ctx, "waiting for sale start",
			"operation", "rush",
			"start_at", plan.StartAt,
		)
		if err := sleep(ctx, time.Until(plan.StartAt)); err != nil {
			return Summary{}, err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	startTime := time.Now()
	r.logger.InfoContext(ctx, "rush started",
		"operation", "rush",
		"workers", plan.Workers,
		"max_attempts", plan.MaxAttempts,
		"sku_id", plan.Selection.SkuID,
	)

	attempts := make(chan int, plan.MaxAttempts)
	for i := 1; i <= plan.MaxAttempts; i++ {
		attempts <- i
	}
	close(attempts)

	results := make(chan attemptResult, plan.Workers)
	var wg sync.WaitGroup
	var won atomic.Bool
	for id := 0; id < plan.Workers; id++ {
		wg.Add(1)
		go r.worker(runCtx, id, plan, attempts, results, &won, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := Summary{
		StartedAt: startTime,
		Workers:   plan.Workers,
		Reasons:   map[string]int{},
	}
	var latencies []time.Duration

	for result := range results {
		summary.Attempts++
		latencies = append(latencies, result.Latency)

		if result.Err == nil {
			if summary.OrderID == 0 {
				summary.OrderID = result.OrderID
				stop()
			} else {
				summary.Extra = append(summary.Extra, result.OrderID)
			}
			continue
		}

		summary.Failures++
		summary.Reasons[failureReason(result.Err)]++
		if unretryable(result.Err) && summary.Err == nil {
			summary.Err = result.Err
			stop()
		}

		if summary.Attempts%10 == 0 {
			r.logger.InfoContext(ctx, "rush progress",
				"operation", "rush",
				"attempts", summary.Attempts,
				"failures", summary.Failures,
				"elapsed", time.Since(startTime),
			)
		}
	}

	summary.Duration = time.Since(startTime)
	summary.Latency = Distribute(latencies)

	outcome := "exhausted"
	switch {
	case summary.Won():
		outcome = "success"
	case summary.Err != nil:
		outcome = "failure"
	case ctx.Err() != nil:
		outcome = "cancelled"
	}
	r.logger.InfoContext(ctx, "rush finished",
		"operation", "rush",
		"outcome", outcome,
		"attempts", summary.Attempts,
		"failures", summary.Failures,
		"order_id", int64(summary.OrderID),
		"duration", summary.Duration,
	)
	return summary, nil
}

// worker takes attempts until the channel drains or ctx ends. After each
// consecutive failure it backs off linearly.
func (r *Runner) worker(
	ctx context.Context,
	id int,
	plan Plan,
	attempts <-chan int,
	results chan<- attemptResult,
	won *atomic.Bool,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	failures := 0
	for attempt := range attempts {
		if ctx.Err() != nil || won.Load() {
			return
		}
		if failures > 0 {
			if err := sleep(ctx, plan.BaseDelay*time.Duration(failures)); err != nil {
				return
			}
		}
		if plan.Limiter != nil {
			if err := plan.Limiter.Wait(ctx); err != nil {
				return
			}
		}

		start := time.Now()
		orderID, err := r.purchaser.Purchase(ctx, plan.Selection, plan.Buyer)
		latency := time.Since(start)

		if err != nil && ctx.Err() != nil {
			// Abandoned because another worker won or the caller stopped.
			return
		}
		if err == nil {
			won.Store(true)
		} else {
			failures++
			r.logger.DebugContext(ctx, "rush attempt failed",
				"operation", "rush",
				"worker", id,
				"attempt", attempt,
				"reason", failureReason(err),
			)
		}
		results <- attemptResult{Worker: id, Attempt: attempt, OrderID: orderID, Err: err, Latency: latency}
	}
}

// failureReason buckets an error for the histogram.
func failureReason(err error) string {
	var rejection *remote.PlatformRejection
	switch {
	case errors.As(err, &rejection):
		if rejection.Message != "" {
			return rejection.Message
		}
		return fmt.Sprintf("code %d", rejection.Code)
	case remote.IsTransport(err):
		return "transport error"
	default:
		return err.Error()
	}
}

// unretryable errors are those another attempt cannot fix.
func unretryable(err error) bool {
	return errors.Is(err, purchase.ErrInvalidCount) ||
		errors.Is(err, purchase.ErrNotAuthenticated) ||
		errors.Is(err, purchase.ErrIncompleteBuyer)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package rush

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Amorter/bili-ticket/internal/purchase"
)

// ═══════════════════════════════════════════════════════════════
// Collaborators
// ═══════════════════════════════════════════════════════════════

// Purchaser runs one complete purchase attempt.
type Purchaser interface {
	Purchase(ctx context.Context, sel purchase.Selection, buyer purchase.BuyerFields) (purchase.OrderID, error)
}

// ═══════════════════════════════════════════════════════════════
// Plan
// ═══════════════════════════════════════════════════════════════

const (
	DefaultWorkers     = 1
	DefaultMaxAttempts = 60
	DefaultBaseDelay   = 50 * time.Millisecond
)

// Plan describes one rush. Zero values fall back to defaults.
type Plan struct {
	Selection purchase.Selection
	Buyer     purchase.BuyerFields

	// Workers is the number of concurrent attempt loops.
	Workers int
	// MaxAttempts bounds the attempts across all workers.
	MaxAttempts int
	// StartAt delays the first attempt. Zero starts immediately.
	StartAt time.Time
	// Limiter paces attempts across all workers. Nil disables pacing.
	Limiter *rate.Limiter
	// BaseDelay is the linear backoff step after consecutive failures of
	// one worker: BaseDelay, 2×BaseDelay, 3×BaseDelay, ...
	BaseDelay time.Duration
}

func (p Plan) withDefaults() Plan {
	if p.Workers <= 0 {
		p.Workers = DefaultWorkers
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// ═══════════════════════════════════════════════════════════════
// Worker Types
// ═══════════════════════════════════════════════════════════════

// attemptResult is what one worker reports for one attempt.
type attemptResult struct {
	Worker  int
	Attempt int
	OrderID purchase.OrderID
	Err     error
	Latency time.Duration
}

// Summary aggregates a finished rush.
type Summary struct {
	StartedAt time.Time
	Duration  time.Duration
	Workers   int

	Attempts int
	Failures int
	// Reasons counts failures by platform reason (or error class).
	Reasons map[string]int
	Latency Distribution

	// OrderID is the first order created; zero when none was.
	OrderID purchase.OrderID
	// Extra lists orders created by attempts already in flight when the
	// first one succeeded. They need cancelling by hand.
	Extra []purchase.OrderID
	// Err is set when the rush stopped on an error that retrying cannot fix.
	Err error
}

// Won reports whether an order was created.
func (s Summary) Won() bool { return s.OrderID != 0 }

// Package monitor keeps the shared order snapshot fresh by listing the
// account's orders on a fixed interval while it is switched on.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

var ErrAlreadyRunning = errors.New("order monitor already running")

const (
	DefaultInterval = 1500 * time.Millisecond
	DefaultPageSize = 20
)

// OrderLister is the part of the platform client the monitor needs.
type OrderLister interface {
	ListOrders(ctx context.Context, cookie string, page, pageSize int) ([]remote.Order, error)
}

type Options struct {
	Interval time.Duration
	PageSize int
	Logger   *slog.Logger
}

// Monitor is the background order poller. Only one loop runs at a time.
type Monitor struct {
	lister   OrderLister
	state    *session.State
	interval time.Duration
	pageSize int
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(lister OrderLister, state *session.State, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	closed := make(chan struct{})
	close(closed)
	return &Monitor{
		lister:   lister,
		state:    state,
		interval: opts.Interval,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
		done:     closed,
	}
}

// Start launches the polling loop. The loop runs until Stop is called or
// ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.run(loopCtx)
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
		}
		m.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop asks the loop to end. A poll already in flight is abandoned and its
// result discarded. Stop does not wait; use Done.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the current (or last) loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Running reports whether a loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context) {
	m.logger.InfoContext(ctx, "order monitor started", "operation", "monitor_orders", "interval", m.interval)
	defer m.logger.InfoContext(ctx, "order monitor stopped", "operation", "monitor_orders")

	// The pause is measured from the end of each poll.
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		m.poll(ctx)

		timer.Reset(m.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// poll runs one iteration. Failures are logged and the loop carries on
// after the usual pause.
func (m *Monitor) poll(ctx context.Context) {
	cycle := m.state.Cycle()
	orders, err := m.lister.ListOrders(ctx, m.state.Cookie(), 0, m.pageSize)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.WarnContext(ctx, "order poll failed",
			"operation", "monitor_orders",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	if !m.state.ReplaceOrders(cycle, orders) {
		m.logger.DebugContext(ctx, "order poll discarded after session reset", "operation", "monitor_orders")
		return
	}
	m.logger.DebugContext(ctx, "order poll",
		"operation", "monitor_orders",
		"outcome", "success",
		"orders", len(orders),
	)
}

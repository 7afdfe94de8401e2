// Package login drives the QR-code login handshake: one QR code is issued,
// then the platform is polled on an interval until the code is confirmed,
// rejected, or the caller cancels.
package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

// ExpiredCode is the poll code the platform reports for a QR code that timed out.
const ExpiredCode = 86038

var (
	ErrLoginInProgress      = errors.New("login already in progress")
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	ErrQRCodeExpired        = errors.New("login QR code expired")
	// ErrSessionReset is returned when the session was reset while the
	// handshake was running; the confirmed login is discarded.
	ErrSessionReset = errors.New("session reset during login")
	// ErrPollingStopped is returned when the poll policy gives up.
	ErrPollingStopped = errors.New("login poll policy gave up")
)

// API is the part of the platform client the handshake needs.
type API interface {
	GenerateLoginQR(ctx context.Context) (remote.QRCode, error)
	PollLogin(ctx context.Context, key string) (remote.LoginPoll, error)
}

// Status is the externally visible login state.
type Status int

const (
	StatusIdle Status = iota
	StatusPolling
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusPolling:
		return "polling"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "idle"
	}
}

// Options configure a Session. Zero values fall back to defaults.
type Options struct {
	Logger *slog.Logger
	// PollPolicy returns the schedule of waits before each poll. It is called
	// once per handshake. Defaults to a constant 3s.
	PollPolicy func() backoff.BackOff
	// RetryPolicy returns the schedule between retries of a poll that failed
	// at the transport level. Defaults to exponential backoff.
	RetryPolicy func() backoff.BackOff
	// TransportRetries bounds the retries of a single poll. Nil means 3;
	// zero disables retries.
	TransportRetries *uint
	// QRRenderer is the base URL of the QR image renderer.
	QRRenderer string
}

const (
	DefaultPollInterval     = 3 * time.Second
	DefaultTransportRetries = 3
)

// Session runs at most one handshake at a time against a shared state.
type Session struct {
	api    API
	state  *session.State
	logger *slog.Logger

	pollPolicy  func() backoff.BackOff
	retryPolicy func() backoff.BackOff
	retries     uint
	renderer    string

	mu       sync.Mutex
	starting bool
	active   *Pending
}

// New builds a Session writing successful logins into state.
func New(api API, state *session.State, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pollPolicy := opts.PollPolicy
	if pollPolicy == nil {
		pollPolicy = func() backoff.BackOff { return backoff.NewConstantBackOff(DefaultPollInterval) }
	}
	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		retryPolicy = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	retries := uint(DefaultTransportRetries)
	if opts.TransportRetries != nil {
		retries = *opts.TransportRetries
	}
	return &Session{
		api:         api,
		state:       state,
		logger:      logger,
		pollPolicy:  pollPolicy,
		retryPolicy: retryPolicy,
		retries:     retries,
		renderer:    opts.QRRenderer,
	}
}

// Status reports whether a handshake is running or the state is authenticated.
func (s *Session) Status() Status {
	s.mu.Lock()
	polling := s.starting || s.active != nil
	s.mu.Unlock()
	switch {
	case polling:
		return StatusPolling
	case s.state.Authenticated():
		return StatusAuthenticated
	default:
		return StatusIdle
	}
}

// Pending is a running handshake.
type Pending struct {
	// URL is the content to show as a QR code.
	URL string
	// ImageURL renders URL as a QR image.
	ImageURL string
	Key      string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed once the handshake has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err is nil after a successful login. It returns context.Canceled after
// Cancel, and otherwise the error that ended the handshake. Only valid
// after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Cancel stops polling. It does not wait; use Done for that.
func (p *Pending) Cancel() { p.cancel() }

// Wait blocks until the handshake finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin issues a QR code and starts polling in the background. The returned
// handshake lives until it succeeds, fails, ctx ends, or Cancel is called.
func (s *Session) Begin(ctx context.Context) (*Pending, error) {
	s.mu.Lock()
	if s.starting || s.active != nil {
		s.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	if s.state.Authenticated() {
		s.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	}
	s.starting = true
	cycle := s.state.Cycle()
	s.mu.Unlock()

	qr, err := s.api.GenerateLoginQR(ctx)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return nil, fmt.Errorf("begin login: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p := &Pending{
		URL:      qr.URL,
		ImageURL: remote.QRImageURL(s.renderer, qr.URL),
		Key:      qr.Key,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.starting = false
	s.active = p
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "login QR issued", "operation", "login", "qr_url", qr.URL)
	go s.run(loopCtx, p, cycle)
	return p, nil
}

func (s *Session) run(ctx context.Context, p *Pending, cycle uint64) {
	err := s.loop(ctx, p.Key, cycle)
	p.cancel()

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	p.err = err
	close(p.done)
}

func (s *Session) loop(ctx context.Context, key string, cycle uint64) error {
	policy := s.pollPolicy()
	policy.Reset()

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.logger.WarnContext(ctx, "login polling gave up", "operation", "login", "polls", attempt-1)
			return ErrPollingStopped
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		poll, err := s.pollOnce(ctx, key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		outcome, err := Classify(poll, err)
		s.logger.DebugContext(ctx, "login poll",
			"operation", "login",
			"outcome", outcome.String(),
			"poll", attempt,
			"code", poll.Code,
		)

		switch outcome {
		case OutcomeNotYet:
			continue
		case OutcomeAuthenticated:
			if !s.state.Authenticate(cycle, poll.Cookie) {
				return ErrSessionReset
			}
			s.logger.InfoContext(ctx, "login confirmed", "operation", "login", "outcome", "success", "polls", attempt)
			return nil
		case OutcomePlatformRejected:
			if errors.Is(err, ErrQRCodeExpired) {
				s.logger.WarnContext(ctx, "login rejected", "operation", "login", "outcome", "failure", "error", err)
				return err
			}
			s.logger.WarnContext(ctx, "login poll rejected", "operation", "login", "outcome", outcome.String(), "error", err)
		default:
			s.logger.WarnContext(ctx, "login poll failed", "operation", "login", "outcome", outcome.String(), "error", err)
		}
	}
}

// pollOnce issues one poll, retrying transport failures a bounded number of times.
func (s *Session) pollOnce(ctx context.Context, key string) (remote.LoginPoll, error) {
	return backoff.Retry(ctx,
		func() (remote.LoginPoll, error) {
			poll, err := s.api.PollLogin(ctx, key)
			if err != nil && !remote.IsTransport(err) {
				return poll, backoff.Permanent(err)
			}
			return poll, err
		},
		backoff.WithBackOff(s.retryPolicy()),
		backoff.WithMaxTries(s.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.WarnContext(ctx, "login poll retry", "operation", "login", "error", err, "retry_in", next)
		}),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

// fakeAPI answers polls from a script; past its end it repeats the last entry.
type fakeAPI struct {
	qr    remote.QRCode
	qrErr error

	mu     sync.Mutex
	polls  int
	script []func() (remote.LoginPoll, error)
}

func (f *fakeAPI) GenerateLoginQR(context.Context) (remote.QRCode, error) {
	return f.qr, f.qrErr
}

func (f *fakeAPI) PollLogin(_ context.Context, key string) (remote.LoginPoll, error) {
	f.mu.Lock()
	idx := f.polls
	f.polls++
	f.mu.Unlock()
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx]()
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func code(c int) func() (remote.LoginPoll, error) {
	return func() (remote.LoginPoll, error) { return remote.LoginPoll{Code: c}, nil }
}

func confirmed(cookie string) func() (remote.LoginPoll, error) {
	return func() (remote.LoginPoll, error) { return remote.LoginPoll{Code: 0, Cookie: cookie}, nil }
}

func fastOptions() Options {
	return Options{
		PollPolicy:  func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
		RetryPolicy: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func waitDone(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("login did not finish")
	}
}

func TestLoginAuthenticatesAfterThirdPoll(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){code(-1), code(-1), confirmed("SESSDATA=abc")},
	}
	state := session.New()
	s := New(api, state, fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://x/qr", p.URL)
	assert.Equal(t, "k1", p.Key)
	assert.Equal(t, remote.DefaultQRRenderer+"https://x/qr", p.ImageURL)

	waitDone(t, p)
	require.NoError(t, p.Err())
	assert.Equal(t, 3, api.pollCount())
	assert.True(t, state.Authenticated())
	assert.Equal(t, "SESSDATA=abc", state.Cookie())
	assert.Equal(t, StatusAuthenticated, s.Status())
}

func TestBeginWhilePollingIsRejected(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){code(86101)},
	}
	s := New(api, session.New(), fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPolling, s.Status())

	_, err = s.Begin(context.Background())
	require.ErrorIs(t, err, ErrLoginInProgress)

	p.Cancel()
	waitDone(t, p)
	require.ErrorIs(t, p.Err(), context.Canceled)
	assert.Equal(t, StatusIdle, s.Status())

	again, err := s.Begin(context.Background())
	require.NoError(t, err)
	again.Cancel()
	waitDone(t, again)
}

func TestBeginRejectedWhenAlreadyAuthenticated(t *testing.T) {
	s := New(&fakeAPI{}, session.Restore("SESSDATA=abc"), fastOptions())
	_, err := s.Begin(context.Background())
	require.ErrorIs(t, err, ErrAlreadyAuthenticated)
}

func TestBeginFailsWhenQRCannotBeIssued(t *testing.T) {
	api := &fakeAPI{qrErr: &remote.TransportError{Op: "generate-login-qr", StatusCode: 502}}
	s := New(api, session.New(), fastOptions())

	_, err := s.Begin(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsTransport(err))
	assert.Equal(t, StatusIdle, s.Status())
}

func TestExpiredQRCodeEndsLogin(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){code(86101), code(ExpiredCode)},
	}
	state := session.New()
	s := New(api, state, fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.ErrorIs(t, p.Err(), ErrQRCodeExpired)
	assert.Equal(t, 2, api.pollCount())
	assert.False(t, state.Authenticated())
	assert.Equal(t, StatusIdle, s.Status())
}

// countingBackOff counts the poll waits, one per poll step.
type countingBackOff struct {
	mu    sync.Mutex
	waits int
}

func (c *countingBackOff) NextBackOff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	return time.Millisecond
}

func (c *countingBackOff) Reset() {}

func (c *countingBackOff) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

func resetByPeer() (remote.LoginPoll, error) {
	return remote.LoginPoll{}, &remote.TransportError{Op: "poll-login", Err: errors.New("connection reset")}
}

func uintPtr(v uint) *uint { return &v }

func TestExhaustedTransportRetriesKeepPolling(t *testing.T) {
	api := &fakeAPI{
		qr: remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){
			code(86101), resetByPeer, resetByPeer, resetByPeer, resetByPeer, confirmed("SESSDATA=abc"),
		},
	}
	schedule := &countingBackOff{}
	opts := fastOptions()
	opts.PollPolicy = func() backoff.BackOff { return schedule }
	opts.TransportRetries = uintPtr(2)
	state := session.New()
	s := New(api, state, opts)

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.NoError(t, p.Err())
	assert.Equal(t, "SESSDATA=abc", state.Cookie())
	assert.Equal(t, 6, api.pollCount())
	// One wait per poll step: 86101, the exhausted step, the confirming step.
	assert.Equal(t, 3, schedule.count())
}

func TestZeroTransportRetriesDisablesRetry(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){resetByPeer, confirmed("SESSDATA=abc")},
	}
	schedule := &countingBackOff{}
	opts := fastOptions()
	opts.PollPolicy = func() backoff.BackOff { return schedule }
	opts.TransportRetries = uintPtr(0)
	state := session.New()
	s := New(api, state, opts)

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.NoError(t, p.Err())
	assert.Equal(t, 2, api.pollCount())
	assert.Equal(t, 2, schedule.count())
}

func TestRejectedPollKeepsPolling(t *testing.T) {
	rejected := func() (remote.LoginPoll, error) {
		return remote.LoginPoll{}, &remote.PlatformRejection{Op: "poll-login", Code: -400, Message: "请求错误"}
	}
	noCookie := func() (remote.LoginPoll, error) { return remote.LoginPoll{Code: 0}, nil }
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){rejected, noCookie, confirmed("SESSDATA=abc")},
	}
	state := session.New()
	s := New(api, state, fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.NoError(t, p.Err())
	assert.Equal(t, 3, api.pollCount())
	assert.True(t, state.Authenticated())
}

func TestTransportFailuresNeverEndLogin(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){resetByPeer},
	}
	s := New(api, session.New(), fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return api.pollCount() > 10 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, StatusPolling, s.Status())

	p.Cancel()
	waitDone(t, p)
	require.ErrorIs(t, p.Err(), context.Canceled)
}

func TestTransientTransportFailureIsRetried(t *testing.T) {
	failing := func() (remote.LoginPoll, error) {
		return remote.LoginPoll{}, &remote.TransportError{Op: "poll-login", StatusCode: 503}
	}
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){failing, confirmed("SESSDATA=abc")},
	}
	state := session.New()
	s := New(api, state, fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.NoError(t, p.Err())
	assert.Equal(t, "SESSDATA=abc", state.Cookie())
}

func TestLoginConfirmedAfterResetIsDiscarded(t *testing.T) {
	state := session.New()
	api := &fakeAPI{qr: remote.QRCode{URL: "https://x/qr", Key: "k1"}}
	api.script = []func() (remote.LoginPoll, error){func() (remote.LoginPoll, error) {
		state.Reset()
		return remote.LoginPoll{Code: 0, Cookie: "SESSDATA=abc"}, nil
	}}
	s := New(api, state, fastOptions())

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.ErrorIs(t, p.Err(), ErrSessionReset)
	assert.False(t, state.Authenticated())
	assert.Empty(t, state.Cookie())
}

func TestPollPolicyStop(t *testing.T) {
	api := &fakeAPI{
		qr:     remote.QRCode{URL: "https://x/qr", Key: "k1"},
		script: []func() (remote.LoginPoll, error){code(86101)},
	}
	opts := fastOptions()
	opts.PollPolicy = func() backoff.BackOff { return &backoff.StopBackOff{} }
	s := New(api, session.New(), opts)

	p, err := s.Begin(context.Background())
	require.NoError(t, err)
	waitDone(t, p)
	require.ErrorIs(t, p.Err(), ErrPollingStopped)
	assert.Zero(t, api.pollCount())
}

func TestClassify(t *testing.T) {
	transport := &remote.TransportError{Op: "poll-login", StatusCode: 500}
	rejection := &remote.PlatformRejection{Op: "poll-login", Code: -400}

	cases := []struct {
		name    string
		poll    remote.LoginPoll
		err     error
		outcome Outcome
		wantErr error
	}{
		{"confirmed", remote.LoginPoll{Code: 0, Cookie: "a=b"}, nil, OutcomeAuthenticated, nil},
		{"unscanned", remote.LoginPoll{Code: 86101}, nil, OutcomeNotYet, nil},
		{"scanned", remote.LoginPoll{Code: 86090}, nil, OutcomeNotYet, nil},
		{"negative", remote.LoginPoll{Code: -1}, nil, OutcomeNotYet, nil},
		{"expired", remote.LoginPoll{Code: ExpiredCode}, nil, OutcomePlatformRejected, ErrQRCodeExpired},
		{"transport", remote.LoginPoll{}, transport, OutcomeTransportError, transport},
		{"rejection", remote.LoginPoll{}, rejection, OutcomePlatformRejected, rejection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := Classify(tc.poll, tc.err)
			assert.Equal(t, tc.outcome, outcome)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}

	outcome, err := Classify(remote.LoginPoll{Code: 0}, nil)
	assert.Equal(t, OutcomePlatformRejected, outcome)
	var malformed *remote.MalformedResponse
	assert.ErrorAs(t, err, &malformed)
}

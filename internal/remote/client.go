// Package remote is the typed client for the ticketing platform. Every
// method is a single request/response; nothing here retries. Callers pass
// the session cookie explicitly so the client itself holds no session state.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Endpoints are the base URLs of the three platform hosts.
type Endpoints struct {
	Passport string
	API      string
	Show     string
}

// DefaultEndpoints returns the production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Passport: "https://passport.bilibili.com",
		API:      "https://api.bilibili.com",
		Show:     "https://show.bilibili.com",
	}
}

// Options configure a Client. Zero values fall back to defaults.
type Options struct {
	Endpoints  Endpoints
	HTTPClient *http.Client
	// Limiter paces every outgoing request. Nil disables pacing.
	Limiter   *rate.Limiter
	UserAgent string
	Logger    *slog.Logger
}

// Client talks to the platform.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewClient builds a Client.
func NewClient(opts Options) *Client {
	endpoints := opts.Endpoints
	defaults := DefaultEndpoints()
	if endpoints.Passport == "" {
		endpoints.Passport = defaults.Passport
	}
	if endpoints.API == "" {
		endpoints.API = defaults.API
	}
	if endpoints.Show == "" {
		endpoints.Show = defaults.Show
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		endpoints:  endpoints,
		httpClient: httpClient,
		limiter:    opts.Limiter,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// call describes one request.
type call struct {
	op     string
	method string
	url    string
	query  url.Values
	form   url.Values
	cookie string
}

// reply is a decoded envelope plus the response headers.
type reply struct {
	envelope
	header  http.Header
	cookies []*http.Cookie
}

func (c *Client) do(ctx context.Context, req call) (reply, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return reply{}, fmt.Errorf("%s: %w", req.op, err)
		}
	}

	target := req.url
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.form != nil {
		body = strings.NewReader(req.form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return reply{}, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.cookie != "" {
		httpReq.Header.Set("Cookie", req.cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return reply{}, fmt.Errorf("%s: %w", req.op, ctx.Err())
		}
		return reply{}, &TransportError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, &TransportError{Op: req.op, Err: err}
	}

	c.logger.DebugContext(ctx, "platform call",
		"operation", req.op,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return reply{}, &TransportError{Op: req.op, StatusCode: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return reply{}, &TransportError{Op: req.op, Err: fmt.Errorf("decode envelope: %w", err)}
	}

	return reply{envelope: env, header: resp.Header, cookies: resp.Cookies()}, nil
}

// data decodes the envelope's data field into v.
func (r reply) data(op string, v any) error {
	if !r.hasData() {
		return &MalformedResponse{Op: op, Field: "data"}
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &MalformedResponse{Op: op, Field: "data", Err: err}
	}
	return nil
}

// rejectUnlessOK turns a non-zero envelope status into a PlatformRejection.
func (r reply) rejectUnlessOK(op string) error {
	if status := r.status(); status != 0 {
		return &PlatformRejection{Op: op, Code: status, Message: r.reason()}
	}
	return nil
}

// cookieHeader joins the name=value pairs of every Set-Cookie the response
// carried into a value usable as a Cookie request header.
func cookieHeader(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		pairs = append(pairs, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(pairs, "; ")
}

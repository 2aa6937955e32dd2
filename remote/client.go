// Package remote is the HTTP client for the Remote Endpoint: a JSON API
// answering {status, message, data} envelopes under {base}/{table} URLs.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabrielgits/crudrepo/pkg/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTimeout = 10 * time.Second

	// RequestIDHeader carries a per-request uuid.
	RequestIDHeader = "X-Request-ID"

	maxBodySize = 16 << 20
)

// Config describes the endpoint.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Token     string
	UserAgent string
}

type Option func(*Client)

func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient replaces the transport. A zero Timeout on hc is replaced by
// the configured one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.custom = hc
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	custom    *http.Client
	userAgent string
	log       logging.Logger
	now       func() time.Time

	mu    sync.RWMutex
	token string
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		base:      base,
		userAgent: cfg.UserAgent,
		log:       logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.custom != nil {
		hc := *c.custom
		if hc.Timeout == 0 {
			hc.Timeout = cfg.Timeout
		}
		c.http = &hc
	} else {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}

	c.SetToken(cfg.Token)
	return c, nil
}

// BaseURL returns the endpoint root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// SetToken replaces the bearer token used by subsequent requests. An empty
// token disables the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	if token != "" {
		c.inspectToken(token)
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// inspectToken warns about JWTs that are already expired. The signature is not
// checked; the endpoint does that. Opaque tokens are ignored.
func (c *Client) inspectToken(token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Time.Before(c.now()) {
		c.log.Warn(context.Background(), "bearer token already expired", "expired_at", exp.Time)
	}
}

// URL joins path-escaped segments onto the base URL.
func (c *Client) URL(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.base.String())
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) Get(ctx context.Context, segments ...string) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, nil, segments...)
}

func (c *Client) Post(ctx context.Context, body any, segments ...string) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, body, segments...)
}

func (c *Client) Put(ctx context.Context, body any, segments ...string) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, body, segments...)
}

func (c *Client) Delete(ctx context.Context, segments ...string) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, nil, segments...)
}

// Do sends one request and returns its envelope. Failures are a
// *TransportError when nothing came back and an *Error otherwise.
func (c *Client) Do(ctx context.Context, method string, body any, segments ...string) (*Envelope, error) {
	target := c.URL(segments...)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode %s %s: %w", method, target, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: build %s %s: %w", method, target, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug(ctx, "remote request failed",
			"request_id", requestID, "method", method, "url", target, "error", err)
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	c.log.Debug(ctx, "remote request",
		"request_id", requestID, "method", method, "url", target,
		"status", resp.StatusCode, "duration", c.now().Sub(started))

	return decodeEnvelope(method, target, resp.StatusCode, raw)
}

func decodeEnvelope(method, target string, status int, raw []byte) (*Envelope, error) {
	ok := status >= 200 && status < 300

	if ok && status == http.StatusNoContent {
		return &Envelope{Status: true}, nil
	}

	var env Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if !ok {
		msg := http.StatusText(status)
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &Error{Method: method, URL: target, StatusCode: status, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Error{Method: method, URL: target, StatusCode: status, Message: "invalid envelope: " + decodeErr.Error()}
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return nil, &Error{Method: method, URL: target, StatusCode: status, Message: msg}
	}
	return &env, nil
}

// Package transport is the resilient HTTP layer shared by the protocol
// harvesters.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "harvester/1.0 (+https://github.com/turbolytics/harvester)"

var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Getter fetches a single URL and returns the response body.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithRetries(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		c.retryWaitMin = min
		c.retryWaitMax = max
	}
}

// WithRequestTimeout bounds a single HTTP attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithRequestsPerSecond paces the requests of one session. Zero means
// unlimited.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		c.rps = rps
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

type Client struct {
	http   *retryablehttp.Client
	logger *zap.Logger

	retries        int
	retryWaitMin   time.Duration
	retryWaitMax   time.Duration
	requestTimeout time.Duration
	rps            float64
	userAgent      string
}

func New(opts ...Option) *Client {
	c := &Client{
		logger:         zap.NewNop(),
		retries:        8,
		retryWaitMin:   time.Second,
		retryWaitMax:   time.Minute,
		requestTimeout: 5 * time.Minute,
		userAgent:      DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = c.retries
	hc.RetryWaitMin = c.retryWaitMin
	hc.RetryWaitMax = c.retryWaitMax
	hc.HTTPClient.Timeout = c.requestTimeout
	hc.Logger = leveledLogger{c.logger.Sugar()}
	c.http = hc
	return c
}

// Session returns a Getter with its own request pacing. One session is used
// per harvested source.
func (c *Client) Session() *Session {
	limit := rate.Inf
	if c.rps > 0 {
		limit = rate.Limit(c.rps)
	}
	return &Session{
		client:  c,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type Session struct {
	client  *Client
	limiter *rate.Limiter
}

func (s *Session) Get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.client.userAgent)

	s.client.logger.Debug("GET", zap.String("url", url))
	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s from %s", ErrUnexpectedStatus, resp.Status, url)
	}

	return io.ReadAll(resp.Body)
}

// leveledLogger routes retryablehttp logs to zap.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.l.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.l.Warnw(msg, keysAndValues...)
}

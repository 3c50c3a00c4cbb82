// Package httputil builds the outbound HTTP client used for release feed
// checks: bounded timeout, a stable User-Agent, and per-request debug
// logging.
package httputil

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"
)

// Defaults applied when no option overrides them.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "customtools/1.0"
)

type settings struct {
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
	insecure  bool
}

// Option is a functional option for NewClient.
type Option func(*settings)

// WithTimeout bounds each request end to end.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent sent when the request has none.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithLogger enables debug logging of requests and responses.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithInsecureTLS disables certificate verification. Only for lab gear
// serving self-signed certificates.
func WithInsecureTLS() Option {
	return func(s *settings) {
		s.insecure = true
	}
}

// NewClient builds an *http.Client with the package defaults applied.
func NewClient(opts ...Option) *http.Client {
	s := settings{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&s)
	}

	next := http.DefaultTransport
	if s.insecure {
		next = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in via WithInsecureTLS
		}
	}

	return &http.Client{
		Timeout: s.timeout,
		Transport: &transport{
			next:      next,
			userAgent: s.userAgent,
			logger:    s.logger,
		},
	}
}

// transport stamps the User-Agent and logs the exchange.
type transport struct {
	next      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper. The request is cloned before the
// header is stamped; callers' requests are never modified.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	if t.logger != nil {
		attrs := []any{
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
		}
		t.logger.Debug("http exchange", attrs...)
	}

	return resp, err
}

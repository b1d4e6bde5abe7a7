package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Credentials for the upstream server. Empty Username disables basic auth.
type Credentials struct {
	Username string
	Password string
}

// UpstreamConfig configures the upstream client.
type UpstreamConfig struct {
	BaseURL         string // base the upstream writes into its bodies
	GetURL          string // base used to send requests; defaults to BaseURL
	ServiceURL      string // our public base, replaces BaseURL in bodies
	Credentials     Credentials
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// UpstreamResponse is a forwarded response, already URL-rewritten.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON reports whether the body is a JSON document.
func (r *UpstreamResponse) JSON() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "json")
}

// UpstreamClient forwards requests to the unmodified SensorThings server.
// It never retries. Non-2xx answers are returned as responses, only
// transport failures are errors.
type UpstreamClient struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	cfg     UpstreamConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewUpstreamClient creates the client. m may be nil.
func NewUpstreamClient(cfg UpstreamConfig, m *metrics.Metrics, logger *zap.Logger) *UpstreamClient {
	if cfg.GetURL == "" {
		cfg.GetURL = cfg.BaseURL
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	if cfg.Credentials.Username != "" {
		client.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password)
	}

	failures := uint32(cfg.BreakerFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sta-upstream",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a caller giving up is not an upstream failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Upstream circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(int(to))
		},
	})

	return &UpstreamClient{
		client:  client,
		breaker: breaker,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Get forwards a GET for pathAndQuery (relative to the service root).
func (c *UpstreamClient) Get(ctx context.Context, pathAndQuery string) (*UpstreamResponse, error) {
	return c.Do(ctx, http.MethodGet, pathAndQuery, nil, nil)
}

// requestSkip are inbound headers not sent upstream. Accept-Encoding is left
// to the transport so bodies arrive decoded and can be rewritten.
var requestSkip = []string{"Host", "Accept-Encoding", "X-Request-ID"}

// Do forwards a request with the caller's end-to-end headers. Configured
// credentials replace any Authorization the caller sent.
func (c *UpstreamClient) Do(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*UpstreamResponse, error) {
	base := c.cfg.BaseURL
	if method == http.MethodGet {
		base = c.cfg.GetURL
	}
	target := base + pathAndQuery

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.client.R().SetContext(ctx)
		skip := requestSkip
		if c.cfg.Credentials.Username != "" {
			skip = append([]string{"Authorization"}, requestSkip...)
		}
		forwarded := http.Header{}
		CopyHeaders(forwarded, header, skip...)
		req.Header = forwarded
		if id := RequestIDFromContext(ctx); id != "" {
			req.SetHeader("X-Request-ID", id)
		}
		if body != nil {
			req.SetBody(body)
		}
		return req.Execute(method, target)
	})
	if err != nil {
		c.metrics.IncUpstream(method, "error")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.BackendUnavailable(err, "upstream SensorThings server unavailable")
		}
		c.logger.Warn("Upstream request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err),
		)
		return nil, domain.BackendUnavailable(err, "upstream request %s %s failed", method, pathAndQuery)
	}

	resp := out.(*resty.Response)
	c.metrics.IncUpstream(method, strconv.Itoa(resp.StatusCode()))
	if resp.StatusCode() >= 300 {
		c.logger.Warn("Upstream returned an error",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode()),
		)
	}

	header = http.Header{}
	CopyHeaders(header, resp.Header())
	if loc := header.Get("Location"); loc != "" {
		header.Set("Location", c.RewriteString(loc))
	}
	return &UpstreamResponse{
		StatusCode: resp.StatusCode(),
		Header:     header,
		Body:       c.Rewrite(resp.Body()),
	}, nil
}

// Rewrite replaces the upstream base URL with the public service URL.
func (c *UpstreamClient) Rewrite(body []byte) []byte {
	if c.cfg.BaseURL == "" || c.cfg.ServiceURL == "" {
		return body
	}
	return bytes.ReplaceAll(body, []byte(c.cfg.BaseURL), []byte(c.cfg.ServiceURL))
}

// RewriteString is Rewrite for a single string.
func (c *UpstreamClient) RewriteString(s string) string {
	if c.cfg.BaseURL == "" || c.cfg.ServiceURL == "" {
		return s
	}
	return strings.ReplaceAll(s, c.cfg.BaseURL, c.cfg.ServiceURL)
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/metrics"
)

var ErrRelay = errors.New("relay error")

const DefaultTimeout = 15 * time.Second

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

type Option func(*client)

// WithAuthToken sets the bearer token sent with every request.
func WithAuthToken(token string) Option {
	return func(c *client) {
		c.http.SetAuthToken(token)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.http.SetTimeout(d)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *client) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *client) {
		c.metrics = m
	}
}

// client is the HTTP part shared by all relays.
type client struct {
	http    *resty.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newClient(baseURL string, opts []Option) *client {
	c := &client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call sends the request and decodes a JSON result, non 2xx answers become ErrRelay.
func (c *client) call(ctx context.Context, method, path string, body, result any) (err error) {
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.metrics.ObserveRPC(path, outcome)
	}()

	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	if resp.IsError() {
		c.logger.Debug("relay rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", apiErr.text()),
		)
		return fmt.Errorf("%w: %s: status %d: %s", ErrRelay, path, resp.StatusCode(), apiErr.text())
	}
	return nil
}

// Package backend implements the collaborator ports over HTTP: the wardrobe and
// outfit CRUD backend, the recommendation and prediction endpoints it proxies,
// the AI index and the background removal service.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/observability"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
	maxResponseBytes    = 32 << 20
	apiKeyHeader        = "X-Api-Key"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a thin JSON and multipart HTTP client. Reads are retried with
// backoff; writes are sent once.
type Client struct {
	baseURL string
	apiKey  string
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	logger  *zap.Logger
}

// NewClient constructs a Client for baseURL.
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend client: base url is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	waitMin := opts.RetryWaitMin
	if waitMin <= 0 {
		waitMin = defaultRetryWaitMin
	}
	waitMax := opts.RetryWaitMax
	if waitMax < waitMin {
		waitMax = defaultRetryWaitMax
	}

	newRetryClient := func(retryMax int) *retryablehttp.Client {
		client := retryablehttp.NewClient()
		client.RetryMax = retryMax
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
		client.Logger = leveledLogger{logger: logger.Sugar()}
		client.ErrorHandler = retryablehttp.PassthroughErrorHandler
		if opts.HTTPClient != nil {
			client.HTTPClient = opts.HTTPClient
		} else {
			client.HTTPClient.Timeout = timeout
		}
		return client
	}

	retryMax := opts.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(opts.APIKey),
		reads:   newRetryClient(retryMax),
		writes:  newRetryClient(0),
		logger:  logger,
	}, nil
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	token       string
	accept      string
}

type response struct {
	status      int
	body        []byte
	contentType string
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// isOwnURL reports whether target points at this client's host, in which case credentials may be attached.
func (c *Client) isOwnURL(target string) bool {
	return strings.HasPrefix(target, c.baseURL+"/") || target == c.baseURL
}

func (c *Client) do(ctx context.Context, r request) (response, error) {
	target := c.url(r.path)
	var body any
	if r.body != nil {
		body = r.body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return response{}, fmt.Errorf("%s: build request: %w", r.op, err)
	}

	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.isOwnURL(target) {
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
		}
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	client := c.writes
	if r.method == http.MethodGet || r.method == http.MethodHead {
		client = c.reads
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("upstream request failed",
			zap.String("op", r.op),
			zap.String("method", r.method),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return response{}, wrapTransport(r.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, wrapTransport(r.op, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return response{}, statusError(r.op, resp.StatusCode, data)
	}
	return response{status: resp.StatusCode, body: data, contentType: resp.Header.Get("Content-Type")}, nil
}

type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

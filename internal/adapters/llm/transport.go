package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velzar/velzar/internal/observability"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultRetryWaitMax = 30 * time.Second
)

type HTTPClientOptions struct {
	// Timeout bounds the whole exchange, retry included.
	Timeout      time.Duration
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

type leveledZap struct{}

// retry chatter is expected, so errors are reported as warnings
func (leveledZap) Error(msg string, keysAndValues ...interface{}) {
	observability.Logger().Sugar().Warnw(msg, keysAndValues...)
}

func (leveledZap) Warn(msg string, keysAndValues ...interface{}) {
	observability.Logger().Sugar().Warnw(msg, keysAndValues...)
}

func (leveledZap) Info(msg string, keysAndValues ...interface{}) {
	observability.Logger().Sugar().Infow(msg, keysAndValues...)
}

func (leveledZap) Debug(msg string, keysAndValues ...interface{}) {
	observability.Logger().Sugar().Debugw(msg, keysAndValues...)
}

// NewHTTPClient returns the oracle transport: one retry, only on 429, waiting for the
// server-advised Retry-After (capped by RetryWaitMax). The final 429 response is passed
// through so the caller sees the status.
func NewHTTPClient(opts HTTPClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = DefaultRetryWaitMax
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = time.Second
	}
	if opts.RetryWaitMin > opts.RetryWaitMax {
		opts.RetryWaitMin = opts.RetryWaitMax
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledZap{})
	retryClient.CheckRetry = RateLimitRetryPolicy
	retryClient.Backoff = RetryAfterBackoff
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := retryClient.StandardClient()
	client.Timeout = opts.Timeout
	return client
}

// RateLimitRetryPolicy retries only on 429. Transport errors and other statuses are final.
func RateLimitRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests, nil
}

// RetryAfterBackoff honors Retry-After on 429 and never waits longer than max.
func RetryAfterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	if wait > max {
		wait = max
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

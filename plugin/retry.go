package plugin

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/agentrun/model"
)

const (
	// defaultMaxRetries is the maximum number of model call retries.
	defaultMaxRetries = 3
	// retryInitialInterval is the initial interval for exponential backoff.
	retryInitialInterval = time.Second
	// retryMaxInterval is the maximum interval for exponential backoff.
	retryMaxInterval = 30 * time.Second
	// retryMaxElapsedTime is the maximum total time for retries.
	retryMaxElapsedTime = 2 * time.Minute
)

// RetryPlugin recovers from model failures by re-issuing the failed request
// with exponential backoff and jitter. It hooks OnModelError: when a retry
// eventually succeeds the plugin returns the fresh response and the original
// error is swallowed; when every retry fails the dispatch proceeds as if the
// plugin had stayed silent.
type RetryPlugin struct {
	Base
	maxRetries      uint64
	initialInterval time.Duration
}

// RetryPluginOption configures a RetryPlugin.
type RetryPluginOption func(*RetryPlugin)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n uint64) RetryPluginOption {
	return func(p *RetryPlugin) { p.maxRetries = n }
}

// WithInitialInterval overrides the first backoff interval.
func WithInitialInterval(d time.Duration) RetryPluginOption {
	return func(p *RetryPlugin) { p.initialInterval = d }
}

// NewRetryPlugin creates a RetryPlugin with the default retry budget.
func NewRetryPlugin(opts ...RetryPluginOption) *RetryPlugin {
	p := &RetryPlugin{maxRetries: defaultMaxRetries, initialInterval: retryInitialInterval}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Plugin.
func (p *RetryPlugin) Name() string { return "retry" }

// newRetryBackoff creates an exponential backoff with jitter to prevent
// thundering herd problems, bounded by the retry budget and the context.
func (p *RetryPlugin) newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
}

// OnModelError re-invokes the failed model request until it succeeds or the
// retry budget is exhausted.
func (p *RetryPlugin) OnModelError(ctx context.Context, args *Args) (*model.Response, error) {
	if args == nil || args.Model == nil || args.Request == nil {
		return nil, nil
	}

	var recovered *model.Response
	operation := func() error {
		content, err := model.GenerateContent(ctx, args.Model, *args.Request)
		if err != nil {
			return err
		}
		if content == nil {
			return backoff.Permanent(errEmptyResponse)
		}
		recovered = &model.Response{Content: *content, FinishReason: "stop"}
		return nil
	}
	if err := backoff.Retry(operation, p.newRetryBackoff(ctx)); err != nil {
		// Exhausted: stay silent so the original error surfaces.
		return nil, nil
	}
	return recovered, nil
}

var errEmptyResponse = backoffError("model returned no content")

type backoffError string

func (e backoffError) Error() string { return string(e) }

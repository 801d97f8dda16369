/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payouts

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/model"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("payouts")

// Options are the engine tunables. cmd builds them from the loaded configuration.
type Options struct {
	// PageSize is the maximum number of holders addressed by one execution call.
	PageSize int
	// MaxConcurrency bounds how many batches of one dispatch execute at once.
	MaxConcurrency int
	// ExecutionTimeout bounds a single call to the distribution executor.
	ExecutionTimeout time.Duration
	// LockTimeout is the TTL of batch and distribution locks. It must outlive
	// a batch pass, so it should be well above ExecutionTimeout.
	LockTimeout time.Duration
	// LockWait is how long ExecuteBatch waits for a busy batch lock. Zero fails fast.
	LockWait time.Duration
	// AssetCacheTTL is how long assets are kept in the cache, when one is configured.
	AssetCacheTTL time.Duration
	Retry         model.RetryPolicy
}

// DefaultOptions returns the tunables used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		PageSize:         100,
		MaxConcurrency:   4,
		ExecutionTimeout: time.Minute,
		LockTimeout:      5 * time.Minute,
		LockWait:         2 * time.Second,
		AssetCacheTTL:    10 * time.Minute,
		Retry:            model.DefaultRetryPolicy(),
	}
}

func (o Options) validate() error {
	switch {
	case o.PageSize < 1:
		return errors.New("page size must be at least 1")
	case o.MaxConcurrency < 1:
		return errors.New("max concurrency must be at least 1")
	case o.ExecutionTimeout <= 0:
		return errors.New("execution timeout must be positive")
	case o.LockTimeout <= o.ExecutionTimeout:
		return errors.New("lock timeout must be greater than the execution timeout")
	case o.Retry.MaxRetries < 1:
		return errors.New("retry policy needs at least one attempt")
	}
	return nil
}

// TaskQueue schedules work outside the calling goroutine. The asynq backed
// Queue is the production implementation.
type TaskQueue interface {
	EnqueueDispatch(ctx context.Context, distributionID string) error
	EnqueueBatchRetry(ctx context.Context, batchPayoutID string, at time.Time) error
	EnqueueWebhook(ctx context.Context, hook NewWebhook) error
}

// Engine orchestrates distributions, their batches and holder payouts.
type Engine struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	holders    HolderCounter
	executor   DistributionExecutor
	pause      PauseChecker
	opts       Options
	queue      TaskQueue
	cache      cache.Cache
	now        func() time.Time

	// distributions currently dispatched by this process
	inflight *xsync.Map[string, struct{}]
	pool     pond.Pool
}

// EngineOption customises an Engine at construction time.
type EngineOption func(*Engine)

// WithQueue lets the engine schedule batch retries, dispatches and webhooks.
// Without a queue retries are only picked up by the recovery processor.
func WithQueue(q TaskQueue) EngineOption {
	return func(e *Engine) { e.queue = q }
}

// WithCache caches asset lookups.
func WithCache(c cache.Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the engine to its datasource, the redis client used for
// locks and the ledger collaborators.
//
// Parameters:
// - db database.IDataSource: Persistence for distributions, batches and holders.
// - redisClient redis.UniversalClient: Client used for batch and distribution locks.
// - c Collaborators: The ledger capabilities the engine calls into.
// - opts Options: Engine tunables.
//
// Returns:
// - *Engine: The configured engine.
// - error: If a collaborator is missing or the options are invalid.
func NewEngine(db database.IDataSource, redisClient redis.UniversalClient, c Collaborators, opts Options, options ...EngineOption) (*Engine, error) {
	if db == nil {
		return nil, errors.New("datasource is required")
	}
	if redisClient == nil {
		return nil, errors.New("redis client is required")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		datasource: db,
		redis:      redisClient,
		holders:    c.Holders,
		executor:   c.Executor,
		pause:      c.Pause,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		inflight:   xsync.NewMap[string, struct{}](),
	}
	for _, option := range options {
		option(e)
	}
	// each dispatch runs on its own subpool bounded by MaxConcurrency
	e.pool = pond.NewPool(0)
	return e, nil
}

// Options returns the tunables the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Close waits for running batch executions and releases the worker pool.
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

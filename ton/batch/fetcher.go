package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// FetchFunc loads values for a set of keys in one call. Keys missing from the result get ErrNotFound.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

type result[V any] struct {
	val V
	err error
}

// Fetcher collects lookups and resolves them together, either when MaxBatch keys are pending
// or Delay after the first pending key. It is owned by the caller, there is no shared instance.
type Fetcher[K comparable, V any] struct {
	fetch    FetchFunc[K, V]
	clk      clock.Clock
	delay    time.Duration
	maxBatch int
	timeout  time.Duration
	logger   *zap.Logger

	mx      sync.Mutex
	pending map[K][]chan result[V]
	order   []K
	timer   *clock.Timer
}

type Option func(*options)

type options struct {
	clk      clock.Clock
	delay    time.Duration
	maxBatch int
	timeout  time.Duration
	logger   *zap.Logger
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clk = clk
	}
}

func WithDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
	}
}

func WithMaxBatch(n int) Option {
	return func(o *options) {
		o.maxBatch = n
	}
}

// WithTimeout bounds fetches started by the timer, they have no caller context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func NewFetcher[K comparable, V any](fetch FetchFunc[K, V], opts ...Option) *Fetcher[K, V] {
	o := options{
		clk:      clock.New(),
		delay:    50 * time.Millisecond,
		maxBatch: 100,
		timeout:  10 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBatch < 1 {
		o.maxBatch = 1
	}

	return &Fetcher[K, V]{
		fetch:    fetch,
		clk:      o.clk,
		delay:    o.delay,
		maxBatch: o.maxBatch,
		timeout:  o.timeout,
		logger:   o.logger,
		pending:  map[K][]chan result[V]{},
	}
}

// Get queues the key and waits for its batch to be fetched.
func (f *Fetcher[K, V]) Get(ctx context.Context, key K) (V, error) {
	ch := make(chan result[V], 1)

	f.mx.Lock()
	if _, ok := f.pending[key]; !ok {
		f.order = append(f.order, key)
	}
	f.pending[key] = append(f.pending[key], ch)

	if len(f.order) >= f.maxBatch {
		keys, waiters := f.takeLocked()
		f.mx.Unlock()
		// full batch is fetched by the caller that filled it
		f.run(ctx, keys, waiters)
	} else {
		if f.timer == nil {
			f.timer = f.clk.AfterFunc(f.delay, f.flushByTimer)
		}
		f.mx.Unlock()
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Flush fetches everything pending now.
func (f *Fetcher[K, V]) Flush(ctx context.Context) {
	f.mx.Lock()
	keys, waiters := f.takeLocked()
	f.mx.Unlock()

	if len(keys) > 0 {
		f.run(ctx, keys, waiters)
	}
}

// Pending is the number of distinct keys waiting for a fetch.
func (f *Fetcher[K, V]) Pending() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.order)
}

func (f *Fetcher[K, V]) flushByTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	f.Flush(ctx)
}

func (f *Fetcher[K, V]) takeLocked() ([]K, map[K][]chan result[V]) {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	keys, waiters := f.order, f.pending
	f.order = nil
	f.pending = map[K][]chan result[V]{}
	return keys, waiters
}

func (f *Fetcher[K, V]) run(ctx context.Context, keys []K, waiters map[K][]chan result[V]) {
	res, err := f.fetch(ctx, keys)
	if err != nil {
		f.logger.Debug("batch fetch failed", zap.Int("keys", len(keys)), zap.Error(err))
	}

	for _, k := range keys {
		r := result[V]{err: err}
		if err == nil {
			v, ok := res[k]
			if ok {
				r.val = v
			} else {
				r.err = fmt.Errorf("%w: %v", ErrNotFound, k)
			}
		}
		for _, ch := range waiters[k] {
			ch <- r
		}
	}
}

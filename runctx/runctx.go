// Package runctx holds the state shared by every component during one run of
// the orchestrator.
//
// A Context is created by the top-level job and passed explicitly to each
// adapter at construction. It carries:
//
//   - a persistent PropertyStore (e.g. the main workspace directory of each module)
//   - transient run-scoped state (which paths were already fetched, per-module
//     fetch/push behavior, ...)
//   - prometheus metrics for backend operations
//   - the Notifier through which operator-facing guidance is emitted
//
// Context is not safe for concurrent use: a run is single-threaded.
package runctx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
)

// Notifier receives operator-facing messages such as conflict resolution
// guidance.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg string)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg string) {
	f(ctx, msg)
}

// Context is the explicit run context.
type Context struct {
	id        string
	store     PropertyStore
	fetched   map[string]bool
	transient map[string]any
	metrics   *Metrics
	notifier  Notifier
	logger    *slog.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithStore sets the persistent property store. Defaults to a MemoryStore.
func WithStore(s PropertyStore) Option {
	return func(c *Context) {
		c.store = s
	}
}

// WithMetrics sets the metrics collectors. Defaults to unregistered collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Context) {
		c.metrics = m
	}
}

// WithNotifier sets the operator notification sink.
func WithNotifier(n Notifier) Option {
	return func(c *Context) {
		c.notifier = n
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// WithID overrides the generated run id.
func WithID(id string) Option {
	return func(c *Context) {
		c.id = id
	}
}

// New creates a run context.
func New(opts ...Option) *Context {
	c := &Context{
		id:        uuid.NewString(),
		fetched:   make(map[string]bool),
		transient: make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.logger = logutil.OrDiscard(c.logger)
	return c
}

// ID returns the unique run id.
func (c *Context) ID() string {
	return c.id
}

// Store returns the persistent property store.
func (c *Context) Store() PropertyStore {
	return c.store
}

// Metrics returns the run's metrics collectors.
func (c *Context) Metrics() *Metrics {
	return c.metrics
}

// Logger returns the run logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Notify sends an operator-facing message. It is always logged at info level
// and forwarded to the Notifier when one is configured.
func (c *Context) Notify(ctx context.Context, msg string) {
	c.logger.Info(msg)
	if c.notifier != nil {
		c.notifier.Notify(ctx, msg)
	}
}

// IsFetched reports whether path was already fetched during this run.
func (c *Context) IsFetched(path string) bool {
	return c.fetched[path]
}

// MarkFetched records that path was fetched during this run.
func (c *Context) MarkFetched(path string) {
	c.fetched[path] = true
}

// ForgetFetched clears the fetched marker for path, e.g. after the directory
// was deleted.
func (c *Context) ForgetFetched(path string) {
	delete(c.fetched, path)
}

// Transient returns run-scoped state stored under key.
func (c *Context) Transient(key string) (any, bool) {
	v, ok := c.transient[key]
	return v, ok
}

// SetTransient stores run-scoped state under key. A nil value removes it.
func (c *Context) SetTransient(key string, value any) {
	if value == nil {
		delete(c.transient, key)
		return
	}
	c.transient[key] = value
}

// Close releases the property store.
func (c *Context) Close() error {
	return c.store.Close()
}

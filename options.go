package gobzlrel

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/albertocavalcante/go-bzlrel/internal/gitexec"
	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/scm"
)

// Option configures an Engine.
type Option func(*engineConfig) error

// engineConfig holds the engine construction settings.
type engineConfig struct {
	store      runctx.PropertyStore
	registerer prometheus.Registerer
	notifier   runctx.Notifier
	runner     *gitexec.Runner
	onEvent    func(scm.Event)
	runID      string

	// behavior overrides the configured fetch/push behavior of every module.
	behavior *scm.FetchPushBehavior

	// logger is the structured logger for debug/info output.
	// If nil, logging is disabled (silent mode).
	logger *slog.Logger
}

// WithStore sets the persistent property store, replacing the one named by
// the configuration.
func WithStore(s runctx.PropertyStore) Option {
	return func(c *engineConfig) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		c.store = s
		return nil
	}
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *engineConfig) error {
		c.registerer = reg
		return nil
	}
}

// WithNotifier sets the sink of operator-facing messages.
func WithNotifier(n runctx.Notifier) Option {
	return func(c *engineConfig) error {
		c.notifier = n
		return nil
	}
}

// WithRunner replaces the git command runner of every module.
func WithRunner(r *gitexec.Runner) Option {
	return func(c *engineConfig) error {
		if r == nil {
			return errors.New("runner cannot be nil")
		}
		c.runner = r
		return nil
	}
}

// WithEventHandler receives the version creation events of every module.
func WithEventHandler(fn func(scm.Event)) Option {
	return func(c *engineConfig) error {
		c.onEvent = fn
		return nil
	}
}

// WithFetchPushBehavior overrides the configured fetch/push behavior of every
// module for the run.
func WithFetchPushBehavior(b scm.FetchPushBehavior) Option {
	return func(c *engineConfig) error {
		if b < scm.FetchPush || b > scm.NoFetchNoPush {
			return errors.New("invalid fetch/push behavior")
		}
		c.behavior = &b
		return nil
	}
}

// WithRunID sets the run identifier. Defaults to a random UUID.
func WithRunID(id string) Option {
	return func(c *engineConfig) error {
		if id == "" {
			return errors.New("run id cannot be empty")
		}
		c.runID = id
		return nil
	}
}

// WithLogger sets a structured logger for debug output.
// If not set, logging is disabled (silent mode).
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) error {
		c.logger = logger
		return nil
	}
}

// newEngineConfig creates a config from options.
func newEngineConfig(opts []Option) (*engineConfig, error) {
	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// log returns the configured logger or a discard logger.
func (c *engineConfig) log() *slog.Logger {
	return logutil.OrDiscard(c.logger)
}

package providercache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Option configures the Cache.
// Returns error for validation failures.
type Option func(*Cache) error

// WithFetcher sets the Fetcher used to retrieve provider documents.
// If not specified, an HTTPFetcher is used.
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) error {
		if f == nil {
			return fmt.Errorf("fetcher cannot be nil")
		}
		c.fetcher = f
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the default HTTPFetcher.
// It has no effect when WithFetcher is also given.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) error {
		if client == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithDefaultRefreshInterval sets the refresh interval used when a fetch
// reports no document lifetime.
//
// Default: DefaultRefreshInterval (1 hour).
func WithDefaultRefreshInterval(interval time.Duration) Option {
	return func(c *Cache) error {
		if interval <= 0 {
			return fmt.Errorf("default refresh interval must be positive")
		}
		c.defaultInterval = interval
		return nil
	}
}

// WithClock sets the clock used for refresh scheduling. Pass a
// clockwork.FakeClock in tests to drive the schedule deterministically.
//
// Default: the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets the logger for refresh lifecycle events.
//
// Default: DefaultLogger (standard library log).
func WithLogger(logger Logger) Option {
	return func(c *Cache) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics recorder.
//
// Default: NoopMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(c *Cache) error {
		if metrics == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		c.metrics = metrics
		return nil
	}
}

// WithTracer sets the tracer used to span each refresh fetch.
//
// Default: NoopTracer.
func WithTracer(tracer Tracer) Option {
	return func(c *Cache) error {
		if tracer == nil {
			return fmt.Errorf("tracer cannot be nil")
		}
		c.tracer = tracer
		return nil
	}
}

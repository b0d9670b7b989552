package providercache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/oidckit/providercache/oidc"
)

// DefaultRefreshInterval is how long the cache waits before re-fetching a
// provider's documents when the fetch reported no validity lifetime.
const DefaultRefreshInterval = time.Hour

// State describes where a provider is in its refresh cycle.
type State int

const (
	// StateEmpty means no fetch for the provider has completed yet.
	StateEmpty State = iota

	// StateFetching means a fetch is currently in flight. Readers keep
	// seeing the previous documents (or absence) until it completes.
	StateFetching

	// StateCached means the most recent fetch succeeded and its documents
	// are being served.
	StateCached

	// StateErrored means the most recent fetch failed. The error replaces
	// any previously cached documents and is readable via LastError.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetching:
		return "fetching"
	case StateCached:
		return "cached"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// documents is the per-provider fetch outcome. Exactly one variant is
// populated: nothing (StateEmpty), metadata+keys (StateCached) or err
// (StateErrored). It is replaced wholesale on every completed fetch, never
// updated field by field, so readers can never observe a half-updated pair.
type documents struct {
	state    State
	metadata *oidc.DiscoveryMetadata
	keys     jwk.Set
	err      error
}

// providerEntry is the owner goroutine's state for one registered provider.
// Only the owner touches it after construction.
type providerEntry struct {
	name     string
	config   ProviderConfig
	docs     documents
	fetching bool
	// timer is the pending next-refresh handle. At most one is armed at any
	// time; it is armed only after a successful fetch and cleared when the
	// next refresh starts.
	timer clockwork.Timer
}

// message is the owner goroutine's mailbox protocol. Refresh triggers, fetch
// outcomes and queries all arrive on one channel and are applied one at a
// time, in arrival order.
type message interface {
	message()
}

// refreshRequest asks the owner to start a fetch for one provider. Sent at
// startup (one per provider), by the per-provider timer when it fires, and by
// Refresh.
type refreshRequest struct {
	name string
}

// fetchOutcome carries a completed fetch back to the owner. Exactly one of
// result and err is set.
type fetchOutcome struct {
	name    string
	result  *Result
	err     error
	elapsed time.Duration
}

// stateQuery is a synchronous read of one provider's entry.
type stateQuery struct {
	name  string
	reply chan entrySnapshot
}

func (refreshRequest) message() {}
func (fetchOutcome) message()   {}
func (stateQuery) message()     {}

// entrySnapshot is a consistent point-in-time copy of one provider's entry,
// taken by the owner while applying a stateQuery.
type entrySnapshot struct {
	known    bool
	config   ProviderConfig
	state    State
	metadata *oidc.DiscoveryMetadata
	keys     jwk.Set
	err      error
}

// Cache maintains a locally cached, periodically refreshed discovery
// document and key set for every registered provider.
//
// All provider state is owned by a single goroutine; refresh triggers, fetch
// outcomes and queries are messages processed sequentially by that owner, so
// two providers' refresh cycles can never corrupt each other's entries.
// Fetches themselves run in their own goroutines and report back as
// messages, so a slow or hanging fetch stalls only its own provider's cycle.
//
// Query methods never perform network I/O and never block on it; they are
// fast round trips to the owner. A provider whose refresh fails starts
// reporting absence (and its error via LastError) instead of the previously
// cached documents.
type Cache struct {
	fetcher         Fetcher
	clock           clockwork.Clock
	logger          Logger
	metrics         Metrics
	tracer          Tracer
	httpClient      *http.Client
	defaultInterval time.Duration

	// entries is owned by the run goroutine. Nobody else may touch it after
	// New returns.
	entries map[string]*providerEntry

	msgs      chan message
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Cache for the providers supplied by source and starts their
// refresh cycles. The source is resolved exactly once, here. Construction
// never performs network I/O and never fails because a provider is
// unreachable; the first fetch discovers that asynchronously and records an
// error state for that provider alone.
//
// A source that resolves to nothing (see Ignore) produces an inert cache:
// no goroutine runs and every query reports absence.
//
// Optional options:
//   - WithFetcher: custom document fetcher (default: HTTPFetcher)
//   - WithHTTPClient: HTTP client for the default fetcher
//   - WithDefaultRefreshInterval: fallback refresh interval (default: 1 hour)
//   - WithClock: injectable clock for scheduling (default: wall clock)
//   - WithLogger, WithMetrics, WithTracer: observability hooks
//
// Example:
//
//	issuerURL, _ := url.Parse("https://auth.example.com/")
//	cache, err := providercache.New(
//	    providercache.Providers(map[string]providercache.ProviderConfig{
//	        "auth0": {IssuerURL: issuerURL, ClientID: "client-id"},
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
func New(source Source, opts ...Option) (*Cache, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	c := &Cache{
		clock:           clockwork.NewRealClock(),
		logger:          &DefaultLogger{},
		metrics:         &NoopMetrics{},
		tracer:          &NoopTracer{},
		defaultInterval: DefaultRefreshInterval,
		entries:         make(map[string]*providerEntry),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(c.httpClient)
	}

	providers := source.resolve()

	c.ctx, c.cancel = context.WithCancel(context.Background())

	if len(providers) == 0 {
		// Inert cache: nothing to manage, no owner goroutine to run.
		c.cancel()
		close(c.done)
		return c, nil
	}

	// Buffer covers the initial requests plus outstanding outcomes, so the
	// owner never has to send to its own mailbox.
	c.msgs = make(chan message, 2*len(providers)+16)

	for name, cfg := range providers {
		c.entries[name] = &providerEntry{name: name, config: cfg}
		c.msgs <- refreshRequest{name: name}
	}

	c.logger.Infof("provider cache starting with %d provider(s)", len(providers))

	go c.run()

	return c, nil
}

// Close stops the owner goroutine and all pending refresh timers. In-flight
// fetches are abandoned; their outcomes are dropped. Queries made after
// Close report absence. Close is idempotent and safe for concurrent use.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
}

// run is the owner goroutine: the only code that reads or mutates entries
// after construction.
func (c *Cache) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.stopTimers()
			return
		case msg := <-c.msgs:
			switch m := msg.(type) {
			case refreshRequest:
				c.startRefresh(m.name)
			case fetchOutcome:
				c.applyOutcome(m)
			case stateQuery:
				m.reply <- c.snapshotEntry(m.name)
			}
		}
	}
}

func (c *Cache) stopTimers() {
	for _, entry := range c.entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

// startRefresh dispatches a fetch for the named provider unless one is
// already in flight. The fetch runs in its own goroutine and reports back as
// a fetchOutcome message; the owner keeps processing other work meanwhile.
func (c *Cache) startRefresh(name string) {
	entry, ok := c.entries[name]
	if !ok || entry.fetching {
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}

	entry.fetching = true
	c.logger.Debugf("refreshing documents for provider %q", name)

	go c.fetch(name, entry.config)
}

// fetch performs the network work for one refresh cycle outside the owner
// goroutine, then delivers the outcome back as a message. There is no
// per-fetch timeout here; the fetcher's own timeout behavior bounds it.
func (c *Cache) fetch(name string, cfg ProviderConfig) {
	span := c.tracer.StartSpan("providercache.refresh")
	span.SetTag("provider", name)

	start := c.clock.Now()
	result, err := c.fetcher.Fetch(c.ctx, cfg)
	elapsed := c.clock.Since(start)

	if err != nil {
		span.SetTag("error", true)
	}
	span.Finish()

	// Metrics are recorded by the owner when it applies the outcome, so the
	// Metrics implementation is only ever called from one goroutine.
	select {
	case c.msgs <- fetchOutcome{name: name, result: result, err: err, elapsed: elapsed}:
	case <-c.ctx.Done():
	}
}

// applyOutcome records a completed fetch and, on success, arms exactly one
// timer for the next refresh. A failed fetch replaces the documents with its
// error and arms no timer; the next attempt comes only from an external
// Refresh (or a supervisor rebuilding the cache).
func (c *Cache) applyOutcome(m fetchOutcome) {
	entry, ok := c.entries[m.name]
	if !ok || !entry.fetching {
		return
	}
	entry.fetching = false

	c.metrics.ObserveHistogram("oidc_provider_refresh_duration_seconds", m.elapsed.Seconds(), map[string]string{"provider": m.name})

	if m.err != nil {
		entry.docs = documents{
			state: StateErrored,
			err:   &refreshError{provider: m.name, details: m.err},
		}
		c.logger.Errorf("refresh failed for provider %q: %v", m.name, m.err)
		c.metrics.IncCounter("oidc_provider_refresh_total", map[string]string{"provider": m.name, "outcome": "failure"})
		c.updateCachedGauge()
		return
	}

	entry.docs = documents{
		state:    StateCached,
		metadata: m.result.Metadata,
		keys:     m.result.Keys,
	}
	c.metrics.IncCounter("oidc_provider_refresh_total", map[string]string{"provider": m.name, "outcome": "success"})
	c.updateCachedGauge()

	if m.result.LifetimeKnown && m.result.Lifetime <= 0 {
		// A provider reporting an already-expired lifetime gets refreshed
		// again right away rather than silently pausing forever.
		c.logger.Warnf("provider %q reported a non-positive document lifetime, refreshing immediately", m.name)
		c.startRefresh(m.name)
		return
	}

	delay := c.defaultInterval
	if m.result.LifetimeKnown {
		delay = m.result.Lifetime
	}

	c.logger.Infof("refreshed documents for provider %q, next refresh in %s", m.name, delay)
	c.armTimer(entry, delay)
}

// armTimer schedules the next refresh for entry. The callback only enqueues
// a message; the owner does the actual work.
func (c *Cache) armTimer(entry *providerEntry, delay time.Duration) {
	name := entry.name
	entry.timer = c.clock.AfterFunc(delay, func() {
		select {
		case c.msgs <- refreshRequest{name: name}:
		case <-c.ctx.Done():
		}
	})
}

func (c *Cache) updateCachedGauge() {
	cached := 0
	for _, entry := range c.entries {
		if entry.docs.state == StateCached {
			cached++
		}
	}
	c.metrics.SetGauge("oidc_provider_cached_documents", float64(cached), map[string]string{})
}

func (c *Cache) snapshotEntry(name string) entrySnapshot {
	entry, ok := c.entries[name]
	if !ok {
		return entrySnapshot{}
	}

	state := entry.docs.state
	if entry.fetching {
		state = StateFetching
	}

	return entrySnapshot{
		known:    true,
		config:   entry.config,
		state:    state,
		metadata: entry.docs.metadata,
		keys:     entry.docs.keys,
		err:      entry.docs.err,
	}
}

// query performs a synchronous round trip to the owner. It returns the zero
// snapshot for inert or closed caches.
func (c *Cache) query(name string) entrySnapshot {
	if c.msgs == nil {
		return entrySnapshot{}
	}

	reply := make(chan entrySnapshot, 1)

	select {
	case c.msgs <- stateQuery{name: name, reply: reply}:
	case <-c.ctx.Done():
		return entrySnapshot{}
	}

	select {
	case snap := <-reply:
		return snap
	case <-c.ctx.Done():
		return entrySnapshot{}
	}
}

// Config returns the configuration registered for the named provider. The
// second return is false when the name is unknown.
func (c *Cache) Config(name string) (ProviderConfig, bool) {
	snap := c.query(name)
	if !snap.known {
		return ProviderConfig{}, false
	}
	return snap.config, true
}

// DiscoveryDocument returns the current discovery document for the named
// provider. The second return is false when the name is unknown, no fetch
// has succeeded yet, or the most recent fetch failed.
func (c *Cache) DiscoveryDocument(name string) (*oidc.DiscoveryMetadata, bool) {
	snap := c.query(name)
	if snap.metadata == nil {
		return nil, false
	}
	return snap.metadata, true
}

// KeySet returns the current key set for the named provider, with the same
// absence semantics as DiscoveryDocument.
func (c *Cache) KeySet(name string) (jwk.Set, bool) {
	snap := c.query(name)
	if snap.keys == nil {
		return nil, false
	}
	return snap.keys, true
}

// LastError returns the error recorded by the named provider's most recent
// failed refresh, or nil if the provider is unknown, healthy, or not yet
// fetched. Returned errors match ErrRefreshFailed under errors.Is.
func (c *Cache) LastError(name string) error {
	return c.query(name).err
}

// Status reports where the named provider is in its refresh cycle. The
// second return is false when the name is unknown.
func (c *Cache) Status(name string) (State, bool) {
	snap := c.query(name)
	return snap.state, snap.known
}

// Refresh asks the owner to fetch the named provider's documents again now.
// It is the supervision hook for providers stuck in an error state, whose
// failed cycle arms no retry timer on its own. Fire-and-forget: unknown
// names and providers with a fetch already in flight are ignored.
func (c *Cache) Refresh(name string) {
	if c.msgs == nil {
		return
	}

	select {
	case c.msgs <- refreshRequest{name: name}:
	case <-c.ctx.Done():
	}
}

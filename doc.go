/*
Package providercache maintains locally cached, periodically refreshed OIDC
discovery documents and key sets for a set of named identity providers.

Callers read the current cached documents at any time without ever waiting on
a network call; the cache refreshes each provider on its own schedule, driven
by the validity lifetime the provider itself reports.

# Overview

The cache handles the complexity of:
  - OIDC discovery (fetching .well-known/openid-configuration)
  - Fetching the key set from the provider's jwks_uri
  - Scheduling the next refresh from the fetch's reported lifetime
  - Isolating failures so one broken provider never affects another
  - Serving consistent snapshots to concurrent readers

# Basic Usage

Register providers at startup and query them from anywhere:

	issuerURL, _ := url.Parse("https://auth.example.com/")

	cache, err := providercache.New(
	    providercache.Providers(map[string]providercache.ProviderConfig{
	        "main": {IssuerURL: issuerURL, ClientID: "client-id"},
	    }),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer cache.Close()

	// Later, from any goroutine. Never blocks on the network.
	if keys, ok := cache.KeySet("main"); ok {
	    // verify token signatures against keys
	}

The provider set can also be produced by a callback evaluated once at startup:

	cache, err := providercache.New(
	    providercache.Resolver(loadProvidersFromConfig),
	)

or disabled entirely with providercache.Ignore(), which yields an inert cache
whose queries all report absence.

# Refresh Scheduling

After every successful fetch the cache arms exactly one timer for that
provider:

  - lifetime reported by the fetch: refresh after exactly that long
  - no lifetime reported: refresh after the default interval (1 hour,
    configurable via WithDefaultRefreshInterval)
  - zero or negative lifetime: refresh again immediately

A failed fetch records an error state for that provider, replaces any
previously cached documents, and arms no retry timer; use Cache.Refresh to
re-trigger it explicitly. Other providers' schedules are unaffected.

# Failure Semantics

Queries never return errors. A provider that is unknown, not yet fetched, or
in an error state reports absence from DiscoveryDocument and KeySet; the
underlying fetch error is observable through LastError and Status. Startup
never fails because a provider is unreachable.

# Observability

Logging, metrics and tracing are pluggable via WithLogger, WithMetrics and
WithTracer. Adapters are provided for zap, zerolog, logrus, Prometheus and
OpenTelemetry.
*/
package providercache

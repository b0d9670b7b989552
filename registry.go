package providercache

import (
	"net/url"
)

// ProviderConfig is the connection configuration for one identity provider.
// It is registered once at startup and never changes afterwards; the cache
// hands out copies, never the registered value itself.
type ProviderConfig struct {
	// IssuerURL is the provider's issuer identifier. Required unless both
	// DiscoveryURI and JWKSURI are set.
	IssuerURL *url.URL

	// ClientID and ClientSecret identify this relying party to the provider.
	// They are carried for callers that build OAuth2 flows from the cached
	// discovery document; the cache itself never sends them anywhere.
	ClientID     string
	ClientSecret string

	// DiscoveryURI overrides the well-known discovery document location
	// derived from IssuerURL.
	DiscoveryURI *url.URL

	// JWKSURI overrides the jwks_uri advertised by the discovery document.
	JWKSURI *url.URL
}

// Source supplies the set of providers the cache manages. It is resolved
// exactly once, when the cache is constructed.
//
// Use Providers for a static mapping, Resolver for a mapping produced by a
// callback at startup, or Ignore for a cache that manages nothing.
type Source interface {
	resolve() map[string]ProviderConfig
}

type staticSource struct {
	providers map[string]ProviderConfig
}

func (s staticSource) resolve() map[string]ProviderConfig {
	return s.providers
}

// Providers returns a Source backed by a static name-to-configuration
// mapping. The mapping is copied at construction; later mutation of the
// passed map does not affect the cache.
func Providers(providers map[string]ProviderConfig) Source {
	return staticSource{providers: providers}
}

type resolverSource struct {
	fn func() map[string]ProviderConfig
}

func (s resolverSource) resolve() map[string]ProviderConfig {
	if s.fn == nil {
		return nil
	}
	return s.fn()
}

// Resolver returns a Source that obtains the provider mapping by invoking fn.
// fn is called exactly once, during New; it is never re-invoked to pick up
// later changes.
func Resolver(fn func() map[string]ProviderConfig) Source {
	return resolverSource{fn: fn}
}

type ignoreSource struct{}

func (ignoreSource) resolve() map[string]ProviderConfig {
	return nil
}

// Ignore returns a Source that registers no providers. A cache constructed
// from it performs no work; every query reports absence.
func Ignore() Source {
	return ignoreSource{}
}

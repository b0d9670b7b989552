package providercache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/oidckit/providercache/oidc"
)

// Result is the payload of a successful fetch: the provider's discovery
// document and key set, plus how long the pair should be considered valid.
// LifetimeKnown is false when the provider gave no usable validity hint; the
// cache then falls back to its default refresh interval.
type Result struct {
	Metadata *oidc.DiscoveryMetadata
	Keys     jwk.Set

	Lifetime      time.Duration
	LifetimeKnown bool
}

// Fetcher retrieves the current discovery document and key set for one
// provider. Implementations must return either a non-nil Result or an error,
// and must never panic; the cache records an error outcome and carries on.
//
// Fetch may be called concurrently for different providers, never
// concurrently for the same provider.
type Fetcher interface {
	Fetch(ctx context.Context, cfg ProviderConfig) (*Result, error)
}

// HTTPFetcher is the default Fetcher. It resolves the discovery document
// from the issuer's well-known endpoint (or cfg.DiscoveryURI), fetches the
// key set from the advertised jwks_uri (or cfg.JWKSURI), and derives the
// remaining lifetime from the Cache-Control max-age of the JWKS response
// when the header carries a sane value.
type HTTPFetcher struct {
	// Client used for all requests. Its timeout is the only timeout applied
	// to a fetch. Defaults to a client with a 30 second timeout.
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher using the given client, or a default
// client with a 30 second timeout when client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{Client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg ProviderConfig) (*Result, error) {
	metadata, err := f.fetchMetadata(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwksURI := ""
	if cfg.JWKSURI != nil {
		jwksURI = cfg.JWKSURI.String()
	} else {
		jwksURI = metadata.JWKSURI
	}
	if jwksURI == "" {
		return nil, errors.New("discovery document does not advertise a jwks_uri")
	}
	if _, err := url.Parse(jwksURI); err != nil {
		return nil, fmt.Errorf("could not parse JWKS URI %q: %w", jwksURI, err)
	}

	keys, lifetime, err := f.fetchKeySet(ctx, jwksURI)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Metadata: metadata,
		Keys:     keys,
	}
	if lifetime > 0 {
		result.Lifetime = lifetime
		result.LifetimeKnown = true
	}

	return result, nil
}

func (f *HTTPFetcher) fetchMetadata(ctx context.Context, cfg ProviderConfig) (*oidc.DiscoveryMetadata, error) {
	expectedIssuer := ""
	if cfg.IssuerURL != nil {
		expectedIssuer = cfg.IssuerURL.String()
	}

	if cfg.DiscoveryURI != nil {
		return oidc.GetDiscoveryMetadataFromURL(ctx, f.Client, cfg.DiscoveryURI.String(), expectedIssuer)
	}
	if cfg.IssuerURL == nil {
		return nil, errors.New("provider configuration has neither issuer URL nor discovery URI")
	}
	return oidc.GetDiscoveryMetadata(ctx, f.Client, *cfg.IssuerURL, expectedIssuer)
}

// fetchKeySet fetches and parses the JWKS, returning the set and the TTL
// extracted from Cache-Control (or 0 if not present).
func (f *HTTPFetcher) fetchKeySet(ctx context.Context, jwksURI string) (jwk.Set, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("could not build request to get JWKS: %w", err)
	}

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("could not fetch JWKS from %s: %w", jwksURI, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("JWKS request to %s returned status %d, expected 200", jwksURI, res.StatusCode)
	}

	var cacheTTL time.Duration
	if cacheControl := res.Header.Get("Cache-Control"); cacheControl != "" {
		cacheTTL = parseCacheControl(cacheControl)
	}

	// Limit response body size to prevent memory exhaustion. 1MiB is
	// generous for a JWKS (typically <10KB).
	limitedBody := io.LimitReader(res.Body, 1*1024*1024)

	set, err := jwk.ParseReader(limitedBody)
	if err != nil {
		return nil, 0, fmt.Errorf("could not parse JWKS: %w", err)
	}

	return set, cacheTTL, nil
}

// parseCacheControl extracts max-age from a Cache-Control header.
// Returns 0 if max-age is not present, invalid, or outside the accepted
// bounds (1 second to 7 days).
func parseCacheControl(cacheControl string) time.Duration {
	const (
		maxAgePrefix = "max-age="
		minTTL       = 1 * time.Second
		maxTTL       = 7 * 24 * time.Hour
	)

	// Handles "max-age=3600", "public, max-age=3600", "max-age=3600, must-revalidate".
	directives := strings.Split(cacheControl, ",")
	for _, directive := range directives {
		directive = strings.TrimSpace(directive)
		if strings.HasPrefix(directive, maxAgePrefix) {
			ageStr := strings.TrimPrefix(directive, maxAgePrefix)
			seconds, err := strconv.ParseInt(ageStr, 10, 64)
			if err != nil || seconds <= 0 {
				continue
			}

			ttl := time.Duration(seconds) * time.Second

			if ttl < minTTL || ttl > maxTTL {
				return 0
			}

			return ttl
		}
	}

	return 0
}

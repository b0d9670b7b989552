package providercache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidckit/providercache/oidc"
)

func generateJWKS(t *testing.T) jwk.Set {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)

	require.NoError(t, key.Set(jwk.KeyIDKey, "kid"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	return set
}

func setupProviderServer(t *testing.T, jwks jwk.Set, cacheControl string, requestCount *int32) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requestCount, 1)

		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			md := oidc.DiscoveryMetadata{
				Issuer:                server.URL,
				AuthorizationEndpoint: server.URL + "/authorize",
				TokenEndpoint:         server.URL + "/oauth/token",
				JWKSURI:               server.URL + "/.well-known/jwks.json",
			}
			err := json.NewEncoder(w).Encode(md)
			require.NoError(t, err)
		case "/.well-known/jwks.json", "/custom/jwks.json":
			jsonData, err := json.Marshal(jwks)
			require.NoError(t, err)
			if cacheControl != "" {
				w.Header().Set("Cache-Control", cacheControl)
			}
			w.Header().Set("Content-Type", "application/json")
			_, err = w.Write(jsonData)
			require.NoError(t, err)
		default:
			t.Fatalf("was not expecting to handle the following url: %s", r.URL.String())
		}
	}))

	return server
}

func Test_HTTPFetcher(t *testing.T) {
	t.Run("It fetches the discovery document and key set", func(t *testing.T) {
		var requestCount int32
		expectedJWKS := generateJWKS(t)
		server := setupProviderServer(t, expectedJWKS, "", &requestCount)
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		result, err := fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.NoError(t, err)

		require.NotNil(t, result.Metadata)
		assert.Equal(t, server.URL, result.Metadata.Issuer)
		assert.Equal(t, server.URL+"/.well-known/jwks.json", result.Metadata.JWKSURI)

		require.NotNil(t, result.Keys)
		require.Equal(t, 1, result.Keys.Len())
		_, found := result.Keys.LookupKeyID("kid")
		assert.True(t, found)

		assert.False(t, result.LifetimeKnown, "no Cache-Control header means no lifetime")
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "one discovery request, one JWKS request")
	})

	t.Run("It reports the lifetime from Cache-Control max-age", func(t *testing.T) {
		var requestCount int32
		server := setupProviderServer(t, generateJWKS(t), "public, max-age=300", &requestCount)
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		result, err := fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.NoError(t, err)

		assert.True(t, result.LifetimeKnown)
		assert.Equal(t, 5*time.Minute, result.Lifetime)
	})

	t.Run("It uses a custom JWKS URI over the advertised one", func(t *testing.T) {
		var requestCount int32
		server := setupProviderServer(t, generateJWKS(t), "", &requestCount)
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)
		customJWKSURI, err := url.Parse(server.URL + "/custom/jwks.json")
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		result, err := fetcher.Fetch(context.Background(), ProviderConfig{
			IssuerURL: serverURL,
			JWKSURI:   customJWKSURI,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Keys)
	})

	t.Run("It uses a custom discovery URI", func(t *testing.T) {
		var discoveryServer *httptest.Server
		jwks := generateJWKS(t)
		discoveryServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/tenant/discovery":
				md := oidc.DiscoveryMetadata{
					Issuer:  discoveryServer.URL,
					JWKSURI: discoveryServer.URL + "/keys",
				}
				err := json.NewEncoder(w).Encode(md)
				require.NoError(t, err)
			case "/keys":
				jsonData, err := json.Marshal(jwks)
				require.NoError(t, err)
				_, err = w.Write(jsonData)
				require.NoError(t, err)
			default:
				t.Fatalf("unexpected request to %s", r.URL.Path)
			}
		}))
		defer discoveryServer.Close()

		discoveryURI, err := url.Parse(discoveryServer.URL + "/tenant/discovery")
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(discoveryServer.Client())
		result, err := fetcher.Fetch(context.Background(), ProviderConfig{DiscoveryURI: discoveryURI})
		require.NoError(t, err)
		require.Equal(t, 1, result.Keys.Len())
	})

	t.Run("It rejects a discovery document for the wrong issuer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := json.NewEncoder(w).Encode(oidc.DiscoveryMetadata{Issuer: "https://somebody-else.example.com"})
			require.NoError(t, err)
		}))
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		_, err = fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match expected issuer")
	})

	t.Run("It fails when the discovery document has no jwks_uri", func(t *testing.T) {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := json.NewEncoder(w).Encode(oidc.DiscoveryMetadata{Issuer: server.URL})
			require.NoError(t, err)
		}))
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		_, err = fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not advertise a jwks_uri")
	})

	t.Run("It fails on a JWKS error response", func(t *testing.T) {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/openid-configuration" {
				md := oidc.DiscoveryMetadata{
					Issuer:  server.URL,
					JWKSURI: server.URL + "/jwks.json",
				}
				err := json.NewEncoder(w).Encode(md)
				require.NoError(t, err)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		_, err = fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned status 500")
	})

	t.Run("It fails on a malformed JWKS body", func(t *testing.T) {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/openid-configuration" {
				md := oidc.DiscoveryMetadata{
					Issuer:  server.URL,
					JWKSURI: server.URL + "/jwks.json",
				}
				err := json.NewEncoder(w).Encode(md)
				require.NoError(t, err)
				return
			}
			_, _ = w.Write([]byte("not a key set"))
		}))
		defer server.Close()

		serverURL, err := url.Parse(server.URL)
		require.NoError(t, err)

		fetcher := NewHTTPFetcher(server.Client())
		_, err = fetcher.Fetch(context.Background(), ProviderConfig{IssuerURL: serverURL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not parse JWKS")
	})

	t.Run("It fails when the configuration names no document source", func(t *testing.T) {
		fetcher := NewHTTPFetcher(nil)
		_, err := fetcher.Fetch(context.Background(), ProviderConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "neither issuer URL nor discovery URI")
	})
}

func Test_ParseCacheControl(t *testing.T) {
	testCases := []struct {
		header   string
		expected time.Duration
	}{
		{header: "max-age=3600", expected: time.Hour},
		{header: "public, max-age=300", expected: 5 * time.Minute},
		{header: "max-age=300, must-revalidate", expected: 5 * time.Minute},
		{header: "max-age=0", expected: 0},
		{header: "max-age=-100", expected: 0},
		{header: "max-age=999999999", expected: 0}, // beyond the 7 day bound
		{header: "no-store", expected: 0},
		{header: "max-age=garbage", expected: 0},
		{header: "", expected: 0},
	}

	for _, testCase := range testCases {
		t.Run(fmt.Sprintf("header %q", testCase.header), func(t *testing.T) {
			assert.Equal(t, testCase.expected, parseCacheControl(testCase.header))
		})
	}
}

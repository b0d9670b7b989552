package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/oauth2"
)

// wellKnownPath is the standard location of the discovery document relative
// to the issuer URL, per OpenID Connect Discovery 1.0 §4.1.
const wellKnownPath = ".well-known/openid-configuration"

// maxResponseSize bounds the discovery response body. Discovery documents are
// typically a few KB; 1MiB leaves generous headroom.
const maxResponseSize = 1 * 1024 * 1024

// DiscoveryMetadata holds the OIDC discovery document for a provider.
// Field names follow the registered metadata names from OpenID Connect
// Discovery 1.0 §3.
type DiscoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// Endpoint returns the OAuth2 endpoint configuration described by the
// discovery document, suitable for use with golang.org/x/oauth2.
func (m *DiscoveryMetadata) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  m.AuthorizationEndpoint,
		TokenURL: m.TokenEndpoint,
	}
}

// WellKnownURL returns the discovery document URL for the given issuer.
func WellKnownURL(issuerURL url.URL) url.URL {
	issuerURL.Path = path.Join(issuerURL.Path, wellKnownPath)
	return issuerURL
}

// GetDiscoveryMetadata fetches and decodes the discovery document for the
// passed in issuer URL. The document's issuer claim must match
// expectedIssuer (ignoring a single trailing slash); a mismatch is returned
// as an error.
func GetDiscoveryMetadata(ctx context.Context, client *http.Client, issuerURL url.URL, expectedIssuer string) (*DiscoveryMetadata, error) {
	wkURL := WellKnownURL(issuerURL)
	return GetDiscoveryMetadataFromURL(ctx, client, wkURL.String(), expectedIssuer)
}

// GetDiscoveryMetadataFromURL fetches and decodes the discovery document from
// an explicit URL, bypassing the well-known path construction. Issuer
// validation is skipped when expectedIssuer is empty.
func GetDiscoveryMetadataFromURL(ctx context.Context, client *http.Client, documentURL, expectedIssuer string) (*DiscoveryMetadata, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build request for discovery document: %w", err)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not get discovery document from %s: %w", documentURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery document request to %s returned status %d, expected 200", documentURL, res.StatusCode)
	}

	var metadata DiscoveryMetadata
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseSize)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("could not decode discovery document: %w", err)
	}

	if expectedIssuer != "" && !issuerMatches(metadata.Issuer, expectedIssuer) {
		return nil, fmt.Errorf("discovery document issuer %q does not match expected issuer %q", metadata.Issuer, expectedIssuer)
	}

	return &metadata, nil
}

// issuerMatches compares issuer identifiers, tolerating a single trailing
// slash difference. Providers are inconsistent about whether the issuer they
// publish carries one.
func issuerMatches(got, want string) bool {
	return strings.TrimSuffix(got, "/") == strings.TrimSuffix(want, "/")
}

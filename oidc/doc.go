// Package oidc handles fetching and decoding OIDC discovery documents
// (the /.well-known/openid-configuration metadata published by an identity
// provider).
//
// The package validates that the issuer claimed by the document matches the
// issuer the caller asked for, which guards against misconfigured or
// malicious providers serving another issuer's metadata.
package oidc

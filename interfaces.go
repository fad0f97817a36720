package relayproxy

import (
	"github.com/relaykit/relayproxy/internal/activity"
	"github.com/relaykit/relayproxy/internal/collab"
	"github.com/relaykit/relayproxy/internal/proxyauth"
	"github.com/relaykit/relayproxy/internal/resolver"
)

// ChainProxyManager is the chained-proxy selection policy collaborator of
// spec.md §6, consumed through this narrow interface so the policy itself
// (load balancing, health checks, credential rotation) lives outside the
// core state machine.
type ChainProxyManager = collab.ChainProxyManager

// ProxyAuthenticator is spec.md §6's collaborator contract for HTTP Basic
// proxy authentication, satisfied directly by proxyauth.Authenticator.
type ProxyAuthenticator = proxyauth.Authenticator

// RequestFilter mutates or inspects an in-flight request after header
// rewriting, the last step before ServerConn.Write (spec.md §9 Open
// Question 1: filter-reintroduced hop-by-hop headers are not re-scrubbed).
type RequestFilter = collab.RequestFilter

// ResponseFilter mutates or inspects a response stream, obtained per
// authority (spec.md §6).
type ResponseFilter = collab.ResponseFilter

// ResponseFilterProvider returns the ResponseFilter that applies to
// authority, or nil for none.
type ResponseFilterProvider = collab.ResponseFilterProvider

// ActivityTracker is spec.md §6's observability collaborator, satisfied
// directly by activity.Tracker.
type ActivityTracker = activity.Tracker

// AddressResolver is spec.md §6's DNS collaborator, satisfied directly by
// resolver.Resolver.
type AddressResolver = resolver.Resolver

// KeyStoreManager supplies the CA used to sign per-host MITM leaf
// certificates.
type KeyStoreManager = collab.KeyStoreManager

// SslContextFactory builds the TLS server config presented to the client
// for a given intercepted hostname, typically backed by an
// internal/mitm.CachedSigner keyed off a KeyStoreManager's CA.
type SslContextFactory = collab.SslContextFactory

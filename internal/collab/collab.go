// Package collab holds the narrow collaborator interfaces named in
// spec.md §6 that internal/clientconn and internal/serverconn depend on.
// They live below the root package (rather than in it) so the state-machine
// packages never import the root package that wires them — the root
// package re-exports each as a type alias for a stable public API.
package collab

import (
	"crypto/tls"
	"net/http"

	"github.com/relaykit/relayproxy/internal/dialer"
)

// ChainProxyManager is the chained-proxy selection policy collaborator.
type ChainProxyManager interface {
	GetHostAndPort(req *http.Request) string
	GetTransportProtocol() dialer.Transport
	RequiresEncryption(req *http.Request) bool
	GetSSLContext() *tls.Config
	AllowFallbackToUnchainedConnection(req *http.Request) bool
}

// RequestFilter mutates or inspects an in-flight request after header
// rewriting (spec.md §9 Open Question 1).
type RequestFilter interface {
	Filter(req *http.Request) *http.Request
}

// ResponseFilter mutates or inspects a response stream.
type ResponseFilter interface {
	Filter(resp *http.Response) *http.Response
}

// ResponseFilterProvider returns the ResponseFilter for an authority, or
// nil for none.
type ResponseFilterProvider interface {
	ResponseFilterFor(authority string) ResponseFilter
}

// KeyStoreManager supplies the CA used to sign per-host MITM leaf
// certificates.
type KeyStoreManager interface {
	CA() tls.Certificate
}

// SslContextFactory builds the TLS server config presented to the client
// for an intercepted hostname.
type SslContextFactory interface {
	ServerConfigFor(hostname string) (*tls.Config, error)
}

package relayproxy

import (
	"time"

	"github.com/relaykit/relayproxy/internal/activity"
	"github.com/relaykit/relayproxy/internal/collab"
	"go.uber.org/zap"
)

// Options configures a Proxy: the options named in spec.md §6 plus MITM,
// header-casing, Via, logging and resolver settings. Grounded on the teacher's options.go shape (struct of
// optional collaborators plus a DefaultOptions constructor).
type Options struct {
	// Transparent, when true, suppresses all header rewriting (spec.md
	// §4.3).
	Transparent bool
	// UseDNSSEC routes name resolution through a verified resolver.
	UseDNSSEC bool
	// IdleTimeout bounds how long a channel may sit without traffic
	// before a graceful disconnect.
	IdleTimeout time.Duration
	// Authenticator, when non-nil, enables Basic proxy authentication.
	Authenticator ProxyAuthenticator
	// ChainProxyManager, when non-nil, enables forwarding through a
	// chained upstream proxy.
	ChainProxyManager collab.ChainProxyManager
	// RequestFilter, when non-nil, runs on every forwarded request as the
	// last step before ServerConn.Write.
	RequestFilter collab.RequestFilter
	// ResponseFilters resolves a per-authority ResponseFilter.
	ResponseFilters collab.ResponseFilterProvider
	// ActivityTrackers receive fan-out observability events.
	ActivityTrackers []ActivityTracker
	// MITM enables TLS interception on CONNECT requests when
	// SslContextFactory is set, or when KeyStore is set (New then builds a
	// DefaultSslContextFactory from its CA); otherwise CONNECT is tunneled
	// opaquely.
	MITM              bool
	KeyStore          collab.KeyStoreManager
	SslContextFactory collab.SslContextFactory
	// PreventCanonicalization, when true, preserves the wire header names
	// of forwarded requests instead of net/http's canonical casing,
	// grounded on the teacher's Options.PreventCanonicalization and
	// internal/http1parser.
	PreventCanonicalization bool
	// ViaProxyID names this proxy in the Via header (spec.md §4.6).
	ViaProxyID string
	// Logger is the structured logger shared across connections.
	Logger *zap.Logger
	// Resolver overrides the default AddressResolver (useful for tests).
	Resolver AddressResolver
}

// DefaultOptions returns the recommended starting configuration, grounded
// on the teacher's DefaultOptions.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:      5 * time.Minute,
		ActivityTrackers: []ActivityTracker{},
		ViaProxyID:       "relayproxy",
		Logger:           zap.NewNop(),
	}
}

func (o Options) recorder() *activity.Recorder {
	return activity.NewRecorder(o.ActivityTrackers...)
}

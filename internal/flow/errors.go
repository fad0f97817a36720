package flow

import "errors"

// These sentinels classify the failure of a connection-flow step so
// callers can distinguish them with errors.Is without parsing messages,
// spec.md §7's named failure policies (dial/connect refused, TLS handshake
// failure, chained-proxy refusal). A DNS failure is reported as
// resolver.ErrUnknownHost instead.
var (
	ErrConnectFailed         = errors.New("flow: connect failed")
	ErrTLSHandshakeFailed    = errors.New("flow: tls handshake failed")
	ErrChainedConnectRefused = errors.New("flow: chained proxy refused CONNECT")
)

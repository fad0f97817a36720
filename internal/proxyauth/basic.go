// Package proxyauth implements HTTP Basic proxy authentication, grounded
// verbatim on ext/auth/basic.go.
package proxyauth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrAuthRequired classifies a request that carries no (or a malformed)
// Proxy-Authorization header when an Authenticator is configured.
// ErrAuthFailed classifies one that carries well-formed Basic credentials
// the Authenticator rejected. Both are spec.md §7 named failures.
var (
	ErrAuthRequired = errors.New("proxyauth: proxy authentication required")
	ErrAuthFailed   = errors.New("proxyauth: proxy authentication failed")
)

// Authenticator validates a user/password pair, matching spec.md §6's
// ProxyAuthenticator collaborator contract.
type Authenticator interface {
	Authenticate(user, pass string) bool
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(user, pass string) bool

func (f AuthenticatorFunc) Authenticate(user, pass string) bool { return f(user, pass) }

const proxyAuthorizationHeader = "Proxy-Authorization"

// Check validates req's Proxy-Authorization header against a. When a is
// non-nil the header is stripped whatever the outcome (it must never reach
// the origin, since it is hop-by-hop). Returns false if the header is
// missing, malformed, or the credentials are rejected.
func Check(req *http.Request, a Authenticator) bool {
	return CheckReason(req, a) == nil
}

// CheckReason behaves like Check but returns nil on success and, on
// failure, either ErrAuthRequired (no or malformed credentials) or
// ErrAuthFailed (well-formed credentials the Authenticator rejected) so
// callers can classify the failure with errors.Is.
func CheckReason(req *http.Request, a Authenticator) error {
	if a == nil {
		return nil
	}
	parts := strings.SplitN(req.Header.Get(proxyAuthorizationHeader), " ", 2)
	req.Header.Del(proxyAuthorizationHeader)
	if len(parts) != 2 || parts[0] != "Basic" {
		return ErrAuthRequired
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrAuthRequired
	}
	userpass := strings.SplitN(string(raw), ":", 2)
	if len(userpass) != 2 {
		return ErrAuthRequired
	}
	if a.Authenticate(userpass[0], userpass[1]) {
		return nil
	}
	return ErrAuthFailed
}

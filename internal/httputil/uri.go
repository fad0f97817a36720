// Package httputil provides the header/URI rewriting helpers named in
// spec.md §4.6, grounded on ClientToProxyConnection's
// modifyRequestHeadersToReflectProxying/modifyResponseHeadersToReflectProxying
// (ClientToProxyConnection.java:943-1009) and the teacher's stripPort/hasPort
// helpers in https.go.
package httputil

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

var hasPortRe = regexp.MustCompile(`:\d+$`)

// ErrBadRequest classifies a request ClientSide cannot route because it
// carries no target authority (no absolute-form URI, no Host header),
// spec.md §7's named "bad request" failure.
var ErrBadRequest = errors.New("httputil: bad request: missing target authority")

// ParseHostAndPort returns the authority a request targets: from the
// absolute-form request-URI if present, else from the Host header, else
// empty. The returned authority always carries an explicit port (80/443
// assumed by scheme when absent).
func ParseHostAndPort(req *http.Request) string {
	var authority string
	if req.URL.Host != "" {
		authority = req.URL.Host
	} else {
		authority = req.Host
	}
	if authority == "" {
		return ""
	}
	if hasPortRe.MatchString(authority) {
		return authority
	}
	if req.URL.Scheme == "https" || req.Method == http.MethodConnect {
		return authority + ":443"
	}
	return authority + ":80"
}

// ParseHostAndPortDefaultTLS behaves like ParseHostAndPort but defaults a
// portless authority to 443 rather than 80. Requests decrypted off an
// established MITM CONNECT tunnel are re-parsed in origin-form and carry no
// scheme at all, so ParseHostAndPort's scheme-derived default would
// silently pick plaintext port 80 for what is really a re-origination onto
// TLS (spec.md §4.3 "Supplemented from original_source": MITM HTTP loop).
func ParseHostAndPortDefaultTLS(req *http.Request) string {
	var authority string
	if req.URL.Host != "" {
		authority = req.URL.Host
	} else {
		authority = req.Host
	}
	if authority == "" {
		return ""
	}
	if hasPortRe.MatchString(authority) {
		return authority
	}
	return authority + ":443"
}

// StripHost removes scheme+authority from an absolute-form request URI,
// leaving only /path?query, for non-transparent, non-chained forwarding.
func StripHost(req *http.Request) string {
	u := *req.URL
	u.Scheme = ""
	u.Host = ""
	u.User = nil
	s := u.String()
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// HasPort reports whether authority already carries an explicit port.
func HasPort(authority string) bool {
	return hasPortRe.MatchString(authority)
}

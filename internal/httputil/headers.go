package httputil

import (
	"net/http"
	"strings"
)

// hopByHop is the RFC 2616 §13.5.1 hop-by-hop header set, lower-cased for
// case-insensitive lookup. Grounded verbatim on
// ClientToProxyConnection.HOP_BY_HOP_HEADERS.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"upgrade":             true,
}

// IsChunked reports whether Transfer-Encoding names "chunked", per
// spec.md §4.6.
func IsChunked(h http.Header) bool {
	for _, v := range h.Values("Transfer-Encoding") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				return true
			}
		}
	}
	return false
}

// StripConnectionTokens removes any header named by a token in the
// Connection header (RFC 2616 §14.10). The Connection header itself is left
// in place; StripHopByHop removes it along with the rest of the fixed
// hop-by-hop set. Idempotent: running it twice on an already-scrubbed
// header set is a no-op, satisfying spec.md §8 invariant 5.
func StripConnectionTokens(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				h.Del(tok)
			}
		}
	}
}

// StripHopByHop removes the fixed hop-by-hop header set, case-insensitively.
func StripHopByHop(h http.Header) {
	for name := range hopByHop {
		h.Del(name)
	}
}

// SwitchProxyConnectionHeader renames Proxy-Connection to Connection,
// preserving its value, per spec.md's "Proxy-Connection: treat as a synonym
// for Connection" design note.
func SwitchProxyConnectionHeader(h http.Header) {
	if v := h.Get("Proxy-Connection"); v != "" {
		h.Del("Proxy-Connection")
		if h.Get("Connection") == "" {
			h.Set("Connection", v)
		}
	}
}

// RemoveSDCHEncoding strips the "sdch" token from Accept-Encoding, per
// spec.md §4.3 header rewriting step 2.
func RemoveSDCHEncoding(h http.Header) {
	v := h.Get("Accept-Encoding")
	if v == "" {
		return
	}
	var kept []string
	for _, tok := range strings.Split(v, ",") {
		t := strings.TrimSpace(tok)
		if !strings.EqualFold(t, "sdch") && t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		h.Del("Accept-Encoding")
		return
	}
	h.Set("Accept-Encoding", strings.Join(kept, ", "))
}

// WantsKeepAlive reports whether a request or response with the given
// protocol version and (pre-scrub) headers keeps the connection open per
// RFC 2616 §14.10: HTTP/1.1 defaults to keep-alive unless "Connection:
// close" is present; HTTP/1.0 defaults to close unless "Connection:
// keep-alive" is present. Callers must inspect a verbatim header snapshot,
// since ModifyRequestHeaders/ModifyResponseHeaders remove the Connection
// header entirely before forwarding.
func WantsKeepAlive(protoMajor, protoMinor int, h http.Header) bool {
	closeToken, keepAliveToken := false, false
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(tok)) {
			case "close":
				closeToken = true
			case "keep-alive":
				keepAliveToken = true
			}
		}
	}
	if protoMajor == 1 && protoMinor == 0 {
		return keepAliveToken
	}
	return !closeToken
}

// ModifyRequestHeaders applies the non-transparent request rewrite
// described in spec.md §4.3: strips scheme+authority from the request line
// (handled by the caller, since it mutates req.URL not req.Header),
// switches Proxy-Connection, strips connection tokens + hop-by-hop, removes
// sdch, and appends Via. Grounded on
// ClientToProxyConnection.modifyRequestHeadersToReflectProxying
// (ClientToProxyConnection.java:943-975).
func ModifyRequestHeaders(req *http.Request, viaProxyID string) {
	RemoveSDCHEncoding(req.Header)
	SwitchProxyConnectionHeader(req.Header)
	StripConnectionTokens(req.Header)
	StripHopByHop(req.Header)
	AddVia(req.Header, viaProxyID)
}

// ModifyResponseHeaders applies the response-side rewrite of spec.md §4.3:
// strip connection tokens, strip hop-by-hop, append Via, stamp Date if
// absent, and upgrade the stated HTTP version to 1.1 when the body is
// chunked but the response line claims an earlier version. Grounded on
// ClientToProxyConnection.modifyResponseHeadersToReflectProxying
// (ClientToProxyConnection.java:977-1009) and fixHttpVersionHeaderIfNecessary.
func ModifyResponseHeaders(resp *http.Response, viaProxyID string) {
	StripConnectionTokens(resp.Header)
	StripHopByHop(resp.Header)
	AddVia(resp.Header, viaProxyID)
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", HTTPDate())
	}
	if IsChunked(resp.Header) && resp.ProtoMajor == 1 && resp.ProtoMinor < 1 {
		resp.ProtoMajor, resp.ProtoMinor = 1, 1
		resp.Proto = "HTTP/1.1"
	}
}

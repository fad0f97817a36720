package httputil

import (
	"net/http"
	"strings"
	"time"
)

// AddVia appends "1.1 <proxyID>" to an existing Via header unless that exact
// entry is already listed in it, or sets it if absent, per RFC 2616 §14.45. Named in spec.md §4.6 but its body ("the
// append algorithm") is not part of the retrieved original_source —
// ProxyUtils.addVia is referenced by name (ClientToProxyConnection.java:336,
// 963, 980) without being included in the retrieval pack, so this follows
// the RFC directly. Associative under repeated application, satisfying the
// round-trip property in spec.md §8 ("Via appending is associative under
// concatenation of proxies").
func AddVia(h http.Header, proxyID string) {
	entry := "1.1 " + proxyID
	existing := h.Get("Via")
	if existing == "" {
		h.Set("Via", entry)
		return
	}
	if viaContains(existing, entry) {
		return
	}
	h.Set("Via", existing+", "+entry)
}

func viaContains(via, entry string) bool {
	for _, tok := range strings.Split(via, ",") {
		if strings.TrimSpace(tok) == entry {
			return true
		}
	}
	return false
}

// HTTPDate formats the current time in RFC 1123 GMT form, per spec.md
// §4.6's http_date().
func HTTPDate() string {
	return time.Now().UTC().Format(http.TimeFormat)
}

package httputil_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relayproxy/internal/httputil"
)

func TestWantsKeepAlive(t *testing.T) {
	cases := []struct {
		name       string
		major      int
		minor      int
		connection string
		want       bool
	}{
		{"http11 default", 1, 1, "", true},
		{"http11 close", 1, 1, "close", false},
		{"http11 keep-alive explicit", 1, 1, "keep-alive", true},
		{"http10 default", 1, 0, "", false},
		{"http10 keep-alive", 1, 0, "keep-alive", true},
		{"http10 close", 1, 0, "close", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := http.Header{}
			if c.connection != "" {
				h.Set("Connection", c.connection)
			}
			assert.Equal(t, c.want, httputil.WantsKeepAlive(c.major, c.minor, h))
		})
	}
}

func TestStripConnectionTokens(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, Keep-Alive")
	h.Set("X-Custom", "value")
	h.Set("Keep-Alive", "timeout=5")
	httputil.StripConnectionTokens(h)
	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Keep-Alive"))
}

func TestSwitchProxyConnectionHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Proxy-Connection", "keep-alive")
	httputil.SwitchProxyConnectionHeader(h)
	assert.Empty(t, h.Get("Proxy-Connection"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
}

func TestSwitchProxyConnectionHeaderDoesNotOverwrite(t *testing.T) {
	h := http.Header{}
	h.Set("Proxy-Connection", "keep-alive")
	h.Set("Connection", "close")
	httputil.SwitchProxyConnectionHeader(h)
	assert.Equal(t, "close", h.Get("Connection"))
}

func TestRemoveSDCHEncoding(t *testing.T) {
	h := http.Header{}
	h.Set("Accept-Encoding", "gzip, sdch, deflate")
	httputil.RemoveSDCHEncoding(h)
	assert.Equal(t, "gzip, deflate", h.Get("Accept-Encoding"))
}

func TestRemoveSDCHEncodingDropsHeaderWhenOnlyToken(t *testing.T) {
	h := http.Header{}
	h.Set("Accept-Encoding", "sdch")
	httputil.RemoveSDCHEncoding(h)
	assert.Empty(t, h.Get("Accept-Encoding"))
}

func TestModifyRequestHeadersStripsHopByHop(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/"},
		Header: http.Header{},
	}
	req.Header.Set("Proxy-Authorization", "Basic xyz")
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Accept-Encoding", "gzip, sdch")

	httputil.ModifyRequestHeaders(req, "relayproxy")

	assert.Empty(t, req.Header.Get("Proxy-Authorization"))
	assert.Empty(t, req.Header.Get("Proxy-Connection"))
	assert.Empty(t, req.Header.Get("Connection"))
	assert.Equal(t, "gzip", req.Header.Get("Accept-Encoding"))
	assert.Contains(t, req.Header.Get("Via"), "relayproxy")
}

func TestModifyResponseHeadersStampsDateAndUpgradesVersion(t *testing.T) {
	resp := &http.Response{
		ProtoMajor: 1,
		ProtoMinor: 0,
		Header:     http.Header{},
	}
	resp.Header.Set("Transfer-Encoding", "chunked")

	httputil.ModifyResponseHeaders(resp, "relayproxy")

	assert.NotEmpty(t, resp.Header.Get("Date"))
	assert.Equal(t, 1, resp.ProtoMajor)
	assert.Equal(t, 1, resp.ProtoMinor)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
	assert.Contains(t, resp.Header.Get("Via"), "relayproxy")
}

func TestModifyRequestHeadersIsIdempotent(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/"},
		Header: http.Header{},
	}
	req.Header.Set("Proxy-Connection", "keep-alive")
	httputil.ModifyRequestHeaders(req, "relayproxy")
	first := req.Header.Clone()
	httputil.ModifyRequestHeaders(req, "relayproxy")
	assert.Equal(t, first.Get("Connection"), req.Header.Get("Connection"))
	assert.Empty(t, req.Header.Get("Connection"))
}

func TestIsChunked(t *testing.T) {
	h := http.Header{}
	assert.False(t, httputil.IsChunked(h))
	h.Set("Transfer-Encoding", "gzip, chunked")
	assert.True(t, httputil.IsChunked(h))
}

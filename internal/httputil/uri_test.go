package httputil_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relayproxy/internal/httputil"
)

func TestParseHostAndPortFromAbsoluteURI(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "http", Host: "example.com"},
	}
	assert.Equal(t, "example.com:80", httputil.ParseHostAndPort(req))
}

func TestParseHostAndPortFromAbsoluteHTTPSURI(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "https", Host: "example.com"},
	}
	assert.Equal(t, "example.com:443", httputil.ParseHostAndPort(req))
}

func TestParseHostAndPortPreservesExplicitPort(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "http", Host: "example.com:8080"},
	}
	assert.Equal(t, "example.com:8080", httputil.ParseHostAndPort(req))
}

func TestParseHostAndPortFromHostHeader(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{},
		Host:   "example.com",
	}
	assert.Equal(t, "example.com:80", httputil.ParseHostAndPort(req))
}

func TestParseHostAndPortConnectDefaultsTo443(t *testing.T) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{},
		Host:   "example.com",
	}
	assert.Equal(t, "example.com:443", httputil.ParseHostAndPort(req))
}

func TestParseHostAndPortEmpty(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{},
	}
	assert.Empty(t, httputil.ParseHostAndPort(req))
}

func TestStripHost(t *testing.T) {
	req := &http.Request{
		URL: &url.URL{Scheme: "http", Host: "example.com", Path: "/index.html", RawQuery: "a=1"},
	}
	assert.Equal(t, "/index.html?a=1", httputil.StripHost(req))
}

func TestStripHostAddsLeadingSlash(t *testing.T) {
	req := &http.Request{
		URL: &url.URL{Scheme: "http", Host: "example.com"},
	}
	assert.Equal(t, "/", httputil.StripHost(req))
}

func TestHasPort(t *testing.T) {
	assert.True(t, httputil.HasPort("example.com:443"))
	assert.False(t, httputil.HasPort("example.com"))
}

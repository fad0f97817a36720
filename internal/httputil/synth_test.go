package httputil_test

import (
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/httputil"
)

func TestBuildProxyAuthRequired(t *testing.T) {
	resp := httputil.BuildProxyAuthRequired()
	assert.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)
	assert.Equal(t, httputil.ProxyAuthenticateRealm, resp.Header.Get("Proxy-Authenticate"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
	assert.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	require.NoError(t, resp.Body.Close())
}

func TestBuildBadGateway(t *testing.T) {
	resp := httputil.BuildBadGateway("http://example.com/")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http://example.com/")
	assert.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
}

func TestBuildConnectEstablished(t *testing.T) {
	resp := httputil.BuildConnectEstablished("relayproxy")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200 Connection established", resp.Status)
	assert.Contains(t, resp.Header.Get("Via"), "relayproxy")
	assert.Equal(t, http.NoBody, resp.Body)
}

package relayproxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	relayproxy "github.com/relaykit/relayproxy"
)

func TestDefaultOptions(t *testing.T) {
	opts := relayproxy.DefaultOptions()
	assert.Equal(t, "relayproxy", opts.ViaProxyID)
	assert.NotNil(t, opts.Logger)
	assert.NotZero(t, opts.IdleTimeout)
}

func TestNewAcceptsZeroOptions(t *testing.T) {
	proxy := relayproxy.New(relayproxy.Options{})
	assert.NotNil(t, proxy)
}

func TestNewAcceptsExplicitViaProxyID(t *testing.T) {
	opts := relayproxy.DefaultOptions()
	opts.ViaProxyID = "custom-proxy"
	proxy := relayproxy.New(opts)
	assert.NotNil(t, proxy)
}

package resolver_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/resolver"
)

type fakeResolver struct {
	addr net.Addr
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, authority string, dnssec bool) (net.Addr, error) {
	return f.addr, f.err
}

func TestDefaultResolveMalformedAuthority(t *testing.T) {
	d := resolver.NewDefault()
	_, err := d.Resolve(context.Background(), "not-an-authority", false)
	assert.ErrorIs(t, err, resolver.ErrUnknownHost)
}

func TestDefaultResolveLoopback(t *testing.T) {
	d := resolver.NewDefault()
	addr, err := d.Resolve(context.Background(), "127.0.0.1:80", false)
	require.NoError(t, err)
	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", tcpAddr.IP.String())
	assert.Equal(t, 80, tcpAddr.Port)
}

func TestDNSSECResolverSkipsLookupWhenDisabled(t *testing.T) {
	want := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 443}
	r := resolver.NewDNSSECResolver("1.1.1.1:53")
	r.Fallback = &fakeResolver{addr: want}

	got, err := r.Resolve(context.Background(), "example.com:443", false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDNSSECResolverMalformedAuthority(t *testing.T) {
	r := resolver.NewDNSSECResolver("1.1.1.1:53")
	_, err := r.Resolve(context.Background(), "not-an-authority", true)
	assert.ErrorIs(t, err, resolver.ErrUnknownHost)
}

func TestDNSSECResolverLiteralIPBypassesQuery(t *testing.T) {
	r := resolver.NewDNSSECResolver("1.1.1.1:53")
	addr, err := r.Resolve(context.Background(), "10.0.0.5:443", true)
	require.NoError(t, err)
	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", tcpAddr.IP.String())
	assert.Equal(t, 443, tcpAddr.Port)
}

package dialer_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/dialer"
)

func TestTransportString(t *testing.T) {
	assert.Equal(t, "tcp", dialer.TCP.String())
	assert.Equal(t, "udp", dialer.UDP.String())
}

func TestNewTProxyDialerDefaults(t *testing.T) {
	d := dialer.NewTProxyDialer(true)
	assert.True(t, d.Transparent)
	assert.NotZero(t, d.KeepaliveCount)
	assert.NotZero(t, d.KeepaliveInterval)
	assert.NotZero(t, d.KeepalivePeriod)

	d2 := dialer.NewTProxyDialer(false)
	assert.False(t, d2.Transparent)
}

func TestDialNonTransparentUsesPlainDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
		close(accepted)
	}()

	d := dialer.NewTProxyDialer(false)
	conn, err := d.Dial(context.Background(), dialer.TCP, ln.Addr(), nil)
	require.NoError(t, err)
	defer conn.Close()

	<-accepted
}

func TestDialWrongAddrTypeErrors(t *testing.T) {
	d := dialer.NewTProxyDialer(false)
	udpAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), dialer.TCP, udpAddr, nil)
	assert.Error(t, err)
}

func TestDialTransparentWithNilClientAddrFallsBackToPlainDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	d := dialer.NewTProxyDialer(true)
	conn, err := d.Dial(context.Background(), dialer.TCP, ln.Addr(), nil)
	require.NoError(t, err)
	conn.Close()
}

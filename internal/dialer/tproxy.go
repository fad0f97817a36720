package dialer

import (
	"context"
	"errors"
	"net"
	"time"

	liamtproxy "github.com/LiamHaworth/go-tproxy"
	windscribetproxy "github.com/Windscribe/go-tproxy"
	"golang.org/x/sys/unix"
)

var errBadAddrType = errors.New("dialer: address type does not match transport")

// TProxyDialer dials outbound connections, optionally presenting the
// original client's source address to the origin when the proxy process is
// deployed behind an IP_TRANSPARENT redirect (so the origin sees the real
// client IP rather than the proxy's). TCP dialing is grounded on
// github.com/LiamHaworth/go-tproxy; UDP on github.com/Windscribe/go-tproxy,
// which adds the UDP variant the former lacks — both teacher go.mod
// dependencies.
type TProxyDialer struct {
	// Transparent enables source-address spoofing. When false, Dial is a
	// thin wrapper around net.Dialer.
	Transparent bool
	// KeepaliveCount/Interval/Period tune TCP_KEEPCNT/TCP_KEEPINTVL and the
	// keepalive period, grounded on proxy_tcpconn.go's
	// setKeepaliveParameters.
	KeepaliveCount, KeepaliveInterval, KeepalivePeriod int
}

func NewTProxyDialer(transparent bool) *TProxyDialer {
	return &TProxyDialer{
		Transparent:       transparent,
		KeepaliveCount:    4,
		KeepaliveInterval: 10,
		KeepalivePeriod:   30,
	}
}

func (d *TProxyDialer) Dial(ctx context.Context, transport Transport, addr net.Addr, clientAddr net.Addr) (net.Conn, error) {
	switch transport {
	case UDP:
		return d.dialUDP(addr, clientAddr)
	default:
		return d.dialTCP(ctx, addr, clientAddr)
	}
}

func (d *TProxyDialer) dialTCP(ctx context.Context, addr net.Addr, clientAddr net.Addr) (net.Conn, error) {
	raddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, errBadAddrType
	}
	if !d.Transparent || clientAddr == nil {
		nd := net.Dialer{}
		return nd.DialContext(ctx, "tcp", raddr.String())
	}
	laddr, ok := clientAddr.(*net.TCPAddr)
	if !ok {
		return nil, errBadAddrType
	}
	conn, err := liamtproxy.DialTCP("tcp", laddr, raddr)
	if err != nil {
		return nil, err
	}
	d.tuneKeepalive(conn)
	return conn, nil
}

func (d *TProxyDialer) dialUDP(addr net.Addr, clientAddr net.Addr) (net.Conn, error) {
	raddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, errBadAddrType
	}
	if !d.Transparent || clientAddr == nil {
		return net.DialUDP("udp", nil, raddr)
	}
	laddr, ok := clientAddr.(*net.UDPAddr)
	if !ok {
		return nil, errBadAddrType
	}
	return windscribetproxy.DialUDP("udp", laddr, raddr)
}

func (d *TProxyDialer) tuneKeepalive(conn *net.TCPConn) {
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(time.Duration(d.KeepalivePeriod) * time.Second)
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, d.KeepaliveCount)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, d.KeepaliveInterval)
	})
}

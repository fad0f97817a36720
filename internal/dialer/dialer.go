// Package dialer implements the transport-connect step of the ServerConn
// connection flow (spec.md §4.4 step 2), supporting both TCP and UDP
// (spec.md §3's transport ∈ {TCP, UDP}), optionally preserving the original
// client's source address when the proxy runs behind a transparent
// (IP_TRANSPARENT) redirect. Grounded on the teacher's two go-tproxy
// dependencies and proxy_tcpconn.go's keepalive tuning.
package dialer

import (
	"context"
	"net"
)

// Transport names the wire transport a ServerConn dials.
type Transport int

const (
	TCP Transport = iota
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

// Dialer connects to an upstream address, optionally spoofing the original
// client's source address (transparent proxying).
type Dialer interface {
	Dial(ctx context.Context, transport Transport, addr net.Addr, clientAddr net.Addr) (net.Conn, error)
}

package mitm

import (
	"net"

	vhost "github.com/Windscribe/go-vhost"
)

// SNIConn is a net.Conn that has already consumed (and buffered) a TLS
// ClientHello far enough to expose the SNI hostname, grounded on the
// teacher's transparent.go handleTransparentTLS, which uses the same
// go-vhost call to route a transparent-mode TLS connection without an
// explicit CONNECT.
type SNIConn interface {
	net.Conn
	Host() string
}

// PeekSNI wraps conn in a go-vhost TLS sniffer and returns the hostname
// presented in the ClientHello's SNI extension, along with a net.Conn that
// still carries every byte read during the peek (so parsing can resume
// from the start of the handshake). An empty host means the client did not
// send SNI (spec.md's "non-SNI enabled clients" case in the original).
func PeekSNI(conn net.Conn) (SNIConn, string, error) {
	tlsConn, err := vhost.TLS(conn)
	if err != nil {
		return nil, "", err
	}
	return tlsConn, tlsConn.Host(), nil
}

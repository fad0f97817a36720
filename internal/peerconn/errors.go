package peerconn

import "errors"

var errUnsupportedHead = errors.New("peerconn: unsupported head object type")

var (
	// ErrIdle names an elapsed idle read deadline. Conn reports the timeout
	// through Handler.Idle, not Exception; ClientConn.Idle logs it with this
	// error. Only reads extend the deadline, writes do not.
	ErrIdle = errors.New("peerconn: idle timeout")
	// ErrPeerReset is the Exception error for an abrupt peer disconnect
	// (connection reset, unexpected EOF mid-message) as opposed to a
	// graceful close, spec.md §7's PeerReset policy.
	ErrPeerReset = errors.New("peerconn: peer reset")
	// ErrMalformedMessage classifies a read failure caused by bytes that
	// don't parse as the expected message framing for the current state.
	ErrMalformedMessage = errors.New("peerconn: malformed message")
)

package peerconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Handler is implemented by the concrete peer (clientconn.ClientConn or
// serverconn.ServerConn) and receives state-dispatched events from Conn's
// read loop, mirroring ProxyConnection's subclass hooks
// (ProxyConnection.java:111-154).
type Handler interface {
	// ReadInitial handles a freshly parsed HTTP head (*http.Request on the
	// client side, *http.Response on the server side) and returns the next
	// state to transition to.
	ReadInitial(head any) State
	// ReadChunk handles one body chunk of the in-flight exchange.
	ReadChunk(c Chunk)
	// ReadRaw handles one piece of tunneled bytes.
	ReadRaw(r Raw)
	// Connected is called once after the channel becomes active.
	Connected()
	// Disconnected is called exactly once when the connection terminates.
	Disconnected()
	// Idle is called when the idle deadline elapses.
	Idle()
	// Exception is called for any read error other than a graceful close or
	// an idle timeout (which goes to Idle).
	Exception(err error)
	// WritabilityChanged is called whenever the underlying Channel crosses
	// its high- or low-water mark, spec.md §4.3 "Saturation coupling".
	WritabilityChanged(writable bool)
}

// Conn is the PeerConnection state machine: an abstract, state-bearing
// endpoint over a Channel. It owns State transitions (serialized via mu,
// spec §3 "Transitions are the only way to mutate state and are serialized
// per-connection") and dispatches each inbound message to Handler according
// to the table in spec §4.2.
type Conn struct {
	mu    sync.Mutex
	state State

	Channel *Channel
	Handler Handler
	Logger  *zap.Logger

	remoteAddr net.Addr

	stopCh   chan struct{}
	stopOnce sync.Once

	// currentReq is the request associated with the response currently
	// being parsed on a server-facing channel (http.ReadResponse needs it).
	currentReq *http.Request
}

func NewConn(ch *Channel, h Handler, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		Channel: ch,
		Handler: h,
		Logger:  logger,
		state:   Disconnected,
		stopCh:  make(chan struct{}),
	}
	if ch != nil {
		ch.SetWritabilityHandler(h.WritabilityChanged)
	}
	return c
}

// SetChannel installs ch as this Conn's Channel, wiring the handler's
// WritabilityChanged callback. Used by server-facing connections, whose
// Channel is only created once a dial/handshake/chained-CONNECT step
// completes, well after NewConn.
func (c *Conn) SetChannel(ch *Channel) {
	c.Channel = ch
	if ch != nil {
		ch.SetWritabilityHandler(c.Handler.WritabilityChanged)
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState forces a transition. Used by connection-flow steps
// (CONNECTING/HANDSHAKING/NEGOTIATING_CONNECT) that happen before the
// generic read loop starts, and by the handler's ReadInitial return value.
func (c *Conn) SetState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.Logger.Debug("state transition", zap.String("from", prev.String()), zap.String("to", s.String()))
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	if c.remoteAddr != nil {
		return c.remoteAddr
	}
	if c.Channel != nil {
		return c.Channel.Conn().RemoteAddr()
	}
	return nil
}

// SetCurrentRequest records the request whose response is about to be
// parsed, required by http.ReadResponse on server-facing channels.
func (c *Conn) SetCurrentRequest(req *http.Request) {
	c.mu.Lock()
	c.currentReq = req
	c.mu.Unlock()
}

// Run drives the read loop until the channel closes or an unrecoverable
// error occurs. Call once the connection has reached AWAITING_INITIAL
// (immediately after accept for a client-facing Conn; after the connection
// flow completes for a server-facing Conn).
func (c *Conn) Run() {
	c.remoteAddr = c.Channel.Conn().RemoteAddr()
	c.Handler.Connected()
	defer func() {
		c.SetState(Disconnected)
		c.Handler.Disconnected()
	}()

	for {
		c.Channel.DrainTasks()

		select {
		case <-c.stopCh:
			return
		default:
		}

		c.Channel.WaitReadable(c.stopCh)

		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.readOnce(); err != nil {
			if isGracefulClose(err) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.Handler.Idle()
				return
			}
			c.Handler.Exception(classifyReadError(err))
			return
		}
	}
}

// Stop requests the read loop to exit at its next opportunity.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Conn) readOnce() error {
	switch c.State() {
	case AwaitingInitial:
		head, err := c.Channel.ReadHead(c.currentReqSnapshot())
		if err != nil {
			return err
		}
		if req, ok := head.(*http.Request); ok {
			c.SetCurrentRequest(req)
		}
		next := c.Handler.ReadInitial(head)
		// A body is streamed through AWAITING_CHUNK regardless of wire
		// framing (chunked, Content-Length, or close-delimited) — Go's
		// Request/Response.Body already normalizes all three, and
		// streaming uniformly is what keeps memory bounded for large
		// Content-Length bodies too (spec.md §8-S6). Only do this when
		// the handler left the connection in the generic "ready for
		// more" state; a handler that asked for something else (CONNECT
		// negotiation, proxy-auth challenge, disconnect) takes priority.
		if next == AwaitingInitial && hasBody(head) {
			c.Channel.OpenBodyStream(bodyOf(head))
			next = AwaitingChunk
		}
		c.SetState(next)
		return nil

	case AwaitingChunk:
		chunk, err := c.Channel.ReadBodyChunk()
		if err != nil {
			return err
		}
		c.Handler.ReadChunk(chunk)
		if chunk.Last {
			c.SetState(AwaitingInitial)
		}
		return nil

	case Tunneling:
		raw, err := c.Channel.ReadRaw()
		if err != nil {
			return err
		}
		c.Handler.ReadRaw(raw)
		return nil

	case AwaitingProxyAuthentication:
		head, err := c.Channel.ReadHead(c.currentReqSnapshot())
		if err != nil {
			return err
		}
		if _, ok := head.(*http.Request); !ok {
			return fmt.Errorf("%w: expected request while awaiting proxy authentication", ErrMalformedMessage)
		}
		next := c.Handler.ReadInitial(head)
		c.SetState(next)
		return nil

	case Connecting, Handshaking, NegotiatingConnect:
		// These states are driven by connection-flow steps on this same
		// goroutine before Run starts looping; reaching here means a peer
		// sent bytes early. Log and drop, per spec §4.2's anomaly row.
		buf := make([]byte, 1024)
		n, err := c.Channel.Conn().Read(buf)
		if err != nil {
			return err
		}
		c.Logger.Warn("dropped bytes received during connection setup", zap.Int("n", n), zap.String("state", c.State().String()))
		return nil

	case DisconnectRequested, Disconnected:
		return io.EOF

	default:
		return fmt.Errorf("%w: unknown state %s", ErrMalformedMessage, c.State())
	}
}

func (c *Conn) currentReqSnapshot() *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentReq
}

// hasBody reports whether head carries a body that needs streaming.
// net/http sets Body to the http.NoBody sentinel whenever the message
// provably has none (e.g. a CONNECT request, a 204 response).
func hasBody(head any) bool {
	b := bodyOf(head)
	return b != nil && b != http.NoBody
}

func bodyOf(head any) io.ReadCloser {
	switch v := head.(type) {
	case *http.Request:
		return v.Body
	case *http.Response:
		return v.Body
	}
	return http.NoBody
}

func isGracefulClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		return false
	}
	return false
}

// classifyReadError labels a non-graceful, non-timeout read failure as a
// peer reset unless it's already classified by readOnce as a malformed
// message — errors.Is(err, ErrMalformedMessage) must keep working through
// the chain, so an already-classified error is returned unwrapped.
func classifyReadError(err error) error {
	if errors.Is(err, ErrMalformedMessage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPeerReset, err)
}

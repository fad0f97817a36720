// Package serverconn implements the ServerSide collaborator of spec.md
// §4.4: the peer connection to an origin server or chained proxy, driving
// the connection flow of §4.4/§4.5 and streaming the response back to the
// owning client connection via Owner.Respond. Grounded on
// ClientToProxyConnection.connectToServer, https.go/connect.go's
// ConnectMitm/ConnectHTTPMitm, and loopcopy.go's forwarding loop.
package serverconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/relayproxy/internal/activity"
	"github.com/relaykit/relayproxy/internal/dialer"
	"github.com/relaykit/relayproxy/internal/flow"
	"github.com/relaykit/relayproxy/internal/peerconn"
	"github.com/relaykit/relayproxy/internal/resolver"
)

// Owner is the narrow view of ClientSide (spec.md §3) that ServerConn
// needs: saturation coupling, connect-flow coordination, and the reply
// path. It is satisfied by clientconn.ClientConn. Defined here rather than
// imported from clientconn to keep the dependency one-directional
// (clientconn imports serverconn, never the reverse).
type Owner interface {
	// FlowStarted is called once per flow attempt, before any step runs
	// (spec.md §4.3 "Connect-flow coordination": stop reading, increment
	// connecting).
	FlowStarted(s *ServerConn)
	// FlowSucceeded is called once the flow reaches AWAITING_INITIAL.
	FlowSucceeded(s *ServerConn, suppressed bool)
	// FlowFailed is called on the first failing step. The owner decides
	// whether to retry (chained-proxy fallback) or synthesize a 502.
	FlowFailed(s *ServerConn, err error)
	// BecameSaturated/BecameWriteable propagate this ServerConn's
	// writability to the saturation-coupling logic (spec.md §4.3).
	BecameSaturated(s *ServerConn)
	BecameWriteable(s *ServerConn)
	// Respond hands a parsed response head, body chunk, or raw tunneled
	// bytes back to the client side. obj is *http.Response for the
	// initial head, peerconn.Chunk for a body piece, or peerconn.Raw while
	// tunneling.
	Respond(s *ServerConn, obj any)
	// ServerDisconnected is called exactly once when this ServerConn
	// terminates. Named distinctly from peerconn.Handler.Disconnected (which
	// ClientConn also implements for its own Conn) since Go methods cannot
	// be overloaded by signature.
	ServerDisconnected(s *ServerConn)
	// ConnectEstablished writes the CONNECT-success response on the
	// client leg and, if MITM applies, performs the client-side TLS
	// handshake and channel upgrade (spec.md §4.4 step 5).
	ConnectEstablished(s *ServerConn) error
	// EnterClientTunneling transitions the client leg to TUNNELING for a
	// plain (non-MITM) CONNECT tunnel.
	EnterClientTunneling(s *ServerConn)
}

// Config bundles the per-attempt routing decision a ClientConn computes
// (spec.md §4.3 steps 2-3) before constructing or reusing a ServerConn.
type Config struct {
	// Authority is the address actually dialed: the chained proxy's
	// authority when ChainAuthority is set, else UltimateAuthority.
	Authority string
	// UltimateAuthority is the final destination (spec.md §3).
	UltimateAuthority string
	// ChainAuthority is non-empty when forwarding through a chained
	// proxy.
	ChainAuthority string
	Transport      dialer.Transport
	// TLSConfig, if non-nil, is used for the transport-leg TLS handshake
	// (spec.md §4.4 step 4): either straight to an HTTPS origin, or to a
	// TLS-speaking chained proxy.
	TLSConfig *tls.Config
	// MITM is true when the original client request was CONNECT and
	// interception is enabled; the flow asks Owner to terminate TLS on
	// the client leg too and continue parsing decrypted HTTP rather than
	// raw-tunneling.
	MITM bool
	// SNIHost is the hostname MITM leaf certificates are signed for.
	SNIHost string
	// UseDNSSEC routes the DNS-resolve step through a verified resolver.
	UseDNSSEC bool
	// IdleTimeout bounds how long this ServerConn's channel may sit with
	// no read activity before Idle() fires, mirroring the client-facing
	// channel's own idle timeout (spec.md §4.3 Disconnect: a tunnel that
	// outlives its client must still be reclaimable).
	IdleTimeout time.Duration
}

// ServerConn is the PeerConnection endpoint connecting to an origin or
// chained proxy (spec.md §3 "ServerSide").
type ServerConn struct {
	Conn *peerconn.Conn

	Config
	InitialRequest *http.Request
	// Verbatim is a pre-rewrite snapshot of the request currently being
	// served, set by ClientConn before Start/Write. Header-stripping
	// (ModifyRequestHeaders) removes the Connection header from
	// InitialRequest, so close-decision logic (spec.md §4.3 "Respond")
	// reads keep-alive-ness from here instead.
	Verbatim *http.Request
	// PendingCloseServer/PendingCloseClient record the close decision
	// ClientConn computed when the current response's head arrived, applied
	// once the response's terminal event (a body-less head, or the last
	// chunk) is reached.
	PendingCloseServer bool
	PendingCloseClient bool
	// ResponseComplete is false from the moment a response head is
	// dispatched to Respond until its terminal event (body-less head or
	// last chunk) is reached. Set by ClientConn.respondHead/finishResponse
	// and read by ServerDisconnected to classify a mid-response peer reset
	// (spec.md §7) separately from a disconnect between exchanges.
	ResponseComplete bool

	owner      Owner
	dialer     dialer.Dialer
	resolver   resolver.Resolver
	recorder   *activity.Recorder
	flowCtx    activity.FlowContext
	clientAddr net.Addr
	idle       bool

	logger *zap.Logger

	dialAddr net.Addr
}

// New constructs a ServerConn that has not yet begun connecting. Call
// Start to run the connection flow.
func New(cfg Config, initialReq *http.Request, owner Owner, d dialer.Dialer, r resolver.Resolver, rec *activity.Recorder, flowCtx activity.FlowContext, clientAddr net.Addr, logger *zap.Logger) *ServerConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ServerConn{
		Config:         cfg,
		InitialRequest: initialReq,
		owner:          owner,
		dialer:         d,
		resolver:       r,
		recorder:       rec,
		flowCtx:        flowCtx,
		clientAddr:     clientAddr,
		logger:         logger,
	}
	s.Conn = peerconn.NewConn(nil, s, logger)
	return s
}

// Reusable reports whether this ServerConn may serve further non-CONNECT
// requests to the same authority, per spec.md §8 invariant 4: a CONNECT
// connection is created fresh and never entered into the reuse map.
func (s *ServerConn) Reusable() bool {
	return s.InitialRequest.Method != http.MethodConnect
}

func (s *ServerConn) State() peerconn.State { return s.Conn.State() }

// FlowCtx returns the activity.FlowContext recorded for this connection,
// so callers outside this package (ClientConn, forwarding client-body
// chunks) can correlate their own Recorder events against the same
// client-address/authority/transport tuple used for every server-side
// event.
func (s *ServerConn) FlowCtx() activity.FlowContext { return s.flowCtx }

// Start builds and runs the connection flow described by spec.md §4.4 on
// the caller's goroutine; the blocking DNS/dial/handshake calls are the
// mechanism by which the owning ClientConn's "stop reading while
// connecting" requirement is naturally satisfied (this call blocks the
// same goroutine driving the client's read loop, spec.md §9 design note on
// explicit, inspectable flow steps). Returns once the flow either reaches
// AWAITING_INITIAL or fails; FlowSucceeded/FlowFailed have already been
// called on Owner by the time Start returns.
func (s *ServerConn) Start(ctx context.Context) {
	s.owner.FlowStarted(s)
	result := s.buildFlow(ctx, s.UseDNSSEC).Run(ctx)
	if result.Err != nil {
		s.owner.FlowFailed(s, result.Err)
		return
	}
	s.enterReady(result.Suppressed)
	s.owner.FlowSucceeded(s, result.Suppressed)
}

// Retry reconfigures this ServerConn in place (spec.md §4.3
// "Connect-flow coordination": failure path retries on the SAME ServerSide
// object) and re-runs the flow, used for chained-proxy fallback (spec.md
// §8-S5).
func (s *ServerConn) Retry(ctx context.Context, cfg Config) {
	s.Config = cfg
	s.Start(ctx)
}

func (s *ServerConn) buildFlow(ctx context.Context, dnssec bool) *flow.Flow {
	steps := []flow.Step{
		&flow.FuncStep{
			AppliesFn: func() bool { return net.ParseIP(hostOf(s.Authority)) == nil },
			ExecuteFunc: func(ctx context.Context) error {
				addr, err := s.resolver.Resolve(ctx, s.Authority, dnssec)
				if err != nil {
					return fmt.Errorf("%w: %s", resolver.ErrUnknownHost, s.Authority)
				}
				s.dialAddr = addr
				return nil
			},
		},
		&flow.FuncStep{
			ExecuteFunc: func(ctx context.Context) error {
				addr := s.dialAddr
				if addr == nil {
					addr = directAddr(s.Authority, s.Transport)
				}
				conn, err := s.dialer.Dial(ctx, s.Transport, addr, s.clientAddr)
				if err != nil {
					return fmt.Errorf("%w: connect to %s: %w", flow.ErrConnectFailed, s.Authority, err)
				}
				s.Conn.SetChannel(peerconn.NewChannel(conn, peerconn.SideServer, s.IdleTimeout))
				return nil
			},
		},
		&flow.FuncStep{
			AppliesFn: func() bool {
				return s.ChainAuthority != "" && (s.InitialRequest.Method == http.MethodConnect || s.TLSConfig != nil)
			},
			ExecuteFunc: s.negotiateChainConnect,
		},
		&flow.FuncStep{
			AppliesFn:   func() bool { return s.TLSConfig != nil },
			ExecuteFunc: s.handshakeUpstreamTLS,
		},
		&flow.FuncStep{
			AppliesFn: func() bool { return s.InitialRequest.Method == http.MethodConnect },
			Suppress:  true,
			ExecuteFunc: func(ctx context.Context) error {
				return s.owner.ConnectEstablished(s)
			},
		},
	}
	return flow.New(steps...)
}

// negotiateChainConnect issues "CONNECT ultimateAuthority HTTP/1.1" to the
// chained proxy already dialed in the previous step and awaits a 2xx,
// grounded on https.go's NewConnectDialToProxyWithHandler (teacher's
// connectReq.Write + http.ReadResponse pattern).
func (s *ServerConn) negotiateChainConnect(ctx context.Context) error {
	s.Conn.SetState(peerconn.NegotiatingConnect)
	conn := s.Conn.Channel.Conn()
	line := "CONNECT " + s.UltimateAuthority + " HTTP/1.1\r\nHost: " + s.UltimateAuthority + "\r\n\r\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: write CONNECT to chain proxy: %w", flow.ErrConnectFailed, err)
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return fmt.Errorf("%w: read CONNECT response from chain proxy: %w", flow.ErrConnectFailed, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", flow.ErrChainedConnectRefused, resp.Status)
	}
	s.Conn.SetChannel(peerconn.NewChannel(&prebufferedConn{Conn: conn, br: br}, peerconn.SideServer, s.IdleTimeout))
	return nil
}

func (s *ServerConn) handshakeUpstreamTLS(ctx context.Context) error {
	s.Conn.SetState(peerconn.Handshaking)
	raw := s.Conn.Channel.Conn()
	tlsConn := tls.Client(raw, s.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: upstream tls handshake: %w", flow.ErrTLSHandshakeFailed, err)
	}
	s.Conn.Channel.Upgrade(tlsConn)
	return nil
}

// enterReady transitions the connection to its post-flow state and, unless
// the flow was suppressed by a CONNECT response, forwards the buffered
// initial request, then starts the read loop that streams the response
// (or raw bytes, for a tunnel) back to the client.
func (s *ServerConn) enterReady(suppressed bool) {
	if s.InitialRequest.Method == http.MethodConnect && !s.MITM {
		s.Conn.SetState(peerconn.Tunneling)
		s.owner.EnterClientTunneling(s)
		go s.Conn.Run()
		return
	}
	s.Conn.SetState(peerconn.AwaitingInitial)
	if !suppressed {
		s.Write(s.InitialRequest)
	}
	go s.Conn.Run()
}

// Write forwards req as the next request-head on this connection, used both
// for the very first request (via enterReady) and for subsequent requests
// on a reused ServerConn.
func (s *ServerConn) Write(req *http.Request) {
	s.InitialRequest = req
	s.sendInitial(req)
}

func (s *ServerConn) sendInitial(req *http.Request) {
	chunked := req.TransferEncoding != nil
	if err := s.Conn.Channel.WriteHead(req); err != nil {
		s.logger.Warn("write initial request failed", zap.Error(err))
		return
	}
	if err := s.Conn.Channel.WriteHeadEnd(chunked); err != nil {
		s.logger.Warn("write request head end failed", zap.Error(err))
		return
	}
	if s.recorder != nil {
		s.recorder.RequestSent(s.flowCtx, req)
	}
}

// WriteChunk forwards one client body chunk to the server leg, used while
// the client connection is AWAITING_CHUNK on the in-flight request.
func (s *ServerConn) WriteChunk(c peerconn.Chunk) error {
	return s.Conn.Channel.WriteChunk(c)
}

// WriteRaw forwards tunneled bytes to the server leg.
func (s *ServerConn) WriteRaw(data []byte) error {
	return s.Conn.Channel.WriteRaw(data)
}

func (s *ServerConn) SetAutoRead(on bool) {
	if s.Conn.Channel != nil {
		s.Conn.Channel.SetAutoRead(on)
	}
}

func (s *ServerConn) Writable() bool {
	return s.Conn.Channel == nil || s.Conn.Channel.Writable()
}

func (s *ServerConn) Disconnect() {
	s.Conn.Stop()
	if s.Conn.Channel != nil {
		_ = s.Conn.Channel.Close()
	}
}

// --- peerconn.Handler ---

func (s *ServerConn) ReadInitial(head any) peerconn.State {
	resp, ok := head.(*http.Response)
	if !ok {
		return peerconn.AwaitingInitial
	}
	if s.recorder != nil {
		s.recorder.ResponseReceived(s.flowCtx, resp)
	}
	s.owner.Respond(s, resp)
	return s.Conn.State()
}

func (s *ServerConn) ReadChunk(c peerconn.Chunk) {
	if s.recorder != nil {
		s.recorder.BytesReceivedFromServer(s.flowCtx, len(c.Data))
	}
	s.owner.Respond(s, c)
}

func (s *ServerConn) ReadRaw(r peerconn.Raw) {
	s.owner.Respond(s, r)
}

func (s *ServerConn) Connected() {}

func (s *ServerConn) Disconnected() {
	s.owner.ServerDisconnected(s)
}

func (s *ServerConn) Idle() {
	s.idle = true
	s.Disconnect()
}

func (s *ServerConn) Exception(err error) {
	if errors.Is(err, net.ErrClosed) {
		s.logger.Debug("server connection closed")
		return
	}
	if errors.Is(err, peerconn.ErrPeerReset) {
		s.logger.Debug("server connection reset", zap.Error(err))
		return
	}
	s.logger.Warn("server connection error", zap.Error(err))
}

// WritabilityChanged propagates this connection's own writability to the
// owning ClientConn (spec.md §4.3 "Saturation coupling": any one ServerSide
// becoming unwritable pauses the client; becoming writable is reconciled
// against every other ServerSide by the owner).
func (s *ServerConn) WritabilityChanged(writable bool) {
	if writable {
		s.owner.BecameWriteable(s)
	} else {
		s.owner.BecameSaturated(s)
	}
}

func hostOf(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

func directAddr(authority string, transport dialer.Transport) net.Addr {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			break
		}
		port = port*10 + int(c-'0')
	}
	ip := net.ParseIP(host)
	if transport == dialer.UDP {
		return &net.UDPAddr{IP: ip, Port: port}
	}
	return &net.TCPAddr{IP: ip, Port: port}
}

// prebufferedConn prepends a bufio.Reader's unread bytes ahead of further
// conn.Read calls, used after negotiateChainConnect consumes the chained
// proxy's CONNECT response with a throwaway bufio.Reader.
type prebufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *prebufferedConn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// Package clientconn implements the ClientSide collaborator of spec.md
// §4.3: the peer connection accepted from a client, responsible for
// authentication, routing/chaining decisions, header rewriting, and
// coordinating the one or more ServerConns it drives. Grounded on
// ClientToProxyConnection.doReadHTTPInitial/.respond, its saturation
// coupling methods, and its connect-flow coordination fields/methods.
package clientconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/relayproxy/internal/activity"
	"github.com/relaykit/relayproxy/internal/collab"
	"github.com/relaykit/relayproxy/internal/dialer"
	"github.com/relaykit/relayproxy/internal/flow"
	"github.com/relaykit/relayproxy/internal/httputil"
	"github.com/relaykit/relayproxy/internal/peerconn"
	"github.com/relaykit/relayproxy/internal/proxyauth"
	"github.com/relaykit/relayproxy/internal/resolver"
	"github.com/relaykit/relayproxy/internal/serverconn"
	"github.com/relaykit/relayproxy/internal/wsupgrade"
)

// Config bundles every collaborator and policy flag a ClientConn needs,
// mirroring spec.md §6's Options but expressed over the narrow internal
// interfaces so this package never imports the root module (which wires
// Config from the public Options).
type Config struct {
	Transparent             bool
	UseDNSSEC               bool
	Authenticator           proxyauth.Authenticator
	ChainProxyManager       collab.ChainProxyManager
	RequestFilter           collab.RequestFilter
	ResponseFilters         collab.ResponseFilterProvider
	Recorder                *activity.Recorder
	MITM                    bool
	SslContextFactory       collab.SslContextFactory
	PreventCanonicalization bool
	ViaProxyID              string
	Logger                  *zap.Logger
	Resolver                resolver.Resolver
	Dialer                  dialer.Dialer
	IdleTimeout             time.Duration
}

// ClientConn is the PeerConnection endpoint accepted from a client (spec.md
// §3 "ClientSide"). It implements serverconn.Owner for every ServerConn it
// creates, and peerconn.Handler for its own Conn.
type ClientConn struct {
	Conn *peerconn.Conn

	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	servers map[string]*serverconn.ServerConn
	// allServers tracks every ServerConn this ClientConn has created,
	// including CONNECT tunnels (which are deliberately absent from
	// servers, since they're never reused). Run's disconnect-all loop and
	// the saturation-coupling logic both need the complete set, not just
	// the reusable subset (spec.md §3, §4.3 Disconnect).
	allServers map[*serverconn.ServerConn]struct{}
	// saturatedServers holds the subset of allServers currently reporting
	// unwritable, so BecameWriteable can tell whether it's safe to resume
	// reading on the client (only once every ServerSide is writable again,
	// spec.md §4.3 "Saturation coupling").
	saturatedServers map[*serverconn.ServerConn]struct{}
	// currentServer receives client-originated body chunks and raw tunneled
	// bytes for the exchange currently AWAITING_CHUNK or TUNNELING. It is
	// set from this ClientConn's own read-loop goroutine and also read by
	// ServerDisconnected on a ServerConn's goroutine, so every access holds mu.
	currentServer *serverconn.ServerConn

	// mitmTunnelHost is the SNI host of the most recently established MITM
	// CONNECT tunnel, set by ConnectEstablished once the client-facing TLS
	// handshake completes. While non-empty, ReadInitial is parsing requests
	// decrypted off that tunnel, which arrive in origin-form with no scheme
	// at all — ParseHostAndPort/the tlsCfg guard can't tell such a request
	// apart from a plain HTTP one on their own, so ReadInitial consults this
	// field instead of re-deriving TLS intent from the request alone (spec.md
	// §4.3 "Supplemented from original_source": MITM HTTP loop requires a new
	// ServerConn per tunneled authority with TLS re-established, not a
	// downgrade to plaintext).
	mitmTunnelHost string

	// clientWriteMu serializes writes onto the client channel across the
	// possibly-many ServerConn goroutines that call Respond concurrently
	// (spec.md §3 "transitions are serialized per-connection" extended to
	// cover the reply path of reused connections).
	clientWriteMu sync.Mutex

	connecting atomic.Int32
	connected  atomic.Int32
	reused     atomic.Int32

	chainingDisabled sync.Map // *http.Request -> struct{}
}

// New constructs a ClientConn ready to run once accepted. conn is the raw
// accepted socket.
func New(conn net.Conn, cfg Config) *ClientConn {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = activity.NewRecorder()
	}
	cc := &ClientConn{
		cfg:              cfg,
		logger:           cfg.Logger,
		servers:          make(map[string]*serverconn.ServerConn),
		allServers:       make(map[*serverconn.ServerConn]struct{}),
		saturatedServers: make(map[*serverconn.ServerConn]struct{}),
	}
	ch := peerconn.NewChannel(conn, peerconn.SideClient, cfg.IdleTimeout)
	if cfg.PreventCanonicalization {
		ch.EnablePreventCanonicalization()
	}
	cc.Conn = peerconn.NewConn(ch, cc, cfg.Logger)
	return cc
}

// Run drives this client connection to completion, closing every ServerConn
// it owns once the client leg terminates. Call once per accepted
// connection, on that connection's own goroutine.
func (cc *ClientConn) Run() {
	cc.Conn.SetState(peerconn.AwaitingInitial)
	cc.Conn.Run()
	cc.mu.Lock()
	servers := make([]*serverconn.ServerConn, 0, len(cc.allServers))
	for s := range cc.allServers {
		servers = append(servers, s)
	}
	cc.mu.Unlock()
	for _, s := range servers {
		s.Disconnect()
	}
}

// --- peerconn.Handler ---

func (cc *ClientConn) ReadInitial(head any) peerconn.State {
	req, ok := head.(*http.Request)
	if !ok {
		return peerconn.DisconnectRequested
	}
	verbatim := cloneRequest(req)

	if authErr := proxyauth.CheckReason(req, cc.cfg.Authenticator); authErr != nil {
		cc.logger.Debug("client authentication rejected", zap.Error(authErr))
		_ = cc.writeSynthResponse(httputil.BuildProxyAuthRequired())
		return peerconn.AwaitingProxyAuthentication
	}

	insideMITMTunnel := cc.mitmTunnelHost != ""

	var authority string
	if insideMITMTunnel {
		authority = httputil.ParseHostAndPortDefaultTLS(req)
	} else {
		authority = httputil.ParseHostAndPort(req)
	}
	if authority == "" {
		cc.logger.Debug("rejecting request", zap.Error(httputil.ErrBadRequest))
		_ = cc.writeSynthResponse(httputil.BuildBadGateway(requestURIString(req)))
		cc.disconnectClient()
		return peerconn.DisconnectRequested
	}

	chainAuthority, transport, tlsCfg := cc.routeDecision(req, authority)
	effectiveAuthority := authority
	if chainAuthority != "" {
		effectiveAuthority = chainAuthority
	}

	flowCtx := activity.FlowContext{
		ClientAddress:   addrString(cc.Conn.RemoteAddr()),
		Transport:       transport.String(),
		ServerAuthority: authority,
		ChainAuthority:  chainAuthority,
	}
	cc.cfg.Recorder.RequestReceivedFromClient(flowCtx, req)

	mitm := cc.cfg.MITM && req.Method == http.MethodConnect && cc.cfg.SslContextFactory != nil
	requiresUpstreamTLS := mitm || insideMITMTunnel || (req.Method != http.MethodConnect && req.URL.Scheme == "https")
	if tlsCfg == nil && requiresUpstreamTLS {
		tlsCfg = &tls.Config{ServerName: hostOf(authority)}
	}

	if !cc.cfg.Transparent {
		cc.rewriteRequest(req, chainAuthority != "")
	}
	if cc.cfg.RequestFilter != nil {
		if filtered := cc.cfg.RequestFilter.Filter(req); filtered != nil {
			req = filtered
		}
	}

	var server *serverconn.ServerConn
	reused := false
	if req.Method != http.MethodConnect {
		cc.mu.Lock()
		server, reused = cc.servers[effectiveAuthority]
		cc.mu.Unlock()
	}

	if reused && server.State() != peerconn.Disconnected {
		cc.reused.Add(1)
		cc.setCurrentServer(server)
		server.Verbatim = verbatim
		server.Write(req)
	} else {
		server = serverconn.New(serverconn.Config{
			Authority:         effectiveAuthority,
			UltimateAuthority: authority,
			ChainAuthority:    chainAuthority,
			Transport:         transport,
			TLSConfig:         tlsCfg,
			MITM:              mitm,
			SNIHost:           hostOf(authority),
			UseDNSSEC:         cc.cfg.UseDNSSEC,
			IdleTimeout:       cc.cfg.IdleTimeout,
		}, req, cc, cc.cfg.Dialer, cc.cfg.Resolver, cc.cfg.Recorder, flowCtx, cc.Conn.RemoteAddr(), cc.logger)
		server.Verbatim = verbatim
		cc.mu.Lock()
		cc.allServers[server] = struct{}{}
		cc.mu.Unlock()
		cc.setCurrentServer(server)
		server.Start(context.Background())
	}

	return cc.Conn.State()
}

func (cc *ClientConn) ReadChunk(c peerconn.Chunk) {
	server := cc.getCurrentServer()
	if server == nil {
		return
	}
	cc.cfg.Recorder.BytesReceivedFromClient(server.FlowCtx(), len(c.Data))
	if err := server.WriteChunk(c); err != nil {
		cc.logger.Warn("forward request chunk to server failed", zap.Error(err))
	}
}

func (cc *ClientConn) ReadRaw(r peerconn.Raw) {
	server := cc.getCurrentServer()
	if server == nil {
		return
	}
	if err := server.WriteRaw(r.Data); err != nil {
		cc.logger.Warn("forward tunneled bytes to server failed", zap.Error(err))
	}
}

func (cc *ClientConn) setCurrentServer(s *serverconn.ServerConn) {
	cc.mu.Lock()
	cc.currentServer = s
	cc.mu.Unlock()
}

func (cc *ClientConn) getCurrentServer() *serverconn.ServerConn {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.currentServer
}

func (cc *ClientConn) Connected() {}

func (cc *ClientConn) Disconnected() {}

func (cc *ClientConn) Idle() {
	cc.logger.Debug("client connection idle", zap.Error(peerconn.ErrIdle))
	cc.disconnectClient()
}

func (cc *ClientConn) Exception(err error) {
	cc.logger.Debug("client connection error", zap.Error(err))
}

// WritabilityChanged propagates the client channel's own writability to
// every ServerSide it owns (spec.md §4.3 "Saturation coupling").
func (cc *ClientConn) WritabilityChanged(writable bool) {
	cc.mu.Lock()
	servers := make([]*serverconn.ServerConn, 0, len(cc.allServers))
	for s := range cc.allServers {
		servers = append(servers, s)
	}
	cc.mu.Unlock()
	for _, s := range servers {
		s.SetAutoRead(writable)
	}
}

// --- serverconn.Owner ---

func (cc *ClientConn) FlowStarted(s *serverconn.ServerConn) {
	cc.connecting.Add(1)
	cc.Conn.Channel.SetAutoRead(false)
}

func (cc *ClientConn) FlowSucceeded(s *serverconn.ServerConn, suppressed bool) {
	if cc.connecting.Add(-1) == 0 {
		cc.Conn.Channel.SetAutoRead(true)
	}
	cc.connected.Add(1)
	if s.Reusable() {
		cc.mu.Lock()
		cc.servers[s.Authority] = s
		cc.mu.Unlock()
	}
}

func (cc *ClientConn) FlowFailed(s *serverconn.ServerConn, err error) {
	if cc.connecting.Add(-1) == 0 {
		cc.Conn.Channel.SetAutoRead(true)
	}
	cc.logger.Warn("connect flow failed", zap.String("authority", s.Authority), zap.Error(err))

	if s.ChainAuthority != "" && cc.cfg.ChainProxyManager != nil &&
		cc.cfg.ChainProxyManager.AllowFallbackToUnchainedConnection(s.InitialRequest) {
		cc.markChainingDisabled(s.InitialRequest)
		direct := serverconn.Config{
			Authority:         s.UltimateAuthority,
			UltimateAuthority: s.UltimateAuthority,
			Transport:         dialer.TCP,
			MITM:              s.MITM,
			SNIHost:           s.SNIHost,
			UseDNSSEC:         cc.cfg.UseDNSSEC,
			IdleTimeout:       cc.cfg.IdleTimeout,
		}
		if s.MITM || s.InitialRequest.URL.Scheme == "https" {
			direct.TLSConfig = &tls.Config{ServerName: hostOf(s.UltimateAuthority)}
		}
		s.Retry(context.Background(), direct)
		return
	}

	uri := requestURIString(s.InitialRequest)
	_ = cc.writeSynthResponse(httputil.BuildBadGateway(uri))
	cc.disconnectClient()
}

// BecameSaturated pauses reading on the client the moment any one
// ServerSide reports unwritable (spec.md §4.3 "Saturation coupling").
func (cc *ClientConn) BecameSaturated(s *serverconn.ServerConn) {
	cc.mu.Lock()
	cc.saturatedServers[s] = struct{}{}
	cc.mu.Unlock()
	cc.Conn.Channel.SetAutoRead(false)
}

// BecameWriteable resumes reading on the client only once every ServerSide
// this ClientConn owns is writable again (spec.md §4.3: "When every
// ServerSide is writable again: resume reading on client").
func (cc *ClientConn) BecameWriteable(s *serverconn.ServerConn) {
	cc.mu.Lock()
	delete(cc.saturatedServers, s)
	anySaturated := len(cc.saturatedServers) > 0
	cc.mu.Unlock()
	if !anySaturated {
		cc.Conn.Channel.SetAutoRead(true)
	}
}

func (cc *ClientConn) Respond(s *serverconn.ServerConn, obj any) {
	switch v := obj.(type) {
	case *http.Response:
		cc.respondHead(s, v)
	case peerconn.Chunk:
		cc.clientWriteMu.Lock()
		err := cc.Conn.Channel.WriteChunk(v)
		cc.clientWriteMu.Unlock()
		if err != nil {
			cc.logger.Warn("write response chunk to client failed", zap.Error(err))
		}
		if v.Last {
			cc.finishResponse(s)
		}
	case peerconn.Raw:
		cc.clientWriteMu.Lock()
		err := cc.Conn.Channel.WriteRaw(v.Data)
		cc.clientWriteMu.Unlock()
		if err != nil {
			cc.logger.Warn("write tunneled bytes to client failed", zap.Error(err))
		}
	}
}

// respondHead applies response-side header rewriting/filtering, computes
// the connection-close decision from the pre-rewrite request/response
// (spec.md §4.3 "Respond"), and writes the head onto the client channel.
func (cc *ClientConn) respondHead(s *serverconn.ServerConn, resp *http.Response) {
	s.ResponseComplete = false
	req := s.Verbatim
	if req == nil {
		req = s.InitialRequest
	}
	keepAlive := httputil.WantsKeepAlive(req.ProtoMajor, req.ProtoMinor, req.Header) &&
		httputil.WantsKeepAlive(resp.ProtoMajor, resp.ProtoMinor, resp.Header)
	closeDelimited := resp.ContentLength < 0 && !httputil.IsChunked(resp.Header)
	s.PendingCloseServer = !keepAlive || closeDelimited
	s.PendingCloseClient = s.PendingCloseServer

	if !cc.cfg.Transparent {
		httputil.ModifyResponseHeaders(resp, cc.cfg.ViaProxyID)
	}
	if cc.cfg.ResponseFilters != nil {
		if rf := cc.cfg.ResponseFilters.ResponseFilterFor(s.UltimateAuthority); rf != nil {
			if filtered := rf.Filter(resp); filtered != nil {
				resp = filtered
			}
		}
	}

	chunked := resp.TransferEncoding != nil

	cc.clientWriteMu.Lock()
	writeErr := cc.Conn.Channel.WriteHead(resp)
	if writeErr == nil {
		writeErr = cc.Conn.Channel.WriteHeadEnd(chunked)
	}
	cc.clientWriteMu.Unlock()
	if writeErr != nil {
		cc.logger.Warn("write response head to client failed", zap.Error(writeErr))
		return
	}

	if wsupgrade.IsUpgradeRequest(req) && wsupgrade.IsSwitchingProtocols(resp) {
		s.Conn.SetState(peerconn.Tunneling)
		cc.Conn.SetState(peerconn.Tunneling)
		return
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		cc.finishResponse(s)
	}
}

func (cc *ClientConn) finishResponse(s *serverconn.ServerConn) {
	s.ResponseComplete = true
	if s.PendingCloseServer {
		s.Disconnect()
	}
	if s.PendingCloseClient {
		cc.disconnectClient()
	}
}

// ServerDisconnected implements spec.md §4.3 "Disconnect": a ServerSide
// that resets mid-response (PeerReset while AwaitingChunk/Tunneling, §7's
// named policy) takes down the client immediately, truncated response and
// all; otherwise the client is only disconnected once no ServerSide
// remains connected at all.
func (cc *ClientConn) ServerDisconnected(s *serverconn.ServerConn) {
	cc.mu.Lock()
	wasCurrent := cc.currentServer == s
	midResponse := wasCurrent && !s.ResponseComplete
	for k, v := range cc.servers {
		if v == s {
			delete(cc.servers, k)
		}
	}
	delete(cc.allServers, s)
	noServersLeft := len(cc.allServers) == 0
	cc.mu.Unlock()

	if midResponse {
		cc.disconnectClient()
		return
	}
	if noServersLeft {
		cc.disconnectClient()
	}
}

// ConnectEstablished writes the CONNECT-success response and, when s.MITM
// is set, performs the client-facing TLS handshake and upgrades the client
// channel to continue HTTP parsing over the decrypted stream (spec.md
// §4.4 step 5, resolved in DESIGN.md to keep parsing HTTP post-handshake
// rather than dropping to raw tunneling, since interception is the point).
func (cc *ClientConn) ConnectEstablished(s *serverconn.ServerConn) error {
	if err := cc.writeSynthResponse(httputil.BuildConnectEstablished(cc.cfg.ViaProxyID)); err != nil {
		return err
	}
	if !s.MITM {
		return nil
	}
	tlsCfg, err := cc.cfg.SslContextFactory.ServerConfigFor(s.SNIHost)
	if err != nil {
		return fmt.Errorf("mitm server config for %s: %w", s.SNIHost, err)
	}
	raw := cc.Conn.Channel.Conn()
	tlsConn := tls.Server(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return fmt.Errorf("%w: mitm client handshake: %w", flow.ErrTLSHandshakeFailed, err)
	}
	cc.Conn.Channel.Upgrade(tlsConn)
	cc.mitmTunnelHost = s.SNIHost
	cc.Conn.SetState(peerconn.AwaitingInitial)
	return nil
}

func (cc *ClientConn) EnterClientTunneling(s *serverconn.ServerConn) {
	cc.Conn.SetState(peerconn.Tunneling)
}

// --- helpers ---

func (cc *ClientConn) routeDecision(req *http.Request, authority string) (chainAuthority string, transport dialer.Transport, tlsCfg *tls.Config) {
	transport = dialer.TCP
	if cc.cfg.ChainProxyManager == nil || cc.chainingDisabledFor(req) {
		return "", transport, nil
	}
	ca := cc.cfg.ChainProxyManager.GetHostAndPort(req)
	if ca == "" {
		return "", transport, nil
	}
	transport = cc.cfg.ChainProxyManager.GetTransportProtocol()
	if cc.cfg.ChainProxyManager.RequiresEncryption(req) {
		tlsCfg = cc.cfg.ChainProxyManager.GetSSLContext()
	}
	return ca, transport, tlsCfg
}

func (cc *ClientConn) chainingDisabledFor(req *http.Request) bool {
	_, ok := cc.chainingDisabled.Load(req)
	return ok
}

func (cc *ClientConn) markChainingDisabled(req *http.Request) {
	cc.chainingDisabled.Store(req, struct{}{})
}

// rewriteRequest applies the non-transparent request-line and header
// rewrite (spec.md §4.3 step 6): absolute-form requests are stripped down
// to origin-form unless forwarding through a chained proxy, which expects
// the absolute form.
func (cc *ClientConn) rewriteRequest(req *http.Request, chaining bool) {
	if !chaining && req.Method != http.MethodConnect && req.URL.IsAbs() {
		req.RequestURI = httputil.StripHost(req)
		req.URL.Scheme = ""
		req.URL.Host = ""
	}
	httputil.ModifyRequestHeaders(req, cc.cfg.ViaProxyID)
}

// writeSynthResponse writes a fully-buffered synthesized response (407,
// 502, CONNECT-established) onto the client channel.
func (cc *ClientConn) writeSynthResponse(resp *http.Response) error {
	cc.clientWriteMu.Lock()
	defer cc.clientWriteMu.Unlock()
	if err := cc.Conn.Channel.WriteHead(resp); err != nil {
		return err
	}
	if err := cc.Conn.Channel.WriteHeadEnd(false); err != nil {
		return err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	return cc.Conn.Channel.WriteChunk(peerconn.Chunk{Data: data, Last: true})
}

func (cc *ClientConn) disconnectClient() {
	cc.Conn.Stop()
	if cc.Conn.Channel != nil {
		_ = cc.Conn.Channel.Close()
	}
}

func cloneRequest(req *http.Request) *http.Request {
	clone := *req
	clone.Header = req.Header.Clone()
	return &clone
}

func requestURIString(req *http.Request) string {
	if req.URL != nil && req.URL.IsAbs() {
		return req.URL.String()
	}
	if req.Host != "" {
		return req.Host
	}
	return req.RequestURI
}

func hostOf(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

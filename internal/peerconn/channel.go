package peerconn

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oxtoacart/bpool"

	"github.com/relaykit/relayproxy/internal/http1parser"
)

// Side tells the channel which half of an HTTP/1.1 exchange it decodes:
// a client-facing channel reads requests, a server-facing channel reads
// responses.
type Side int

const (
	SideClient Side = iota
	SideServer
)

const (
	DefaultMaxInitialLineBytes = 8192
	DefaultMaxHeaderBytes      = 8192 * 2
	DefaultMaxChunkBytes       = 8192 * 2
)

// DefaultHighWaterMark/DefaultLowWaterMark bound the outbound data a
// Channel will let build up before reporting itself unwritable, matching
// Netty's own WriteBufferWaterMark defaults (64KiB/32KiB) that the
// teacher's underlying connections inherited implicitly.
const (
	DefaultHighWaterMark = 64 * 1024
	DefaultLowWaterMark  = 32 * 1024
)

var tunnelBufPool = bpool.NewBytePool(256, 32*1024)

// Channel is the BufferedChannel collaborator: a bidirectional, ordered
// byte-message transport over a net.Conn with writability signaling,
// auto-read gating and a pipeline of named codecs. It owns no state-machine
// logic of its own — Conn decides, from its current State, which of
// ReadHead/ReadBodyChunk/ReadRaw to call next.
type Channel struct {
	conn net.Conn
	br   *bufio.Reader
	side Side

	Pipeline *Pipeline

	autoRead atomic.Bool
	resume   chan struct{}
	tasks    chan func()

	writeMu sync.Mutex

	idleTimeout time.Duration

	bodyReader  io.ReadCloser
	chunkWriter io.WriteCloser

	writable atomic.Bool
	pending  atomic.Int64

	highWaterMark int64
	lowWaterMark  int64
	// writabilityHandler, when set, is called (outside writeMu) every time
	// pending crosses the high- or low-water mark — spec.md §4.3
	// "Saturation coupling". Wired once by Conn when this Channel is
	// installed (NewConn/SetChannel).
	writabilityHandler func(writable bool)

	maxInitialLine int
	maxHeader      int
	maxChunk       int

	// reqReader, when non-nil, replaces br for parsing client-facing
	// request heads so that non-canonical wire header casing survives
	// forwarding (spec.md's PreventCanonicalization option, grounded on the
	// teacher's Options.PreventCanonicalization + internal/http1parser).
	reqReader *http1parser.RequestReader
}

func NewChannel(conn net.Conn, side Side, idleTimeout time.Duration) *Channel {
	ch := &Channel{
		conn:           conn,
		br:             bufio.NewReaderSize(conn, DefaultMaxHeaderBytes),
		side:           side,
		Pipeline:       NewPipeline(CodecHTTPDecoder, CodecHTTPEncoder, CodecIdleTimer),
		resume:         make(chan struct{}, 1),
		tasks:          make(chan func(), 8),
		idleTimeout:    idleTimeout,
		maxInitialLine: DefaultMaxInitialLineBytes,
		maxHeader:      DefaultMaxHeaderBytes,
		maxChunk:       DefaultMaxChunkBytes,
		highWaterMark:  DefaultHighWaterMark,
		lowWaterMark:   DefaultLowWaterMark,
	}
	ch.autoRead.Store(true)
	ch.writable.Store(true)
	return ch
}

// SetWritabilityHandler installs fn to be called whenever this channel's
// outbound high/low water mark is crossed. Must be set before traffic
// flows; Conn wires it automatically when a Channel is installed.
func (ch *Channel) SetWritabilityHandler(fn func(writable bool)) {
	ch.writabilityHandler = fn
}

// EnablePreventCanonicalization switches a client-facing channel's request
// parsing over to internal/http1parser, which preserves the wire casing of
// forwarded header names instead of net/http's canonical form. Must be
// called before the first ReadHead.
func (ch *Channel) EnablePreventCanonicalization() {
	if ch.side != SideClient {
		return
	}
	ch.reqReader = http1parser.NewRequestReader(true, ch.conn)
}

// SetAutoRead gates inbound delivery. When disabled, Conn's read loop blocks
// on WaitReadable instead of consuming from the socket, so bytes accumulate
// in the kernel socket buffer — the mechanism backpressure coupling (spec
// §4.3 "Saturation coupling") relies on.
func (ch *Channel) SetAutoRead(on bool) {
	wasOff := !ch.autoRead.Swap(on)
	if on && wasOff {
		select {
		case ch.resume <- struct{}{}:
		default:
		}
	}
}

// WaitReadable blocks until auto-read is re-enabled or the channel closes.
func (ch *Channel) WaitReadable(stop <-chan struct{}) {
	if ch.autoRead.Load() {
		return
	}
	select {
	case <-ch.resume:
	case <-stop:
	}
}

// Post schedules a task on the channel's own goroutine (the reader
// goroutine draining Conn's run loop). Pipeline mutations must go through
// Post to avoid a handler removing a codec from within its own read
// callback.
func (ch *Channel) Post(task func()) {
	select {
	case ch.tasks <- task:
	default:
		// task queue is small and only ever carries pipeline mutations;
		// run synchronously rather than block the caller indefinitely.
		task()
	}
}

// DrainTasks runs any pending posted tasks. Called once per loop iteration
// by Conn.
func (ch *Channel) DrainTasks() {
	for {
		select {
		case t := <-ch.tasks:
			t()
		default:
			return
		}
	}
}

func (ch *Channel) refreshDeadline() {
	if ch.idleTimeout > 0 {
		_ = ch.conn.SetReadDeadline(time.Now().Add(ch.idleTimeout))
	}
}

// ReadHead parses the next HTTP head object: a *http.Request on a
// client-facing channel, a *http.Response on a server-facing channel
// (req is the matching request, required by http.ReadResponse).
func (ch *Channel) ReadHead(req *http.Request) (any, error) {
	ch.refreshDeadline()
	if ch.side == SideClient {
		if ch.reqReader != nil {
			r, err := ch.reqReader.ReadRequest()
			if err != nil {
				return nil, err
			}
			return r, nil
		}
		r, err := http.ReadRequest(ch.br)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := http.ReadResponse(ch.br, req)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// OpenBodyStream begins streaming the body of a wire-chunked head object.
// body is the *http.Request.Body/*http.Response.Body — already dechunked
// by net/http — and subsequent ReadBodyChunk calls pull from it.
func (ch *Channel) OpenBodyStream(body io.ReadCloser) {
	ch.bodyReader = body
}

// ReadBodyChunk pulls the next piece of a streaming body. Last is set once
// the body reader reaches EOF, at which point the internal stream is
// closed and cleared.
func (ch *Channel) ReadBodyChunk() (Chunk, error) {
	ch.refreshDeadline()
	buf := make([]byte, ch.maxChunk)
	n, err := ch.bodyReader.Read(buf)
	if n > 0 && err == nil {
		return Chunk{Data: buf[:n]}, nil
	}
	closeErr := ch.bodyReader.Close()
	ch.bodyReader = nil
	if err != nil && err != io.EOF {
		return Chunk{}, err
	}
	if closeErr != nil {
		return Chunk{}, closeErr
	}
	return Chunk{Data: buf[:n], Last: true}, nil
}

// ReadRaw reads whatever is available, up to the pooled buffer size, while
// TUNNELING.
func (ch *Channel) ReadRaw() (Raw, error) {
	ch.refreshDeadline()
	buf := tunnelBufPool.Get()
	n, err := ch.conn.Read(buf)
	if err != nil {
		tunnelBufPool.Put(buf)
		return Raw{}, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	tunnelBufPool.Put(buf)
	return Raw{Data: out}, nil
}

// WriteHead writes a request/response head line plus headers, without the
// body. Uses http.Request.Write/http.Response.Write's own header encoder
// (net/http.Header.Write) rather than hand-rolling wire framing.
func (ch *Channel) WriteHead(head any) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	switch v := head.(type) {
	case *http.Request:
		line := v.Method + " " + requestURI(v) + " " + v.Proto + "\r\n"
		if _, err := io.WriteString(ch.conn, line); err != nil {
			return err
		}
		if v.Host != "" && v.Header.Get("Host") == "" {
			if _, err := io.WriteString(ch.conn, "Host: "+v.Host+"\r\n"); err != nil {
				return err
			}
		}
		return v.Header.Write(ch.conn)
	case *http.Response:
		line := v.Proto + " " + v.Status + "\r\n"
		if _, err := io.WriteString(ch.conn, line); err != nil {
			return err
		}
		return v.Header.Write(ch.conn)
	default:
		return errUnsupportedHead
	}
}

func requestURI(r *http.Request) string {
	if r.URL.Opaque != "" {
		return r.URL.Opaque
	}
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// WriteHeadEnd finishes a head (the blank line terminating the header
// block) and, if chunked is true, prepares a chunked-encoding writer for
// the body that follows.
func (ch *Channel) WriteHeadEnd(chunked bool) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if _, err := io.WriteString(ch.conn, "\r\n"); err != nil {
		return err
	}
	if chunked {
		ch.chunkWriter = httputil.NewChunkedWriter(ch.conn)
	}
	return nil
}

// WriteChunk writes one body piece. When a chunked writer is active the
// data is chunk-encoded; otherwise it is written verbatim (the framing is
// already satisfied by a Content-Length head). last closes the chunked
// writer, emitting the terminating 0-length chunk, then performs the
// "empty-buffer flush trick" (spec §5) by writing a zero-length buffer to
// the underlying conn so callers get a reliable flushed signal.
func (ch *Channel) WriteChunk(c Chunk) error {
	ch.beginWrite(len(c.Data))
	ch.writeMu.Lock()
	err := ch.writeChunkLocked(c)
	ch.writeMu.Unlock()
	ch.endWrite(len(c.Data))
	return err
}

func (ch *Channel) writeChunkLocked(c Chunk) error {
	if ch.chunkWriter != nil {
		if len(c.Data) > 0 {
			if _, err := ch.chunkWriter.Write(c.Data); err != nil {
				return err
			}
		}
		if c.Last {
			err := ch.chunkWriter.Close()
			ch.chunkWriter = nil
			if err != nil {
				return err
			}
			return ch.writeEmptyLocked()
		}
		return nil
	}
	if len(c.Data) > 0 {
		if _, err := ch.conn.Write(c.Data); err != nil {
			return err
		}
	}
	if c.Last {
		return ch.writeEmptyLocked()
	}
	return nil
}

func (ch *Channel) writeEmptyLocked() error {
	_, err := ch.conn.Write(nil)
	return err
}

// WriteRaw forwards bytes verbatim while TUNNELING.
func (ch *Channel) WriteRaw(data []byte) error {
	ch.beginWrite(len(data))
	ch.writeMu.Lock()
	_, err := ch.conn.Write(data)
	ch.writeMu.Unlock()
	ch.endWrite(len(data))
	return err
}

// beginWrite/endWrite track outbound bytes in flight against the
// high/low water mark and fire writabilityHandler on every crossing,
// spec.md §4.3 "Saturation coupling" / §9's locking note: no I/O happens
// while writabilityHandler runs, since it's called outside writeMu.
func (ch *Channel) beginWrite(n int) {
	if n <= 0 {
		return
	}
	if ch.pending.Add(int64(n)) >= ch.highWaterMark {
		if ch.SetWritable(false) {
			ch.notifyWritability(false)
		}
	}
}

func (ch *Channel) endWrite(n int) {
	if n <= 0 {
		return
	}
	if ch.pending.Add(-int64(n)) <= ch.lowWaterMark {
		if ch.SetWritable(true) {
			ch.notifyWritability(true)
		}
	}
}

func (ch *Channel) notifyWritability(writable bool) {
	if ch.writabilityHandler != nil {
		ch.writabilityHandler(writable)
	}
}

// SetWritable updates the channel's writability flag, reporting whether
// it actually changed (so callers only fire a notification on a real
// crossing, not every write).
func (ch *Channel) SetWritable(w bool) bool {
	return ch.writable.Swap(w) != w
}

func (ch *Channel) Writable() bool {
	return ch.writable.Load()
}

func (ch *Channel) Conn() net.Conn {
	return ch.conn
}

func (ch *Channel) Reader() *bufio.Reader {
	return ch.br
}

func (ch *Channel) Close() error {
	return ch.conn.Close()
}

// Upgrade swaps the underlying net.Conn, e.g. after a TLS handshake
// installs a *tls.Conn in place of the raw socket. The bufio.Reader is
// rebuilt so no bytes already buffered from the old conn are lost only if
// the caller upgrades before any read past the handshake bytes themselves
// (true for both the HANDSHAKING step and MITM client-TLS installation,
// which happen before any HTTP parsing resumes).
func (ch *Channel) Upgrade(conn net.Conn) {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	ch.conn = conn
	ch.br = bufio.NewReaderSize(conn, ch.maxHeader)
	if ch.reqReader != nil {
		ch.reqReader = http1parser.NewRequestReader(true, conn)
	}
}

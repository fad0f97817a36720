package httputil

import (
	"io"
	"net/http"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// ProxyAuthenticateRealm is the literal realm spec.md §8 scenario 2 names.
const ProxyAuthenticateRealm = `Basic realm="Restricted Files"`

const proxyAuthBody = `<html>
<head><title>407 Proxy Authentication Required</title></head>
<body bgcolor="white">
<center><h1>407 Proxy Authentication Required</h1></center>
<hr><center>relayproxy</center>
</body>
</html>
`

// BuildProxyAuthRequired synthesizes the 407 response of spec.md §6/§8-S2.
// Grounded on ext/auth/basic.go's BasicUnauthorized, generalized to the
// spec's literal HTML body and bytebufferpool-backed body buffer.
func BuildProxyAuthRequired() *http.Response {
	buf := bytebufferpool.Get()
	_, _ = buf.WriteString(proxyAuthBody)
	body := &releasingReader{buf: buf}
	h := http.Header{}
	h.Set("Proxy-Authenticate", ProxyAuthenticateRealm)
	h.Set("Content-Type", "text/html; charset=UTF-8")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Date", HTTPDate())
	return &http.Response{
		StatusCode:    http.StatusProxyAuthRequired,
		Status:        "407 Proxy Authentication Required",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          body,
		ContentLength: int64(buf.Len()),
	}
}

// BuildBadGateway synthesizes the 502 response of spec.md §6: body
// "Bad Gateway: <uri>", Connection: close. Grounded on
// ClientToProxyConnection.writeBadGateway (ClientToProxyConnection.java:1074-1081).
func BuildBadGateway(uri string) *http.Response {
	buf := bytebufferpool.Get()
	_, _ = buf.WriteString("Bad Gateway: " + uri)
	body := &releasingReader{buf: buf}
	h := http.Header{}
	h.Set("Connection", "close")
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Date", HTTPDate())
	return &http.Response{
		StatusCode:    http.StatusBadGateway,
		Status:        "502 Bad Gateway",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          body,
		ContentLength: int64(buf.Len()),
	}
}

// BuildConnectEstablished synthesizes the CONNECT success response of
// spec.md §6/§8-S3. Grounded on
// ClientToProxyConnection.RespondCONNECTSuccessful
// (ClientToProxyConnection.java:323-339).
func BuildConnectEstablished(viaProxyID string) *http.Response {
	h := http.Header{}
	h.Set("Connection", "Keep-Alive")
	h.Set("Proxy-Connection", "Keep-Alive")
	AddVia(h, viaProxyID)
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 Connection established",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     h,
		Body:       http.NoBody,
	}
}

// releasingReader adapts a pooled *bytebufferpool.ByteBuffer to
// io.ReadCloser, returning the buffer to the pool on Close.
type releasingReader struct {
	buf *bytebufferpool.ByteBuffer
	off int
}

func (r *releasingReader) Read(p []byte) (int, error) {
	if r.off >= r.buf.Len() {
		return 0, io.EOF
	}
	n := copy(p, r.buf.B[r.off:])
	r.off += n
	return n, nil
}

func (r *releasingReader) Close() error {
	bytebufferpool.Put(r.buf)
	return nil
}

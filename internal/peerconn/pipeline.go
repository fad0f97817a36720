package peerconn

import "sync"

// Codec names a pipeline stage. The pipeline itself is bookkeeping only —
// Channel never consults it: Conn's State decides whether HTTP objects or
// raw bytes are read, and Channel.Upgrade installs TLS on the underlying
// net.Conn.
type Codec string

const (
	CodecHTTPDecoder Codec = "http-decoder"
	CodecHTTPEncoder Codec = "http-encoder"
	CodecIdleTimer    Codec = "idle-timer"
	CodecTLS          Codec = "tls"
)

// Pipeline is an ordered, mutable list of active codecs. Mutations must be
// posted onto the owning Channel's single goroutine (via Channel.Post) to
// avoid removing a codec from within its own read callback, which would
// deadlock a synchronous removal.
type Pipeline struct {
	mu     sync.Mutex
	codecs []Codec
}

func NewPipeline(initial ...Codec) *Pipeline {
	p := &Pipeline{codecs: append([]Codec{}, initial...)}
	return p
}

func (p *Pipeline) Add(c Codec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.codecs {
		if existing == c {
			return
		}
	}
	p.codecs = append(p.codecs, c)
}

func (p *Pipeline) Remove(c Codec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.codecs[:0]
	for _, existing := range p.codecs {
		if existing != c {
			out = append(out, existing)
		}
	}
	p.codecs = out
}

func (p *Pipeline) Has(c Codec) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.codecs {
		if existing == c {
			return true
		}
	}
	return false
}

func (p *Pipeline) Snapshot() []Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Codec{}, p.codecs...)
}

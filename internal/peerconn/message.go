package peerconn

// Chunk is a piece of a wire-chunked HTTP body. Last marks the terminating
// zero-length chunk (the "last-chunk marker" of spec §4.2).
type Chunk struct {
	Data []byte
	Last bool
}

// Raw is a verbatim byte slice forwarded while TUNNELING.
type Raw struct {
	Data []byte
}

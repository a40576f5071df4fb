package protocol

import "strings"

const (
	DefaultChunkCap       = 1024
	DefaultMaxHeaderBytes = 64 << 10
)

// Options configures request building and response framing.
type Options struct {
	// Host is sent in the Host header.
	Host string

	// BasePath is prefixed to every request path, e.g. "/fipe/api/v1/carros".
	BasePath string

	// ChunkCap bounds each read request while the body is drained.
	ChunkCap int

	// MaxHeaderBytes bounds the header block including its separator.
	MaxHeaderBytes int

	// MaxBodyBytes rejects responses declaring a larger Content-Length
	// before any body byte is read. Zero means no limit.
	MaxBodyBytes int

	// SingleReadHeader requires the first read to carry the whole header
	// block. Off by default: the header is accumulated across reads.
	SingleReadHeader bool

	// BareLF terminates request lines with "\n" instead of "\r\n", for
	// servers that only understand the non-conformant framing.
	BareLF bool
}

// DefaultOptions returns the framing defaults.
func DefaultOptions() Options {
	return Options{
		ChunkCap:       DefaultChunkCap,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkCap <= 0 {
		o.ChunkCap = DefaultChunkCap
	}
	if o.MaxHeaderBytes <= 0 {
		o.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	return o
}

// Response is one fully framed HTTP/1.1 response. HeaderBlock, Separator
// and Body concatenate back to the exact bytes received.
type Response struct {
	Status        int
	HeaderBlock   string
	Separator     string
	Body          []byte
	ContentLength int
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// StatusLine returns the first line of the header block.
func (r *Response) StatusLine() string {
	line, _, _ := strings.Cut(r.HeaderBlock, "\n")
	return strings.TrimSuffix(line, "\r")
}

// Header returns the first value of the named header, matched
// case-insensitively, or "" when absent.
func (r *Response) Header(name string) string {
	for _, f := range headerFields(r.HeaderBlock) {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Raw reassembles the response exactly as it was received.
func (r *Response) Raw() []byte {
	raw := make([]byte, 0, len(r.HeaderBlock)+len(r.Separator)+len(r.Body))
	raw = append(raw, r.HeaderBlock...)
	raw = append(raw, r.Separator...)
	return append(raw, r.Body...)
}

// pendingExchange is the response under assembly. accumulated never grows
// past targetLength.
type pendingExchange struct {
	targetLength int
	accumulated  []byte
}

func (p *pendingExchange) remaining() int {
	return p.targetLength - len(p.accumulated)
}

func (p *pendingExchange) complete() bool {
	return len(p.accumulated) == p.targetLength
}

package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	httperrors "github.com/nczempin/httpc-fipe/errors"
)

// DefaultPort is the HTTPS port used when Config.Port is zero.
const DefaultPort = 443

// Transport defines the interface for encrypted network transports.
// A Transport carries exactly one connection at a time.
type Transport interface {
	// Connect resolves Config.Host, opens a TCP connection and performs a
	// TLS handshake verifying the peer against the configured trust policy.
	Connect(ctx context.Context, cfg Config) error

	// Write sends the whole buffer over the connection.
	// Returns the number of bytes written
	Write(buf []byte) (int, error)

	// Read receives between 1 and len(buf) bytes. At end of stream it
	// returns a ConnectionClosed error wrapping io.EOF.
	Read(buf []byte) (int, error)

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Config describes the remote endpoint and trust policy for one connection.
type Config struct {
	Host string
	Port int

	// TLSConfig is the trust policy. Nil means system roots with hostname
	// verification against Host. It is cloned, never mutated.
	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Addr returns host:port, defaulting the port to 443.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) clientTLSConfig() *tls.Config {
	var tc *tls.Config
	if c.TLSConfig != nil {
		tc = c.TLSConfig.Clone()
	} else {
		tc = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tc.ServerName == "" {
		tc.ServerName = c.Host
	}
	return tc
}

func (c Config) validate() error {
	if c.Host == "" {
		return httperrors.NewInvalidArgumentError("host must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return httperrors.NewInvalidArgumentError("port out of range: " + strconv.Itoa(c.Port))
	}
	return nil
}

// Backend selects the socket I/O implementation underneath TLS.
type Backend string

const (
	BackendNet   Backend = "net"
	BackendUring Backend = "uring"
)

// New returns an unconnected Transport for the given backend.
func New(backend Backend) (Transport, error) {
	switch backend {
	case "", BackendNet:
		return NewTlsTransport(), nil
	case BackendUring:
		return NewUringTransport()
	default:
		return nil, httperrors.NewInvalidArgumentError("unknown transport backend " + strconv.Quote(string(backend)))
	}
}

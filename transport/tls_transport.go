package transport

import (
	"context"
	"errors"
	"net"
	"syscall"

	httperrors "github.com/nczempin/httpc-fipe/errors"
)

// TlsTransport implements the Transport interface using the net package
// for TCP and crypto/tls for the session.
type TlsTransport struct {
	tlsStream
}

// NewTlsTransport creates a new TlsTransport instance
func NewTlsTransport() *TlsTransport {
	return &TlsTransport{}
}

// Connect dials Config.Addr and performs the TLS handshake.
func (t *TlsTransport) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if t.conn != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorConnect, "already connected", nil)
	}

	addr := cfg.Addr()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyDialError(addr, err)
	}

	// Set TCP_NODELAY to disable Nagle's algorithm for lower latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "set TCP_NODELAY", err)
		}
	}

	return t.handshake(ctx, conn, cfg)
}

// Write sends data over the TLS connection
func (t *TlsTransport) Write(buf []byte) (int, error) {
	return t.write(buf)
}

// Read receives data from the TLS connection
func (t *TlsTransport) Read(buf []byte) (int, error) {
	return t.read(buf)
}

// Close closes the TLS connection
func (t *TlsTransport) Close() error {
	return t.close()
}

func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnect, "dns lookup for "+addr, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnect, "connection refused by "+addr, err)
	}
	return httperrors.NewTransportError(httperrors.TransportErrorConnect, "dial "+addr, err)
}

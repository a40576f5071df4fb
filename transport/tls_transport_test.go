package transport

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"testing"
	"time"

	httperrors "github.com/nczempin/httpc-fipe/errors"
	"github.com/nczempin/httpc-fipe/internal/tlstest"
)

func connectTo(t *testing.T, srv *tlstest.Server) *TlsTransport {
	t.Helper()

	transport := NewTlsTransport()
	err := transport.Connect(context.Background(), Config{
		Host:           srv.Host,
		Port:           srv.Port,
		TLSConfig:      srv.ClientConfig(),
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return transport
}

func TestTlsTransport_Construction(t *testing.T) {
	transport := NewTlsTransport()
	if transport == nil {
		t.Fatal("NewTlsTransport returned nil")
	}
	if transport.conn != nil {
		t.Error("New transport should have nil connection")
	}
}

func TestTlsTransport_Connect_Success(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {})

	transport := connectTo(t, srv)
	if transport.conn == nil {
		t.Error("Connection should not be nil after successful connect")
	}
	transport.Close()
}

func TestTlsTransport_Connect_Failure_DnsError(t *testing.T) {
	transport := NewTlsTransport()
	err := transport.Connect(context.Background(), Config{Host: "this-is-not-a-real-domain.invalid", Port: 443})

	if err == nil {
		t.Fatal("Expected error on DNS failure")
	}
	if !stderrors.Is(err, httperrors.ErrConnect) {
		t.Errorf("Expected ErrConnect, got %v", err)
	}
}

func TestTlsTransport_Connect_Failure_ConnectionRefused(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	transport := NewTlsTransport()
	err = transport.Connect(context.Background(), Config{Host: "127.0.0.1", Port: port})

	if err == nil {
		t.Fatal("Expected error on connection refused")
	}

	httpErr, ok := err.(*httperrors.HttpError)
	if !ok {
		t.Fatalf("Expected *errors.HttpError, got %T", err)
	}
	if httpErr.TransportErr != httperrors.TransportErrorConnect {
		t.Errorf("Expected TransportErrorConnect, got %v", httpErr.TransportErr)
	}
}

func TestTlsTransport_Connect_Failure_UntrustedCertificate(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {})

	transport := NewTlsTransport()
	// System roots do not contain the test certificate.
	err := transport.Connect(context.Background(), Config{
		Host:           srv.Host,
		Port:           srv.Port,
		ConnectTimeout: 2 * time.Second,
	})

	if err == nil {
		t.Fatal("Expected handshake failure")
	}
	if !stderrors.Is(err, httperrors.ErrTLS) {
		t.Errorf("Expected ErrTLS, got %v", err)
	}
	if transport.conn != nil {
		t.Error("Connection should stay nil after failed handshake")
	}
}

func TestTlsTransport_Connect_Failure_HostnameMismatch(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {})

	cfg := srv.ClientConfig()
	cfg.ServerName = "parallelum.com.br"

	transport := NewTlsTransport()
	err := transport.Connect(context.Background(), Config{
		Host:           srv.Host,
		Port:           srv.Port,
		TLSConfig:      cfg,
		ConnectTimeout: 2 * time.Second,
	})

	if !stderrors.Is(err, httperrors.ErrTLS) {
		t.Errorf("Expected ErrTLS, got %v", err)
	}
}

func TestTlsTransport_Connect_Failure_EmptyHost(t *testing.T) {
	transport := NewTlsTransport()
	err := transport.Connect(context.Background(), Config{})

	httpErr, ok := err.(*httperrors.HttpError)
	if !ok {
		t.Fatalf("Expected *errors.HttpError, got %T", err)
	}
	if httpErr.Type != httperrors.ErrorInvalidArgument {
		t.Errorf("Expected ErrorInvalidArgument, got %v", httpErr.Type)
	}
}

func TestTlsTransport_Write_Success(t *testing.T) {
	messageToSend := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	received := make(chan string, 1)

	srv := tlstest.NewServer(t, func(conn net.Conn) {
		received <- tlstest.ReadRequest(conn)
	})

	transport := connectTo(t, srv)
	defer transport.Close()

	n, err := transport.Write([]byte(messageToSend))
	if err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if n != len(messageToSend) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(messageToSend), n)
	}

	select {
	case msg := <-received:
		if msg != messageToSend {
			t.Errorf("Expected %q, got %q", messageToSend, msg)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timeout waiting for message")
	}
}

func TestTlsTransport_Read_Success(t *testing.T) {
	messageFromServer := "hello client"

	srv := tlstest.NewServer(t, func(conn net.Conn) {
		conn.Write([]byte(messageFromServer))
	})

	transport := connectTo(t, srv)
	defer transport.Close()

	buf := make([]byte, 1024)
	n, err := transport.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if received := string(buf[:n]); received != messageFromServer {
		t.Errorf("Expected %q, got %q", messageFromServer, received)
	}
}

func TestTlsTransport_Read_RespectsBufferSize(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {
		conn.Write([]byte("0123456789"))
	})

	transport := connectTo(t, srv)
	defer transport.Close()

	buf := make([]byte, 4)
	n, err := transport.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n < 1 || n > 4 {
		t.Errorf("Expected between 1 and 4 bytes, got %d", n)
	}
}

func TestTlsTransport_Read_Failure_ConnectionClosed(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {
		// Server closes right after the handshake
	})

	transport := connectTo(t, srv)
	defer transport.Close()

	buf := make([]byte, 1024)
	_, err := transport.Read(buf)

	if err == nil {
		t.Fatal("Expected error on closed connection")
	}
	if !stderrors.Is(err, httperrors.ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
	if !stderrors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF in chain, got %v", err)
	}
}

func TestTlsTransport_Read_Failure_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := tlstest.NewServer(t, func(conn net.Conn) {
		<-release
	})
	defer close(release)

	transport := NewTlsTransport()
	err := transport.Connect(context.Background(), Config{
		Host:        srv.Host,
		Port:        srv.Port,
		TLSConfig:   srv.ClientConfig(),
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer transport.Close()

	_, err = transport.Read(make([]byte, 16))
	if !stderrors.Is(err, httperrors.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

// stalledPeer accepts one TCP connection and never speaks TLS on it.
func stalledPeer(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		<-release
		conn.Close()
	}()
	t.Cleanup(func() {
		close(release)
		l.Close()
		<-done
	})
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestTlsTransport_Connect_Failure_HandshakeTimeout(t *testing.T) {
	host, port := stalledPeer(t)

	transport := NewTlsTransport()
	start := time.Now()
	err := transport.Connect(context.Background(), Config{
		Host:           host,
		Port:           port,
		ConnectTimeout: 300 * time.Millisecond,
	})
	if !stderrors.Is(err, httperrors.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect returned after %v", elapsed)
	}
}

func TestTlsTransport_Close_Idempotent(t *testing.T) {
	srv := tlstest.NewServer(t, func(conn net.Conn) {})

	transport := connectTo(t, srv)

	if err := transport.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if transport.conn != nil {
		t.Error("Connection should be nil after close")
	}
	if err := transport.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestTlsTransport_Write_Failure_NoConnection(t *testing.T) {
	transport := NewTlsTransport()

	_, err := transport.Write([]byte("test"))
	if !stderrors.Is(err, httperrors.ErrWrite) {
		t.Errorf("Expected ErrWrite, got %v", err)
	}
}

func TestTlsTransport_Read_Failure_NoConnection(t *testing.T) {
	transport := NewTlsTransport()

	_, err := transport.Read(make([]byte, 1024))
	if !stderrors.Is(err, httperrors.ErrRead) {
		t.Errorf("Expected ErrRead, got %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Host: "parallelum.com.br"}
	if got := cfg.Addr(); got != "parallelum.com.br:443" {
		t.Errorf("Expected default port 443, got %q", got)
	}

	tc := cfg.clientTLSConfig()
	if tc.ServerName != "parallelum.com.br" {
		t.Errorf("Expected ServerName to default to host, got %q", tc.ServerName)
	}
	if tc.InsecureSkipVerify {
		t.Error("Default trust policy must verify certificates")
	}

	shared := &tls.Config{MinVersion: tls.VersionTLS13}
	cfg.TLSConfig = shared
	cfg.clientTLSConfig()
	if shared.ServerName != "" {
		t.Error("Shared TLS config must not be mutated")
	}
}

func TestNew_Backends(t *testing.T) {
	tr, err := New(BackendNet)
	if err != nil {
		t.Fatalf("New(net) failed: %v", err)
	}
	if _, ok := tr.(*TlsTransport); !ok {
		t.Errorf("Expected *TlsTransport, got %T", tr)
	}

	if _, err := New("carrier-pigeon"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

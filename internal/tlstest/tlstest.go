// Package tlstest runs single-connection loopback TLS servers for tests.
// Each server accepts one connection, hands it to the supplied logic and
// closes it afterwards.
package tlstest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Server is a loopback TLS listener serving exactly one connection.
type Server struct {
	Host  string
	Port  int
	Roots *x509.CertPool

	// CertPEM is the server certificate, for clients that load trust from files.
	CertPEM []byte

	listener net.Listener
	done     chan struct{}
}

// ClientConfig returns a trust policy that accepts the server certificate.
func (s *Server) ClientConfig() *tls.Config {
	return &tls.Config{RootCAs: s.Roots, MinVersion: tls.VersionTLS12}
}

// NewServer starts a TLS server on 127.0.0.1 using the httptest certificate,
// which is valid for 127.0.0.1 and example.com. Cleanup is registered on t.
func NewServer(t testing.TB, serverLogic func(net.Conn)) *Server {
	t.Helper()

	// Only borrowed for its certificate.
	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	certs := certSrv.TLS.Certificates
	roots := x509.NewCertPool()
	roots.AddCert(certSrv.Certificate())
	certSrv.Close()

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: certs})
	if err != nil {
		t.Fatalf("Failed to create TLS test server: %v", err)
	}

	addr := listener.Addr().(*net.TCPAddr)
	s := &Server{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		Roots:    roots,
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certSrv.Certificate().Raw}),
		listener: listener,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if tc, ok := conn.(*tls.Conn); ok {
			if err := tc.Handshake(); err != nil {
				return
			}
		}
		serverLogic(conn)
	}()

	t.Cleanup(func() {
		listener.Close()
		<-s.done
	})

	return s
}

// ReadRequest reads from conn until a blank line ends the request head and
// returns what was read.
func ReadRequest(conn net.Conn) string {
	var req []byte
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		req = append(req, buf[:n]...)
		if err != nil || endsHead(req) {
			return string(req)
		}
	}
}

func endsHead(b []byte) bool {
	n := len(b)
	return (n >= 4 && string(b[n-4:]) == "\r\n\r\n") || (n >= 2 && string(b[n-2:]) == "\n\n")
}

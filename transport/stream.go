package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	httperrors "github.com/nczempin/httpc-fipe/errors"
)

// tlsStream is the TLS session shared by every backend. Backends differ only
// in how the raw connection underneath is produced.
type tlsStream struct {
	conn *tls.Conn
	cfg  Config
}

func (s *tlsStream) handshake(ctx context.Context, raw net.Conn, cfg Config) error {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	// Backends that cannot interrupt a read in flight rely on the deadline
	// being in place before the first one, and on Close to wake it.
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { raw.Close() })

	conn := tls.Client(raw, cfg.clientTLSConfig())
	err := conn.HandshakeContext(ctx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		raw.Close()
		kind := httperrors.TransportErrorTLS
		if isTimeout(err) {
			kind = httperrors.TransportErrorTimeout
		}
		return httperrors.NewTransportError(kind, "handshake with "+cfg.Host, err)
	}
	raw.SetDeadline(time.Time{})

	s.conn = conn
	s.cfg = cfg
	return nil
}

func (s *tlsStream) write(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorWrite, "not connected", nil)
	}

	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}

	// tls.Conn.Write only returns early on error
	n, err := s.conn.Write(buf)
	if err != nil {
		if isTimeout(err) {
			return n, httperrors.NewTransportError(httperrors.TransportErrorTimeout, "write", err)
		}
		return n, httperrors.NewTransportError(httperrors.TransportErrorWrite, "write", err)
	}
	return n, nil
}

func (s *tlsStream) read(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorRead, "not connected", nil)
	}

	if s.cfg.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	n, err := s.conn.Read(buf)
	if n > 0 {
		// Any error will resurface on the next read.
		return n, nil
	}
	if err == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorRead, "empty read", nil)
	}
	if errors.Is(err, io.EOF) {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection closed by peer", err)
	}
	if isTimeout(err) {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorTimeout, "read", err)
	}
	return 0, httperrors.NewTransportError(httperrors.TransportErrorRead, "read", err)
}

func (s *tlsStream) close() error {
	if s.conn == nil {
		return nil // Idempotent close
	}

	err := s.conn.Close()
	s.conn = nil

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "close", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

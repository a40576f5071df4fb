//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/godzie44/go-uring/uring"
	httperrors "github.com/nczempin/httpc-fipe/errors"
)

const uringQueueDepth = 32

// CQE user data for a submitted operation and its linked timeout.
const (
	opUserData      uint64 = 1
	timeoutUserData uint64 = 2
)

// UringTransport implements Transport with socket reads and writes submitted
// through io_uring. TLS runs on top of the ring-backed connection.
type UringTransport struct {
	tlsStream
	ring *uring.Ring
}

// NewUringTransport creates a new transport with its own io_uring instance.
func NewUringTransport() (*UringTransport, error) {
	ring, err := uring.New(uringQueueDepth)
	if err != nil {
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorInitFailure,
			"failed to initialize io_uring",
			err,
		)
	}
	return &UringTransport{ring: ring}, nil
}

// Connect opens a blocking TCP socket, connects it and runs the TLS handshake
// over the ring.
func (t *UringTransport) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if t.ring == nil {
		return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "transport destroyed", nil)
	}
	if t.conn != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorConnect, "already connected", nil)
	}

	addr := cfg.Addr()
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorConnect, "dns lookup for "+addr, err)
	}

	family := syscall.AF_INET
	var sa syscall.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa4 := &syscall.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = syscall.AF_INET6
		sa6 := &syscall.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := syscall.Socket(family, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "failed to create socket", err)
	}

	// A blocking connect honours SO_SNDTIMEO; it is cleared once connected.
	timeout := connectTimeout(ctx, cfg.ConnectTimeout)
	if timeout < 0 {
		syscall.Close(fd)
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "connect to "+addr, os.ErrDeadlineExceeded)
	}
	if err := setSendTimeout(fd, timeout); err != nil {
		syscall.Close(fd)
		return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "set SO_SNDTIMEO", err)
	}

	if err := syscall.Connect(fd, sa); err != nil {
		syscall.Close(fd)
		// SO_SNDTIMEO expiry surfaces as EINPROGRESS.
		if errors.Is(err, syscall.EINPROGRESS) || errors.Is(err, syscall.EAGAIN) {
			return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "connect to "+addr, os.ErrDeadlineExceeded)
		}
		return httperrors.NewTransportError(
			httperrors.TransportErrorConnect,
			fmt.Sprintf("failed to connect to %s", addr),
			err,
		)
	}
	if timeout > 0 {
		if err := setSendTimeout(fd, 0); err != nil {
			syscall.Close(fd)
			return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "clear SO_SNDTIMEO", err)
		}
	}

	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		syscall.Close(fd)
		return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "set TCP_NODELAY", err)
	}

	raw := &ringConn{ring: t.ring, fd: fd, remote: tcpAddr}
	return t.handshake(ctx, raw, cfg)
}

// connectTimeout returns the tighter of limit and the ctx deadline, 0 when
// neither is set and a negative value when the deadline has already passed.
func connectTimeout(ctx context.Context, limit time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return -1
	}
	if limit > 0 && limit < remaining {
		return limit
	}
	return remaining
}

func setSendTimeout(fd int, d time.Duration) error {
	tv := syscall.NsecToTimeval(d.Nanoseconds())
	return syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_SNDTIMEO, &tv)
}

// Write sends data over the connection using io_uring
func (t *UringTransport) Write(buf []byte) (int, error) {
	return t.write(buf)
}

// Read receives data from the connection using io_uring
func (t *UringTransport) Read(buf []byte) (int, error) {
	return t.read(buf)
}

// Close closes the connection. The ring stays usable for another Connect.
func (t *UringTransport) Close() error {
	return t.close()
}

// Destroy closes the connection and the io_uring instance. It returns the
// first error encountered.
func (t *UringTransport) Destroy() error {
	err := t.Close()
	if t.ring != nil {
		if rerr := t.ring.Close(); err == nil && rerr != nil {
			err = httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "close io_uring", rerr)
		}
		t.ring = nil
	}
	return err
}

// ringConn adapts a connected socket fd to net.Conn, submitting every read
// and write to the ring and waiting for its completion. With a deadline set,
// the operation is linked to an io_uring timeout and fails with
// os.ErrDeadlineExceeded when it fires.
type ringConn struct {
	ring   *uring.Ring
	fd     int
	remote net.Addr

	// Unix nanoseconds; 0 means no deadline.
	readDeadline  atomic.Int64
	writeDeadline atomic.Int64

	mu        sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *ringConn) submit(op uring.Operation, deadline int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return 0, net.ErrClosed
	}

	if deadline == 0 {
		if err := c.ring.QueueSQE(op, 0, opUserData); err != nil {
			return 0, httperrors.NewTransportError(httperrors.TransportErrorIoUringSubmit, "failed to queue request", err)
		}
		return c.complete(1)
	}

	wait := time.Until(time.Unix(0, deadline))
	if wait <= 0 {
		return 0, os.ErrDeadlineExceeded
	}
	if err := c.ring.QueueSQE(op, uring.SqeIOLinkFlag, opUserData); err != nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorIoUringSubmit, "failed to queue request", err)
	}
	if err := c.ring.QueueSQE(uring.LinkTimeout(wait), 0, timeoutUserData); err != nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorIoUringSubmit, "failed to queue link timeout", err)
	}
	return c.complete(2)
}

// complete submits the queued entries and reaps want completions, returning
// the result of the operation itself.
func (c *ringConn) complete(want int) (int, error) {
	if _, err := c.ring.Submit(); err != nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorIoUringSubmit, "failed to submit request", err)
	}

	var res int32
	for i := 0; i < want; i++ {
		cqe, err := c.ring.WaitCQEvents(1)
		if err != nil {
			return 0, err
		}
		if cqe.UserData == opUserData {
			res = cqe.Res
		}
		c.ring.SeenCQE(cqe)
	}

	if res < 0 {
		errno := syscall.Errno(-res)
		if errno == syscall.ECANCELED {
			return 0, os.ErrDeadlineExceeded
		}
		return 0, errno
	}
	return int(res), nil
}

func (c *ringConn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := c.submit(uring.Read(uintptr(c.fd), b, 0), c.readDeadline.Load())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *ringConn) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := c.submit(uring.Write(uintptr(c.fd), b[total:], 0), c.writeDeadline.Load())
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, io.ErrClosedPipe
		}
		total += n
	}
	return total, nil
}

// Close shuts the socket down before closing it: closing the fd alone does
// not complete a recv already parked in the ring.
func (c *ringConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		syscall.Shutdown(c.fd, syscall.SHUT_RDWR)
		err = syscall.Close(c.fd)
	})
	return err
}

func (c *ringConn) LocalAddr() net.Addr {
	sa, err := syscall.Getsockname(c.fd)
	if err != nil {
		return &net.TCPAddr{}
	}
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *syscall.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return &net.TCPAddr{}
}

func (c *ringConn) RemoteAddr() net.Addr { return c.remote }

func (c *ringConn) SetDeadline(t time.Time) error {
	c.readDeadline.Store(deadlineNanos(t))
	c.writeDeadline.Store(deadlineNanos(t))
	return nil
}

func (c *ringConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Store(deadlineNanos(t))
	return nil
}

func (c *ringConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.Store(deadlineNanos(t))
	return nil
}

func deadlineNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

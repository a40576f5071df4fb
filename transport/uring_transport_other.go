//go:build !linux

package transport

import (
	"context"

	httperrors "github.com/nczempin/httpc-fipe/errors"
)

// UringTransport is only available on Linux.
type UringTransport struct {
	TlsTransport
}

// NewUringTransport always fails outside Linux.
func NewUringTransport() (*UringTransport, error) {
	return nil, httperrors.NewTransportError(
		httperrors.TransportErrorInitFailure,
		"io_uring is only supported on linux",
		nil,
	)
}

// Connect is never reachable because NewUringTransport fails.
func (t *UringTransport) Connect(ctx context.Context, cfg Config) error {
	return httperrors.NewTransportError(httperrors.TransportErrorInitFailure, "io_uring is only supported on linux", nil)
}

// Destroy is a no-op outside Linux.
func (t *UringTransport) Destroy() error { return nil }

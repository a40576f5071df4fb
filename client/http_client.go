// Package client runs one framed GET exchange per call: it opens a fresh
// TLS transport, frames the response and releases the connection on every
// exit path.
package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nczempin/httpc-fipe/errors"
	"github.com/nczempin/httpc-fipe/protocol"
	"github.com/nczempin/httpc-fipe/transport"
)

const (
	DefaultHost     = "parallelum.com.br"
	DefaultBasePath = "/fipe/api/v1/carros"
)

// Options holds configuration for creating a new HttpClient.
type Options struct {
	Host     string
	Port     int
	BasePath string

	// Backend selects the socket implementation under TLS.
	Backend transport.Backend

	// TLSConfig is the trust policy; nil uses the system roots.
	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	ChunkCap         int
	MaxHeaderBytes   int
	MaxBodyBytes     int
	SingleReadHeader bool
	BareLF           bool

	// RequestsPerSecond paces exchanges (0 = unlimited).
	RequestsPerSecond float64

	Logger *slog.Logger
}

// DefaultOptions returns options for the public FIPE API.
func DefaultOptions() Options {
	return Options{
		Host:           DefaultHost,
		Port:           transport.DefaultPort,
		BasePath:       DefaultBasePath,
		Backend:        transport.BackendNet,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ChunkCap:       protocol.DefaultChunkCap,
		MaxHeaderBytes: protocol.DefaultMaxHeaderBytes,
	}
}

// Stats holds aggregate statistics for the client.
type Stats struct {
	TotalRequests  int64
	FailedRequests int64
	BytesReceived  int64
	TotalDuration  time.Duration
}

// TransportFactory returns a fresh, unconnected transport per exchange.
type TransportFactory func() (transport.Transport, error)

// HttpClient provides the GET-by-path API used by the FIPE layer.
type HttpClient struct {
	opts         Options
	protocol     *protocol.Http1Protocol
	newTransport TransportFactory
	limiter      *rate.Limiter
	logger       *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a client whose transports come from opts.Backend.
func New(opts Options) (*HttpClient, error) {
	backend := opts.Backend
	// Probe once so a bad backend fails at construction.
	probe, err := transport.New(backend)
	if err != nil {
		return nil, err
	}
	if err := release(probe); err != nil && opts.Logger != nil {
		opts.Logger.Debug("probe release failed", "backend", backend, "error", err)
	}

	return NewWithTransport(opts, func() (transport.Transport, error) {
		return transport.New(backend)
	})
}

// NewWithTransport creates a client with a custom transport factory.
func NewWithTransport(opts Options, factory TransportFactory) (*HttpClient, error) {
	if opts.Host == "" {
		return nil, errors.NewInvalidArgumentError("host must not be empty")
	}
	if factory == nil {
		return nil, errors.NewInvalidArgumentError("transport factory is nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &HttpClient{
		opts: opts,
		protocol: protocol.NewHttp1Protocol(protocol.Options{
			Host:             opts.Host,
			BasePath:         opts.BasePath,
			ChunkCap:         opts.ChunkCap,
			MaxHeaderBytes:   opts.MaxHeaderBytes,
			MaxBodyBytes:     opts.MaxBodyBytes,
			SingleReadHeader: opts.SingleReadHeader,
			BareLF:           opts.BareLF,
		}, logger),
		newTransport: factory,
		logger:       logger,
	}

	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return c, nil
}

// Get performs one GET exchange for path, relative to the base path. The
// connection is closed before Get returns, whatever the outcome.
func (c *HttpClient) Get(ctx context.Context, path string) (resp *protocol.Response, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	log := c.logger.With(
		"exchange_id", uuid.NewString(),
		"path", c.protocol.RequestTarget(path),
	)
	start := time.Now()

	defer func() {
		duration := time.Since(start)
		c.record(resp, err, duration)
		if err != nil {
			log.Warn("exchange failed", "error", err, "duration", duration)
			return
		}
		log.Info("exchange complete",
			"status", resp.Status,
			"bytes", len(resp.Body),
			"duration", duration)
	}()

	t, err := c.newTransport()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := release(t); cerr != nil {
			log.Debug("close failed", "error", cerr)
		}
	}()

	err = t.Connect(ctx, transport.Config{
		Host:           c.opts.Host,
		Port:           c.opts.Port,
		TLSConfig:      c.opts.TLSConfig,
		ConnectTimeout: c.opts.ConnectTimeout,
		ReadTimeout:    c.opts.ReadTimeout,
		WriteTimeout:   c.opts.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("connected")

	return c.protocol.RoundTrip(t, path)
}

// Stats returns aggregate client statistics.
func (c *HttpClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *HttpClient) record(resp *protocol.Response, err error, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	c.stats.TotalDuration += d
	if err != nil {
		c.stats.FailedRequests++
		return
	}
	c.stats.BytesReceived += int64(len(resp.HeaderBlock) + len(resp.Separator) + len(resp.Body))
}

// release closes t and frees any per-transport resources.
func release(t transport.Transport) error {
	if d, ok := t.(interface{ Destroy() error }); ok {
		return d.Destroy()
	}
	return t.Close()
}

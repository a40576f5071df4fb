package protocol

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nczempin/httpc-fipe/errors"
	"github.com/nczempin/httpc-fipe/transport"
)

// Http1Protocol frames GET exchanges over a connected transport.
type Http1Protocol struct {
	opts   Options
	logger *slog.Logger
}

// NewHttp1Protocol creates a new HTTP/1.1 protocol handler. A nil logger
// discards output.
func NewHttp1Protocol(opts Options, logger *slog.Logger) *Http1Protocol {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Http1Protocol{
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Options returns the effective options.
func (p *Http1Protocol) Options() Options {
	return p.opts
}

// RequestTarget joins the base path and path into the request-target.
func (p *Http1Protocol) RequestTarget(path string) string {
	return strings.TrimSuffix(p.opts.BasePath, "/") + "/" + strings.TrimPrefix(path, "/")
}

// BuildRequest formats the GET request for path. The request carries only a
// Host header and no body.
func (p *Http1Protocol) BuildRequest(path string) ([]byte, error) {
	if strings.ContainsAny(path, " \r\n") {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("path %q contains whitespace", path))
	}
	if p.opts.Host == "" {
		return nil, errors.NewInvalidArgumentError("host must not be empty")
	}

	eol := "\r\n"
	if p.opts.BareLF {
		eol = "\n"
	}

	var sb strings.Builder
	sb.WriteString("GET ")
	sb.WriteString(p.RequestTarget(path))
	sb.WriteString(" HTTP/1.1")
	sb.WriteString(eol)
	sb.WriteString("Host: ")
	sb.WriteString(p.opts.Host)
	sb.WriteString(eol)
	sb.WriteString(eol)
	return []byte(sb.String()), nil
}

// RoundTrip sends a GET for path over t and reads the complete response.
// The caller owns t and must close it.
func (p *Http1Protocol) RoundTrip(t transport.Transport, path string) (*Response, error) {
	req, err := p.BuildRequest(path)
	if err != nil {
		return nil, err
	}

	if _, err := t.Write(req); err != nil {
		return nil, err
	}

	return p.ReadResponse(t)
}

// ReadResponse reads exactly one Content-Length framed response from r.
func (p *Http1Protocol) ReadResponse(r io.Reader) (*Response, error) {
	acc, sepIdx, sepLen, err := p.readHeader(r)
	if err != nil {
		return nil, err
	}

	headerBlock := acc[:sepIdx]
	contentLength, err := ParseContentLength(headerBlock)
	if err != nil {
		return nil, err
	}

	headerLen := sepIdx + sepLen
	if contentLength > maxInt-headerLen {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorMissingContentLength,
			fmt.Sprintf("Content-Length %d overflows", contentLength),
		)
	}

	if p.opts.MaxBodyBytes > 0 && contentLength > p.opts.MaxBodyBytes {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorBodyTooLarge,
			fmt.Sprintf("Content-Length %d exceeds limit of %d bytes", contentLength, p.opts.MaxBodyBytes),
		)
	}

	pending := &pendingExchange{
		targetLength: headerLen + contentLength,
		accumulated:  acc,
	}
	if len(pending.accumulated) > pending.targetLength {
		p.logger.Debug("discarding bytes past declared length",
			"extra", len(pending.accumulated)-pending.targetLength)
		pending.accumulated = pending.accumulated[:pending.targetLength]
	}

	p.logger.Debug("header complete",
		"header_bytes", headerLen,
		"content_length", contentLength,
		"buffered", len(pending.accumulated))

	if err := p.drain(r, pending); err != nil {
		return nil, err
	}

	return newResponse(pending.accumulated, sepIdx, sepLen, contentLength)
}

// readHeader reads until the accumulated bytes contain a header separator.
func (p *Http1Protocol) readHeader(r io.Reader) (acc []byte, sepIdx, sepLen int, err error) {
	readSize := p.opts.ChunkCap
	if p.opts.SingleReadHeader {
		readSize = p.opts.MaxHeaderBytes
	}
	buf := make([]byte, readSize)

	for {
		room := p.opts.MaxHeaderBytes - len(acc)
		if room <= 0 {
			return nil, 0, 0, errors.NewProtocolError(
				errors.ProtocolErrorIncompleteHeader,
				fmt.Sprintf("no header separator within %d bytes", p.opts.MaxHeaderBytes),
			)
		}

		n, err := r.Read(buf[:min(readSize, room)])
		acc = append(acc, buf[:n]...)
		if err != nil && n == 0 {
			if isStreamEnd(err) {
				return nil, 0, 0, errors.NewProtocolError(
					errors.ProtocolErrorIncompleteHeader,
					fmt.Sprintf("stream ended after %d bytes without header separator", len(acc)),
				)
			}
			return nil, 0, 0, err
		}

		// A separator may straddle the previous read.
		from := max(0, len(acc)-n-3)
		if idx, l := FindSeparator(acc[from:]); idx >= 0 {
			return acc, from + idx, l, nil
		}

		if p.opts.SingleReadHeader {
			return nil, 0, 0, errors.NewProtocolError(
				errors.ProtocolErrorIncompleteHeader,
				fmt.Sprintf("first read of %d bytes does not contain the header block", len(acc)),
			)
		}
	}
}

// drain reads until pending holds targetLength bytes.
func (p *Http1Protocol) drain(r io.Reader, pending *pendingExchange) error {
	buf := make([]byte, p.opts.ChunkCap)

	for !pending.complete() {
		n, err := r.Read(buf[:min(pending.remaining(), p.opts.ChunkCap)])
		pending.accumulated = append(pending.accumulated, buf[:n]...)
		if err != nil && n == 0 {
			if isStreamEnd(err) {
				return errors.NewProtocolError(
					errors.ProtocolErrorShortRead,
					fmt.Sprintf("stream ended after %d of %d bytes", len(pending.accumulated), pending.targetLength),
				)
			}
			return err
		}
	}
	return nil
}

func newResponse(raw []byte, sepIdx, sepLen, contentLength int) (*Response, error) {
	headerBlock := string(raw[:sepIdx])

	statusLine, _, _ := strings.Cut(headerBlock, "\n")
	status, err := ParseStatus(strings.TrimSuffix(statusLine, "\r"))
	if err != nil {
		return nil, err
	}

	start := sepIdx + sepLen
	body := raw[start : start+contentLength : start+contentLength]

	return &Response{
		Status:        status,
		HeaderBlock:   headerBlock,
		Separator:     string(raw[sepIdx : sepIdx+sepLen]),
		Body:          body,
		ContentLength: contentLength,
	}, nil
}

// isStreamEnd reports whether err marks a clean end of stream, as returned
// by a Transport or by a plain io.Reader.
func isStreamEnd(err error) bool {
	return stderrors.Is(err, errors.ErrConnectionClosed) || stderrors.Is(err, io.EOF)
}

const maxInt = int(^uint(0) >> 1)

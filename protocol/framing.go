package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nczempin/httpc-fipe/errors"
)

// separators are the blank-line forms accepted after a header block.
var separators = [][]byte{
	[]byte("\r\n\r\n"),
	[]byte("\r\n\n"),
	[]byte("\n\r\n"),
	[]byte("\n\n"),
}

// FindSeparator locates the first blank line ending the header block. It
// accepts "\r\n\r\n", "\n\n" and the mixed "\r\n\n" and "\n\r\n"; the
// earliest wins. It returns -1 when no separator is present.
func FindSeparator(b []byte) (idx, sepLen int) {
	idx = -1
	for _, sep := range separators {
		i := bytes.Index(b, sep)
		if i >= 0 && (idx < 0 || i < idx) {
			idx, sepLen = i, len(sep)
		}
	}
	return idx, sepLen
}

type headerField struct {
	name  string
	value string
}

// headerFields splits a header block into fields, skipping the status line
// and lines without a colon.
func headerFields(block string) []headerField {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return nil
	}

	fields := make([]headerField, 0, len(lines)-1)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields = append(fields, headerField{
			name:  strings.TrimSpace(name),
			value: strings.TrimSpace(value),
		})
	}
	return fields
}

// ParseContentLength finds the Content-Length header by name. Duplicates are
// accepted only when they agree.
func ParseContentLength(headerBlock []byte) (int, error) {
	length := -1
	for _, f := range headerFields(string(headerBlock)) {
		if !strings.EqualFold(f.name, "Content-Length") {
			continue
		}

		n, err := parseDecimal(f.value)
		if err != nil {
			return 0, errors.NewProtocolError(
				errors.ProtocolErrorMissingContentLength,
				fmt.Sprintf("invalid Content-Length %q", f.value),
			)
		}
		if length >= 0 && n != length {
			return 0, errors.NewProtocolError(
				errors.ProtocolErrorMissingContentLength,
				fmt.Sprintf("conflicting Content-Length values %d and %d", length, n),
			)
		}
		length = n
	}

	if length < 0 {
		return 0, errors.NewProtocolError(
			errors.ProtocolErrorMissingContentLength,
			"no Content-Length header",
		)
	}
	return length, nil
}

func parseDecimal(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// ParseStatus reads the three-digit code at offset 9 of a status line such
// as "HTTP/1.1 200 OK".
func ParseStatus(statusLine string) (int, error) {
	if len(statusLine) < 12 {
		return 0, errors.NewProtocolError(
			errors.ProtocolErrorMalformedStatusLine,
			fmt.Sprintf("status line too short: %q", statusLine),
		)
	}

	code := statusLine[9:12]
	status, err := parseDecimal(code)
	if err != nil {
		return 0, errors.NewProtocolError(
			errors.ProtocolErrorMalformedStatusLine,
			fmt.Sprintf("non-numeric status code %q", code),
		)
	}
	return status, nil
}

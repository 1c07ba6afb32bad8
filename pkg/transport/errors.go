package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/illmade-knight/eventgen/pkg/reasoncode"
)

// classifyNetError maps socket-level failures shared by every transport.
func classifyNetError(err error) reasoncode.Code {
	switch {
	case err == nil:
		return reasoncode.Success
	case errors.Is(err, context.DeadlineExceeded):
		return reasoncode.Again
	case errors.Is(err, syscall.ECONNREFUSED):
		return reasoncode.ConnRefused
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return reasoncode.ConnLost
	case errors.Is(err, syscall.ENOMEM):
		return reasoncode.NoMem
	}

	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var headerErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &headerErr) {
		return reasoncode.TLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return reasoncode.Again
		}
		return reasoncode.Errno
	}

	// Paho flattens dial errors into strings.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return reasoncode.ConnRefused
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return reasoncode.ConnLost
	case strings.Contains(msg, "tls:"), strings.Contains(msg, "x509:"):
		return reasoncode.TLS
	case strings.Contains(msg, "i/o timeout"):
		return reasoncode.Again
	}
	return reasoncode.Unknown
}

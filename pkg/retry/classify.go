package retry

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/objectfs/cloudfile/pkg/errors"
)

// transientStatusMarkers are matched as substrings of the error text when the
// error carries neither a typed status nor a permanent code.
var transientStatusMarkers = []string{"429", "503", "504", "408", "500", "502"}

// IsTransient reports whether err is likely to succeed on retry.
func IsTransient(err error) bool {
	return Classify(err) != ""
}

// Classify returns a short reason when err is transient, or "" when it is permanent.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	// Errors already produced by an Executor are final.
	if cfErr, ok := errors.As(err); ok && cfErr.Component == "retry" {
		return ""
	}

	// Permanent codes win over anything their message happens to contain,
	// such as digits in a path. Only a recorded transient status overrides them.
	if errors.IsPermanent(err) {
		return statusReason(errors.StatusOf(err))
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, context.Canceled):
		return "canceled"
	case stderrors.Is(err, syscall.ECONNRESET), stderrors.Is(err, syscall.ECONNREFUSED),
		stderrors.Is(err, syscall.ECONNABORTED), stderrors.Is(err, syscall.EPIPE),
		stderrors.Is(err, syscall.ETIMEDOUT):
		return "connection"
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return "receive"
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	if errors.IsRetryable(err) {
		return "retryable"
	}

	if status := errors.StatusOf(err); status != 0 {
		return statusReason(status)
	}

	msg := err.Error()
	for _, marker := range transientStatusMarkers {
		if strings.Contains(msg, marker) {
			return "status " + marker
		}
	}

	return ""
}

func statusReason(status int) string {
	if status == 0 {
		return ""
	}
	code := strconv.Itoa(status)
	for _, marker := range transientStatusMarkers {
		if code == marker {
			return "status " + marker
		}
	}
	return ""
}

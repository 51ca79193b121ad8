package retry

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"google.golang.org/api/googleapi"
)

// IsConnectionError reports whether err is a transport-level failure worth
// retrying: reset, aborted or refused connections, broken pipes, truncated
// responses, network errors, and provider 5xx or 429 responses.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	if nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConnection) ||
		nebulaerrors.IsType(err, nebulaerrors.ErrorTypeRateLimit) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsConnectionOrRejection extends IsConnectionError with rows refused by a
// streaming insert, which are retried as a whole batch.
func IsConnectionOrRejection(err error) bool {
	return IsConnectionError(err) || nebulaerrors.IsType(err, nebulaerrors.ErrorTypeRowRejection)
}

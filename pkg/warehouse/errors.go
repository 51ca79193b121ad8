package warehouse

import (
	"context"
	"errors"
	"net/http"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"google.golang.org/api/googleapi"
)

// classify wraps a provider error with the category matching its cause.
func classify(err error, message string) *nebulaerrors.Error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeTimeout, message)
	case errors.As(err, &apiErr):
		return nebulaerrors.Wrap(err, apiErrorType(apiErr), message).
			WithDetail("http_status", apiErr.Code)
	case retry.IsConnectionError(err):
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, message)
	default:
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeInternal, message)
	}
}

func apiErrorType(apiErr *googleapi.Error) nebulaerrors.ErrorType {
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return nebulaerrors.ErrorTypeAuthentication
	case http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "quotaExceeded" {
				return nebulaerrors.ErrorTypeRateLimit
			}
		}
		return nebulaerrors.ErrorTypePermission
	case http.StatusNotFound:
		return nebulaerrors.ErrorTypeNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return nebulaerrors.ErrorTypeConflict
	case http.StatusTooManyRequests:
		return nebulaerrors.ErrorTypeRateLimit
	}
	if apiErr.Code >= http.StatusInternalServerError {
		return nebulaerrors.ErrorTypeConnection
	}
	return nebulaerrors.ErrorTypeValidation
}

// isAlreadyExists reports a 409 from a create call
func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

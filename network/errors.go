package network

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// statusCode maps a non-2xx HTTP status to an error code. 5xx, 408 and 429
// map to retryable codes; any other status is terminal.
func statusCode(status int) errors.ErrorCode {
	switch {
	case status == http.StatusRequestTimeout:
		return errors.CodeTimeout
	case status == http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case status >= 500:
		return errors.CodeUnavailable
	case status == http.StatusUnauthorized:
		return errors.CodeUnauthorized
	case status == http.StatusForbidden:
		return errors.CodeForbidden
	case status == http.StatusNotFound:
		return errors.CodeNotFound
	case status == http.StatusConflict:
		return errors.CodeConflict
	case status >= 400:
		return errors.CodeInvalidInput
	default:
		return errors.CodeUnknown
	}
}

// statusError builds the error returned for a non-2xx response.
func statusError(method, rawURL string, status int) error {
	return errors.WithContextMap(
		errors.Newf(statusCode(status), "%s %s: unexpected status %d", method, rawURL, status),
		map[string]interface{}{"status": status, "url": rawURL},
	)
}

// transportError classifies a failure that happened before a response
// arrived. Cancellation of the caller's context is terminal; everything else
// (dial errors, resets, per-attempt timeouts) is retryable.
func transportError(parent context.Context, method, rawURL string, err error) error {
	if parent.Err() != nil {
		return errors.Wrapf(err, errors.CodeExecutionFailed, "%s %s: canceled", method, rawURL)
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrapf(err, errors.CodeTimeout, "%s %s: timed out", method, rawURL)
	}
	return errors.Wrapf(err, errors.CodeNetwork, "%s %s", method, rawURL)
}

// IsRetryable reports whether err represents a transient network fault.
func IsRetryable(err error) bool {
	return errors.IsRetryable(err)
}

// countsAgainstBreaker reports whether err should trip the circuit breaker.
// Client errors such as 404 say nothing about upstream health.
func countsAgainstBreaker(err error) bool {
	return errors.IsRetryable(err)
}

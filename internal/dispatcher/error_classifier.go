package dispatcher

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/storage"
)

// statusCoder is implemented by SDK response errors (smithy-go).
type statusCoder interface {
	HTTPStatusCode() int
}

func statusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode(), true
	}
	return 0, false
}

// isTransientError checks if error is transient and the job should be retried
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}

	// Lost a CAS race too many times
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return true
	}

	// Deadline of the job context, not a typed operation timeout
	if errors.Is(err, context.DeadlineExceeded) && !failure.IsTimeout(err) {
		return true
	}

	// HTTP errors
	if code, ok := statusCode(err); ok {
		// 5xx server errors are transient
		if code >= 500 && code < 600 {
			return true
		}
		// 429 rate limit is transient
		if code == 429 {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Network errors (connection issues, timeouts)
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "unexpected eof") {
		return true
	}

	return false
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	// Bad input and exceeded operation limits never get better on retry
	if failure.IsDocument(err) || failure.IsTimeout(err) {
		return true
	}

	// ValidationError
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}

	// HTTP 4xx errors (except 429)
	if code, ok := statusCode(err); ok {
		if code >= 400 && code < 500 && code != 429 {
			return true
		}
	}

	// Validation keywords in error message
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "validation failed") ||
		strings.Contains(errStr, "malformed") {
		return true
	}

	return false
}

// shouldRetry combines both checks: fatal wins over transient.
func shouldRetry(err error) bool {
	return !isFatalError(err) && isTransientError(err)
}

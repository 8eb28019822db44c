package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryableError reports a request that kept failing after every allowed
// retry. RetryAfter carries the delay the next attempt would have used, so
// callers queueing their own retries can respect it.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// BadRequestError reports a request the provider rejected as malformed or
// over limits (HTTP 4xx other than 429). These never succeed on retry.
type BadRequestError struct {
	StatusCode int
	Body       string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsBadRequest reports whether err, anywhere in its chain, is a client
// error that retrying cannot fix.
func IsBadRequest(err error) bool {
	var badReq *BadRequestError
	return errors.As(err, &badReq)
}

// IsClientStatus reports whether the status code is a non-retryable 4xx.
func IsClientStatus(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests
}

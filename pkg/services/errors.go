package services

import (
	"errors"
	"fmt"
)

// ErrProviderClosed is returned for calls made after Shutdown started.
var ErrProviderClosed = errors.New("service provider is shut down")

// ServiceNotFoundError reports a call to a service no dispatcher was
// registered for.
type ServiceNotFoundError struct {
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service %q not initialized", e.Service)
}

// IsServiceNotFound reports whether err is a missing-service failure.
func IsServiceNotFound(err error) bool {
	var notFound *ServiceNotFoundError
	return errors.As(err, &notFound)
}

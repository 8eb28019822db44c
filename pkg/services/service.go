// Package services implements the execution backbone of the pipeline: a
// provider that owns named services, gives each a FIFO queue with its own
// dispatcher goroutine, and resolves caller futures in submission order.
// Rate limiting, worker pools and file persistence are all expressed as
// services so every cross-component call goes through one queue discipline.
package services

import "context"

// Service is a unit of work scheduled through the provider. CanProcess is
// a fast admission predicate: while it reports false the dispatcher holds
// the queue and polls until the service is ready again.
type Service interface {
	Name() string
	CanProcess() bool
	Process(ctx context.Context, req any) (any, error)
}

// ResourceHolder is implemented by services owning external resources
// (temp directories, subprocess pools). The provider calls each hook
// exactly once: acquire on start, release on shutdown, release always
// runs once acquire succeeded.
type ResourceHolder interface {
	AcquireResources(ctx context.Context) error
	ReleaseResources(ctx context.Context) error
}

// ConcurrentService lets a service run more than one job at a time. The
// dispatcher starts Workers() queue consumers; admission stays FIFO but
// completion order is no longer guaranteed. Services that do not
// implement this run strictly one job at a time.
type ConcurrentService interface {
	Service
	Workers() int
}

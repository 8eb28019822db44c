package services

import (
	"context"
	"fmt"
)

// Names of the two standard worker pools. The CPU pool bounds heavy
// parsing work (PDF extraction, OCR subprocess waits), the IO pool bounds
// blocking file operations.
const (
	CPUPoolServiceName = "cpu_pool"
	IOPoolServiceName  = "io_pool"
)

// Task is a unit of work submitted to a worker pool service.
type Task func(ctx context.Context) (any, error)

// WorkerPoolService runs submitted tasks with bounded parallelism. It
// implements ConcurrentService, so the provider feeds its queue with as
// many consumers as the pool has workers; admission stays FIFO while
// completion order follows task duration.
type WorkerPoolService struct {
	name    string
	workers int
}

func NewWorkerPoolService(name string, workers int) *WorkerPoolService {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPoolService{name: name, workers: workers}
}

func (s *WorkerPoolService) Name() string {
	return s.name
}

func (s *WorkerPoolService) CanProcess() bool {
	return true
}

func (s *WorkerPoolService) Workers() int {
	return s.workers
}

func (s *WorkerPoolService) Process(ctx context.Context, req any) (any, error) {
	task, ok := req.(Task)
	if !ok {
		return nil, fmt.Errorf("%s service: unexpected request type %T", s.name, req)
	}
	return task(ctx)
}

// Submit runs a task on the named pool through the provider queue.
func Submit(ctx context.Context, provider *Provider, pool string, task Task) (any, error) {
	return provider.Call(ctx, pool, task)
}

package cascade

import (
	"context"

	"plantcare/pkg/queue"
)

// Consumer runs a handler for every queued job.
type Consumer interface {
	Start(ctx context.Context, concurrency int, handler queue.Handler)
}

// Worker feeds queued cascade jobs to the policy.
type Worker struct {
	consumer Consumer
	policy   *Policy
}

func NewWorker(consumer Consumer, policy *Policy) *Worker {
	return &Worker{consumer: consumer, policy: policy}
}

// Start begins consuming in the background until ctx is done.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.consumer.Start(ctx, concurrency, func(ctx context.Context, job queue.JobStatus) error {
		return w.policy.OnParentDeleted(ctx, job.Path)
	})
}

package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"plantcare/pkg/domain"
	"plantcare/pkg/events"
	"plantcare/pkg/queue"
)

// Enqueuer schedules a cascade for a plant path.
type Enqueuer interface {
	Enqueue(ctx context.Context, path string) (queue.JobStatus, error)
}

// Trigger turns plant deletions on the change feed into cascade jobs. Every
// other change is ignored.
type Trigger struct {
	queue Enqueuer
}

func NewTrigger(q Enqueuer) *Trigger {
	return &Trigger{queue: q}
}

func (t *Trigger) Publish(ctx context.Context, change events.Change) error {
	if change.Kind != events.Deleted {
		return nil
	}
	if _, err := domain.ParsePlantPath(change.Path); err != nil {
		return nil
	}
	job, err := t.queue.Enqueue(ctx, change.Path)
	if err != nil {
		return fmt.Errorf("enqueue cascade: %w", err)
	}
	slog.Info("cascade queued", "job_id", job.ID, "path", change.Path)
	return nil
}

var _ events.Publisher = (*Trigger)(nil)

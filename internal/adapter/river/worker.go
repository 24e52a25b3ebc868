package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// orderRetryDelay is how long a dispatch job snoozes when an older event
// for the same convention is still pending. Snoozing does not consume a
// delivery attempt.
const orderRetryDelay = 2 * time.Second

// DispatchWorker runs dispatch jobs and maps the dispatcher's verdict
// onto River's scheduling: retry with backoff, snooze, or cancel.
type DispatchWorker struct {
	river.WorkerDefaults[DispatchJobArgs]
	dispatcher *Dispatcher
}

// NewDispatchWorker creates a worker around the dispatcher.
func NewDispatchWorker(d *Dispatcher) *DispatchWorker {
	return &DispatchWorker{dispatcher: d}
}

// Work processes a single dispatch job.
func (w *DispatchWorker) Work(ctx context.Context, job *river.Job[DispatchJobArgs]) error {
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	outcome, err := w.dispatcher.Process(ctx, job.Args.EventID, attempt)
	switch outcome {
	case ProcessDeferred:
		return river.JobSnooze(orderRetryDelay)
	case ProcessQuarantined:
		// Terminal for the job: the event sits in quarantine for operators.
		return river.JobCancel(fmt.Errorf("event %s quarantined", job.Args.EventID))
	case ProcessRetry:
		if err == nil {
			err = fmt.Errorf("delivery of event %s failed", job.Args.EventID)
		}
		return err
	}
	return nil
}

// SweepWorker re-enqueues dispatch jobs for PENDING outbox events. It is
// the recovery path for events whose job was lost, for example a crash
// between the mutation commit and job completion. A swept event whose
// retry job is still scheduled gets a duplicate job; the dispatcher's
// status check makes that harmless, so the sweep interval only needs to
// exceed the retry backoff horizon, not align with it.
type SweepWorker struct {
	river.WorkerDefaults[SweepJobArgs]
	outbox    domain.OutboxStore
	logger    *slog.Logger
	batchSize int
}

// NewSweepWorker creates the periodic recovery worker.
func NewSweepWorker(outbox domain.OutboxStore, logger *slog.Logger, batchSize int) *SweepWorker {
	return &SweepWorker{outbox: outbox, logger: logger, batchSize: batchSize}
}

// Work re-enqueues one batch of pending events. The River client is
// taken from the work context because the client and the workers are
// constructed together and cannot reference each other directly.
func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepJobArgs]) error {
	client := river.ClientFromContext[*sql.Tx](ctx)

	events, err := w.outbox.Drain(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("draining outbox: %w", err)
	}

	for _, e := range events {
		_, err := client.Insert(ctx, DispatchJobArgs{
			EventID:      e.ID,
			ConventionID: e.ConventionID,
		}, nil)
		if err != nil {
			return fmt.Errorf("re-enqueuing event %s: %w", e.ID, err)
		}
	}

	if len(events) > 0 {
		w.logger.InfoContext(ctx, "swept pending outbox events", "count", len(events))
	}
	return nil
}

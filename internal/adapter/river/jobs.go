package river

import (
	"database/sql"

	"github.com/riverqueue/river"
)

// DispatchJobArgs identifies one outbox event to deliver. The payload
// stays in the outbox row; the job carries only the key, so a retried
// job always sees the event's current state.
type DispatchJobArgs struct {
	EventID      string `json:"event_id"`
	ConventionID string `json:"convention_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (DispatchJobArgs) Kind() string { return "outbox.dispatch" }

// SweepJobArgs is the periodic recovery job: it re-enqueues dispatch jobs
// for PENDING events whose original job was lost (crash between commit
// and processing, deferred ordering, operator requeue).
type SweepJobArgs struct{}

func (SweepJobArgs) Kind() string { return "outbox.sweep" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

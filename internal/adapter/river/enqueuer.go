package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// Enqueuer inserts dispatch jobs inside the repository's mutation
// transaction. It satisfies the repository's JobEnqueuer port, closing
// the outbox loop: event row and job commit or roll back together.
type Enqueuer struct {
	client *Client
}

// NewEnqueuer creates an enqueuer backed by the given River client.
func NewEnqueuer(client *Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueDispatchTx inserts the dispatch job for an event in the caller's
// transaction.
func (e *Enqueuer) EnqueueDispatchTx(ctx context.Context, tx *sql.Tx, event domain.DomainEvent) error {
	_, err := e.client.InsertTx(ctx, tx, DispatchJobArgs{
		EventID:      event.ID,
		ConventionID: event.ConventionID,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing dispatch job: %w", err)
	}
	return nil
}

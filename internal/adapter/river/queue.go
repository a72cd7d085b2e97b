package river

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/domain"
)

var (
	_ domain.JobQueue = (*Queue)(nil)
	_ domain.Notifier = (*QueueNotifier)(nil)
)

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

var errNoClient = errors.New("job queue has no client attached")

// Queue implements domain.JobQueue by inserting River jobs. When ctx
// carries a store transaction the job is inserted in it, so the job exists
// exactly when the state change that asked for it commits.
type Queue struct {
	client *Client
}

// NewQueue returns a queue. Attach a client before the first insert.
func NewQueue(client *Client) *Queue {
	return &Queue{client: client}
}

// Attach sets the client. The workers of a client need the queue, so the
// queue is built first and attached once the client exists.
func (q *Queue) Attach(client *Client) {
	q.client = client
}

func (q *Queue) EnqueueProvision(ctx context.Context, tenantID string) error {
	return q.insert(ctx, ProvisionJobArgs{TenantID: tenantID})
}

func (q *Queue) EnqueueDecommission(ctx context.Context, tenantID string) error {
	return q.insert(ctx, DecommissionJobArgs{TenantID: tenantID})
}

func (q *Queue) insert(ctx context.Context, args river.JobArgs) error {
	if q.client == nil {
		return errNoClient
	}

	var err error
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		_, err = q.client.InsertTx(ctx, tx, args, nil)
	} else {
		_, err = q.client.Insert(ctx, args, nil)
	}
	if err != nil {
		return fmt.Errorf("enqueuing %s job: %w", args.Kind(), err)
	}
	return nil
}

// QueueNotifier hands notices to a River job so delivery is retried
// without holding up the caller.
type QueueNotifier struct {
	queue *Queue
}

func NewQueueNotifier(queue *Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, notice domain.Notice) error {
	return n.queue.insert(ctx, NotifyJobArgs{Notice: notice})
}

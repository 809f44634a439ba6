package pool

import (
	"sort"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// queuedJob is a pending job and the handle its requester waits on.
type queuedJob struct {
	job        *types.JobContext
	overrides  *types.ProfileOverrides
	assignment *Assignment
}

// jobQueue keeps pending jobs ordered by priority, highest first, and by
// arrival within a priority.
type jobQueue struct {
	items []*queuedJob
}

// push inserts item behind every job of higher priority and every job of
// equal priority enqueued no later than it.
func (q *jobQueue) push(item *queuedJob) {
	p, at := item.job.Priority, item.job.EnqueuedAt
	i := sort.Search(len(q.items), func(i int) bool {
		other := q.items[i].job
		return other.Priority < p || (other.Priority == p && other.EnqueuedAt.After(at))
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
}

// pushFront returns a just-popped head to the front of the queue.
func (q *jobQueue) pushFront(item *queuedJob) {
	q.items = append([]*queuedJob{item}, q.items...)
}

func (q *jobQueue) peek() *queuedJob {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *jobQueue) pop() *queuedJob {
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item
}

// remove deletes the job with the given id.
func (q *jobQueue) remove(jobID string) *queuedJob {
	for i, item := range q.items {
		if item.job.ID == jobID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item
		}
	}
	return nil
}

// drain empties the queue and returns what it held.
func (q *jobQueue) drain() []*queuedJob {
	items := q.items
	q.items = nil
	return items
}

func (q *jobQueue) len() int {
	return len(q.items)
}

// jobs returns copies of the pending jobs in queue order.
func (q *jobQueue) jobs() []*types.JobContext {
	out := make([]*types.JobContext, len(q.items))
	for i, item := range q.items {
		out[i] = item.job.Clone()
	}
	return out
}

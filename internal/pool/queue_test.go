package pool

import (
	"testing"
	"time"

	"github.com/Rorqualx/browserfarm/internal/types"
)

func queued(id string, p types.Priority, at time.Time) *queuedJob {
	job := &types.JobContext{ID: id, Priority: p, EnqueuedAt: at}
	return &queuedJob{job: job, assignment: newAssignment(job)}
}

func ids(q *jobQueue) []string {
	out := make([]string, 0, q.len())
	for _, j := range q.jobs() {
		out = append(out, j.ID)
	}
	return out
}

func equalIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			return
		}
	}
}

func TestJobQueueOrdersByPriorityThenArrival(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q jobQueue

	q.push(queued("n1", types.PriorityNormal, base))
	q.push(queued("l1", types.PriorityLow, base.Add(time.Second)))
	q.push(queued("c1", types.PriorityCritical, base.Add(2*time.Second)))
	q.push(queued("n2", types.PriorityNormal, base.Add(3*time.Second)))
	q.push(queued("h1", types.PriorityHigh, base.Add(4*time.Second)))
	q.push(queued("n0", types.PriorityNormal, base.Add(-time.Second)))

	equalIDs(t, ids(&q), []string{"c1", "h1", "n0", "n1", "n2", "l1"})
}

func TestJobQueueSameInstantIsFIFO(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q jobQueue
	for _, id := range []string{"a", "b", "c"} {
		q.push(queued(id, types.PriorityNormal, at))
	}
	equalIDs(t, ids(&q), []string{"a", "b", "c"})
}

func TestJobQueuePopAndPushFront(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q jobQueue
	if q.pop() != nil || q.peek() != nil {
		t.Fatal("Expected empty queue to return nil")
	}

	q.push(queued("a", types.PriorityHigh, at))
	q.push(queued("b", types.PriorityLow, at))

	head := q.pop()
	if head.job.ID != "a" {
		t.Fatalf("Expected a, got %s", head.job.ID)
	}
	q.pushFront(head)
	equalIDs(t, ids(&q), []string{"a", "b"})
	if q.peek().job.ID != "a" {
		t.Errorf("Expected peek to return a")
	}
}

func TestJobQueueRemoveAndDrain(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q jobQueue
	q.push(queued("a", types.PriorityNormal, at))
	q.push(queued("b", types.PriorityNormal, at))
	q.push(queued("c", types.PriorityNormal, at))

	if item := q.remove("b"); item == nil || item.job.ID != "b" {
		t.Fatalf("Expected to remove b, got %v", item)
	}
	if q.remove("b") != nil {
		t.Error("Expected second remove to miss")
	}
	equalIDs(t, ids(&q), []string{"a", "c"})

	drained := q.drain()
	if len(drained) != 2 || q.len() != 0 {
		t.Errorf("Expected 2 drained and empty queue, got %d and %d", len(drained), q.len())
	}
}

func TestJobQueueJobsAreCopies(t *testing.T) {
	var q jobQueue
	q.push(queued("a", types.PriorityNormal, time.Now()))

	q.jobs()[0].ID = "mutated"
	if q.peek().job.ID != "a" {
		t.Error("Expected jobs() to return copies")
	}
}

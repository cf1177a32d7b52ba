package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"nudge/internal/storage"
)

type pendingJob struct {
	payload Payload
	runAt   time.Time
}

// memQueue is an in-memory Queue keyed by tag.
type memQueue struct {
	mu      sync.Mutex
	clock   Clock
	jobs    map[string][]pendingJob
	failOn  string
	cancels int
}

func newMemQueue(clock Clock) *memQueue {
	return &memQueue{clock: clock, jobs: map[string][]pendingJob{}}
}

func (q *memQueue) Enqueue(_ context.Context, tag string, p Payload, notBefore time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failOn == tag {
		return errors.New("queue down")
	}
	q.jobs[tag] = append(q.jobs[tag], pendingJob{payload: p, runAt: q.clock.Now().Add(notBefore)})
	return nil
}

func (q *memQueue) CancelByTag(_ context.Context, tag string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels++
	delete(q.jobs, tag)
	return nil
}

func (q *memQueue) pending(tag string) []pendingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pendingJob(nil), q.jobs[tag]...)
}

func (q *memQueue) snapshot() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[string]time.Time{}
	for tag, jobs := range q.jobs {
		for _, j := range jobs {
			out[tag] = j.runAt
		}
	}
	return out
}

// due pops every job whose run time has passed, like a host runner would.
func (q *memQueue) due() []Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var out []Payload
	for tag, jobs := range q.jobs {
		var keep []pendingJob
		for _, j := range jobs {
			if !j.runAt.After(now) {
				out = append(out, j.payload)
				continue
			}
			keep = append(keep, j)
		}
		if len(keep) == 0 {
			delete(q.jobs, tag)
		} else {
			q.jobs[tag] = keep
		}
	}
	return out
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[int64]storage.Task
	err   error
}

func newMemTasks(tasks ...storage.Task) *memTasks {
	m := &memTasks{tasks: map[int64]storage.Task{}}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) put(t storage.Task) {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
}

func (m *memTasks) remove(id int64) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

func (m *memTasks) GetByID(_ context.Context, id int64) (storage.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return storage.Task{}, false, m.err
	}
	t, ok := m.tasks[id]
	return t, ok, nil
}

func (m *memTasks) ListByDeadline(_ context.Context) ([]storage.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]storage.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	allowed bool
	err     error
	sent    map[int64]string
	calls   int
}

func newRecordingNotifier(allowed bool) *recordingNotifier {
	return &recordingNotifier{allowed: allowed, sent: map[int64]string{}}
}

func (n *recordingNotifier) HasPermission(context.Context) bool { return n.allowed }

func (n *recordingNotifier) Notify(_ context.Context, id int64, _ string, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.sent[id] = body
	return nil
}

package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/storage"
)

func newTestExecutor(t *testing.T, tasks *memTasks, n *recordingNotifier) *Executor {
	t.Helper()
	e, err := NewExecutor(tasks, n, quietLogger())
	require.NoError(t, err)
	return e
}

func TestExecutor_NotifiesPendingTask(t *testing.T) {
	tasks := newMemTasks(storage.Task{ID: 1, Title: "submit report", Deadline: base.Add(10 * time.Minute)})
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, tasks, n)

	out, err := e.Run(context.Background(), Payload{TaskID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, out)
	assert.Equal(t, `"submit report" is due in 10 minutes`, n.sent[1])
}

func TestExecutor_PermissionDeniedIsPermanent(t *testing.T) {
	tasks := newMemTasks(storage.Task{ID: 1, Title: "x", Deadline: base})
	n := newRecordingNotifier(false)
	e := newTestExecutor(t, tasks, n)

	out, err := e.Run(context.Background(), Payload{TaskID: 1})
	assert.Equal(t, OutcomePermissionDenied, out)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.True(t, IsPermanent(err))
	assert.Zero(t, n.calls)
}

func TestExecutor_CompletedInTheMeantime(t *testing.T) {
	tasks := newMemTasks(storage.Task{ID: 2, Title: "x", Deadline: base, Completed: true})
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, tasks, n)

	out, err := e.Run(context.Background(), Payload{TaskID: 2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTaskCompleted, out)
	assert.Zero(t, n.calls)
}

func TestExecutor_DeletedTaskIsNoop(t *testing.T) {
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, newMemTasks(), n)

	out, err := e.Run(context.Background(), Payload{TaskID: 3})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTaskNotFound, out)
	assert.Zero(t, n.calls)
}

func TestExecutor_InvalidPayload(t *testing.T) {
	e := newTestExecutor(t, newMemTasks(), newRecordingNotifier(true))
	err := e.Handle(context.Background(), Payload{})
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.True(t, IsPermanent(err))
}

func TestExecutor_StoreFailureIsRetryable(t *testing.T) {
	tasks := newMemTasks()
	tasks.err = storage.ErrUnavailable
	e := newTestExecutor(t, tasks, newRecordingNotifier(true))

	err := e.Handle(context.Background(), Payload{TaskID: 1})
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	assert.False(t, IsPermanent(err))
}

func TestExecutor_UsesCurrentTitle(t *testing.T) {
	tasks := newMemTasks(storage.Task{ID: 1, Title: "old", Deadline: base})
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, tasks, n)

	tasks.put(storage.Task{ID: 1, Title: "new", Deadline: base})
	require.NoError(t, e.Handle(context.Background(), Payload{TaskID: 1}))
	assert.Contains(t, n.sent[1], `"new"`)
}

func TestScenario_DeleteBeforeFiringNeverInvokesExecutor(t *testing.T) {
	clock := NewFakeClock(base)
	tasks := newMemTasks()
	s, q := newTestScheduler(t, clock, tasks)
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, tasks, n)

	task := storage.Task{ID: 1, Title: "call mom", Deadline: base.Add(time.Hour)}
	tasks.put(task)
	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, base.Add(50*time.Minute), q.pending(Tag(1))[0].runAt)

	tasks.remove(1)
	require.NoError(t, s.Cancel(context.Background(), 1))

	clock.Advance(2 * time.Hour)
	for _, p := range q.due() {
		require.NoError(t, e.Handle(context.Background(), p))
	}
	assert.Zero(t, n.calls)
}

func TestScenario_FiresOnceAtFireTime(t *testing.T) {
	clock := NewFakeClock(base)
	task := storage.Task{ID: 1, Title: "standup", Deadline: base.Add(time.Hour)}
	tasks := newMemTasks(task)
	s, q := newTestScheduler(t, clock, tasks)
	n := newRecordingNotifier(true)
	e := newTestExecutor(t, tasks, n)

	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	clock.Advance(49 * time.Minute)
	assert.Empty(t, q.due())

	clock.Advance(time.Minute)
	fired := q.due()
	require.Len(t, fired, 1)
	require.NoError(t, e.Handle(context.Background(), fired[0]))
	assert.Equal(t, 1, n.calls)
	assert.Empty(t, q.pending(Tag(1)))
}

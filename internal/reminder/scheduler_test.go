package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, clock Clock, tasks *memTasks) (*Scheduler, *memQueue) {
	t.Helper()
	q := newMemQueue(clock)
	s, err := NewScheduler(SchedulerConfig{Queue: q, Tasks: tasks, Clock: clock, Logger: quietLogger()})
	require.NoError(t, err)
	return s, q
}

func TestNewScheduler_RequiresDeps(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Tasks: newMemTasks()})
	assert.Error(t, err)
	_, err = NewScheduler(SchedulerConfig{Queue: newMemQueue(RealClock{})})
	assert.Error(t, err)
}

func TestReschedule_EnqueuesAtDeadlineMinusLead(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())

	task := storage.Task{ID: 7, Title: "pay rent", Deadline: base.Add(time.Hour)}
	d, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, d.Remind)

	jobs := q.pending("reminder:7")
	require.Len(t, jobs, 1)
	assert.Equal(t, base.Add(50*time.Minute), jobs[0].runAt)
	assert.Equal(t, Payload{TaskID: 7}, jobs[0].payload)
}

func TestReschedule_Idempotent(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())
	task := storage.Task{ID: 3, Deadline: base.Add(2 * time.Hour)}

	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)
	_, err = s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	assert.Len(t, q.pending(Tag(3)), 1)
}

func TestReschedule_AtMostOnePendingAfterAnySequence(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())
	ctx := context.Background()
	task := storage.Task{ID: 9, Deadline: base.Add(3 * time.Hour)}

	steps := []func(){
		func() { _, _ = s.Reschedule(ctx, task) },
		func() { task.Deadline = task.Deadline.Add(time.Hour); _, _ = s.Reschedule(ctx, task) },
		func() { _ = s.Cancel(ctx, task.ID) },
		func() { _ = s.Cancel(ctx, task.ID) },
		func() { task.Completed = true; _, _ = s.Reschedule(ctx, task) },
		func() { task.Completed = false; _, _ = s.Reschedule(ctx, task) },
		func() { _, _ = s.Reschedule(ctx, task) },
	}
	for i, step := range steps {
		step()
		assert.LessOrEqual(t, len(q.pending(Tag(9))), 1, "after step %d", i)
	}
	assert.Len(t, q.pending(Tag(9)), 1)
}

func TestReschedule_EditMovesTrigger(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())
	task := storage.Task{ID: 4, Deadline: base.Add(time.Hour)}
	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	task.Deadline = base.Add(5 * time.Hour)
	_, err = s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	jobs := q.pending(Tag(4))
	require.Len(t, jobs, 1)
	assert.Equal(t, base.Add(5*time.Hour-LeadTime), jobs[0].runAt)
}

func TestReschedule_NoTriggerWhenDeadlineTooClose(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())

	d, err := s.Reschedule(context.Background(), storage.Task{ID: 5, Deadline: base.Add(5 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, d.Remind)
	assert.Empty(t, q.pending(Tag(5)))
}

func TestReschedule_CompletingClearsTrigger(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())
	task := storage.Task{ID: 6, Deadline: base.Add(time.Hour)}
	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	task.Completed = true
	_, err = s.Reschedule(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, q.pending(Tag(6)))
}

func TestReschedule_RejectsUnsavedTask(t *testing.T) {
	s, _ := newTestScheduler(t, NewFakeClock(base), newMemTasks())
	_, err := s.Reschedule(context.Background(), storage.Task{Deadline: base.Add(time.Hour)})
	assert.Error(t, err)
}

func TestReschedule_PropagatesEnqueueFailure(t *testing.T) {
	clock := NewFakeClock(base)
	s, q := newTestScheduler(t, clock, newMemTasks())
	q.failOn = Tag(8)

	_, err := s.Reschedule(context.Background(), storage.Task{ID: 8, Deadline: base.Add(time.Hour)})
	assert.Error(t, err)
	assert.Empty(t, q.pending(Tag(8)))
}

func TestCancel_IsIdempotent(t *testing.T) {
	s, q := newTestScheduler(t, NewFakeClock(base), newMemTasks())
	assert.NoError(t, s.Cancel(context.Background(), 99))
	assert.NoError(t, s.Cancel(context.Background(), 99))
	assert.Equal(t, 2, q.cancels)
}

func TestRescheduleAll_MatchesIndividualCalls(t *testing.T) {
	tasks := []storage.Task{
		{ID: 1, Deadline: base.Add(time.Hour)},
		{ID: 2, Deadline: base.Add(-time.Hour)},
		{ID: 3, Deadline: base.Add(3 * time.Hour), Completed: true},
		{ID: 4, Deadline: base.Add(5 * time.Minute)},
		{ID: 5, Deadline: base.Add(24 * time.Hour)},
	}

	clock := NewFakeClock(base)
	all, allQueue := newTestScheduler(t, clock, newMemTasks(tasks...))
	sum, err := all.RescheduleAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Scanned: 5, Scheduled: 2}, sum)

	one, oneQueue := newTestScheduler(t, clock, newMemTasks())
	for i := len(tasks) - 1; i >= 0; i-- {
		_, err := one.Reschedule(context.Background(), tasks[i])
		require.NoError(t, err)
	}

	assert.Equal(t, oneQueue.snapshot(), allQueue.snapshot())
	assert.Len(t, allQueue.snapshot(), 2)
}

func TestRescheduleAll_ReplacesTriggersLeftFromBeforeRestart(t *testing.T) {
	clock := NewFakeClock(base)
	task := storage.Task{ID: 1, Deadline: base.Add(time.Hour)}
	s, q := newTestScheduler(t, clock, newMemTasks(task))
	_, err := s.Reschedule(context.Background(), task)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = s.RescheduleAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, q.pending(Tag(1)), 1)
}

func TestRescheduleAll_StoreUnavailable(t *testing.T) {
	tasks := newMemTasks()
	tasks.err = storage.ErrUnavailable
	s, _ := newTestScheduler(t, NewFakeClock(base), tasks)

	_, err := s.RescheduleAll(context.Background())
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}

func TestRescheduleAll_ContinuesPastFailures(t *testing.T) {
	clock := NewFakeClock(base)
	tasks := newMemTasks(
		storage.Task{ID: 1, Deadline: base.Add(time.Hour)},
		storage.Task{ID: 2, Deadline: base.Add(2 * time.Hour)},
	)
	s, q := newTestScheduler(t, clock, tasks)
	q.failOn = Tag(1)

	sum, err := s.RescheduleAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Len(t, q.pending(Tag(2)), 1)
}

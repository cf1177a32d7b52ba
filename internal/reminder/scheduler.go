package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nudge/internal/storage"
)

const tagPrefix = "reminder:"

// Tag is the queue key shared by every trigger of one task.
func Tag(taskID int64) string {
	return tagPrefix + strconv.FormatInt(taskID, 10)
}

// ParseTag is the inverse of Tag.
func ParseTag(tag string) (int64, bool) {
	rest, ok := strings.CutPrefix(tag, tagPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Payload is the only data a trigger carries. The executor re-reads the task.
type Payload struct {
	TaskID int64 `json:"task_id"`
}

// Queue is the durable, tagged, delayed work queue of the host.
type Queue interface {
	Enqueue(ctx context.Context, tag string, payload Payload, notBefore time.Duration) error
	CancelByTag(ctx context.Context, tag string) error
}

// TaskLister is the full scan used after a restart.
type TaskLister interface {
	ListByDeadline(ctx context.Context) ([]storage.Task, error)
}

type SchedulerConfig struct {
	Queue  Queue
	Tasks  TaskLister
	Clock  Clock
	Logger *slog.Logger
}

type Scheduler struct {
	queue  Queue
	tasks  TaskLister
	clock  Clock
	logger *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task lister is required")
	}
	s := &Scheduler{
		queue:  cfg.Queue,
		tasks:  cfg.Tasks,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Reschedule replaces whatever trigger t has with the one Decide asks for.
// It is safe to call repeatedly; the old trigger is always cancelled first.
func (s *Scheduler) Reschedule(ctx context.Context, t storage.Task) (Decision, error) {
	if t.ID <= 0 {
		return Decision{}, fmt.Errorf("reschedule: task has no id")
	}
	tag := Tag(t.ID)
	if err := s.queue.CancelByTag(ctx, tag); err != nil {
		s.logger.Error("cancel reminder failed", "tag", tag, "err", err)
		return Decision{}, fmt.Errorf("cancel %s: %w", tag, err)
	}

	now := s.clock.Now()
	d := Decide(t, now)
	if !d.Remind {
		s.logger.Debug("no reminder", "task_id", t.ID, "completed", t.Completed, "deadline", t.Deadline)
		return d, nil
	}

	if err := s.queue.Enqueue(ctx, tag, Payload{TaskID: t.ID}, d.FireAt.Sub(now)); err != nil {
		s.logger.Error("enqueue reminder failed", "tag", tag, "err", err)
		return Decision{}, fmt.Errorf("enqueue %s: %w", tag, err)
	}
	s.logger.Debug("reminder scheduled", "task_id", t.ID, "fire_at", d.FireAt)
	return d, nil
}

// Cancel drops the pending trigger for taskID. Missing triggers are fine.
func (s *Scheduler) Cancel(ctx context.Context, taskID int64) error {
	tag := Tag(taskID)
	if err := s.queue.CancelByTag(ctx, tag); err != nil {
		s.logger.Error("cancel reminder failed", "tag", tag, "err", err)
		return fmt.Errorf("cancel %s: %w", tag, err)
	}
	s.logger.Debug("reminder cancelled", "task_id", taskID)
	return nil
}

type Summary struct {
	Scanned   int
	Scheduled int
	Failed    int
}

// RescheduleAll reconciles the queue with the store after a restart.
// Every task is attempted; failures are joined into the returned error.
func (s *Scheduler) RescheduleAll(ctx context.Context) (Summary, error) {
	tasks, err := s.tasks.ListByDeadline(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load tasks: %w", err)
	}

	var sum Summary
	var errs []error
	for _, t := range tasks {
		sum.Scanned++
		d, err := s.Reschedule(ctx, t)
		if err != nil {
			sum.Failed++
			errs = append(errs, err)
			continue
		}
		if d.Remind {
			sum.Scheduled++
		}
	}
	s.logger.Info("reminders reconciled", "scanned", sum.Scanned, "scheduled", sum.Scheduled, "failed", sum.Failed)
	return sum, errors.Join(errs...)
}

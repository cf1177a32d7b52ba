package reminder

import (
	"context"
	"fmt"
	"log/slog"

	"nudge/internal/storage"
)

// Notifier is the user-facing alert sink.
type Notifier interface {
	HasPermission(ctx context.Context) bool
	// Notify shows an alert. A later call with the same id replaces it.
	Notify(ctx context.Context, id int64, title, body string) error
}

type TaskGetter interface {
	GetByID(ctx context.Context, id int64) (storage.Task, bool, error)
}

type Outcome string

const (
	OutcomeNotified         Outcome = "notified"
	OutcomeTaskNotFound     Outcome = "task_not_found"
	OutcomeTaskCompleted    Outcome = "task_completed"
	OutcomePermissionDenied Outcome = "permission_denied"
)

const NotificationTitle = "Task reminder"

// NotificationBody is the alert text for a task about to hit its deadline.
func NotificationBody(title string) string {
	return fmt.Sprintf("%q is due in %d minutes", title, int(LeadTime.Minutes()))
}

type Executor struct {
	tasks    TaskGetter
	notifier Notifier
	logger   *slog.Logger
}

func NewExecutor(tasks TaskGetter, notifier Notifier, logger *slog.Logger) (*Executor, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task getter is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{tasks: tasks, notifier: notifier, logger: logger}, nil
}

// Run handles one fired trigger. The task is always re-read from the store
// because it may have been edited, completed or deleted since scheduling.
func (e *Executor) Run(ctx context.Context, p Payload) (Outcome, error) {
	if !e.notifier.HasPermission(ctx) {
		e.logger.Warn("reminder dropped", "task_id", p.TaskID, "outcome", OutcomePermissionDenied)
		return OutcomePermissionDenied, ErrPermissionDenied
	}
	if p.TaskID <= 0 {
		return "", fmt.Errorf("%w: task id %d", ErrInvalidPayload, p.TaskID)
	}

	t, ok, err := e.tasks.GetByID(ctx, p.TaskID)
	if err != nil {
		return "", fmt.Errorf("load task %d: %w", p.TaskID, err)
	}
	if !ok {
		e.logger.Info("stale reminder", "task_id", p.TaskID, "outcome", OutcomeTaskNotFound)
		return OutcomeTaskNotFound, nil
	}
	if t.Completed {
		e.logger.Info("stale reminder", "task_id", p.TaskID, "outcome", OutcomeTaskCompleted)
		return OutcomeTaskCompleted, nil
	}

	if err := e.notifier.Notify(ctx, t.ID, NotificationTitle, NotificationBody(t.Title)); err != nil {
		return "", fmt.Errorf("notify task %d: %w", t.ID, err)
	}
	e.logger.Info("reminder delivered", "task_id", t.ID, "outcome", OutcomeNotified)
	return OutcomeNotified, nil
}

// Handle adapts Run to the queue handler shape.
func (e *Executor) Handle(ctx context.Context, p Payload) error {
	_, err := e.Run(ctx, p)
	return err
}

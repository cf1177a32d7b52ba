// Package controller applies user edits to the task store and keeps the
// reminder queue in step with every change.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nudge/internal/reminder"
	"nudge/internal/storage"
)

// DeadlineLayout is the form format for deadlines, read in local time.
const DeadlineLayout = "2006-01-02 15:04"

// MinSearchLen is the shortest live query that switches the list to search.
const MinSearchLen = 2

// ErrReminderNotScheduled marks a change that was saved while its reminder
// could not be queued. The next Startup reschedules every task, which repairs it.
var ErrReminderNotScheduled = errors.New("task saved, reminder will be scheduled on next start")

type SortMethod string

const (
	SortDeadline SortMethod = "deadline"
	SortCreated  SortMethod = "created"
)

func ParseSort(v string) (SortMethod, error) {
	switch SortMethod(strings.ToLower(strings.TrimSpace(v))) {
	case "", SortDeadline:
		return SortDeadline, nil
	case SortCreated:
		return SortCreated, nil
	default:
		return "", fmt.Errorf("unknown sort %q", v)
	}
}

type Store interface {
	Insert(ctx context.Context, t storage.Task) (int64, error)
	Update(ctx context.Context, t storage.Task) error
	SetCompleted(ctx context.Context, id int64, completed bool) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (storage.Task, bool, error)
	ListByDeadline(ctx context.Context) ([]storage.Task, error)
	ListByCreation(ctx context.Context) ([]storage.Task, error)
	Search(ctx context.Context, query string) ([]storage.Task, error)
}

type Scheduler interface {
	Reschedule(ctx context.Context, t storage.Task) (reminder.Decision, error)
	Cancel(ctx context.Context, taskID int64) error
	RescheduleAll(ctx context.Context) (reminder.Summary, error)
}

type Input struct {
	Title       string
	Description string
	Deadline    time.Time
}

type Controller struct {
	store Store
	sched Scheduler
}

func New(store Store, sched Scheduler) *Controller {
	return &Controller{store: store, sched: sched}
}

// Startup reconciles reminders with the store. Call once per process.
func (c *Controller) Startup(ctx context.Context) (reminder.Summary, error) {
	return c.sched.RescheduleAll(ctx)
}

func (c *Controller) Create(ctx context.Context, in Input) (storage.Task, reminder.Decision, error) {
	t := storage.Task{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Deadline:    in.Deadline,
	}
	id, err := c.store.Insert(ctx, t)
	if err != nil {
		return storage.Task{}, reminder.Decision{}, err
	}
	saved, err := c.load(ctx, id)
	if err != nil {
		return storage.Task{}, reminder.Decision{}, err
	}
	d, err := c.sched.Reschedule(ctx, saved)
	if err != nil {
		return saved, reminder.Decision{}, fmt.Errorf("%w: %w", ErrReminderNotScheduled, err)
	}
	return saved, d, nil
}

// Edit replaces title, description and deadline. The task goes back to
// pending, and createdAt is kept.
func (c *Controller) Edit(ctx context.Context, id int64, in Input) (storage.Task, reminder.Decision, error) {
	t, err := c.load(ctx, id)
	if err != nil {
		return storage.Task{}, reminder.Decision{}, err
	}
	t.Title = strings.TrimSpace(in.Title)
	t.Description = strings.TrimSpace(in.Description)
	t.Deadline = in.Deadline
	t.Completed = false
	if err := c.store.Update(ctx, t); err != nil {
		return storage.Task{}, reminder.Decision{}, err
	}
	d, err := c.sched.Reschedule(ctx, t)
	if err != nil {
		return t, reminder.Decision{}, fmt.Errorf("%w: %w", ErrReminderNotScheduled, err)
	}
	return t, d, nil
}

func (c *Controller) SetCompleted(ctx context.Context, id int64, completed bool) (storage.Task, error) {
	t, err := c.load(ctx, id)
	if err != nil {
		return storage.Task{}, err
	}
	if err := c.store.SetCompleted(ctx, id, completed); err != nil {
		return storage.Task{}, err
	}
	t.Completed = completed
	if completed {
		err = c.sched.Cancel(ctx, id)
	} else {
		_, err = c.sched.Reschedule(ctx, t)
	}
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrReminderNotScheduled, err)
	}
	return t, nil
}

// Delete removes the task and its trigger. The trigger is cancelled even
// when the row was already gone.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	derr := c.store.Delete(ctx, id)
	if derr != nil && !errors.Is(derr, storage.ErrNotFound) {
		return derr
	}
	if err := c.sched.Cancel(ctx, id); err != nil {
		return fmt.Errorf("task deleted, reminder not cancelled: %w", err)
	}
	return derr
}

func (c *Controller) Get(ctx context.Context, id int64) (storage.Task, error) {
	return c.load(ctx, id)
}

// List returns tasks in the given order, or the search result when query
// is not blank. Search results are ordered by deadline.
func (c *Controller) List(ctx context.Context, sort SortMethod, query string) ([]storage.Task, error) {
	if strings.TrimSpace(query) != "" {
		return c.store.Search(ctx, query)
	}
	if sort == SortCreated {
		return c.store.ListByCreation(ctx)
	}
	return c.store.ListByDeadline(ctx)
}

func (c *Controller) load(ctx context.Context, id int64) (storage.Task, error) {
	t, ok, err := c.store.GetByID(ctx, id)
	if err != nil {
		return storage.Task{}, err
	}
	if !ok {
		return storage.Task{}, fmt.Errorf("%s%d: %w", storage.IDPrefix, id, storage.ErrNotFound)
	}
	return t, nil
}

type Section struct {
	Title string
	Tasks []storage.Task
}

// Sections splits tasks into Pending then Completed, keeping their order.
// Empty sections are left out.
func Sections(tasks []storage.Task) []Section {
	var pending, done []storage.Task
	for _, t := range tasks {
		if t.Completed {
			done = append(done, t)
		} else {
			pending = append(pending, t)
		}
	}
	var out []Section
	if len(pending) > 0 {
		out = append(out, Section{Title: "Pending", Tasks: pending})
	}
	if len(done) > 0 {
		out = append(out, Section{Title: "Completed", Tasks: done})
	}
	return out
}

func ParseDeadline(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: deadline is required", storage.ErrInvalidTask)
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DeadlineLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: deadline must look like %s", storage.ErrInvalidTask, DeadlineLayout)
	}
	return t, nil
}

func FormatDeadline(t time.Time) string {
	return t.In(time.Local).Format(DeadlineLayout)
}

// ParseID accepts "12" as well as "TASK-12".
func ParseID(v string) (int64, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), storage.IDPrefix)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", v)
	}
	return id, nil
}

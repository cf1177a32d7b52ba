// Package riverqueue runs reminder triggers through river, on the task
// database's SQLite file by default or on PostgreSQL.
package riverqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"nudge/internal/reminder"
)

// ErrInvalidTag is returned for tags that do not name a task reminder.
var ErrInvalidTag = errors.New("invalid reminder tag")

const (
	riverTagPrefix = "reminder-"
	listPage       = 500
	fetchCooldown  = 100 * time.Millisecond
)

// ReminderArgs carries only the task id; the worker re-reads the task.
type ReminderArgs struct {
	TaskID int64 `json:"task_id"`
}

func (ReminderArgs) Kind() string { return "nudge_task_reminder" }

// RiverTag maps a reminder tag to river's tag alphabet, which has no ':'.
func RiverTag(tag string) (string, error) {
	id, ok := reminder.ParseTag(tag)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return riverTagPrefix + strconv.FormatInt(id, 10), nil
}

type ReminderWorker struct {
	river.WorkerDefaults[ReminderArgs]
	handle func(ctx context.Context, p reminder.Payload) error
}

func (w *ReminderWorker) Work(ctx context.Context, job *river.Job[ReminderArgs]) error {
	err := w.handle(ctx, reminder.Payload{TaskID: job.Args.TaskID})
	if err != nil && reminder.IsPermanent(err) {
		return river.JobCancel(err)
	}
	return err
}

type Config struct {
	// Handler runs fired reminders. Leave nil for an insert-only client.
	Handler      func(ctx context.Context, p reminder.Payload) error
	Clock        reminder.Clock
	MaxAttempts  int
	MaxWorkers   int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Queue implements reminder.Queue on a river client. TTx is the driver's
// transaction type.
type Queue[TTx any] struct {
	client *river.Client[TTx]
	clock  reminder.Clock
}

// OpenSQLite migrates river's tables into db and returns a queue on it. db
// is normally the task store's handle, so both live in one file.
func OpenSQLite(ctx context.Context, db *sql.DB, cfg Config) (*Queue[*sql.Tx], error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return open(ctx, riversqlite.New(db), cfg, true)
}

func OpenPostgres(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Queue[pgx.Tx], error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return open(ctx, riverpgxv5.New(pool), cfg, false)
}

func open[TTx any](ctx context.Context, driver riverdriver.Driver[TTx], cfg Config, pollOnly bool) (*Queue[TTx], error) {
	if cfg.Clock == nil {
		cfg.Clock = reminder.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}

	migrator, err := rivermigrate.New(driver, &rivermigrate.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("river migrate: %w", err)
	}

	riverCfg := &river.Config{
		ID:          "nudge_" + strings.ReplaceAll(uuid.NewString(), "-", "_"),
		Logger:      cfg.Logger,
		MaxAttempts: cfg.MaxAttempts,
		PollOnly:    pollOnly,
	}
	if cfg.PollInterval > 0 {
		riverCfg.FetchPollInterval = cfg.PollInterval
		if cfg.PollInterval < fetchCooldown {
			riverCfg.FetchCooldown = cfg.PollInterval
		}
	}
	if cfg.Handler != nil {
		workers := river.NewWorkers()
		if err := river.AddWorkerSafely(workers, &ReminderWorker{handle: cfg.Handler}); err != nil {
			return nil, fmt.Errorf("register reminder worker: %w", err)
		}
		riverCfg.Workers = workers
		riverCfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		}
	}

	client, err := river.NewClient(driver, riverCfg)
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &Queue[TTx]{client: client, clock: cfg.Clock}, nil
}

func (q *Queue[TTx]) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *Queue[TTx]) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

func (q *Queue[TTx]) Enqueue(ctx context.Context, tag string, p reminder.Payload, notBefore time.Duration) error {
	rtag, err := RiverTag(tag)
	if err != nil {
		return err
	}
	if notBefore < 0 {
		notBefore = 0
	}
	_, err = q.client.Insert(ctx, ReminderArgs{TaskID: p.TaskID}, &river.InsertOpts{
		ScheduledAt: q.clock.Now().Add(notBefore),
		Tags:        []string{rtag},
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", tag, err)
	}
	return nil
}

var (
	waitingStates = []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateScheduled,
	}
	// A running job is cancelled too. If its process died, river's rescuer
	// finalizes it as cancelled instead of retrying it at the old time.
	cancellableStates = append(slices.Clone(waitingStates), rivertype.JobStateRunning)
)

// CancelByTag cancels every unfinished job carrying tag. Missing jobs are fine.
func (q *Queue[TTx]) CancelByTag(ctx context.Context, tag string) error {
	rtag, err := RiverTag(tag)
	if err != nil {
		return err
	}
	jobs, err := q.list(ctx, rtag, cancellableStates)
	if err != nil {
		return fmt.Errorf("find jobs for %s: %w", tag, err)
	}
	for _, job := range jobs {
		if _, err := q.client.JobCancel(ctx, job.ID); err != nil && !errors.Is(err, rivertype.ErrNotFound) {
			return fmt.Errorf("cancel job %d: %w", job.ID, err)
		}
	}
	return nil
}

type PendingJob struct {
	JobID       int64
	TaskID      int64
	State       rivertype.JobState
	ScheduledAt time.Time
	Tags        []string
}

// Pending lists reminder jobs that have not run yet, all of them when tag is
// empty. Finalized jobs (completed, cancelled, discarded) never show up.
func (q *Queue[TTx]) Pending(ctx context.Context, tag string) ([]PendingJob, error) {
	rtag := ""
	if tag != "" {
		var err error
		if rtag, err = RiverTag(tag); err != nil {
			return nil, err
		}
	}
	jobs, err := q.list(ctx, rtag, waitingStates)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]PendingJob, 0, len(jobs))
	for _, row := range jobs {
		var args ReminderArgs
		if err := json.Unmarshal(row.EncodedArgs, &args); err != nil {
			return nil, fmt.Errorf("decode job %d: %w", row.ID, err)
		}
		out = append(out, PendingJob{JobID: row.ID, TaskID: args.TaskID, State: row.State, ScheduledAt: row.ScheduledAt, Tags: row.Tags})
	}
	slices.SortFunc(out, func(a, b PendingJob) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
	return out, nil
}

func (q *Queue[TTx]) list(ctx context.Context, rtag string, states []rivertype.JobState) ([]*rivertype.JobRow, error) {
	params := river.NewJobListParams().
		Kinds(ReminderArgs{}.Kind()).
		States(states...).
		First(listPage)
	var out []*rivertype.JobRow
	for {
		res, err := q.client.JobList(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, row := range res.Jobs {
			if rtag == "" || slices.Contains(row.Tags, rtag) {
				out = append(out, row)
			}
		}
		if len(res.Jobs) < listPage || res.LastCursor == nil {
			return out, nil
		}
		params = params.After(res.LastCursor)
	}
}

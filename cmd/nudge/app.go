package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"nudge/internal/config"
	"nudge/internal/controller"
	"nudge/internal/notify"
	"nudge/internal/reminder"
	"nudge/internal/riverqueue"
	"nudge/internal/storage"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
	ctl    *controller.Controller

	start   func(ctx context.Context) error
	pending func(ctx context.Context) ([]riverqueue.PendingJob, error)
	closers []func()
}

// openApp wires the store, the configured river backend and the controller.
// With a nil notifier the river client only inserts and start is a no-op.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger, notifier reminder.Notifier) (*app, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	a.closers = append(a.closers, func() { _ = store.Close() })

	rcfg := riverqueue.Config{
		MaxAttempts:  cfg.Reminders.MaxAttempts,
		PollInterval: cfg.Reminders.Poll(),
		Logger:       logger,
	}
	if notifier != nil {
		exec, err := reminder.NewExecutor(store, notify.Gate{Enabled: cfg.Notifications.Enabled, Next: notifier}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		rcfg.Handler = exec.Handle
	}

	var queue reminder.Queue
	switch cfg.Reminders.Backend {
	case config.BackendPostgres:
		pool, perr := pgxpool.New(ctx, cfg.Reminders.PostgresURL)
		if perr != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", perr)
		}
		a.closers = append(a.closers, pool.Close)
		q, qerr := riverqueue.OpenPostgres(ctx, pool, rcfg)
		if qerr == nil {
			wire(a, q, rcfg.Handler != nil)
		}
		queue, err = q, qerr
	default:
		q, qerr := riverqueue.OpenSQLite(ctx, store.DB(), rcfg)
		if qerr == nil {
			wire(a, q, rcfg.Handler != nil)
		}
		queue, err = q, qerr
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	sched, err := reminder.NewScheduler(reminder.SchedulerConfig{
		Queue:  queue,
		Tasks:  store,
		Logger: logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ctl = controller.New(store, sched)
	return a, nil
}

func wire[TTx any](a *app, q *riverqueue.Queue[TTx], working bool) {
	a.pending = func(ctx context.Context) ([]riverqueue.PendingJob, error) {
		return q.Pending(ctx, "")
	}
	a.start = func(context.Context) error { return nil }
	if !working {
		return
	}
	a.start = func(ctx context.Context) error {
		if err := q.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		a.closers = append(a.closers, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := q.Stop(stopCtx); err != nil {
				a.logger.Warn("river client stop", "err", err)
			}
		})
		return nil
	}
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

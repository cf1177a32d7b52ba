package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"nudge/internal/config"
	"nudge/internal/controller"
	"nudge/internal/logging"
	"nudge/internal/notify"
	"nudge/internal/storage"
	"nudge/internal/ui"
)

const usage = `usage: nudge [-config path] [command]

commands:
  (none)                     open the task list
  worker                     deliver reminders to the terminal without the UI
  add -title T -desc D -due "YYYY-MM-DD HH:MM"
  list [-sort deadline|created] [-q query]
  done ID | undo ID | rm ID
  reminders                  show queued reminders
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("nudge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	path := *configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return runUI(ctx, cfg)
	}

	logger := logging.New(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "worker":
		return runWorker(ctx, cfg, logger, stdout)
	case "add", "list", "done", "undo", "rm", "reminders":
	default:
		fs.Usage()
		return fmt.Errorf("run: unknown command %q", cmd)
	}

	a, err := openApp(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer a.Close()

	switch cmd {
	case "add":
		return cmdAdd(ctx, a, cmdArgs, stdout, stderr)
	case "list":
		return cmdList(ctx, a, cmdArgs, stdout, stderr)
	case "done", "undo":
		return cmdSetCompleted(ctx, a, cmdArgs, cmd == "done", stdout)
	case "rm":
		return cmdRemove(ctx, a, cmdArgs, stdout)
	default:
		return cmdReminders(ctx, a, stdout)
	}
}

func runUI(ctx context.Context, cfg config.Config) error {
	logger, closer, err := logging.OpenFile(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	alerts := notify.NewProgram()
	a, err := openApp(ctx, cfg, logger, alerts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer a.Close()

	if _, err := a.ctl.Startup(ctx); err != nil {
		logger.Warn("some reminders could not be rescheduled", "err", err)
	}

	var startErr error
	err = ui.Run(a.ctl, cfg, alerts, func() {
		startErr = a.start(ctx)
	})
	if startErr != nil {
		logger.Error("reminders disabled", "err", startErr)
	}
	if err != nil {
		return fmt.Errorf("run program: %w", err)
	}
	return nil
}

func runWorker(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	console := notify.NewConsole(stdout, cfg.Notifications.Bell)
	a, err := openApp(ctx, cfg, logger, console)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer a.Close()

	if _, err := a.ctl.Startup(ctx); err != nil {
		logger.Warn("some reminders could not be rescheduled", "err", err)
	}
	if err := a.start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker running", "backend", cfg.Reminders.Backend)
	<-ctx.Done()
	return nil
}

func cmdAdd(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	title := fs.String("title", "", "task title")
	desc := fs.String("desc", "", "task description")
	due := fs.String("due", "", "deadline, "+controller.DeadlineLayout)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	deadline, err := controller.ParseDeadline(*due, time.Local)
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	t, d, err := a.ctl.Create(ctx, controller.Input{Title: *title, Description: *desc, Deadline: deadline})
	if t.ID == 0 {
		return fmt.Errorf("add task: %w", err)
	}
	fmt.Fprintf(stdout, "added %s %q\n", t.Label(), t.Title)
	switch {
	case err != nil:
		return fmt.Errorf("schedule reminder: %w", err)
	case d.Remind:
		fmt.Fprintf(stdout, "reminder at %s\n", controller.FormatDeadline(d.FireAt))
	default:
		fmt.Fprintln(stdout, "no reminder: deadline is less than 10 minutes away")
	}
	return nil
}

func cmdList(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sortFlag := fs.String("sort", a.cfg.DefaultSort, "deadline or created")
	query := fs.String("q", "", "search title, description or id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	sortMethod, err := controller.ParseSort(*sortFlag)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := a.ctl.List(ctx, sortMethod, *query)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(stdout, "no tasks")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, s := range controller.Sections(tasks) {
		fmt.Fprintf(w, "%s\n", s.Title)
		for _, t := range s.Tasks {
			mark := ""
			if t.Overdue(now) {
				mark = "overdue"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", t.Label(), t.Title, controller.FormatDeadline(t.Deadline), humanize.Time(t.Deadline), mark)
		}
	}
	return w.Flush()
}

func cmdSetCompleted(ctx context.Context, a *app, args []string, completed bool, stdout io.Writer) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	t, err := a.ctl.SetCompleted(ctx, id, completed)
	if err != nil && !errors.Is(err, controller.ErrReminderNotScheduled) {
		return fmt.Errorf("update task: %w", err)
	}
	state := "pending"
	if t.Completed {
		state = "done"
	}
	fmt.Fprintf(stdout, "%s marked %s\n", t.Label(), state)
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

func cmdRemove(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	if err := a.ctl.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Fprintf(stdout, "deleted %s%d\n", storage.IDPrefix, id)
	return nil
}

func cmdReminders(ctx context.Context, a *app, stdout io.Writer) error {
	triggers, err := a.pending(ctx)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(triggers) == 0 {
		fmt.Fprintln(stdout, "no reminders queued")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, tr := range triggers {
		fmt.Fprintf(w, "%s%d\t%s\t%s\t%s\n", storage.IDPrefix, tr.TaskID, tr.State, controller.FormatDeadline(tr.ScheduledAt), humanize.Time(tr.ScheduledAt))
	}
	return w.Flush()
}

func singleID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("parse args: expected exactly one task id")
	}
	id, err := controller.ParseID(args[0])
	if err != nil {
		return 0, fmt.Errorf("parse args: %w", err)
	}
	return id, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnavailable wraps every failure reported by the database driver.
	ErrUnavailable = errors.New("task store unavailable")
)

// IDPrefix is how task ids are shown to the user and accepted in searches.
const IDPrefix = "TASK-"

type Task struct {
	ID          int64
	Title       string
	Description string
	Deadline    time.Time
	Completed   bool
	CreatedAt   time.Time
}

// Label renders the task id the way the list shows it.
func (t Task) Label() string {
	return IDPrefix + strconv.FormatInt(t.ID, 10)
}

// Overdue reports whether a pending task's deadline has already passed.
func (t Task) Overdue(now time.Time) bool {
	return !t.Completed && t.Deadline.Before(now)
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidTask)
	}
	if t.Deadline.IsZero() {
		return fmt.Errorf("%w: deadline is required", ErrInvalidTask)
	}
	return nil
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle so the reminder queue can share the single connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	deadline TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return s.ensureTaskColumns()
}

func (s *Store) ensureTaskColumns() error {
	required := map[string]string{
		"description": "ALTER TABLE tasks ADD COLUMN description TEXT NOT NULL DEFAULT '';",
		"completed":   "ALTER TABLE tasks ADD COLUMN completed INTEGER NOT NULL DEFAULT 0;",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(tasks);`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, title, description, deadline, completed, created_at`

// Insert stores a new task and returns its id. CreatedAt is stamped when unset.
func (s *Store) Insert(ctx context.Context, t Task) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks (title, description, deadline, completed, created_at) VALUES (?, ?, ?, ?, ?);`,
		strings.TrimSpace(t.Title), strings.TrimSpace(t.Description), formatTime(t.Deadline), boolToInt(t.Completed), formatTime(t.CreatedAt))
	if err != nil {
		return 0, unavailable("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("insert task", err)
	}
	return id, nil
}

// Update rewrites the mutable fields of a task. created_at is never touched.
func (s *Store) Update(ctx context.Context, t Task) error {
	if t.ID <= 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, deadline = ?, completed = ? WHERE id = ?;`,
		strings.TrimSpace(t.Title), strings.TrimSpace(t.Description), formatTime(t.Deadline), boolToInt(t.Completed), t.ID)
	if err != nil {
		return unavailable("update task", err)
	}
	return requireRow(res, "update task")
}

func (s *Store) SetCompleted(ctx context.Context, id int64, completed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed = ? WHERE id = ?;`, boolToInt(completed), id)
	if err != nil {
		return unavailable("set completed", err)
	}
	return requireRow(res, "set completed")
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return unavailable("delete task", err)
	}
	return requireRow(res, "delete task")
}

// GetByID returns the task and true, or false when no such task exists.
func (s *Store) GetByID(ctx context.Context, id int64) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, unavailable("get task", err)
	}
	return t, true, nil
}

// ListByDeadline returns every task, earliest deadline first.
func (s *Store) ListByDeadline(ctx context.Context) ([]Task, error) {
	return s.query(ctx, "list by deadline", `SELECT `+taskColumns+` FROM tasks ORDER BY deadline ASC, id ASC;`)
}

func (s *Store) ListByCreation(ctx context.Context) ([]Task, error) {
	return s.query(ctx, "list by creation", `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC;`)
}

// Search matches the query as a substring of title, description or id.
// A leading TASK- prefix is ignored so "TASK-12" finds task 12.
func (s *Store) Search(ctx context.Context, query string) ([]Task, error) {
	q := strings.TrimSpace(query)
	q = strings.ReplaceAll(q, IDPrefix, "")
	if q == "" {
		return s.ListByDeadline(ctx)
	}
	pattern := "%" + escapeLike(q) + "%"
	return s.query(ctx, "search tasks", `SELECT `+taskColumns+` FROM tasks
WHERE title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR CAST(id AS TEXT) LIKE ? ESCAPE '\'
ORDER BY deadline ASC, id ASC;`, pattern, pattern, pattern)
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var t Task
	var completed int
	var deadlineStr, createdStr string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &deadlineStr, &completed, &createdStr); err != nil {
		return Task{}, err
	}
	t.Completed = completed == 1
	deadline, err := time.Parse(time.RFC3339, deadlineStr)
	if err != nil {
		return Task{}, fmt.Errorf("parse deadline of task %d: %w", t.ID, err)
	}
	t.Deadline = deadline
	if created, err := time.Parse(time.RFC3339, createdStr); err == nil {
		t.CreatedAt = created
	}
	return t, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

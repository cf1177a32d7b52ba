package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"nudge/internal/config"
	"nudge/internal/controller"
	"nudge/internal/notify"
	"nudge/internal/reminder"
	"nudge/internal/storage"
)

type mode int

const (
	modeList mode = iota
	modeForm
	modeSearch
)

const refreshInterval = 30 * time.Second

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	doneStyle    = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
)

// Tasks is what the TUI needs from the controller.
type Tasks interface {
	Create(ctx context.Context, in controller.Input) (storage.Task, reminder.Decision, error)
	Edit(ctx context.Context, id int64, in controller.Input) (storage.Task, reminder.Decision, error)
	SetCompleted(ctx context.Context, id int64, completed bool) (storage.Task, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, sort controller.SortMethod, query string) ([]storage.Task, error)
}

type formState struct {
	taskID      int64
	title       string
	description string
	deadline    string
	index       int
}

type tickMsg time.Time

type Model struct {
	tasks      Tasks
	cfg        config.Config
	items      []storage.Task
	cursor     int
	mode       mode
	input      textinput.Model
	status     string
	sort       controller.SortMethod
	query      string
	confirmDel bool
	pendingDel *storage.Task
	form       *formState
	alerts     map[int64]notify.AlertMsg
	now        func() time.Time
}

func New(tasks Tasks, cfg config.Config) (Model, error) {
	sortMethod, err := controller.ParseSort(cfg.DefaultSort)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = "Task title"
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		tasks:  tasks,
		cfg:    cfg,
		status: "Press 'a' to add, space to toggle, 'd' to delete, '/' to search.",
		input:  ti,
		mode:   modeList,
		sort:   sortMethod,
		alerts: map[int64]notify.AlertMsg{},
		now:    time.Now,
	}
	if err := m.reload(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Run starts the TUI. started is called once alerts can reach the screen,
// which is when the reminder runner should begin.
func Run(tasks Tasks, cfg config.Config, alerts *notify.Program, started func()) error {
	m, err := New(tasks, cfg)
	if err != nil {
		return err
	}
	program := tea.NewProgram(m, tea.WithAltScreen())
	if alerts != nil {
		alerts.Attach(program)
	}
	if started != nil {
		started()
	}
	_, err = program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.form != nil {
			return m.updateFormMode(msg.String(), msg)
		}
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		if m.mode == modeSearch {
			return m.updateSearchMode(msg.String(), msg)
		}
		return m.updateListMode(msg.String())
	case notify.AlertMsg:
		m.alerts[msg.ID] = msg
		m.status = fmt.Sprintf("%s: %s", msg.Title, msg.Body)
		if m.cfg.Notifications.Bell {
			return m, tea.Printf("\a")
		}
		return m, nil
	case tickMsg:
		return m, tick()
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m *Model) reload() error {
	q := ""
	if len([]rune(strings.TrimSpace(m.query))) >= controller.MinSearchLen {
		q = m.query
	}
	list, err := m.tasks.List(context.Background(), m.sort, q)
	if err != nil {
		return err
	}
	items := make([]storage.Task, 0, len(list))
	for _, s := range controller.Sections(list) {
		items = append(items, s.Tasks...)
	}
	m.items = items
	m.cursor = clampCursor(m.cursor, len(m.items))
	return nil
}

func (m Model) selected() (storage.Task, bool) {
	if len(m.items) == 0 {
		return storage.Task{}, false
	}
	return m.items[clampCursor(m.cursor, len(m.items))], true
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(m.items))
	case m.cfg.Keys.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(m.items))
	case m.cfg.Keys.Add:
		return m.startForm(nil)
	case m.cfg.Keys.Edit:
		t, ok := m.selected()
		if !ok {
			m.status = "No tasks to edit"
			return m, nil
		}
		return m.startForm(&t)
	case m.cfg.Keys.Toggle:
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		updated, err := m.tasks.SetCompleted(context.Background(), t.ID, !t.Completed)
		if err != nil && !errors.Is(err, controller.ErrReminderNotScheduled) {
			m.status = fmt.Sprintf("toggle failed: %v", err)
			return m, nil
		}
		if updated.Completed {
			delete(m.alerts, updated.ID)
		}
		msg := fmt.Sprintf("%s marked %s", updated.Label(), humanDone(updated.Completed))
		if err != nil {
			msg += ", " + err.Error()
		}
		m.setStatusAfterReload(msg)
	case m.cfg.Keys.Delete:
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Title)
	case m.cfg.Keys.Detail:
		t, ok := m.selected()
		if !ok {
			m.status = "No tasks"
			return m, nil
		}
		m.status = m.detail(t)
	case m.cfg.Keys.Search:
		m.mode = modeSearch
		m.input.SetValue(m.query)
		m.input.Placeholder = "search title, description or TASK-id"
		m.status = "Search: type at least 2 characters, enter to keep, esc to clear"
		return m, m.input.Focus()
	case m.cfg.Keys.SortDue:
		m.applySort(controller.SortDeadline)
	case m.cfg.Keys.SortCreated:
		m.applySort(controller.SortCreated)
	case m.cfg.Keys.Dismiss:
		m.alerts = map[int64]notify.AlertMsg{}
		m.status = "Alerts dismissed"
	}
	return m, nil
}

func (m *Model) applySort(s controller.SortMethod) {
	m.sort = s
	m.query = ""
	m.setStatusAfterReload("Sorted by " + string(s))
}

func (m *Model) setStatusAfterReload(ok string) {
	if err := m.reload(); err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return
	}
	m.status = ok
}

func (m Model) updateSearchMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.query = ""
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.setStatusAfterReload("Search cleared")
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		m.mode = modeList
		m.input.Blur()
		m.status = fmt.Sprintf("%d result(s) for %q", len(m.items), m.query)
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.query = m.input.Value()
		m.cursor = 0
		if err := m.reload(); err != nil {
			m.status = fmt.Sprintf("search failed: %v", err)
		}
		return m, cmd
	}
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", "esc":
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		if m.pendingDel == nil {
			m.status = "Nothing to delete"
			m.confirmDel = false
			return m, nil
		}
		id := m.pendingDel.ID
		m.confirmDel = false
		m.pendingDel = nil
		if err := m.tasks.Delete(context.Background(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.status = fmt.Sprintf("delete failed: %v", err)
			return m, nil
		}
		delete(m.alerts, id)
		m.setStatusAfterReload("Deleted task")
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) startForm(t *storage.Task) (tea.Model, tea.Cmd) {
	m.form = &formState{}
	m.status = "New task: tab to move, enter to save/next, esc to cancel"
	if t != nil {
		m.form = &formState{
			taskID:      t.ID,
			title:       t.Title,
			description: t.Description,
			deadline:    controller.FormatDeadline(t.Deadline),
		}
		m.status = fmt.Sprintf("Editing %s: tab to move, enter to save/next, esc to cancel", t.Label())
	}
	m.mode = modeForm
	m.input.SetValue(m.form.currentValue())
	m.input.Placeholder = m.form.currentLabel()
	return m, m.input.Focus()
}

func (m Model) updateFormMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.form = nil
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		m.status = "Cancelled"
		return m, nil
	case "tab", "down":
		m.form.setCurrentValue(m.input.Value())
		m.form.index = wrapIndex(m.form.index+1, len(formFields()))
		m.input.SetValue(m.form.currentValue())
		m.input.Placeholder = m.form.currentLabel()
		return m, nil
	case "shift+tab", "up":
		m.form.setCurrentValue(m.input.Value())
		m.form.index = wrapIndex(m.form.index-1, len(formFields()))
		m.input.SetValue(m.form.currentValue())
		m.input.Placeholder = m.form.currentLabel()
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		m.form.setCurrentValue(m.input.Value())
		if m.form.index >= len(formFields())-1 {
			return m.saveForm()
		}
		m.form.index++
		m.input.SetValue(m.form.currentValue())
		m.input.Placeholder = m.form.currentLabel()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) saveForm() (tea.Model, tea.Cmd) {
	f := m.form
	if strings.TrimSpace(f.title) == "" {
		m.status = "Title cannot be empty"
		return m.focusField(0), nil
	}
	if strings.TrimSpace(f.description) == "" {
		m.status = "Description cannot be empty"
		return m.focusField(1), nil
	}
	deadline, err := controller.ParseDeadline(f.deadline, time.Local)
	if err != nil {
		m.status = fmt.Sprintf("deadline invalid: %v", err)
		return m.focusField(2), nil
	}

	in := controller.Input{Title: f.title, Description: f.description, Deadline: deadline}
	var saved storage.Task
	var d reminder.Decision
	if f.taskID > 0 {
		saved, d, err = m.tasks.Edit(context.Background(), f.taskID, in)
	} else {
		saved, d, err = m.tasks.Create(context.Background(), in)
	}
	if err != nil && saved.ID == 0 {
		m.status = fmt.Sprintf("save failed: %v", err)
		return m, nil
	}

	m.form = nil
	m.mode = modeList
	m.input.Blur()
	m.input.SetValue("")
	msg := fmt.Sprintf("Saved %s", saved.Label())
	switch {
	case err != nil:
		msg = fmt.Sprintf("Saved %s, but %v", saved.Label(), err)
	case d.Remind:
		msg += ", reminder at " + d.FireAt.In(time.Local).Format("Jan 2 15:04")
	default:
		msg += ", no reminder (deadline within 10 minutes)"
	}
	if rerr := m.reload(); rerr != nil {
		m.status = fmt.Sprintf("reload failed: %v", rerr)
		return m, nil
	}
	for i, t := range m.items {
		if t.ID == saved.ID {
			m.cursor = i
			break
		}
	}
	m.status = msg
	return m, nil
}

func (m Model) focusField(idx int) Model {
	m.form.index = idx
	m.input.SetValue(m.form.currentValue())
	m.input.Placeholder = m.form.currentLabel()
	return m
}

func formFields() []string {
	return []string{"title", "description", "deadline (YYYY-MM-DD HH:MM)"}
}

func (f formState) currentLabel() string {
	return formFields()[f.index]
}

func (f formState) currentValue() string {
	switch f.index {
	case 0:
		return f.title
	case 1:
		return f.description
	case 2:
		return f.deadline
	default:
		return ""
	}
}

func (f *formState) setCurrentValue(v string) {
	switch f.index {
	case 0:
		f.title = v
	case 1:
		f.description = v
	case 2:
		f.deadline = v
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString("nudge")
	if m.query != "" {
		b.WriteString(fmt.Sprintf("  search: %q", m.query))
	} else {
		b.WriteString("  sort: " + string(m.sort))
	}
	b.WriteString("\n\n")

	if alerts := m.renderAlerts(); alerts != "" {
		b.WriteString(alerts)
		b.WriteString("\n")
	}

	if len(m.items) == 0 {
		if m.query != "" {
			b.WriteString("No matching tasks.")
		} else {
			b.WriteString("No tasks yet. Press 'a' to add one.")
		}
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList())
	}

	b.WriteString("\n---\n")

	switch {
	case m.form != nil:
		b.WriteString(m.renderForm())
		b.WriteString("\n")
		b.WriteString("Field: " + m.form.currentLabel())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case m.mode == modeSearch:
		b.WriteString("Search: ")
		b.WriteString(m.input.View())
	default:
		b.WriteString(m.renderDetailPanel())
	}

	b.WriteString("\n\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))

	return b.String()
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s edit • %s detail • space toggle • %s delete • %s search • %s/%s sort • %s dismiss • %s quit",
		k.Up, k.Down, k.Add, k.Edit, k.Detail, k.Delete, k.Search, k.SortDue, k.SortCreated, k.Dismiss, k.Quit)
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	now := m.now()
	i := 0
	for _, s := range controller.Sections(m.items) {
		b.WriteString(headerStyle.Render(s.Title))
		b.WriteString("\n")
		for _, t := range s.Tasks {
			cursor := " "
			if m.cursor == i && m.mode == modeList {
				cursor = ">"
			}
			checkbox := "[ ]"
			if t.Completed {
				checkbox = "[x]"
			}
			body := fmt.Sprintf("%s %s %-8s %s", cursor, checkbox, t.Label(), t.Title)
			due := "due " + humanize.RelTime(t.Deadline, now, "ago", "from now")
			switch {
			case t.Completed:
				body = doneStyle.Render(body)
			case t.Overdue(now):
				due = overdueStyle.Render("overdue, " + due)
			}
			b.WriteString(body + "  (" + due + ")\n")
			i++
		}
	}
	return b.String()
}

func (m Model) renderAlerts() string {
	if len(m.alerts) == 0 {
		return ""
	}
	ids := make([]int64, 0, len(m.alerts))
	for id := range m.alerts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		a := m.alerts[id]
		b.WriteString(alertStyle.Render("! "+a.Title) + " " + a.Body + " (" + a.At.Format("15:04") + ")\n")
	}
	return b.String()
}

func (m Model) renderForm() string {
	values := []string{m.form.title, m.form.description, m.form.deadline}
	var b strings.Builder
	for i, name := range formFields() {
		prefix := " "
		if i == m.form.index {
			prefix = ">"
		}
		b.WriteString(fmt.Sprintf("%s %-28s : %s\n", prefix, name, emptyPlaceholder(values[i])))
	}
	return b.String()
}

func (m Model) renderDetailPanel() string {
	t, ok := m.selected()
	if !ok {
		return "No task selected"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Task        : %s\n", t.Label()))
	b.WriteString(fmt.Sprintf("Title       : %s\n", t.Title))
	b.WriteString(fmt.Sprintf("Description : %s\n", emptyPlaceholder(t.Description)))
	b.WriteString(fmt.Sprintf("Deadline    : %s\n", controller.FormatDeadline(t.Deadline)))
	b.WriteString(fmt.Sprintf("Created     : %s\n", controller.FormatDeadline(t.CreatedAt)))
	b.WriteString(fmt.Sprintf("Status      : %s\n", humanDone(t.Completed)))
	return b.String()
}

func (m Model) detail(t storage.Task) string {
	info := fmt.Sprintf("%s • %s • %s • due %s", t.Label(), t.Title, humanDone(t.Completed), controller.FormatDeadline(t.Deadline))
	if t.Overdue(m.now()) {
		info += " • deadline passed"
	} else if d := reminder.Decide(t, m.now()); d.Remind {
		info += " • reminder " + humanize.Time(d.FireAt)
	}
	return info
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

func humanDone(done bool) string {
	if done {
		return "done"
	}
	return "pending"
}

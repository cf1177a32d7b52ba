// Package notify holds the sinks that show reminder alerts to the user.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nudge/internal/reminder"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	updatedStyle = lipgloss.NewStyle().Faint(true)
)

// Alert is one visible notification. ID is the task id.
type Alert struct {
	ID    int64
	Title string
	Body  string
	At    time.Time
}

// Console prints alerts to a writer, for headless runs.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	bell  bool
	now   func() time.Time
	shown map[int64]struct{}
}

func NewConsole(w io.Writer, bell bool) *Console {
	return &Console{w: w, bell: bell, now: time.Now, shown: map[int64]struct{}{}}
}

func (c *Console) HasPermission(context.Context) bool { return c.w != nil }

func (c *Console) Notify(_ context.Context, id int64, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := ""
	if _, ok := c.shown[id]; ok {
		prefix = updatedStyle.Render("(replaces earlier alert) ")
	}
	c.shown[id] = struct{}{}

	bell := ""
	if c.bell {
		bell = "\a"
	}
	_, err := fmt.Fprintf(c.w, "%s[%s] %s%s: %s\n", bell, c.now().Format("15:04"), prefix, titleStyle.Render(title), body)
	return err
}

// Gate denies permission when alerts are switched off in the config.
type Gate struct {
	Enabled bool
	Next    reminder.Notifier
}

func (g Gate) HasPermission(ctx context.Context) bool {
	return g.Enabled && g.Next != nil && g.Next.HasPermission(ctx)
}

func (g Gate) Notify(ctx context.Context, id int64, title, body string) error {
	return g.Next.Notify(ctx, id, title, body)
}

// AlertMsg is delivered to the TUI when a reminder fires.
type AlertMsg Alert

// Sender is the part of *tea.Program the bridge needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Program forwards alerts into a running bubbletea program. It has no
// permission to alert until a program is attached.
type Program struct {
	mu     sync.RWMutex
	sender Sender
	now    func() time.Time
}

func NewProgram() *Program {
	return &Program{now: time.Now}
}

func (p *Program) Attach(s Sender) {
	p.mu.Lock()
	p.sender = s
	p.mu.Unlock()
}

func (p *Program) HasPermission(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sender != nil
}

func (p *Program) Notify(_ context.Context, id int64, title, body string) error {
	p.mu.RLock()
	s := p.sender
	p.mu.RUnlock()
	if s == nil {
		return reminder.ErrPermissionDenied
	}
	s.Send(AlertMsg{ID: id, Title: title, Body: body, At: p.now()})
	return nil
}

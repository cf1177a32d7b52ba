package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/reminder"
)

func TestConsole_WritesAndMarksReplacement(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 8, 50, 0, 0, time.UTC) }

	require.True(t, c.HasPermission(context.Background()))
	require.NoError(t, c.Notify(context.Background(), 3, reminder.NotificationTitle, reminder.NotificationBody("stretch")))
	require.NoError(t, c.Notify(context.Background(), 3, reminder.NotificationTitle, reminder.NotificationBody("stretch")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[08:50]")
	assert.Contains(t, lines[0], `"stretch" is due in 10 minutes`)
	assert.NotContains(t, lines[0], "replaces")
	assert.Contains(t, lines[1], "replaces earlier alert")
}

func TestConsole_Bell(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	require.NoError(t, c.Notify(context.Background(), 1, "t", "b"))
	assert.True(t, strings.HasPrefix(buf.String(), "\a"))
}

func TestGate(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	assert.False(t, Gate{Enabled: false, Next: NewConsole(&buf, false)}.HasPermission(ctx))
	assert.True(t, Gate{Enabled: true, Next: NewConsole(&buf, false)}.HasPermission(ctx))
	assert.False(t, Gate{Enabled: true}.HasPermission(ctx))
}

type recordingSender struct {
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

func TestProgram_RequiresAttachedProgram(t *testing.T) {
	p := NewProgram()
	ctx := context.Background()
	assert.False(t, p.HasPermission(ctx))
	assert.True(t, errors.Is(p.Notify(ctx, 1, "t", "b"), reminder.ErrPermissionDenied))

	s := &recordingSender{}
	p.Attach(s)
	assert.True(t, p.HasPermission(ctx))
	require.NoError(t, p.Notify(ctx, 4, "t", "b"))
	require.Len(t, s.msgs, 1)
	msg, ok := s.msgs[0].(AlertMsg)
	require.True(t, ok)
	assert.Equal(t, int64(4), msg.ID)
	assert.Equal(t, "b", msg.Body)
}

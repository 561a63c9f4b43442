package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/journal"
)

type fakeDaemon struct {
	mu        sync.Mutex
	ops       []string
	statusErr error
	stream    []events.Event
}

func (f *fakeDaemon) Status(context.Context) (api.StatusResponse, error) {
	if f.statusErr != nil {
		return api.StatusResponse{}, f.statusErr
	}
	return api.StatusResponse{Bridge: bridge.Stats{State: "running", WorkerPID: 4242, QueueCap: 2000}}, nil
}

func (f *fakeDaemon) Sessions(context.Context, int) ([]journal.Session, error) {
	return []journal.Session{{ID: "0123456789abcdef", StartedAt: time.Now(), Messages: 3}}, nil
}

func (f *fakeDaemon) Lifecycle(_ context.Context, op string) (api.LifecycleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return api.LifecycleResponse{State: "running"}, nil
}

func (f *fakeDaemon) Stream(_ context.Context, _ string, fn func(events.Event)) error {
	for _, ev := range f.stream {
		fn(ev)
	}
	return errors.New("stream closed")
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func TestViewBeforeSize(t *testing.T) {
	m := NewMonitor(&fakeDaemon{}, "")
	assert.Equal(t, "Initializing...", m.View())
}

func TestStatusAndSessionsRender(t *testing.T) {
	d := &fakeDaemon{}
	m := sized(t, *NewMonitor(d, ""))

	msg := m.fetchStatus()()
	next, _ := m.Update(msg)
	m = next.(Model)

	next, _ = m.Update(m.fetchSessions()())
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "4242")
	assert.Contains(t, view, "0/2000")
	assert.Contains(t, view, "01234567")
	assert.Contains(t, view, "active")
}

func TestStatusErrorShown(t *testing.T) {
	d := &fakeDaemon{statusErr: errors.New("connection refused")}
	m := sized(t, *NewMonitor(d, ""))

	next, _ := m.Update(m.fetchStatus()())
	m = next.(Model)
	assert.Contains(t, m.View(), "connection refused")
}

func TestEventsNewestFirstAndCapped(t *testing.T) {
	m := sized(t, *NewMonitor(&fakeDaemon{}, ""))
	for i := 0; i < maxEventLog+5; i++ {
		next, _ := m.Update(eventMsg(events.Event{ID: int64(i + 1), Type: events.TypeBroadcast, At: time.Now(), Data: []byte(`{}`)}))
		m = next.(Model)
	}
	require.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+5), m.eventLog[0].ID)
	assert.True(t, m.streaming)
}

func TestStreamFeedsChannel(t *testing.T) {
	d := &fakeDaemon{stream: []events.Event{{ID: 1, Type: events.TypeCommand, Data: []byte(`{"command":"x"}`)}}}
	m := NewMonitor(d, "ops")

	msg := m.subscribe()()
	closed, ok := msg.(streamClosedMsg)
	require.True(t, ok)
	assert.EqualError(t, closed.err, "stream closed")

	ev := m.receiveNextEvent()().(eventMsg)
	assert.Equal(t, events.TypeCommand, ev.Type)

	next, cmd := m.Update(closed)
	assert.False(t, next.(Model).streaming)
	assert.NotNil(t, cmd, "reconnect is scheduled")
}

func TestLifecycleKeys(t *testing.T) {
	d := &fakeDaemon{}
	m := sized(t, *NewMonitor(d, ""))

	for _, key := range []string{"r", "s", "g"} {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
		require.NotNil(t, cmd)
		_, ok := cmd().(lifecycleMsg)
		assert.True(t, ok)
	}
	assert.Equal(t, []string{"restart", "stop", "start"}, d.ops)
}

func TestQuitKey(t *testing.T) {
	m := NewMonitor(&fakeDaemon{}, "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

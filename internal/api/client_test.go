package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/journal"
)

func TestClientAgainstServer(t *testing.T) {
	srv, deps := newTestServer(t, Config{Token: "tok"})
	deps.sessions.rows = []journal.Session{{ID: "s1"}}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(ts.URL+"/", "tok")

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	n, err := c.Submit(ctx, EventRequest{Event: "A"}, EventRequest{Event: "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Bridge.Submitted)

	lc, err := c.Lifecycle(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, "running", lc.State)

	_, err = c.Lifecycle(ctx, "explode")
	assert.Error(t, err)

	rows, err := c.Sessions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, deps.sessions.limit)
}

func TestClientReportsStatusError(t *testing.T) {
	srv, deps := newTestServer(t, Config{Token: "tok"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	ctx := context.Background()

	_, err := NewClient(ts.URL, "wrong").Status(ctx)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 401, se.Code)
	assert.Equal(t, "invalid API key", se.Message)

	deps.bridge.startErr = bridge.ErrNoExecutable
	_, err = NewClient(ts.URL, "tok").Lifecycle(ctx, "start")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 409, se.Code)
}

func TestClientStream(t *testing.T) {
	srv, deps := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan events.Event, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewClient(ts.URL, "").Stream(ctx, "alex", func(ev events.Event) { got <- ev })
	}()

	require.Eventually(t, func() bool { return deps.hub.Connected("alex") }, time.Second, 5*time.Millisecond)
	deps.hub.PublishTo("alex", events.TypeMessage, map[string]string{"message": "hi"})

	select {
	case ev := <-got:
		assert.Equal(t, events.TypeMessage, ev.Type)
		assert.JSONEq(t, `{"message":"hi"}`, string(ev.Data))
		assert.False(t, ev.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no event streamed")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on cancel")
	}
}

func TestReadSSE(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: broadcast",
		`data: {"message":"x"}`,
		"",
		"id: 8",
		"event: command",
		`data: {"command":"save-all"}`,
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, ReadSSE(strings.NewReader(input), func(ev events.Event) { got = append(got, ev) }))
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "broadcast", got[0].Type)
	assert.Equal(t, "command", got[1].Type)
}

package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/events"
)

type sseFrame struct {
	id, event, data string
}

// readFrames parses SSE frames off body until n have been read.
func readFrames(t *testing.T, sc *bufio.Scanner, n int) []sseFrame {
	t.Helper()
	var out []sseFrame
	var cur sseFrame
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur != (sseFrame{}) {
				out = append(out, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.Len(t, out, n)
	return out
}

func openStream(t *testing.T, url string, lastID string) *bufio.Scanner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewScanner(resp.Body)
}

func TestStreamRegistersRecipient(t *testing.T) {
	srv, deps := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sc := openStream(t, ts.URL+"/stream?recipient=alex", "")
	require.Eventually(t, func() bool { return deps.hub.Connected("alex") }, time.Second, 5*time.Millisecond)

	deps.hub.PublishTo("sam", events.TypeMessage, map[string]string{"message": "not for alex"})
	deps.hub.PublishTo("alex", events.TypeMessage, map[string]string{"message": "hi"})
	deps.hub.Publish(events.TypeBroadcast, map[string]string{"message": "all"})

	frames := readFrames(t, sc, 2)
	assert.Equal(t, "message", frames[0].event)
	assert.JSONEq(t, `{"message":"hi"}`, frames[0].data)
	assert.Equal(t, "broadcast", frames[1].event)
}

func TestStreamReplaysAfterLastEventID(t *testing.T) {
	srv, deps := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	deps.hub.Publish(events.TypeBroadcast, map[string]int{"n": 1})
	deps.hub.Publish(events.TypeBroadcast, map[string]int{"n": 2})
	deps.hub.Publish(events.TypeBroadcast, map[string]int{"n": 3})

	sc := openStream(t, ts.URL+"/stream", "1")
	frames := readFrames(t, sc, 2)
	assert.Equal(t, "2", frames[0].id)
	assert.Equal(t, "3", frames[1].id)

	deps.hub.Publish(events.TypeBroadcast, map[string]int{"n": 4})
	frames = readFrames(t, sc, 1)
	assert.Equal(t, "4", frames[0].id, "live events follow the replay without duplicates")
}

func TestStreamUnregistersOnDisconnect(t *testing.T) {
	srv, deps := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream?recipient=alex", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return deps.hub.Connected("alex") }, time.Second, 5*time.Millisecond)
	cancel()
	_ = resp.Body.Close()
	assert.Eventually(t, func() bool { return !deps.hub.Connected("alex") }, 2*time.Second, 10*time.Millisecond)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	h := NewHub(10)
	a, cancelA := h.Subscribe("alex")
	defer cancelA()
	anon, cancelAnon := h.Subscribe("")
	defer cancelAnon()

	n := h.Publish(TypeBroadcast, map[string]string{"message": "hello"})
	assert.Equal(t, 2, n)

	ev := recv(t, a)
	assert.Equal(t, TypeBroadcast, ev.Type)
	assert.JSONEq(t, `{"message":"hello"}`, string(ev.Data))
	assert.Equal(t, ev.ID, recv(t, anon).ID)
}

func TestPublishToTargetsOneName(t *testing.T) {
	h := NewHub(10)
	alex, cancelA := h.Subscribe("alex")
	defer cancelA()
	steve, cancelS := h.Subscribe("steve")
	defer cancelS()

	assert.Equal(t, 1, h.PublishTo("alex", TypeMessage, map[string]string{"message": "psst"}))
	assert.Equal(t, 0, h.PublishTo("ghost", TypeMessage, nil))

	ev := recv(t, alex)
	assert.Equal(t, "alex", ev.Target)
	select {
	case ev := <-steve:
		t.Fatalf("steve saw %+v", ev)
	default:
	}
}

func TestConnectedAndNames(t *testing.T) {
	h := NewHub(10)
	assert.False(t, h.Connected("alex"))

	_, cancel1 := h.Subscribe("alex")
	_, cancel2 := h.Subscribe("alex")
	_, cancel3 := h.Subscribe("steve")
	defer cancel3()

	assert.True(t, h.Connected("alex"))
	assert.False(t, h.Connected(""))
	assert.Equal(t, []string{"alex", "steve"}, h.Names())
	assert.Equal(t, 3, h.Subscribers())

	cancel1()
	assert.True(t, h.Connected("alex"))
	cancel2()
	cancel2()
	assert.False(t, h.Connected("alex"))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	h.bufSize = 1
	_, cancel := h.Subscribe("slow")
	defer cancel()

	h.Publish(TypeBroadcast, nil)
	h.Publish(TypeBroadcast, nil)
	assert.EqualValues(t, 1, h.Dropped())
}

func TestSnapshotSince(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeBroadcast, i)
	}
	h.PublishTo("alex", TypeMessage, "direct")

	snap := h.SnapshotSince("", 0)
	require.Len(t, snap, 2, "ring holds 3, one is private")
	var first int
	require.NoError(t, json.Unmarshal(snap[0].Data, &first))
	assert.Equal(t, 3, first)

	alexSnap := h.SnapshotSince("alex", 4)
	require.Len(t, alexSnap, 2)
	assert.EqualValues(t, 5, alexSnap[0].ID)
	assert.Equal(t, TypeMessage, alexSnap[1].Type)
}

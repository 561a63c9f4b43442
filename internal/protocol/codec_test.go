package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockType string

func (b blockType) String() string { return "BLOCK_" + string(b) }

func TestStringifyTypedNilPointers(t *testing.T) {
	var d *time.Duration
	var err *errString
	var b *blockType

	assert.NotPanics(t, func() {
		assert.Equal(t, "null", Stringify(d))
		assert.Equal(t, "null", Stringify(err))
		assert.Equal(t, "null", Stringify(b))
	})

	ev := NewEvent("Timed", d, "after")
	assert.Equal(t, []string{"null", "after"}, ev.Args)

	five := 5 * time.Second
	assert.Equal(t, "5s", Stringify(&five))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestNewEventStringifiesArgs(t *testing.T) {
	ev := NewEvent("BlockBreak", "steve", blockType("STONE"), nil, 42, 2.5, true, errors.New("boom"))

	assert.Equal(t, "BlockBreak", ev.Name)
	assert.Equal(t, []string{"steve", "BLOCK_STONE", "null", "42", "2.5", "true", "boom"}, ev.Args)
}

func TestEncodeEvent(t *testing.T) {
	line, err := EncodeEvent(NewEvent("PlayerJoin", "alex"))
	require.NoError(t, err)
	assert.Equal(t, `{"event":"PlayerJoin","args":["alex"]}`, string(line))
}

func TestEncodeEventNoArgs(t *testing.T) {
	line, err := EncodeEvent(Event{Name: "Tick"})
	require.NoError(t, err)
	assert.Equal(t, `{"event":"Tick","args":[]}`, string(line))
}

func TestEncodeEventKeepsMarkup(t *testing.T) {
	line, err := EncodeEvent(NewEvent("Chat", "<red>hi & bye</red>"))
	require.NoError(t, err)
	assert.Contains(t, string(line), "<red>hi & bye</red>")
	assert.NotContains(t, string(line), `\n`)
}

func TestEncodeEventRequiresName(t *testing.T) {
	_, err := EncodeEvent(Event{})
	assert.Error(t, err)
}

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		NewEvent("PlayerMove", "alex"),
		NewEvent("InventoryClick", "alex", 3, "DIAMOND_SWORD"),
		NewEvent("Weird", "line\nbreak", `quote"d`, "ünïcødé", ""),
		{Name: "Empty", Args: []string{}},
	}
	for _, ev := range events {
		t.Run(ev.Name, func(t *testing.T) {
			line, err := EncodeEvent(ev)
			require.NoError(t, err)
			got, err := DecodeEvent(line)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestShutdownLineDecodes(t *testing.T) {
	ev, err := DecodeEvent(ShutdownLine)
	require.NoError(t, err)
	assert.Equal(t, ShutdownEvent, ev.Name)
	assert.Empty(t, ev.Args)
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Message
		wantErr bool
	}{
		{
			name: "broadcast",
			line: `{"action":"broadcast","message":"<green>hello"}`,
			want: Broadcast{Text: "<green>hello"},
		},
		{
			name: "send message",
			line: `{"action":"sendMessage","player":"alex","message":"hi"}`,
			want: DirectMessage{Player: "alex", Text: "hi"},
		},
		{
			name: "console",
			line: `{"action":"console","message":"worker ready"}`,
			want: Console{Text: "worker ready"},
		},
		{
			name: "execute command",
			line: `{"action":"executeCommand","command":"say hi"}`,
			want: ExecuteCommand{Command: "say hi"},
		},
		{
			name: "dispatch command alias",
			line: `{"action":"dispatchCommand","command":"time set day","sync":true}`,
			want: ExecuteCommand{Command: "time set day", Sync: true, Alias: true},
		},
		{
			name: "execute command without command",
			line: `{"action":"executeCommand"}`,
			want: ExecuteCommand{},
		},
		{
			name: "unknown action",
			line: `{"action":"teleport","x":1}`,
			want: Unknown{Name: "teleport", Raw: []byte(`{"action":"teleport","x":1}`)},
		},
		{name: "not json", line: `hello world`, wantErr: true},
		{name: "missing action", line: `{"message":"x"}`, wantErr: true},
		{name: "non-string action", line: `{"action":5}`, wantErr: true},
		{name: "broadcast without message", line: `{"action":"broadcast"}`, wantErr: true},
		{name: "send message without player", line: `{"action":"sendMessage","message":"x"}`, wantErr: true},
		{name: "console without message", line: `{"action":"console"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMessageEmptyLine(t *testing.T) {
	_, err := DecodeMessage([]byte("   "))
	assert.ErrorIs(t, err, ErrEmptyLine)
}

func TestEncodeMessageDecodes(t *testing.T) {
	msgs := []Message{
		Broadcast{Text: "all"},
		DirectMessage{Player: "alex", Text: "you"},
		Console{Text: "log"},
		ExecuteCommand{Command: "stop"},
	}
	for _, m := range msgs {
		t.Run(m.Action(), func(t *testing.T) {
			line, err := EncodeMessage(m)
			require.NoError(t, err)
			got, err := DecodeMessage(line)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

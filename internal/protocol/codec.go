package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyLine is returned when decoding a blank line.
var ErrEmptyLine = errors.New("empty line")

// ShutdownLine is the pre-encoded shutdown sentinel, without trailing newline.
var ShutdownLine = []byte(`{"event":"shutdown"}`)

// EncodeEvent serializes ev as a single JSON line without the trailing newline.
// HTML characters are not escaped so rich-text markup reaches the worker verbatim.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev.Name == "" {
		return nil, fmt.Errorf("event name is empty")
	}
	if ev.Args == nil {
		ev.Args = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeEvent parses a line produced by EncodeEvent.
func DecodeEvent(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, ErrEmptyLine
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("event missing required field: event")
	}
	if ev.Args == nil {
		ev.Args = []string{}
	}
	return ev, nil
}

// envelope is the loose shape of every worker line. Pointers distinguish
// missing fields from empty ones.
type envelope struct {
	Action  *string `json:"action"`
	Message *string `json:"message"`
	Player  *string `json:"player"`
	Command *string `json:"command"`
	Sync    bool    `json:"sync"`
}

// DecodeMessage parses one worker line into a Message variant.
// Fields the action needs must be present; extra fields are ignored.
func DecodeMessage(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if env.Action == nil || *env.Action == "" {
		return nil, fmt.Errorf("message missing required field: action")
	}

	switch *env.Action {
	case ActionBroadcast:
		if env.Message == nil {
			return nil, fmt.Errorf("broadcast missing required field: message")
		}
		return Broadcast{Text: *env.Message}, nil
	case ActionSendMessage:
		if env.Player == nil || env.Message == nil {
			return nil, fmt.Errorf("sendMessage requires player and message")
		}
		return DirectMessage{Player: *env.Player, Text: *env.Message}, nil
	case ActionConsole:
		if env.Message == nil {
			return nil, fmt.Errorf("console missing required field: message")
		}
		return Console{Text: *env.Message}, nil
	case ActionExecuteCommand, ActionDispatchCommand:
		cmd := ExecuteCommand{Sync: env.Sync, Alias: *env.Action == ActionDispatchCommand}
		if env.Command != nil {
			cmd.Command = *env.Command
		}
		return cmd, nil
	default:
		raw := make([]byte, len(line))
		copy(raw, line)
		return Unknown{Name: *env.Action, Raw: raw}, nil
	}
}

// EncodeMessage serializes a worker-side message. The bridge never sends
// these; tests and fake workers do.
func EncodeMessage(m Message) ([]byte, error) {
	out := map[string]any{"action": m.Action()}
	switch v := m.(type) {
	case Broadcast:
		out["message"] = v.Text
	case DirectMessage:
		out["player"] = v.Player
		out["message"] = v.Text
	case Console:
		out["message"] = v.Text
	case ExecuteCommand:
		out["command"] = v.Command
		if v.Sync {
			out["sync"] = true
		}
	case Unknown:
		return append([]byte(nil), v.Raw...), nil
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Package host is the daemon's side of the bridge: worker broadcasts and
// direct messages go out over the event hub to stream listeners, and worker
// commands are journaled and announced on the hub.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/log"
)

// ErrNotDelivered means the recipient disconnected or its buffer was full.
var ErrNotDelivered = errors.New("message not delivered")

// CommandLog persists worker commands.
type CommandLog interface {
	LogCommand(ctx context.Context, sessionID, command string) error
}

// Hub implements bridge.Recipients and bridge.CommandExecutor.
type Hub struct {
	events   *events.Hub
	commands CommandLog
	logger   *slog.Logger
}

var (
	_ bridge.Recipients      = (*Hub)(nil)
	_ bridge.CommandExecutor = (*Hub)(nil)
)

// New creates a Hub. commands may be nil.
func New(hub *events.Hub, commands CommandLog) *Hub {
	return &Hub{
		events:   hub,
		commands: commands,
		logger:   log.WithComponent("host"),
	}
}

type textPayload struct {
	Message string `json:"message"`
}

type commandPayload struct {
	Command   string `json:"command"`
	SessionID string `json:"session_id,omitempty"`
}

// Lookup returns the recipient if a listener is connected under name.
func (h *Hub) Lookup(name string) (bridge.Recipient, bool) {
	if !h.events.Connected(name) {
		return nil, false
	}
	return &recipient{name: name, hub: h}, true
}

// Broadcast sends message to every listener.
func (h *Hub) Broadcast(message string) int {
	return h.events.Publish(events.TypeBroadcast, textPayload{Message: message})
}

// Execute records command and announces it to listeners.
func (h *Hub) Execute(ctx context.Context, command string) error {
	sessionID := bridge.SessionID(ctx)
	if h.commands != nil {
		if err := h.commands.LogCommand(ctx, sessionID, command); err != nil {
			return fmt.Errorf("record command: %w", err)
		}
	}
	n := h.events.Publish(events.TypeCommand, commandPayload{Command: command, SessionID: sessionID})
	h.logger.Info("worker command", "command", command, "session_id", sessionID, "listeners", n)
	return nil
}

type recipient struct {
	name string
	hub  *Hub
}

func (r *recipient) Name() string { return r.name }

func (r *recipient) Connected() bool { return r.hub.events.Connected(r.name) }

func (r *recipient) Send(message string) error {
	if r.hub.events.PublishTo(r.name, events.TypeMessage, textPayload{Message: message}) == 0 {
		return fmt.Errorf("%w: %s", ErrNotDelivered, r.name)
	}
	return nil
}

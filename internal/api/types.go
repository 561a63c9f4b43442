package api

import (
	"encoding/json"

	"github.com/mattjoyce/conduit/internal/bridge"
)

// EventRequest is one element of the POST /events body.
type EventRequest struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// AcceptedResponse is returned by POST /events.
type AcceptedResponse struct {
	Accepted int `json:"accepted"`
}

// LifecycleResponse is returned by /start, /stop and /restart.
type LifecycleResponse struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Bridge     bridge.Stats `json:"bridge"`
	Listeners  []string     `json:"listeners"`
	Streams    int          `json:"streams"`
	HubDropped int64        `json:"hub_dropped"`
}

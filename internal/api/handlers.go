package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/protocol"
)

const (
	maxEventsBody   = 1 << 20
	defaultSessions = 20
	maxSessions     = 500
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		State:         s.bridge.Stats().State,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Bridge:     s.bridge.Stats(),
		Listeners:  s.hub.Names(),
		Streams:    s.hub.Subscribers(),
		HubDropped: s.hub.Dropped(),
	})
}

// handleSubmit handles POST /events. The body is one event object or an array.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reqs, err := decodeEventRequests(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	evs := make([]protocol.Event, 0, len(reqs))
	for i, req := range reqs {
		name := strings.TrimSpace(req.Event)
		if name == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: name is required", i))
			return
		}
		evs = append(evs, protocol.Event{Name: name, Args: stringArgs(req.Args)})
	}
	for _, ev := range evs {
		s.bridge.SubmitEvent(ev)
	}

	respondJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: len(evs)})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxEventsBody)); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	body := bytes.TrimSpace(buf.Bytes())
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

func decodeEventRequests(body []byte) ([]EventRequest, error) {
	if body[0] == '[' {
		var reqs []EventRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		return reqs, nil
	}
	var req EventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return []EventRequest{req}, nil
}

// stringArgs turns JSON argument values into worker strings: strings are
// unquoted, everything else keeps its JSON text.
func stringArgs(raw []json.RawMessage) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		if string(v) == "null" {
			out[i] = protocol.Stringify(nil)
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[i] = s
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, v); err == nil {
			out[i] = compact.String()
		} else {
			out[i] = string(v)
		}
	}
	return out
}

// handleStart handles POST /start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "start", s.bridge.Start)
}

// handleRestart handles POST /restart.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "restart", s.bridge.Restart)
}

// handleStop handles POST /stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "stop", func(context.Context) error {
		s.bridge.Stop()
		return nil
	})
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	// The worker outlives the request; only the build and spawn are bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.config.LifecycleTimeout)
	defer cancel()

	err := fn(ctx)
	st := s.bridge.Stats()
	s.hub.Publish(events.TypeLifecycle, map[string]string{"op": op, "state": st.State, "session_id": st.SessionID})

	switch {
	case errors.Is(err, bridge.ErrNoExecutable):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("lifecycle request failed", "op", op, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, LifecycleResponse{State: st.State, SessionID: st.SessionID})
}

// handleSessions handles GET /sessions?limit=n.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "session journal not configured")
		return
	}

	limit := defaultSessions
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSessions)
	}

	rows, err := s.sessions.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

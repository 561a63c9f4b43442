package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/journal"
)

// Client talks to a running daemon. Callers bound requests with ctx.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon replied %d", e.Code)
	}
	return fmt.Sprintf("daemon replied %d: %s", e.Code, e.Message)
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{},
	}
}

func (c *Client) Health(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context, limit int) ([]journal.Session, error) {
	var out []journal.Session
	err := c.do(ctx, http.MethodGet, "/sessions?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Submit posts events and returns how many the daemon accepted.
func (c *Client) Submit(ctx context.Context, reqs ...EventRequest) (int, error) {
	var out AcceptedResponse
	if err := c.do(ctx, http.MethodPost, "/events", reqs, &out); err != nil {
		return 0, err
	}
	return out.Accepted, nil
}

// Lifecycle posts to /start, /stop or /restart.
func (c *Client) Lifecycle(ctx context.Context, op string) (LifecycleResponse, error) {
	var out LifecycleResponse
	switch op {
	case "start", "stop", "restart":
	default:
		return out, fmt.Errorf("unknown lifecycle operation %q", op)
	}
	err := c.do(ctx, http.MethodPost, "/"+op, nil, &out)
	return out, err
}

// Stream follows /stream as recipient and calls fn per event until ctx ends
// or the daemon closes the connection.
func (c *Client) Stream(ctx context.Context, recipient string, fn func(events.Event)) error {
	path := "/stream"
	if recipient != "" {
		path += "?recipient=" + url.QueryEscape(recipient)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if err := ReadSSE(resp.Body, fn); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// ReadSSE parses Server-Sent Events frames written by the stream handler.
// Events are stamped with their arrival time.
func ReadSSE(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var cur events.Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				fn(cur)
			}
			cur = events.Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	return sc.Err()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	var e ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&e)
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}

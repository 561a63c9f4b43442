// Package inspect renders the journal history of one worker session.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/conduit/internal/journal"
)

// Source is the part of the journal a report reads.
type Source interface {
	Session(ctx context.Context, idPrefix string) (journal.Session, error)
	SessionCommands(ctx context.Context, sessionID string) ([]journal.Command, error)
}

// Report is the structured JSON representation of a session report.
type Report struct {
	SessionID  string            `json:"session_id"`
	Executable string            `json:"executable"`
	StartedAt  time.Time         `json:"started_at"`
	StoppedAt  *time.Time        `json:"stopped_at,omitempty"`
	Duration   string            `json:"duration,omitempty"`
	Status     string            `json:"status"`
	Messages   int64             `json:"messages"`
	Dropped    int64             `json:"dropped"`
	Commands   []journal.Command `json:"commands"`
}

// BuildReport renders a terminal-friendly report for a session.
func BuildReport(ctx context.Context, src Source, idPrefix string) (string, error) {
	report, err := gatherReportData(ctx, src, idPrefix)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Session Report\n")
	fmt.Fprintf(&out, "Session ID  : %s\n", report.SessionID)
	fmt.Fprintf(&out, "Executable  : %s\n", report.Executable)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Local().Format(time.RFC3339))
	if report.StoppedAt != nil {
		fmt.Fprintf(&out, "Stopped     : %s (%s)\n", report.StoppedAt.Local().Format(time.RFC3339), report.Duration)
	} else {
		fmt.Fprintf(&out, "Stopped     : <running or crashed>\n")
	}
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Messages    : %d\n", report.Messages)
	fmt.Fprintf(&out, "Dropped     : %d\n", report.Dropped)
	fmt.Fprintf(&out, "\n")

	if len(report.Commands) == 0 {
		fmt.Fprintf(&out, "Commands    : <none>\n")
	} else {
		fmt.Fprintf(&out, "Commands    :\n")
		for _, c := range report.Commands {
			fmt.Fprintf(&out, "  [%s] %s\n", c.ReceivedAt.Local().Format("15:04:05.000"), c.Command)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, src Source, idPrefix string) (string, error) {
	report, err := gatherReportData(ctx, src, idPrefix)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, idPrefix string) (*Report, error) {
	if strings.TrimSpace(idPrefix) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	sess, err := src.Session(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	cmds, err := src.SessionCommands(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load session commands: %w", err)
	}
	if cmds == nil {
		cmds = []journal.Command{}
	}

	report := &Report{
		SessionID:  sess.ID,
		Executable: sess.Executable,
		StartedAt:  sess.StartedAt,
		StoppedAt:  sess.StoppedAt,
		Status:     "open",
		Messages:   sess.Messages,
		Dropped:    sess.Dropped,
		Commands:   cmds,
	}
	if sess.StoppedAt != nil {
		report.Duration = sess.StoppedAt.Sub(sess.StartedAt).Round(time.Millisecond).String()
		report.Status = renderUnset(sess.Reason, "stopped")
	}
	return report, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

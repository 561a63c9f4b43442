package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/tui"
)

const controlTimeout = 10 * time.Second

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	apiURL, token := apiFlags(fs)
	jsonOut := fs.Bool("json", false, "Output the raw status JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	st, err := api.NewClient(*apiURL, *token).Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	b := st.Bridge
	fmt.Printf("state: %s\n", b.State)
	if b.SessionID != "" {
		fmt.Printf("session: %s (pid %d, alive %t)\n", b.SessionID, b.WorkerPID, b.WorkerAlive)
	}
	fmt.Printf("queue: %d/%d (batch %d)\n", b.QueueLen, b.QueueCap, b.BatchLen)
	fmt.Printf("events: submitted %d, sent %d, dropped %d in %d batches\n",
		b.Submitted, b.Sent, b.DroppedEvents, b.DroppedBatches)
	fmt.Printf("worker: received %d, messages %d, parse errors %d, unknown actions %d\n",
		b.Received, b.Messages, b.ParseErrors, b.UnknownActions)
	fmt.Printf("restarts: %d\n", b.Restarts)
	fmt.Printf("listeners: %d\n", len(st.Listeners))
	return 0
}

func runLifecycle(op string, args []string) int {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	apiURL, token := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	// restart may rebuild the worker.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resp, err := api.NewClient(*apiURL, *token).Lifecycle(ctx, op)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", op, err)
		return 1
	}
	fmt.Printf("state: %s\n", resp.State)
	if resp.SessionID != "" {
		fmt.Printf("session: %s\n", resp.SessionID)
	}
	return 0
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	apiURL, token := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: conduit send [--api URL] <event> [args...]")
		return 1
	}

	req := api.EventRequest{Event: fs.Arg(0)}
	for _, a := range fs.Args()[1:] {
		raw, _ := json.Marshal(a)
		req.Args = append(req.Args, raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	n, err := api.NewClient(*apiURL, *token).Submit(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return 1
	}
	fmt.Printf("accepted: %d\n", n)
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL, token := apiFlags(fs)
	recipient := fs.String("recipient", "", "Also receive direct messages sent to this name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := tui.NewMonitor(api.NewClient(*apiURL, *token), *recipient)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

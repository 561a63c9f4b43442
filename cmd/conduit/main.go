package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultAPIURL = "http://127.0.0.1:8787"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "status":
		return runStatus(args)
	case "restart":
		return runLifecycle("restart", args)
	case "stop":
		return runLifecycle("stop", args)
	case "send":
		return runSend(args)
	case "monitor":
		return runMonitor(args)
	case "build":
		return runBuild(args)
	case "doctor":
		return runDoctor(args)
	case "inspect":
		return runInspect(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`conduit - supervised worker process bridge

Usage:
  conduit <command> [flags]

Daemon:
  start     Run the daemon in the foreground
  build     Compile the worker sources (or check the configured executable)
  doctor    Check the configuration against this machine
  inspect   Show one session from the journal: conduit inspect <session-id>

Control (talks to a running daemon's API):
  status    Show bridge state and counters
  restart   Restart the worker
  stop      Stop the worker (the daemon keeps running)
  send      Submit an event: conduit send <event> [args...]
  monitor   Live terminal dashboard

General:
  version   Show version information
  help      Show this help message

Control commands read --api (default $CONDUIT_API_URL or ` + defaultAPIURL + `)
and --token (default $CONDUIT_API_TOKEN).
`)
}

// apiFlags registers the flags shared by commands that call the daemon.
func apiFlags(fs *flag.FlagSet) (apiURL, token *string) {
	url := os.Getenv("CONDUIT_API_URL")
	if url == "" {
		url = defaultAPIURL
	}
	apiURL = fs.String("api", url, "Daemon API URL")
	token = fs.String("token", os.Getenv("CONDUIT_API_TOKEN"), "API bearer token")
	return apiURL, token
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: conduit version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("conduit %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

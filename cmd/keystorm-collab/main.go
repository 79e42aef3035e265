// Package main is the entry point for keystorm-collab, which runs a set of
// simulated editors against an in-process collaboration service and keeps
// their copies of a shared buffer in sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dshills/keystorm-collab/internal/app"
	"github.com/dshills/keystorm-collab/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, exit, ok := parseFlags(args)
	if !ok {
		return exit
	}

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
	}

	if report != nil {
		_, _ = report.WriteTo(os.Stdout)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return 130
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

// parseFlags returns the options, or ok=false with the exit code when the
// process should stop.
func parseFlags(args []string) (opts app.Options, exit int, ok bool) {
	var showVersion bool

	flags := pflag.NewFlagSet("keystorm-collab", pflag.ContinueOnError)
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (.toml, .yaml)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	flags.IntVarP(&opts.Peers, "peers", "n", app.DefaultPeers, "number of simulated editors")
	flags.StringVarP(&opts.Workspace, "workspace", "w", app.DefaultWorkspace, "workspace to join")
	flags.StringVarP(&opts.Buffer, "buffer", "b", app.DefaultBuffer, "buffer to attach")
	flags.StringVarP(&opts.Script, "script", "s", "", "Lua script to run against the first editor instead of the demo")
	flags.BoolVarP(&showVersion, "version", "v", false, "show version information")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "keystorm-collab - collaborative editing sync bridge\n\n")
		fmt.Fprintf(os.Stderr, "Usage: keystorm-collab [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  keystorm-collab -n 3                 Three editors append to demo/notes.txt\n")
		fmt.Fprintf(os.Stderr, "  keystorm-collab -s edit.lua          Drive the first editor from a script\n")
		fmt.Fprintf(os.Stderr, "  keystorm-collab -c collab.toml       Load settings and watch them for changes\n")
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, 0, false
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return opts, 2, false
	}

	if showVersion {
		fmt.Printf("keystorm-collab %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return opts, 0, false
	}

	if opts.LogLevel != "" {
		if _, valid := logging.ParseLevel(opts.LogLevel); !valid {
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
			return opts, 2, false
		}
	}
	if opts.Peers < 1 {
		fmt.Fprintf(os.Stderr, "Error: --peers must be at least 1\n")
		return opts, 2, false
	}
	if rest := flags.Args(); len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected argument %q\n", rest[0])
		return opts, 2, false
	}
	return opts, 0, true
}

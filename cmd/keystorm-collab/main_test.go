package main

import (
	"testing"

	"github.com/dshills/keystorm-collab/internal/app"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantOK   bool
		wantExit int
		check    func(app.Options) bool
	}{
		{
			name:   "defaults",
			wantOK: true,
			check: func(o app.Options) bool {
				return o.Peers == app.DefaultPeers && o.Workspace == app.DefaultWorkspace &&
					o.Buffer == app.DefaultBuffer && o.LogLevel == "" && o.Script == ""
			},
		},
		{
			name:   "shorthands",
			args:   []string{"-c", "collab.toml", "-n", "4", "-w", "team", "-b", "todo.md", "-s", "run.lua"},
			wantOK: true,
			check: func(o app.Options) bool {
				return o.ConfigPath == "collab.toml" && o.Peers == 4 && o.Workspace == "team" &&
					o.Buffer == "todo.md" && o.Script == "run.lua"
			},
		},
		{
			name:   "log level",
			args:   []string{"--log-level", "debug"},
			wantOK: true,
			check:  func(o app.Options) bool { return o.LogLevel == "debug" },
		},
		{name: "invalid log level", args: []string{"--log-level", "loud"}, wantExit: 2},
		{name: "zero peers", args: []string{"--peers", "0"}, wantExit: 2},
		{name: "unknown flag", args: []string{"--nope"}, wantExit: 2},
		{name: "extra argument", args: []string{"file.txt"}, wantExit: 2},
		{name: "help", args: []string{"--help"}, wantExit: 0},
		{name: "version", args: []string{"-v"}, wantExit: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, exit, ok := parseFlags(tt.args)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok && exit != tt.wantExit {
				t.Errorf("exit = %d, want %d", exit, tt.wantExit)
			}
			if ok && !tt.check(opts) {
				t.Errorf("unexpected options %+v", opts)
			}
		})
	}
}

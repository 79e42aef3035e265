// Package app wires the collaboration session into a runnable process: it
// loads configuration, starts an in-process service and a set of simulated
// editors, then drives them with a demo or a Lua script.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/keystorm-collab/internal/collab"
	"github.com/dshills/keystorm-collab/internal/config"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/plugin/api"
	plua "github.com/dshills/keystorm-collab/internal/plugin/lua"
	"github.com/dshills/keystorm-collab/internal/presence"
	"github.com/dshills/keystorm-collab/internal/remote"
	"github.com/dshills/keystorm-collab/internal/remote/loopback"
	lua "github.com/yuin/gopher-lua"
)

// Defaults for Options.
const (
	DefaultPeers           = 2
	DefaultWorkspace       = "demo"
	DefaultBuffer          = "notes.txt"
	DefaultConvergeTimeout = 5 * time.Second
)

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file. It is watched for
	// changes while the application runs.
	ConfigPath string

	// LogLevel overrides the configured log level and survives reloads.
	LogLevel string

	// Peers is the number of simulated editors.
	Peers int

	// Workspace and Buffer name the shared buffer every peer attaches.
	Workspace string
	Buffer    string

	// Script is a Lua file run against the first peer instead of the demo.
	Script string

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// LoadOptions replaces the config sources. Nil reads the OS file
	// system and environment.
	LoadOptions *config.Options

	// ConvergeTimeout bounds the wait for all peers to agree.
	ConvergeTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Peers == 0 {
		o.Peers = DefaultPeers
	}
	if o.Workspace == "" {
		o.Workspace = DefaultWorkspace
	}
	if o.Buffer == "" {
		o.Buffer = DefaultBuffer
	}
	if o.ConvergeTimeout <= 0 {
		o.ConvergeTimeout = DefaultConvergeTimeout
	}
	if o.LoadOptions == nil {
		def := config.DefaultOptions()
		o.LoadOptions = &def
	}
}

// Application owns the service, the peers and the config watcher.
type Application struct {
	opts   Options
	log    *logging.Logger
	server *loopback.Server
	peers  []*Peer

	mu  sync.Mutex
	cfg *config.Config

	running     atomic.Bool
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	watchReload atomic.Int64
}

// New loads the configuration and builds the peers. Nothing runs until Run.
func New(opts Options) (*Application, error) {
	opts.applyDefaults()
	if opts.Peers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoPeers, opts.Peers)
	}

	cfg, err := config.LoadWith(opts.ConfigPath, *opts.LoadOptions)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, &InitError{Component: "config", Err: err}
		}
	}
	if cfg.Server.Host != config.DefaultHost {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHost, cfg.Server.Host)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel()
	if opts.LogOutput != nil {
		logCfg.Output = opts.LogOutput
	}
	log := logging.New(logCfg)

	app := &Application{
		opts: opts,
		log:  log.WithComponent("app"),
		cfg:  cfg,
	}

	serverOpts := []loopback.Option{loopback.WithLogger(log)}
	if cfg.Server.Password != "" {
		serverOpts = append(serverOpts, loopback.WithPassword(cfg.Server.Password))
	}
	app.server = loopback.NewServer(serverOpts...)
	if err := app.server.CreateBuffer(opts.Workspace, opts.Buffer, ""); err != nil && !errors.Is(err, remote.ErrExists) {
		return nil, &InitError{Component: "service", Err: err}
	}

	palette, err := presence.ParsePalette(cfg.Presence.Palette)
	if err != nil {
		return nil, &InitError{Component: "presence", Err: err}
	}
	sessionOpts := []collab.Option{
		collab.WithWaitForAck(cfg.Sync.WaitForAck),
		collab.WithAutoCreate(cfg.Sync.AutoCreate),
		collab.WithOutboundQueue(cfg.Sync.OutboundQueue),
		collab.WithPalette(palette),
	}
	if cfg.Sync.TempDir != "" {
		sessionOpts = append(sessionOpts, collab.WithTempDir(cfg.Sync.TempDir))
	}

	for i := 1; i <= opts.Peers; i++ {
		p, err := NewPeer(fmt.Sprintf("peer-%d", i), app.server, log, sessionOpts...)
		if err != nil {
			_ = app.Shutdown(context.Background())
			return nil, err
		}
		app.peers = append(app.peers, p)
	}
	return app, nil
}

// Config returns the current configuration.
func (app *Application) Config() *config.Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.cfg
}

// Logger returns the root logger.
func (app *Application) Logger() *logging.Logger { return app.log }

// Server returns the in-process service.
func (app *Application) Server() *loopback.Server { return app.server }

// Peers returns the simulated editors.
func (app *Application) Peers() []*Peer { return app.peers }

// Reloads returns how many config reloads were applied.
func (app *Application) Reloads() int64 { return app.watchReload.Load() }

// Run connects every peer, joins the workspace, attaches the buffer and
// then runs the script or the demo. It returns once they finish; Shutdown
// releases everything.
func (app *Application) Run(ctx context.Context) (*Report, error) {
	if !app.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	if err := app.startPeers(ctx); err != nil {
		return nil, err
	}
	if app.opts.ConfigPath != "" {
		if err := app.startWatcher(); err != nil {
			app.log.Warn("config watch disabled: %v", err)
		}
	}

	if app.opts.Script != "" {
		if err := app.runScript(ctx); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		converged := app.waitConverged(ctx) == nil
		return app.report(converged), nil
	}

	if err := app.runDemo(ctx); err != nil {
		return app.report(false), err
	}
	return app.report(true), nil
}

func (app *Application) startPeers(ctx context.Context) error {
	cfg := app.Config()
	for i, p := range app.peers {
		p.Bind(ctx)
		if err := p.Start(); err != nil {
			return err
		}

		user := p.Name()
		if i == 0 && cfg.Server.Username != "" {
			user = cfg.Server.Username
		}
		id, err := p.Connect(cfg.Server.Host, user, cfg.Server.Password)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		if err := p.Join(app.opts.Workspace); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		if err := p.Attach(app.opts.Workspace, app.opts.Buffer); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		app.log.Info("%s connected as %s", p.Name(), id)
	}
	return nil
}

func (app *Application) startWatcher() error {
	w, err := config.NewWatcher(app.opts.ConfigPath, app.reload, config.WithLoadOptions(*app.opts.LoadOptions))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.stopWatch = cancel
	app.watchDone = make(chan struct{})
	go func() {
		defer close(app.watchDone)
		if err := w.Run(ctx); err != nil {
			app.log.Warn("config watcher stopped: %v", err)
		}
	}()
	app.log.Debug("watching %s", w.Path())
	return nil
}

// reload applies a reloaded configuration. Connection and sync settings
// take effect on the next run; the log level and the palette apply now.
func (app *Application) reload(cfg *config.Config, err error) {
	if err != nil {
		app.log.Warn("config reload failed: %v", err)
		return
	}

	if app.opts.LogLevel == "" {
		app.log.SetLevel(cfg.LogLevel())
	}
	palette, err := presence.ParsePalette(cfg.Presence.Palette)
	if err != nil {
		app.log.Warn("config reload: %v", err)
		return
	}
	for _, p := range app.peers {
		if err := p.SetPalette(palette); err != nil {
			app.log.Warn("%s: %v", p.Name(), err)
		}
	}

	app.mu.Lock()
	app.cfg = cfg
	app.mu.Unlock()
	app.watchReload.Add(1)
	app.log.Info("configuration reloaded")
}

// runDemo has each peer in turn append a line and select it, waiting for
// every peer to converge after each edit.
func (app *Application) runDemo(ctx context.Context) error {
	ws, buf := app.opts.Workspace, app.opts.Buffer
	for _, p := range app.peers {
		line := p.Name() + " was here\n"
		start, err := p.Append(ws, buf, line)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		if err := p.Select(ws, buf, start, start+len(line)-1); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		if err := app.waitConverged(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (app *Application) runScript(ctx context.Context) error {
	scriptLog := app.log.WithComponent("script")
	state, err := plua.NewState(
		plua.WithExecutionTimeout(0),
		plua.WithPrint(func(line string) { scriptLog.Info("%s", line) }),
	)
	if err != nil {
		return &InitError{Component: "lua", Err: err}
	}
	defer state.Close()

	modules := api.NewRegistry()
	if err := modules.Register(api.NewCollabModule(app.peers[0])); err != nil {
		return &InitError{Component: "lua", Err: err}
	}
	if err := state.With(func(L *lua.LState) error {
		return modules.InjectAll(L, state.Sandbox())
	}); err != nil {
		return &InitError{Component: "lua", Err: err}
	}

	app.log.Info("running %s", app.opts.Script)
	if err := state.DoFile(ctx, app.opts.Script); err != nil {
		return fmt.Errorf("script %s: %w", app.opts.Script, err)
	}
	return nil
}

// waitConverged polls until every peer still attached shows the service
// text of the shared buffer.
func (app *Application) waitConverged(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, app.opts.ConvergeTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		diverged := app.diverged()
		if diverged == "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNotConverged, diverged)
		case <-ticker.C:
		}
	}
}

func (app *Application) diverged() string {
	ws, buf := app.opts.Workspace, app.opts.Buffer
	want, ok := app.server.BufferText(ws, buf)
	if !ok {
		return "buffer deleted"
	}
	for _, p := range app.peers {
		text, err := p.Text(ws, buf)
		if errors.Is(err, collab.ErrBufferNotAttached) {
			continue
		}
		if err != nil {
			return fmt.Sprintf("%s: %v", p.Name(), err)
		}
		if text != want {
			return fmt.Sprintf("%s has %q, service has %q", p.Name(), text, want)
		}
	}
	return ""
}

// Shutdown stops the watcher and closes every peer.
func (app *Application) Shutdown(ctx context.Context) error {
	if app.stopWatch != nil {
		app.stopWatch()
		<-app.watchDone
		app.stopWatch = nil
	}

	var errs []error
	for i := len(app.peers) - 1; i >= 0; i-- {
		if err := app.peers[i].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", app.peers[i].Name(), err))
		}
	}
	app.running.Store(false)
	return errors.Join(errs...)
}

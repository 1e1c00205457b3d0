package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"loom/internal/agent"
	loomclient "loom/internal/client"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/engine"
	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/types"
)

type DaemonCommand struct {
	stderr     io.Writer
	runDaemon  func(background, dryRun bool) error
	killDaemon func() error
}

func NewDaemonCommand(stderr io.Writer, runDaemon func(background, dryRun bool) error, killDaemon func() error) *DaemonCommand {
	return &DaemonCommand{
		stderr:     stderr,
		runDaemon:  runDaemon,
		killDaemon: killDaemon,
	}
}

func (c *DaemonCommand) Run(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	background := fs.Bool("background", false, "run in background (logs to file)")
	kill := fs.Bool("kill", false, "stop any running daemon and exit")
	force := fs.Bool("force", false, "stop any running daemon before starting")
	dryRun := fs.Bool("dry-run", false, "serve without a real agent backend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kill {
		return c.killDaemon()
	}
	if *force {
		if err := c.killDaemon(); err != nil {
			return err
		}
	}
	return c.runDaemon(*background, *dryRun)
}

func runDaemonProcess(background, dryRun bool) error {
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	coreCfg, err := config.LoadCoreConfig()
	if err != nil {
		return err
	}

	logOut := io.Writer(os.Stderr)
	if background {
		logOut = backgroundLogWriter(dataDir)
	}
	logger := logging.New(logOut, logging.ParseLevel(coreCfg.LogLevel()))

	tokenPath, err := config.TokenPath()
	if err != nil {
		return err
	}
	token, err := daemon.LoadOrCreateToken(tokenPath)
	if err != nil {
		return err
	}

	dbPath, err := config.DBPath()
	if err != nil {
		return err
	}
	repository, err := store.NewRepository(dbPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	var backend agent.Backend
	if dryRun {
		backend = agent.NewScriptedBackend()
	} else {
		sessionsDir, err := config.SessionsDir()
		if err != nil {
			return err
		}
		cli, err := agent.NewCLIBackend(
			coreCfg.AgentCommand(),
			coreCfg.AgentTranscriptsDir(),
			sessionsDir,
			logger.With(logging.F("component", "agent")),
		)
		if err != nil {
			return err
		}
		defer cli.Close()
		backend = cli
	}

	var compactor *engine.Compactor
	if coreCfg.CompactionEnabled() {
		compactor = engine.NewCompactor(coreCfg.RepeatableTools(), coreCfg.AggregateTool())
	}
	registry := engine.NewRegistry(engine.RegistryDeps{
		Backend:        backend,
		Branches:       repository.Branches(),
		Index:          repository.SessionIndex(),
		Compactor:      compactor,
		DefaultOptions: &types.SessionOptions{Model: coreCfg.AgentDefaultModel()},
		Logger:         logger.With(logging.F("component", "engine")),
	})
	resolver := engine.NewWorldlineResolver(
		repository.Branches(),
		repository.SessionIndex(),
		logger.With(logging.F("component", "worldline")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(coreCfg.DaemonAddress(), token, buildVersion(), registry, resolver, logger)
	return d.Run(ctx)
}

func backgroundLogWriter(dataDir string) io.Writer {
	logPath := filepath.Join(dataDir, "daemon.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return io.Discard
	}
	return file
}

func killDaemonWithFactory(newClient clientFactory) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.Shutdown(ctx); err == nil {
		return nil
	} else {
		var apiErr *loomclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		if isDaemonUnavailable(err) {
			return nil
		}
	}
	resp, err := client.Health(ctx)
	if err != nil {
		if isDaemonUnavailable(err) {
			return nil
		}
		return err
	}
	if resp == nil || resp.PID <= 0 {
		return nil
	}
	return terminatePID(resp.PID)
}

func terminatePID(pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

func isDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection refused") || strings.Contains(lower, "connect: connection refused")
}

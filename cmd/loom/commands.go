package main

import (
	"io"
	"os"

	"loom/internal/client"
)

type commandRunner interface {
	Run(args []string) error
}

type clientFactory func() (*client.Client, error)

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	newClient  clientFactory
	runDaemon  func(background, dryRun bool) error
	killDaemon func() error
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		newClient: client.New,
		runDaemon: runDaemonProcess,
		killDaemon: func() error {
			return killDaemonWithFactory(client.New)
		},
		version: buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"daemon":   NewDaemonCommand(wiring.stderr, wiring.runDaemon, wiring.killDaemon),
		"ps":       NewPSCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"chat":     NewChatCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"branches": NewBranchesCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"kill":     NewKillCommand(wiring.stdout, wiring.stderr, wiring.killDaemon),
	}
}

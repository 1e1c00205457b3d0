package main

import (
	"flag"
	"fmt"
	"io"
)

type KillCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	killDaemon func() error
}

func NewKillCommand(stdout, stderr io.Writer, killDaemon func() error) *KillCommand {
	return &KillCommand{
		stdout:     stdout,
		stderr:     stderr,
		killDaemon: killDaemon,
	}
}

func (c *KillCommand) Run(args []string) error {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.killDaemon(); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "daemon stopped")
	return nil
}

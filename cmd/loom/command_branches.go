package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"strings"
)

type BranchesCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewBranchesCommand(stdout, stderr io.Writer, newClient clientFactory) *BranchesCommand {
	return &BranchesCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *BranchesCommand) Run(args []string) error {
	fs := flag.NewFlagSet("branches", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	at := fs.String("at", "", "narrow to siblings branching at the message with this parent uuid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(fs.Arg(0))
	if sessionID == "" {
		return errors.New("usage: loom branches <session-id> [--at <parent-uuid>]")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	siblings, err := client.Worldlines(ctx, sessionID, strings.TrimSpace(*at))
	if err != nil {
		return err
	}

	printWorldlines(c.stdout, sessionID, siblings)
	return nil
}

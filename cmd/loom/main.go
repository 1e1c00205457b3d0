package main

import (
	"fmt"
	"os"
)

const usageText = `loom drives branchable agent conversations through a local daemon.

Usage:
  loom <command> [flags]

Commands:
  daemon     run the background daemon
  ps         list known sessions
  chat       send a prompt and stream the reply
  branches   show the worldline family of a session
  kill       stop the running daemon
  help       show help

Flags:
  -h, --help   show help

Daemon flags:
  --background    run in background (logs to file)
  --force         stop any running daemon before starting
  --kill          stop any running daemon and exit
  --dry-run       serve without a real agent backend

Examples:
  loom ps
  loom chat "summarize the open tickets"
  loom chat --session 6f1f9fb2 "and the closed ones?"
  loom chat --from 6f1f9fb2 --branch-at 4cf02a11 "take the other approach"
  loom branches 6f1f9fb2
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"loom/internal/types"
)

type ChatCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewChatCommand(stdout, stderr io.Writer, newClient clientFactory) *ChatCommand {
	return &ChatCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *ChatCommand) Run(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	sessionID := fs.String("session", "", "continue this session")
	from := fs.String("from", "", "branch from this session")
	branchAt := fs.String("branch-at", "", "message uuid to replace with the new prompt")
	model := fs.String("model", "", "model override for this session")
	permissionMode := fs.String("permission-mode", "", "permission mode override for this session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return errors.New("usage: loom chat [--session <id>] [--from <id> --branch-at <uuid>] <prompt>")
	}
	branching := strings.TrimSpace(*from) != "" || strings.TrimSpace(*branchAt) != ""
	if branching && (strings.TrimSpace(*from) == "" || strings.TrimSpace(*branchAt) == "") {
		return errors.New("branching needs both --from and --branch-at")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}

	attachTo := strings.TrimSpace(*sessionID)
	if branching {
		attachTo = ""
	}
	conn, err := client.Observe(ctx, attachTo)
	if err != nil {
		return err
	}
	defer conn.Close()

	if *model != "" || *permissionMode != "" {
		if attachTo != "" {
			if err := conn.SetOptions(attachTo, &types.SessionOptions{
				Model:          *model,
				PermissionMode: *permissionMode,
			}); err != nil {
				return err
			}
		}
	}

	if branching {
		err = conn.Branch(strings.TrimSpace(*from), strings.TrimSpace(*branchAt), prompt)
	} else {
		err = conn.Chat(prompt, nil)
	}
	if err != nil {
		return err
	}

	return c.streamReply(conn.Notifications())
}

// streamReply prints incoming messages until the run finishes or fails.
func (c *ChatCommand) streamReply(notes <-chan types.Notification) error {
	sawBusy := false
	for note := range notes {
		switch note.Type {
		case types.NotifyError:
			if note.Code != "" {
				return fmt.Errorf("%s (%s)", note.Error, note.Code)
			}
			return errors.New(note.Error)
		case types.NotifyBranched:
			fmt.Fprintf(c.stdout, "branched %s from %s\n", note.NewSessionID, note.SourceSessionID)
		case types.NotifyMessageAdded:
			c.printMessage(note.Message)
		case types.NotifySessionStateChanged:
			if note.State == nil || note.State.IsBusy == nil {
				continue
			}
			if *note.State.IsBusy {
				sawBusy = true
			} else if sawBusy {
				if note.SessionID != "" {
					fmt.Fprintf(c.stdout, "\nsession %s\n", note.SessionID)
				}
				return nil
			}
		}
	}
	return errors.New("connection closed before the run finished")
}

func (c *ChatCommand) printMessage(message *types.Message) {
	if message == nil {
		return
	}
	for _, part := range message.Parts {
		if part == nil {
			continue
		}
		switch part.Content.Type {
		case types.ContentTypeText:
			fmt.Fprintf(c.stdout, "%s: %s\n", message.Kind, part.Content.Text)
		case types.ContentTypeToolUse:
			if part.Content.ToolUse != nil {
				fmt.Fprintf(c.stdout, "%s: [%s]\n", message.Kind, part.Content.ToolUse.Name)
			}
		}
	}
}

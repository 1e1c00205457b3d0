package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"loom/internal/logging"
	"loom/internal/types"
)

// CLIBackend runs the agent CLI in print mode with stream-json output, one
// subprocess per turn stream.
type CLIBackend struct {
	command        string
	transcriptsDir string
	recorder       *turnRecorder
	logger         logging.Logger
}

func NewCLIBackend(command, transcriptsDir, sessionsDir string, logger logging.Logger) (*CLIBackend, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("agent command is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CLIBackend{
		command:        command,
		transcriptsDir: strings.TrimSpace(transcriptsDir),
		recorder:       newTurnRecorder(strings.TrimSpace(sessionsDir)),
		logger:         logger,
	}, nil
}

func (b *CLIBackend) Close() {
	if b == nil {
		return
	}
	b.recorder.Close()
}

func (b *CLIBackend) StreamTurns(ctx context.Context, req StreamRequest) (*Stream, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}

	cmd := exec.CommandContext(ctx, b.command, buildArgs(req)...)
	if req.Options != nil && strings.TrimSpace(req.Options.Cwd) != "" {
		cmd.Dir = req.Options.Cwd
	}
	// Terminate politely on cancel, escalate if the CLI ignores the signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	stream := NewStream(64)
	go b.consume(ctx, cmd, stdout, stream)
	return stream, nil
}

func (b *CLIBackend) consume(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stream *Stream) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	sessionID := ""
	var pending [][]byte
	record := func(line []byte) {
		if sessionID == "" {
			pending = append(pending, append([]byte(nil), line...))
			return
		}
		if err := b.recorder.Append(sessionID, line); err != nil {
			b.logger.Warn("turn_record_failed", logging.F("session_id", sessionID), logging.F("error", err))
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		turn, ok, err := ParseTurnLine(string(line))
		if err != nil {
			b.logger.Warn("turn_parse_failed", logging.F("error", err))
			continue
		}
		if !ok {
			continue
		}
		if sessionID == "" && turn.SessionID != "" {
			sessionID = turn.SessionID
			for _, buffered := range pending {
				if err := b.recorder.Append(sessionID, buffered); err != nil {
					b.logger.Warn("turn_record_failed", logging.F("session_id", sessionID), logging.F("error", err))
					break
				}
			}
			pending = nil
		}
		record(line)
		select {
		case stream.turns <- turn:
		case <-ctx.Done():
			_ = cmd.Wait()
			stream.Finish(ctx.Err())
			return
		}
	}

	waitErr := cmd.Wait()
	if scanErr := scanner.Err(); scanErr != nil && waitErr == nil {
		waitErr = scanErr
	}
	if ctx.Err() != nil {
		waitErr = ctx.Err()
	}
	stream.Finish(waitErr)
}

func buildArgs(req StreamRequest) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
	}
	if req.Options != nil {
		if model := strings.TrimSpace(req.Options.Model); model != "" {
			args = append(args, "--model", model)
		}
		if mode := strings.TrimSpace(req.Options.PermissionMode); mode != "" {
			args = append(args, "--permission-mode", mode)
		}
		if req.Options.MaxTurns > 0 {
			args = append(args, "--max-turns", strconv.Itoa(req.Options.MaxTurns))
		}
	}
	switch {
	case strings.TrimSpace(req.ForkSessionID) != "":
		args = append(args, "--resume", strings.TrimSpace(req.ForkSessionID), "--fork-session")
		if anchor := strings.TrimSpace(req.ResumeAnchorUUID); anchor != "" {
			args = append(args, "--rewind-to", anchor)
		}
	case strings.TrimSpace(req.SessionID) != "":
		args = append(args, "--resume", strings.TrimSpace(req.SessionID))
	}
	args = append(args, promptWithAttachments(req.Prompt, req.Attachments))
	return args
}

func promptWithAttachments(prompt string, attachments []types.Attachment) string {
	if len(attachments) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	for _, attachment := range attachments {
		if path := strings.TrimSpace(attachment.Path); path != "" {
			fmt.Fprintf(&sb, "\n@%s", path)
		}
	}
	return sb.String()
}

func (b *CLIBackend) LoadPersistedTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	path := b.recorder.Path(sessionID)
	if _, err := os.Stat(path); err != nil {
		found, findErr := findTranscript(b.transcriptsDir, sessionID)
		if findErr != nil {
			return nil, findErr
		}
		path = found
	}
	return readTranscript(ctx, path)
}

func findTranscript(dir, sessionID string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no transcript for session %s", sessionID)
	}
	want := sessionID + ".jsonl"
	var found string
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && entry.Name() == want {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no transcript for session %s", sessionID)
	}
	return found, nil
}

func readTranscript(ctx context.Context, path string) ([]types.Turn, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var turns []types.Turn
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		turn, ok, err := ParseTurnLine(scanner.Text())
		if err != nil || !ok {
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

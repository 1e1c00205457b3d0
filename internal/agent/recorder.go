package agent

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// turnRecorder appends raw stream-json lines to a per-session turns.jsonl
// under the sessions dir, so a reconnecting observer (or LoadPersistedTurns)
// has a local transcript even while a run is still in flight.
type turnRecorder struct {
	baseDir string
	mu      sync.Mutex
	files   map[string]*os.File
}

func newTurnRecorder(baseDir string) *turnRecorder {
	return &turnRecorder{baseDir: baseDir, files: make(map[string]*os.File)}
}

func (r *turnRecorder) Path(sessionID string) string {
	return filepath.Join(r.baseDir, sessionID, "turns.jsonl")
}

func (r *turnRecorder) Append(sessionID string, line []byte) error {
	sessionID = strings.TrimSpace(sessionID)
	if r == nil || r.baseDir == "" || sessionID == "" || len(line) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[sessionID]
	if !ok {
		dir := filepath.Join(r.baseDir, sessionID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
		opened, err := os.OpenFile(r.Path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		file = opened
		r.files[sessionID] = file
	}
	if _, err := file.Write(line); err != nil {
		return err
	}
	_, err := file.Write([]byte("\n"))
	return err
}

func (r *turnRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, file := range r.files {
		_ = file.Close()
		delete(r.files, id)
	}
}

// TailLines returns up to maxLines trailing lines of a recorded transcript
// and whether older lines were dropped.
func TailLines(path string, maxLines int) ([]string, bool, error) {
	if maxLines <= 0 {
		maxLines = 200
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	buffer := make([]string, 0, maxLines)
	truncated := false
	for scanner.Scan() {
		line := scanner.Text()
		if len(buffer) < maxLines {
			buffer = append(buffer, line)
			continue
		}
		truncated = true
		copy(buffer, buffer[1:])
		buffer[maxLines-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return buffer, truncated, nil
}

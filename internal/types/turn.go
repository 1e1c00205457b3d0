package types

import (
	"strconv"
	"strings"
	"time"
)

type TurnKind string

const (
	TurnKindUser        TurnKind = "user"
	TurnKindAssistant   TurnKind = "assistant"
	TurnKindSystem      TurnKind = "system"
	TurnKindResult      TurnKind = "result"
	TurnKindStreamEvent TurnKind = "stream_event"
	TurnKindLog         TurnKind = "log"
)

// Turn is one atomic event emitted by the agent backend stream, or one line
// of a persisted transcript. Raw preserves the decoded payload verbatim.
type Turn struct {
	Kind       TurnKind       `json:"kind"`
	Subtype    string         `json:"subtype,omitempty"`
	UUID       string         `json:"uuid,omitempty"`
	ParentUUID string         `json:"parent_uuid,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Timestamp  any            `json:"timestamp,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// RunStarted reports whether the turn is the control event that marks the
// beginning of a backend run.
func (t Turn) RunStarted() bool {
	return t.Kind == TurnKindSystem && t.Subtype == "init"
}

// RunFinished reports whether the turn is the control event that marks the
// end of a backend run.
func (t Turn) RunFinished() bool {
	return t.Kind == TurnKindResult
}

// TurnTime derives a wall-clock time from the turn's own timestamp. Backends
// emit numbers, numeric strings, and date strings interchangeably; anything
// unparseable yields the zero time and the caller falls back to local time.
func (t Turn) TurnTime() time.Time {
	return ParseTimestamp(t.Timestamp)
}

func ParseTimestamp(raw any) time.Time {
	parseUnix := func(value int64) time.Time {
		switch {
		case value >= 1_000_000_000_000_000_000:
			return time.Unix(0, value).UTC()
		case value >= 1_000_000_000_000_000:
			return time.UnixMicro(value).UTC()
		case value >= 1_000_000_000_000:
			return time.UnixMilli(value).UTC()
		case value > 0:
			return time.Unix(value, 0).UTC()
		default:
			return time.Time{}
		}
	}
	switch typed := raw.(type) {
	case time.Time:
		return typed.UTC()
	case string:
		value := strings.TrimSpace(typed)
		if value == "" {
			return time.Time{}
		}
		if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return parsed.UTC()
		}
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed.UTC()
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parseUnix(n)
		}
	case int64:
		return parseUnix(typed)
	case int:
		return parseUnix(int64(typed))
	case float64:
		return parseUnix(int64(typed))
	}
	return time.Time{}
}

package types

import (
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		raw  any
	}{
		{"rfc3339", "2025-06-01T12:30:00Z"},
		{"unix seconds", int64(1748781000)},
		{"unix millis float", float64(1748781000000)},
		{"numeric string", "1748781000"},
	}
	for _, tc := range cases {
		got := ParseTimestamp(tc.raw)
		if got.IsZero() {
			t.Fatalf("%s: expected a parsed time, got zero", tc.name)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, want, got)
		}
	}
}

func TestParseTimestampUnparseableIsZero(t *testing.T) {
	for _, raw := range []any{nil, "", "not a date", map[string]any{}, true} {
		if got := ParseTimestamp(raw); !got.IsZero() {
			t.Fatalf("expected zero time for %#v, got %v", raw, got)
		}
	}
}

func TestTurnControlSignals(t *testing.T) {
	start := Turn{Kind: TurnKindSystem, Subtype: "init"}
	if !start.RunStarted() {
		t.Fatalf("system/init should signal run start")
	}
	if start.RunFinished() {
		t.Fatalf("system/init should not signal run finish")
	}
	finish := Turn{Kind: TurnKindResult}
	if !finish.RunFinished() {
		t.Fatalf("result should signal run finish")
	}
	plain := Turn{Kind: TurnKindAssistant}
	if plain.RunStarted() || plain.RunFinished() {
		t.Fatalf("assistant turn should not carry control signals")
	}
}

func TestCloneMessageIsDeep(t *testing.T) {
	original := &Message{
		ID:   "m1",
		Kind: MessageKindAssistant,
		Parts: []*MessagePart{
			{Content: ContentBlock{
				Type:    ContentTypeToolUse,
				ToolUse: &ToolUseBlock{ID: "t1", Name: "Read", Input: map[string]any{"file_path": "a.go"}},
			}},
		},
	}
	cloned := CloneMessage(original)
	cloned.Parts[0].ToolResult = &ToolResultBlock{ToolUseID: "t1", Content: "ok"}
	cloned.Parts[0].Content.ToolUse.Name = "Write"
	if original.Parts[0].ToolResult != nil {
		t.Fatalf("clone mutation leaked into original tool result")
	}
	if original.Parts[0].Content.ToolUse.Name != "Read" {
		t.Fatalf("clone mutation leaked into original tool use")
	}
}

func TestMergeSessionOptionsOverlaysNonZero(t *testing.T) {
	base := &SessionOptions{Model: "sonnet", PermissionMode: "default", MaxTurns: 20}
	merged := MergeSessionOptions(base, &SessionOptions{Model: "opus"})
	if merged.Model != "opus" {
		t.Fatalf("expected patched model, got %q", merged.Model)
	}
	if merged.PermissionMode != "default" || merged.MaxTurns != 20 {
		t.Fatalf("expected untouched fields preserved, got %+v", merged)
	}
	if base.Model != "sonnet" {
		t.Fatalf("merge mutated base")
	}
}

package engine

import (
	"reflect"
	"testing"

	"loom/internal/types"
)

func successfulRead(id, file string) *types.Message {
	message := assistantToolUseMessage(id, "use-"+id, "Read", file)
	message.Parts[0].ToolResult = &types.ToolResultBlock{ToolUseID: "use-" + id, Content: "contents"}
	return message
}

func textMessage(id, text string) *types.Message {
	return &types.Message{
		ID:    id,
		Kind:  types.MessageKindAssistant,
		Parts: []*types.MessagePart{{Content: types.ContentBlock{Type: types.ContentTypeText, Text: text}}},
	}
}

func newTestCompactor() *Compactor {
	return NewCompactor([]string{"Read"}, "ReadFiles")
}

func TestCompactMergesContiguousRun(t *testing.T) {
	compactor := newTestCompactor()
	messages := []*types.Message{successfulRead("a", "a.go"), successfulRead("b", "b.go")}
	out := compactor.Compact(messages)
	if len(out) != 1 {
		t.Fatalf("expected one merged message, got %d", len(out))
	}
	use := out[0].Parts[0].Content.ToolUse
	if use == nil || use.Name != "ReadFiles" {
		t.Fatalf("expected aggregate tool use, got %+v", out[0].Parts[0])
	}
	reads, ok := use.Input["fileReads"].([]any)
	if !ok || len(reads) != 2 {
		t.Fatalf("expected fileReads of length 2, got %#v", use.Input["fileReads"])
	}
	first, _ := reads[0].(map[string]any)
	second, _ := reads[1].(map[string]any)
	if first["file_path"] != "a.go" || second["file_path"] != "b.go" {
		t.Fatalf("original inputs must be preserved in order, got %#v", reads)
	}
	if out[0].Parts[0].ToolResult == nil || out[0].Parts[0].ToolResult.IsError {
		t.Fatalf("aggregate must carry a successful synthetic result")
	}
}

func TestCompactRunOfOnePassesThrough(t *testing.T) {
	compactor := newTestCompactor()
	single := successfulRead("a", "a.go")
	out := compactor.Compact([]*types.Message{single})
	if len(out) != 1 || out[0] != single {
		t.Fatalf("run of one must be emitted unchanged")
	}
}

func TestCompactDoesNotMergeAcrossGaps(t *testing.T) {
	compactor := newTestCompactor()
	messages := []*types.Message{
		successfulRead("a", "a.go"),
		successfulRead("b", "b.go"),
		textMessage("t", "interlude"),
		successfulRead("c", "c.go"),
		successfulRead("d", "d.go"),
	}
	out := compactor.Compact(messages)
	if len(out) != 3 {
		t.Fatalf("expected merge-gap-merge, got %d messages", len(out))
	}
	if out[1].ID != "t" {
		t.Fatalf("gap message must keep its position, got %+v", out[1])
	}
}

func TestCompactSkipsErrorsAndPendingResults(t *testing.T) {
	compactor := newTestCompactor()
	failed := successfulRead("a", "a.go")
	failed.Parts[0].ToolResult.IsError = true
	pending := assistantToolUseMessage("b", "use-b", "Read", "b.go")
	out := compactor.Compact([]*types.Message{failed, pending, successfulRead("c", "c.go")})
	if len(out) != 3 {
		t.Fatalf("errored and unresolved invocations must not merge, got %d", len(out))
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	compactor := newTestCompactor()
	messages := []*types.Message{
		textMessage("t0", "start"),
		successfulRead("a", "a.go"),
		successfulRead("b", "b.go"),
		successfulRead("c", "c.go"),
		textMessage("t1", "end"),
	}
	once := compactor.Compact(messages)
	twice := compactor.Compact(once)
	if len(once) != len(twice) {
		t.Fatalf("compact not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if !reflect.DeepEqual(once[i], twice[i]) {
			t.Fatalf("compact not idempotent at %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

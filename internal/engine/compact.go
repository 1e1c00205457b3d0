package engine

import (
	"fmt"

	"github.com/google/uuid"

	"loom/internal/types"
)

// Compactor merges contiguous runs of same-kind successful tool invocations
// into one summarized entry, so replayed history stays proportional to
// meaningful turns instead of per-item noise.
type Compactor struct {
	repeatable map[string]bool
	aggregate  string
}

func NewCompactor(repeatableTools []string, aggregateTool string) *Compactor {
	repeatable := make(map[string]bool, len(repeatableTools))
	for _, name := range repeatableTools {
		if name != "" {
			repeatable[name] = true
		}
	}
	if aggregateTool == "" {
		aggregateTool = "ReadFiles"
	}
	return &Compactor{repeatable: repeatable, aggregate: aggregateTool}
}

// Compact is pure and order-preserving except for merges. Runs of length 1
// pass through unchanged; applying Compact twice yields the same list, since
// an aggregate message is never itself mergeable.
func (c *Compactor) Compact(messages []*types.Message) []*types.Message {
	if c == nil || len(messages) == 0 {
		return messages
	}
	out := make([]*types.Message, 0, len(messages))
	for i := 0; i < len(messages); {
		if !c.mergeable(messages[i]) {
			out = append(out, messages[i])
			i++
			continue
		}
		j := i + 1
		for j < len(messages) && c.mergeable(messages[j]) {
			j++
		}
		if j-i < 2 {
			out = append(out, messages[i])
		} else {
			out = append(out, c.merge(messages[i:j]))
		}
		i = j
	}
	return out
}

// mergeable requires a successful, resolved invocation of a repeatable tool
// in the message's first part.
func (c *Compactor) mergeable(message *types.Message) bool {
	if message == nil || message.Kind != types.MessageKindAssistant || len(message.Parts) == 0 {
		return false
	}
	first := message.Parts[0]
	if first == nil || first.Content.Type != types.ContentTypeToolUse || first.Content.ToolUse == nil {
		return false
	}
	if !c.repeatable[first.Content.ToolUse.Name] {
		return false
	}
	return first.ToolResult != nil && !first.ToolResult.IsError
}

func (c *Compactor) merge(run []*types.Message) *types.Message {
	inputs := make([]any, 0, len(run))
	timestamp := ""
	for _, message := range run {
		inputs = append(inputs, message.Parts[0].Content.ToolUse.Input)
		if timestamp == "" {
			timestamp = message.Timestamp
		}
	}
	useID := uuid.NewString()
	return &types.Message{
		ID:        uuid.NewString(),
		Kind:      types.MessageKindAssistant,
		Timestamp: timestamp,
		Parts: []*types.MessagePart{{
			Content: types.ContentBlock{
				Type: types.ContentTypeToolUse,
				ToolUse: &types.ToolUseBlock{
					ID:    useID,
					Name:  c.aggregate,
					Input: map[string]any{"fileReads": inputs},
				},
			},
			ToolResult: &types.ToolResultBlock{
				ToolUseID: useID,
				Content:   fmt.Sprintf("Read %d files", len(run)),
			},
		}},
	}
}

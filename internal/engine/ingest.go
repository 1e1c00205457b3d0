package engine

import (
	"time"

	"github.com/google/uuid"

	"loom/internal/types"
)

// ToolResultUpdate names one in-place tool-result attachment performed by
// Ingest.
type ToolResultUpdate struct {
	MessageID string
	ToolUseID string
}

// IngestResult reports what one incoming turn did to the message list.
// Added is nil when the turn was absorbed into existing history or dropped.
type IngestResult struct {
	Added             *types.Message
	Updated           []*types.Message
	ToolResultUpdates []ToolResultUpdate
}

// Ingest applies one incoming turn to a message list. Tool-result blocks are
// linked backwards onto the most recent assistant tool-use with a matching
// invocation id; a turn that performed any linking is fully absorbed and
// never appended as a new message, even when it carries trailing text.
// Control and stream events are dropped.
func Ingest(messages []*types.Message, turn types.Turn) IngestResult {
	var result IngestResult
	if !renderable(turn) {
		return result
	}

	linked := false
	if turn.Kind == types.TurnKindUser {
		for i := range turn.Content {
			block := turn.Content[i]
			if block.Type != types.ContentTypeToolResult || block.ToolResult == nil {
				continue
			}
			if target, part := findToolUse(messages, block.ToolResult.ToolUseID); target != nil {
				attached := *block.ToolResult
				part.ToolResult = &attached
				linked = true
				result.Updated = append(result.Updated, target)
				result.ToolResultUpdates = append(result.ToolResultUpdates, ToolResultUpdate{
					MessageID: target.ID,
					ToolUseID: attached.ToolUseID,
				})
			}
		}
	}

	if linked || !standalone(turn) {
		return result
	}
	result.Added = buildMessage(turn)
	return result
}

// renderable reports whether the turn can surface in observer-facing history
// at all. The default arm is deliberate: unknown kinds are dropped, matching
// how control and stream events are handled.
func renderable(turn types.Turn) bool {
	switch turn.Kind {
	case types.TurnKindUser, types.TurnKindAssistant:
		return len(turn.Content) > 0
	case types.TurnKindSystem:
		return turn.Subtype != "init" && len(turn.Content) > 0
	case types.TurnKindResult:
		return len(turn.Content) > 0
	case types.TurnKindStreamEvent, types.TurnKindLog:
		return false
	default:
		return false
	}
}

// standalone reports whether the turn warrants its own message when nothing
// was linked: any turn that is not purely a bundle of tool results.
func standalone(turn types.Turn) bool {
	if turn.Kind != types.TurnKindUser {
		return true
	}
	for _, block := range turn.Content {
		if block.Type != types.ContentTypeToolResult {
			return true
		}
	}
	return false
}

// findToolUse scans backwards for the most recent assistant message holding
// an unresolved tool-use part with the given invocation id.
func findToolUse(messages []*types.Message, toolUseID string) (*types.Message, *types.MessagePart) {
	if toolUseID == "" {
		return nil, nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		message := messages[i]
		if message == nil || message.Kind != types.MessageKindAssistant {
			continue
		}
		for _, part := range message.Parts {
			if part == nil || part.Content.Type != types.ContentTypeToolUse || part.Content.ToolUse == nil {
				continue
			}
			if part.Content.ToolUse.ID == toolUseID {
				return message, part
			}
		}
	}
	return nil, nil
}

func buildMessage(turn types.Turn) *types.Message {
	id := turn.UUID
	if id == "" {
		id = uuid.NewString()
	}
	message := &types.Message{
		ID:   id,
		Kind: messageKind(turn.Kind),
	}
	if when := turn.TurnTime(); !when.IsZero() {
		message.Timestamp = when.Format(time.RFC3339Nano)
	}
	message.Parts = make([]*types.MessagePart, 0, len(turn.Content))
	for _, block := range turn.Content {
		message.Parts = append(message.Parts, &types.MessagePart{Content: block})
	}
	return message
}

func messageKind(kind types.TurnKind) types.MessageKind {
	switch kind {
	case types.TurnKindUser:
		return types.MessageKindUser
	case types.TurnKindAssistant:
		return types.MessageKindAssistant
	case types.TurnKindSystem:
		return types.MessageKindSystem
	case types.TurnKindResult:
		return types.MessageKindResult
	default:
		return types.MessageKind(kind)
	}
}

package agent

import (
	"encoding/json"
	"strings"

	"loom/internal/types"
)

// ParseTurnLine decodes one stream-json line into a Turn. Blank lines yield
// ok=false. Lines of an unknown type are kept as log turns rather than
// dropped, so nothing the backend says disappears silently.
func ParseTurnLine(line string) (types.Turn, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.Turn{}, false, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return types.Turn{}, false, err
	}

	turn := types.Turn{
		Raw:       payload,
		Timestamp: payload["timestamp"],
	}
	if id, _ := payload["session_id"].(string); strings.TrimSpace(id) != "" {
		turn.SessionID = strings.TrimSpace(id)
	}
	if id, _ := payload["uuid"].(string); strings.TrimSpace(id) != "" {
		turn.UUID = strings.TrimSpace(id)
	}
	if id, _ := payload["parentUuid"].(string); strings.TrimSpace(id) != "" {
		turn.ParentUUID = strings.TrimSpace(id)
	}
	if subtype, _ := payload["subtype"].(string); subtype != "" {
		turn.Subtype = subtype
	}

	typ, _ := payload["type"].(string)
	switch typ {
	case "user":
		turn.Kind = types.TurnKindUser
		turn.Content = parseMessageContent(payload["message"])
		if turn.UUID == "" {
			turn.UUID = messageID(payload["message"])
		}
	case "assistant":
		turn.Kind = types.TurnKindAssistant
		turn.Content = parseMessageContent(payload["message"])
		if turn.UUID == "" {
			turn.UUID = messageID(payload["message"])
		}
	case "system":
		turn.Kind = types.TurnKindSystem
		turn.Content = parseMessageContent(payload["message"])
	case "result":
		turn.Kind = types.TurnKindResult
		if text, _ := payload["result"].(string); strings.TrimSpace(text) != "" {
			turn.Content = []types.ContentBlock{{Type: types.ContentTypeText, Text: text}}
		}
	case "stream_event":
		turn.Kind = types.TurnKindStreamEvent
	default:
		// Unknown variant: surface it as a log turn instead of guessing.
		turn.Kind = types.TurnKindLog
	}
	return turn, true, nil
}

func messageID(raw any) string {
	message, ok := raw.(map[string]any)
	if !ok || message == nil {
		return ""
	}
	id, _ := message["id"].(string)
	return strings.TrimSpace(id)
}

func parseMessageContent(raw any) []types.ContentBlock {
	message, ok := raw.(map[string]any)
	if !ok || message == nil {
		return nil
	}
	if text, ok := message["content"].(string); ok {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		return []types.ContentBlock{{Type: types.ContentTypeText, Text: text}}
	}
	entries, ok := message["content"].([]any)
	if !ok {
		return nil
	}
	blocks := make([]types.ContentBlock, 0, len(entries))
	for _, entry := range entries {
		block, ok := entry.(map[string]any)
		if !ok || block == nil {
			continue
		}
		blockType, _ := block["type"].(string)
		switch blockType {
		case "text":
			text, _ := block["text"].(string)
			blocks = append(blocks, types.ContentBlock{Type: types.ContentTypeText, Text: text})
		case "thinking", "redacted_thinking":
			thinking, _ := block["thinking"].(string)
			if thinking == "" {
				thinking, _ = block["text"].(string)
			}
			blocks = append(blocks, types.ContentBlock{Type: types.ContentTypeThinking, Thinking: thinking})
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			input, _ := block["input"].(map[string]any)
			blocks = append(blocks, types.ContentBlock{
				Type:    types.ContentTypeToolUse,
				ToolUse: &types.ToolUseBlock{ID: id, Name: name, Input: input},
			})
		case "tool_result":
			id, _ := block["tool_use_id"].(string)
			isError, _ := block["is_error"].(bool)
			blocks = append(blocks, types.ContentBlock{
				Type:       types.ContentTypeToolResult,
				ToolResult: &types.ToolResultBlock{ToolUseID: id, Content: block["content"], IsError: isError},
			})
		case "image":
			source, _ := block["source"].(map[string]any)
			blocks = append(blocks, types.ContentBlock{Type: types.ContentTypeImage, Source: source})
		case "document":
			source, _ := block["source"].(map[string]any)
			blocks = append(blocks, types.ContentBlock{Type: types.ContentTypeDocument, Source: source})
		default:
			// Carry the tag through so consumers can see what they skipped.
			blocks = append(blocks, types.ContentBlock{Type: types.ContentBlockType(blockType)})
		}
	}
	return blocks
}

package types

type MessageKind string

const (
	MessageKindUser      MessageKind = "user"
	MessageKindAssistant MessageKind = "assistant"
	MessageKindSystem    MessageKind = "system"
	MessageKindResult    MessageKind = "result"
)

type ContentBlockType string

const (
	ContentTypeText       ContentBlockType = "text"
	ContentTypeImage      ContentBlockType = "image"
	ContentTypeDocument   ContentBlockType = "document"
	ContentTypeToolUse    ContentBlockType = "tool_use"
	ContentTypeToolResult ContentBlockType = "tool_result"
	ContentTypeThinking   ContentBlockType = "thinking"
)

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ContentBlock is a tagged variant; exactly one payload field is set per Type.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       string           `json:"text,omitempty"`
	Thinking   string           `json:"thinking,omitempty"`
	Source     map[string]any   `json:"source,omitempty"`
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// MessagePart pairs a content block with the tool result that later attached
// to it. ToolResult is the only field of a message mutated after creation.
type MessagePart struct {
	Content    ContentBlock     `json:"content"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// Message ordering is insertion order; Timestamp is advisory only.
type Message struct {
	ID        string         `json:"id"`
	Kind      MessageKind    `json:"kind"`
	Timestamp string         `json:"timestamp,omitempty"`
	Parts     []*MessagePart `json:"parts"`
}

func CloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Parts != nil {
		out.Parts = make([]*MessagePart, 0, len(m.Parts))
		for _, part := range m.Parts {
			if part == nil {
				continue
			}
			partCopy := *part
			if part.ToolResult != nil {
				resultCopy := *part.ToolResult
				partCopy.ToolResult = &resultCopy
			}
			if part.Content.ToolUse != nil {
				useCopy := *part.Content.ToolUse
				partCopy.Content.ToolUse = &useCopy
			}
			if part.Content.ToolResult != nil {
				resultCopy := *part.Content.ToolResult
				partCopy.Content.ToolResult = &resultCopy
			}
			out.Parts = append(out.Parts, &partCopy)
		}
	}
	return &out
}

func CloneMessages(in []*Message) []*Message {
	if in == nil {
		return nil
	}
	out := make([]*Message, 0, len(in))
	for _, m := range in {
		out = append(out, CloneMessage(m))
	}
	return out
}

// FirstText returns the first non-empty text block of the message.
func (m *Message) FirstText() string {
	if m == nil {
		return ""
	}
	for _, part := range m.Parts {
		if part == nil {
			continue
		}
		if part.Content.Type == ContentTypeText && part.Content.Text != "" {
			return part.Content.Text
		}
	}
	return ""
}

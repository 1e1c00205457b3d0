package types

const (
	NotifyMessageAdded        = "message_added"
	NotifyMessagesUpdated     = "messages_updated"
	NotifySessionStateChanged = "session_state_changed"
	NotifyBranched            = "branched"
	NotifyError               = "error"
)

// Notification is one outbound frame to an observer. Type selects which of
// the optional fields are populated.
type Notification struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Message   *Message           `json:"message,omitempty"`
	Messages  []*Message         `json:"messages,omitempty"`
	State     *SessionStatePatch `json:"state,omitempty"`

	SourceSessionID     string             `json:"source_session_id,omitempty"`
	BranchAtMessageUUID string             `json:"branch_at_message_uuid,omitempty"`
	NewSessionID        string             `json:"new_session_id,omitempty"`
	Worldlines          []WorldlineSibling `json:"worldlines,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

const (
	CommandChat       = "chat"
	CommandSetOptions = "setOptions"
	CommandResume     = "resume"
	CommandBranch     = "branch"
	CommandInterrupt  = "interrupt"
)

// Command is one inbound frame from an observer.
type Command struct {
	Type                string          `json:"type"`
	Content             string          `json:"content,omitempty"`
	Attachments         []Attachment    `json:"attachments,omitempty"`
	SessionID           string          `json:"sessionId,omitempty"`
	Options             *SessionOptions `json:"options,omitempty"`
	SourceSessionID     string          `json:"sourceSessionId,omitempty"`
	BranchAtMessageUUID string          `json:"branchAtMessageUuid,omitempty"`
}

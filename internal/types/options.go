package types

import "strings"

// SessionOptions is the effective configuration of one session, merged from
// daemon defaults and per-session overrides.
type SessionOptions struct {
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	MaxTurns       int    `json:"max_turns,omitempty"`
}

func CloneSessionOptions(in *SessionOptions) *SessionOptions {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

// MergeSessionOptions overlays non-zero patch fields onto base. Neither
// argument is mutated.
func MergeSessionOptions(base *SessionOptions, patch *SessionOptions) *SessionOptions {
	if base == nil && patch == nil {
		return nil
	}
	out := CloneSessionOptions(base)
	if out == nil {
		out = &SessionOptions{}
	}
	if patch == nil {
		return out
	}
	if model := strings.TrimSpace(patch.Model); model != "" {
		out.Model = model
	}
	if mode := strings.TrimSpace(patch.PermissionMode); mode != "" {
		out.PermissionMode = mode
	}
	if cwd := strings.TrimSpace(patch.Cwd); cwd != "" {
		out.Cwd = cwd
	}
	if patch.MaxTurns > 0 {
		out.MaxTurns = patch.MaxTurns
	}
	return out
}

// SessionStatePatch carries the changed subset of a session's observable
// state. Nil fields were not touched by the change being announced.
type SessionStatePatch struct {
	IsBusy    *bool           `json:"is_busy,omitempty"`
	IsLoading *bool           `json:"is_loading,omitempty"`
	Options   *SessionOptions `json:"options,omitempty"`
}

// Attachment is an observer-supplied file or image included with a prompt.
type Attachment struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

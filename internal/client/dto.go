package client

import "loom/internal/types"

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type SessionSummary struct {
	SessionID      string `json:"session_id"`
	Summary        string `json:"summary,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	LastModifiedAt string `json:"last_modified_at,omitempty"`
	IsBusy         bool   `json:"is_busy"`
}

type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

type MessagesResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []*types.Message `json:"messages"`
}

type WorldlinesResponse struct {
	SessionID  string                   `json:"session_id"`
	Worldlines []types.WorldlineSibling `json:"worldlines"`
}

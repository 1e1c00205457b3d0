package daemon

import (
	"context"

	"loom/internal/engine"
	"loom/internal/logging"
)

type API struct {
	Version  string
	Registry *engine.Registry
	Resolver *engine.WorldlineResolver
	Shutdown func(context.Context) error
	Logger   logging.Logger
}

// SessionSummary is one entry of the session listing, the durable index
// record decorated with live-only state.
type SessionSummary struct {
	SessionID      string `json:"session_id"`
	Summary        string `json:"summary,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	LastModifiedAt string `json:"last_modified_at,omitempty"`
	IsBusy         bool   `json:"is_busy"`
}

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"loom/internal/agent"
	"loom/internal/engine"
	"loom/internal/store"
	"loom/internal/types"
)

type healthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

func newTestAPI(backend agent.Backend) (*API, *store.MemoryBranchStore, *store.MemorySessionIndexStore) {
	branches := store.NewMemoryBranchStore()
	index := store.NewMemorySessionIndexStore()
	registry := engine.NewRegistry(engine.RegistryDeps{
		Backend:  backend,
		Branches: branches,
		Index:    index,
	})
	api := &API{
		Version:  "test-version",
		Registry: registry,
		Resolver: engine.NewWorldlineResolver(branches, index, nil),
	}
	return api, branches, index
}

func TestHealth(t *testing.T) {
	recorder := httptest.NewRecorder()
	api, _, _ := newTestAPI(agent.NewScriptedBackend())

	api.Health(recorder, httptest.NewRequest("GET", "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true")
	}
	if resp.Version != "test-version" {
		t.Fatalf("expected version 'test-version', got %q", resp.Version)
	}
	if resp.PID <= 0 {
		t.Fatalf("expected pid to be positive, got %d", resp.PID)
	}
}

func TestSessionsListsIndexOrderedByRecency(t *testing.T) {
	api, _, index := newTestAPI(agent.NewScriptedBackend())
	for _, record := range []*types.SessionIndexRecord{
		{SessionID: "older", Summary: "first"},
		{SessionID: "newer", Summary: "second"},
	} {
		if _, err := index.Upsert(context.Background(), record); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	recorder := httptest.NewRecorder()
	api.Sessions(recorder, httptest.NewRequest("GET", "/api/sessions", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var resp struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(resp.Sessions))
	}
	if resp.Sessions[0].SessionID != "newer" {
		t.Fatalf("first session = %q, want most recent", resp.Sessions[0].SessionID)
	}
}

func TestSessionMessagesLoadsTranscript(t *testing.T) {
	backend := agent.NewScriptedBackend()
	backend.Persist("s-1",
		types.Turn{
			Kind:    types.TurnKindUser,
			UUID:    "u-1",
			Content: []types.ContentBlock{{Type: types.ContentTypeText, Text: "hello"}},
		},
		types.Turn{
			Kind:       types.TurnKindAssistant,
			UUID:       "a-1",
			ParentUUID: "u-1",
			Content:    []types.ContentBlock{{Type: types.ContentTypeText, Text: "hi"}},
		},
	)
	api, _, _ := newTestAPI(backend)

	recorder := httptest.NewRecorder()
	api.SessionByID(recorder, httptest.NewRequest("GET", "/api/sessions/s-1/messages", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		SessionID string           `json:"session_id"`
		Messages  []*types.Message `json:"messages"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if resp.SessionID != "s-1" || len(resp.Messages) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSessionMessagesUnknownSession(t *testing.T) {
	api, _, _ := newTestAPI(agent.NewScriptedBackend())

	recorder := httptest.NewRecorder()
	api.SessionByID(recorder, httptest.NewRequest("GET", "/api/sessions/ghost/messages", nil))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if resp.Code != engine.CodeResumeFailed {
		t.Fatalf("code = %q, want %q", resp.Code, engine.CodeResumeFailed)
	}
}

func TestSessionWorldlineEndpoint(t *testing.T) {
	api, branches, _ := newTestAPI(agent.NewScriptedBackend())
	_, err := branches.Upsert(context.Background(), &types.BranchRecord{
		SessionID:              "child",
		ParentSessionID:        "root",
		BranchPointMessageUUID: "u-2",
		BranchPointParentUUID:  "a-1",
		WorldlineID:            "root",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recorder := httptest.NewRecorder()
	api.SessionByID(recorder, httptest.NewRequest("GET", "/api/sessions/child/worldline", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var resp struct {
		Worldlines []types.WorldlineSibling `json:"worldlines"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(resp.Worldlines) != 2 {
		t.Fatalf("got %d worldlines, want synthetic root plus branch", len(resp.Worldlines))
	}
	if resp.Worldlines[0].SessionID != "root" {
		t.Fatalf("first entry = %+v, want root", resp.Worldlines[0])
	}
}

func TestSessionByIDRejectsUnknownResource(t *testing.T) {
	api, _, _ := newTestAPI(agent.NewScriptedBackend())
	recorder := httptest.NewRecorder()
	api.SessionByID(recorder, httptest.NewRequest("GET", "/api/sessions/s-1/attachments", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

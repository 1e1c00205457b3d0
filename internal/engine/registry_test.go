package engine

import (
	"context"
	"testing"
	"time"

	"loom/internal/agent"
	"loom/internal/store"
	"loom/internal/types"
)

func newTestRegistry(backend agent.Backend) (*Registry, *store.MemoryBranchStore, *store.MemorySessionIndexStore) {
	branches := store.NewMemoryBranchStore()
	index := store.NewMemorySessionIndexStore()
	registry := NewRegistry(RegistryDeps{
		Backend:   backend,
		Branches:  branches,
		Index:     index,
		Compactor: newTestCompactor(),
	})
	return registry, branches, index
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGetOrCreateReusesByID(t *testing.T) {
	registry, _, _ := newTestRegistry(agent.NewScriptedBackend())

	first := registry.GetOrCreate("s-1")
	second := registry.GetOrCreate("s-1")
	if first != second {
		t.Fatal("same id produced different sessions")
	}
	anonymousA := registry.GetOrCreate("")
	anonymousB := registry.GetOrCreate("")
	if anonymousA == anonymousB {
		t.Fatal("anonymous sessions must be distinct")
	}
	if _, ok := registry.Get("s-1"); !ok {
		t.Fatal("registered id not found")
	}
	if _, ok := registry.Get("s-2"); ok {
		t.Fatal("unknown id resolved")
	}
}

func TestChatRegistersSessionUnderAdoptedID(t *testing.T) {
	backend := agent.NewScriptedBackend()
	backend.Script(
		systemInitTurn("s-42"),
		assistantTextTurn("s-42", "a-1", "", "done"),
		resultTurn("s-42"),
	)
	registry, _, index := newTestRegistry(backend)
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{
		Type:    types.CommandChat,
		Content: "do a thing",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitFor(t, "session registered under adopted id", func() bool {
		_, ok := registry.Get("s-42")
		return ok
	})
	waitFor(t, "observer bound to adopted id", func() bool {
		return observer.ObserverSessionID() == "s-42"
	})
	waitFor(t, "index entry written", func() bool {
		_, ok, _ := index.Get(context.Background(), "s-42")
		return ok
	})
}

func TestChatReusesObserverSessionBeforeAdoption(t *testing.T) {
	backend := newBlockedBackend()
	registry, _, _ := newTestRegistry(backend)
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{
		Type:    types.CommandChat,
		Content: "first",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	<-backend.started

	// A follow-up before the backend names the session must land on the
	// observer's existing session, not spawn a second one.
	err = registry.Dispatch(context.Background(), observer, types.Command{
		Type:    types.CommandChat,
		Content: "second",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := backend.openedStreams(); got != 1 {
		t.Fatalf("opened %d backend streams while the first is in flight, want 1", got)
	}
	sessions := registry.snapshot()
	if len(sessions) != 1 {
		t.Fatalf("registry holds %d sessions for one observer, want 1", len(sessions))
	}
	if !sessions[0].Subscribed(observer) {
		t.Fatal("observer lost its subscription")
	}
	registry.InterruptAll()
}

func TestDetachClearsAnonymousSubscriptions(t *testing.T) {
	registry, _, _ := newTestRegistry(agent.NewScriptedBackend())
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{
		Type:    types.CommandChat,
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	sessions := registry.snapshot()
	if len(sessions) != 1 || !sessions[0].Subscribed(observer) {
		t.Fatalf("observer not subscribed after chat: %d sessions", len(sessions))
	}

	registry.Detach(observer)
	if sessions[0].Subscribed(observer) {
		t.Fatal("subscription survived detach")
	}
}

func TestChatRejectsEmptyContent(t *testing.T) {
	registry, _, _ := newTestRegistry(agent.NewScriptedBackend())
	err := registry.Dispatch(context.Background(), &recordObserver{}, types.Command{Type: types.CommandChat})
	if got := ErrorCode(err); got != CodeEmptyMessage {
		t.Fatalf("code = %q, want %q", got, CodeEmptyMessage)
	}
}

func TestResumeDeliversHistoryToObserver(t *testing.T) {
	backend := agent.NewScriptedBackend()
	backend.Persist("s-9",
		userTextTurn("s-9", "u-1", "", "earlier question"),
		assistantTextTurn("s-9", "a-1", "u-1", "earlier answer"),
	)
	registry, _, _ := newTestRegistry(backend)
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{
		Type:      types.CommandResume,
		SessionID: "s-9",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitFor(t, "history notification", func() bool {
		for _, note := range observer.notifications() {
			if note.Type == types.NotifyMessagesUpdated && len(note.Messages) == 2 {
				return true
			}
		}
		return false
	})
	if got := observer.ObserverSessionID(); got != "s-9" {
		t.Fatalf("observer bound to %q, want s-9", got)
	}
}

func TestBranchPersistsRecordAndNotifies(t *testing.T) {
	backend := agent.NewScriptedBackend()
	backend.Persist("src",
		userTextTurn("src", "u-1", "", "first"),
		assistantTextTurn("src", "a-1", "u-1", "reply"),
		userTextTurn("src", "u-2", "a-1", "second"),
	)
	backend.Script(
		systemInitTurn("s-branch"),
		assistantTextTurn("s-branch", "a-b", "", "other reply"),
		resultTurn("s-branch"),
	)
	registry, branches, _ := newTestRegistry(backend)
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{
		Type:                types.CommandBranch,
		Content:             "try again",
		SourceSessionID:     "src",
		BranchAtMessageUUID: "u-2",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitFor(t, "branched notification", func() bool {
		for _, note := range observer.notifications() {
			if note.Type == types.NotifyBranched {
				return true
			}
		}
		return false
	})

	record, ok, err := branches.Get(context.Background(), "s-branch")
	if err != nil || !ok {
		t.Fatalf("branch record missing: ok=%v err=%v", ok, err)
	}
	if record.ParentSessionID != "src" || record.WorldlineID != "src" {
		t.Fatalf("record = %+v, want parent and worldline src", record)
	}
	if record.BranchPointMessageUUID != "u-2" || record.BranchPointParentUUID != "a-1" {
		t.Fatalf("record lineage = %+v", record)
	}

	var branched types.Notification
	for _, note := range observer.notifications() {
		if note.Type == types.NotifyBranched {
			branched = note
		}
	}
	if len(branched.Worldlines) == 0 {
		t.Fatal("branched notification carries no worldlines")
	}
	ids := make(map[string]bool, len(branched.Worldlines))
	for _, sibling := range branched.Worldlines {
		ids[sibling.SessionID] = true
	}
	if !ids["src"] || !ids["s-branch"] {
		t.Fatalf("worldlines = %+v, want src and s-branch", branched.Worldlines)
	}
}

func TestWorldlinePropagatesThroughGenerations(t *testing.T) {
	registry, branches, _ := newTestRegistry(agent.NewScriptedBackend())
	_, err := branches.Upsert(context.Background(), &types.BranchRecord{
		SessionID:       "child",
		ParentSessionID: "root",
		WorldlineID:     "root",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if got := registry.worldlineFor("child"); got != "root" {
		t.Fatalf("worldline of grandchild parent = %q, want root", got)
	}
	if got := registry.worldlineFor("root"); got != "root" {
		t.Fatalf("worldline of root = %q, want root", got)
	}
	if got := registry.worldlineFor("stranger"); got != "stranger" {
		t.Fatalf("worldline of unbranched session = %q, want itself", got)
	}
}

func TestDispatchValidation(t *testing.T) {
	registry, _, _ := newTestRegistry(agent.NewScriptedBackend())
	observer := &recordObserver{}

	err := registry.Dispatch(context.Background(), observer, types.Command{Type: types.CommandInterrupt})
	if got := ErrorCode(err); got != CodeUnregisteredObserver {
		t.Fatalf("unbound interrupt code = %q, want %q", got, CodeUnregisteredObserver)
	}

	err = registry.Dispatch(context.Background(), observer, types.Command{Type: types.CommandInterrupt, SessionID: "nope"})
	if got := ErrorCode(err); got != CodeInvalidSession {
		t.Fatalf("unknown session code = %q, want %q", got, CodeInvalidSession)
	}

	err = registry.Dispatch(context.Background(), observer, types.Command{Type: "dance"})
	if got := ErrorCode(err); got != CodeUnknownCommand {
		t.Fatalf("unknown command code = %q, want %q", got, CodeUnknownCommand)
	}

	err = registry.Dispatch(context.Background(), observer, types.Command{Type: types.CommandBranch, Content: "x", SourceSessionID: "src"})
	if got := ErrorCode(err); got != CodeBranchFailed {
		t.Fatalf("missing branch point code = %q, want %q", got, CodeBranchFailed)
	}

	err = registry.Dispatch(context.Background(), observer, types.Command{Type: types.CommandResume})
	if got := ErrorCode(err); got != CodeInvalidSession {
		t.Fatalf("missing resume id code = %q, want %q", got, CodeInvalidSession)
	}
}

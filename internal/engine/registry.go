package engine

import (
	"context"
	"strings"
	"sync"

	"loom/internal/agent"
	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/types"
)

// RegistryDeps are the shared collaborators handed to every session the
// registry creates.
type RegistryDeps struct {
	Backend        agent.Backend
	Branches       store.BranchStore
	Index          store.SessionIndexStore
	Compactor      *Compactor
	DefaultOptions *types.SessionOptions
	Logger         logging.Logger
}

// Registry owns the live sessions of the daemon, keyed by backend session id.
// Sessions whose id is not yet known are tracked anonymously and re-keyed the
// moment the backend assigns one.
type Registry struct {
	deps     RegistryDeps
	logger   logging.Logger
	resolver *WorldlineResolver

	mu   sync.Mutex
	byID map[string]*Session
	all  []*Session
}

func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	registry := &Registry{
		deps:   deps,
		logger: logger,
		byID:   make(map[string]*Session),
	}
	if deps.Branches != nil {
		registry.resolver = NewWorldlineResolver(deps.Branches, deps.Index, logger)
	}
	return registry
}

// Get returns the live session registered under the id, if any.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[strings.TrimSpace(sessionID)]
	return session, ok
}

// GetOrCreate returns the session registered under the id, creating and
// registering a fresh one when the id is unknown. An empty id always creates
// an anonymous session; it gets registered once the backend names it.
func (r *Registry) GetOrCreate(sessionID string) *Session {
	sessionID = strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID != "" {
		if session, ok := r.byID[sessionID]; ok {
			return session
		}
	}
	session := r.newSessionLocked()
	if sessionID != "" {
		r.byID[sessionID] = session
	}
	return session
}

// sessionFor resolves the session an observer command lands on: a registered
// id wins, then a session that already carries this observer as a subscriber,
// then a fresh one. Reusing the observer's session keeps a follow-up message
// on the same conversation even before the backend has named it.
func (r *Registry) sessionFor(obs Observer, sessionID string) *Session {
	sessionID = strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID != "" {
		if session, ok := r.byID[sessionID]; ok {
			return session
		}
	}
	if obs != nil {
		for _, session := range r.all {
			if session.Subscribed(obs) {
				return session
			}
		}
	}
	session := r.newSessionLocked()
	if sessionID != "" {
		r.byID[sessionID] = session
	}
	return session
}

func (r *Registry) newSessionLocked() *Session {
	session := NewSession(SessionDeps{
		Backend:        r.deps.Backend,
		Index:          r.deps.Index,
		Compactor:      r.deps.Compactor,
		DefaultOptions: r.deps.DefaultOptions,
		Logger:         r.logger,
	})
	session.onSessionID = func(oldID, newID string) {
		r.rekey(session, oldID, newID)
	}
	r.all = append(r.all, session)
	return session
}

// rekey moves the session under its backend-assigned id. Called from the
// session's stream goroutine, never while the session mutex is held.
func (r *Registry) rekey(session *Session, oldID, newID string) {
	if newID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID != "" && r.byID[oldID] == session {
		delete(r.byID, oldID)
	}
	r.byID[newID] = session
}

// Sessions lists every known session, most recently modified first. The
// durable index is the source of truth; live-only state decorates it.
func (r *Registry) Sessions(ctx context.Context) ([]*types.SessionIndexRecord, error) {
	if r.deps.Index == nil {
		return nil, nil
	}
	records, err := r.deps.Index.List(ctx)
	if err != nil {
		return nil, unavailableError(CodeInvalidSession, "failed to list sessions", err)
	}
	return records, nil
}

// History returns the materialized message log of a session, loading it from
// the persisted transcript when the session is not live yet.
func (r *Registry) History(ctx context.Context, sessionID string) ([]*types.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, invalidError(CodeInvalidSession, "session id is required", nil)
	}
	session := r.GetOrCreate(sessionID)
	if err := session.ResumeFrom(ctx, sessionID); err != nil {
		return nil, err
	}
	return session.Messages(), nil
}

// IsBusy reports whether a live session under the id has a run in flight.
func (r *Registry) IsBusy(sessionID string) bool {
	session, ok := r.Get(sessionID)
	return ok && session.IsBusy()
}

// InterruptAll cancels every in-flight run; used on daemon shutdown.
func (r *Registry) InterruptAll() {
	for _, session := range r.snapshot() {
		session.Interrupt()
	}
}

// Dispatch routes one observer command. Validation failures come back as an
// error for the transport to report; long-running work continues in the
// background and reports through the observer's notification stream.
func (r *Registry) Dispatch(ctx context.Context, obs Observer, cmd types.Command) error {
	switch cmd.Type {
	case types.CommandChat:
		return r.dispatchChat(obs, cmd)
	case types.CommandSetOptions:
		return r.dispatchSetOptions(obs, cmd)
	case types.CommandResume:
		return r.dispatchResume(obs, cmd)
	case types.CommandBranch:
		return r.dispatchBranch(obs, cmd)
	case types.CommandInterrupt:
		return r.dispatchInterrupt(obs, cmd)
	default:
		return invalidError(CodeUnknownCommand, "unknown command type "+cmd.Type, nil)
	}
}

func (r *Registry) dispatchChat(obs Observer, cmd types.Command) error {
	if strings.TrimSpace(cmd.Content) == "" {
		return invalidError(CodeEmptyMessage, "message content is required", nil)
	}
	sessionID := firstNonEmpty(cmd.SessionID, obs.ObserverSessionID())
	session := r.sessionFor(obs, sessionID)
	r.attach(obs, session, sessionID)

	go func() {
		if sessionID != "" && session.SessionID() == "" {
			if err := session.ResumeFrom(context.Background(), sessionID); err != nil {
				r.logger.Warn("chat_resume_failed",
					logging.F("session_id", sessionID),
					logging.F("error", err),
				)
			}
		}
		if err := session.Send(context.Background(), cmd.Content, cmd.Attachments); err != nil {
			r.notifyError(obs, session.SessionID(), err)
		}
	}()
	return nil
}

func (r *Registry) dispatchSetOptions(obs Observer, cmd types.Command) error {
	session, err := r.resolveBound(obs, cmd.SessionID)
	if err != nil {
		return err
	}
	session.SetOptions(cmd.Options)
	return nil
}

func (r *Registry) dispatchResume(obs Observer, cmd types.Command) error {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return invalidError(CodeInvalidSession, "session id is required", nil)
	}
	session := r.GetOrCreate(sessionID)
	r.attach(obs, session, sessionID)
	go func() {
		if err := session.ResumeFrom(context.Background(), sessionID); err != nil {
			r.notifyError(obs, sessionID, err)
		}
	}()
	return nil
}

func (r *Registry) dispatchBranch(obs Observer, cmd types.Command) error {
	if strings.TrimSpace(cmd.Content) == "" {
		return invalidError(CodeEmptyMessage, "message content is required", nil)
	}
	source := firstNonEmpty(cmd.SourceSessionID, obs.ObserverSessionID())
	if source == "" {
		return invalidError(CodeInvalidSession, "source session id is required", nil)
	}
	branchPoint := strings.TrimSpace(cmd.BranchAtMessageUUID)
	if branchPoint == "" {
		return invalidError(CodeBranchFailed, "branch point message uuid is required", nil)
	}

	// The observer follows the new worldline from the start.
	r.mu.Lock()
	session := r.newSessionLocked()
	r.mu.Unlock()
	r.attach(obs, session, "")

	go r.runBranch(obs, session, source, branchPoint, cmd.Content, cmd.Attachments)
	return nil
}

func (r *Registry) dispatchInterrupt(obs Observer, cmd types.Command) error {
	session, err := r.resolveBound(obs, cmd.SessionID)
	if err != nil {
		return err
	}
	session.Interrupt()
	return nil
}

func (r *Registry) runBranch(obs Observer, session *Session, source, branchPoint, prompt string, attachments []types.Attachment) {
	result, err := session.Branch(context.Background(), source, branchPoint, prompt, attachments)
	if err != nil {
		r.notifyError(obs, source, err)
		return
	}

	record := &types.BranchRecord{
		SessionID:              result.NewSessionID,
		ParentSessionID:        result.ParentSessionID,
		BranchPointMessageUUID: result.BranchPointMessageUUID,
		BranchPointParentUUID:  result.BranchPointParentUUID,
		WorldlineID:            r.worldlineFor(result.ParentSessionID),
	}
	if r.deps.Branches != nil {
		if _, err := r.deps.Branches.Upsert(context.Background(), record); err != nil {
			r.logger.Error("branch_record_persist_failed",
				logging.F("session_id", record.SessionID),
				logging.F("parent_session_id", record.ParentSessionID),
				logging.F("error", err),
			)
		}
	}
	note := types.Notification{
		Type:                types.NotifyBranched,
		SessionID:           result.NewSessionID,
		NewSessionID:        result.NewSessionID,
		SourceSessionID:     result.ParentSessionID,
		BranchAtMessageUUID: result.BranchPointMessageUUID,
	}
	if r.resolver != nil {
		worldlines, err := r.resolver.SiblingsOf(context.Background(), result.NewSessionID)
		if err != nil {
			r.logger.Warn("branch_worldlines_failed",
				logging.F("session_id", result.NewSessionID),
				logging.F("error", err),
			)
		} else {
			note.Worldlines = worldlines
		}
	}
	obs.Notify(note)
}

// worldlineFor propagates the family root: a parent that is itself a branch
// passes its own worldline down, otherwise the parent is the root.
func (r *Registry) worldlineFor(parentSessionID string) string {
	if r.deps.Branches == nil {
		return parentSessionID
	}
	record, ok, err := r.deps.Branches.Get(context.Background(), parentSessionID)
	if err != nil {
		r.logger.Warn("worldline_lookup_failed",
			logging.F("parent_session_id", parentSessionID),
			logging.F("error", err),
		)
		return parentSessionID
	}
	if ok && record.WorldlineID != "" {
		return record.WorldlineID
	}
	return parentSessionID
}

// resolveBound finds the session named by the command or bound to the
// observer. Commands that act on existing state never create sessions.
func (r *Registry) resolveBound(obs Observer, cmdSessionID string) (*Session, error) {
	sessionID := firstNonEmpty(cmdSessionID, obs.ObserverSessionID())
	if sessionID == "" {
		return nil, invalidError(CodeUnregisteredObserver, "observer is not bound to a session", nil)
	}
	session, ok := r.Get(sessionID)
	if !ok {
		return nil, notFoundError(CodeInvalidSession, "unknown session "+sessionID, nil)
	}
	return session, nil
}

// attach moves the observer onto the session. An observer is linked to at
// most one session at a time, so any other subscription is dropped first.
func (r *Registry) attach(obs Observer, session *Session, sessionID string) {
	if sessionID != "" {
		obs.BindSession(sessionID)
	}
	for _, other := range r.snapshot() {
		if other != session {
			other.Unsubscribe(obs)
		}
	}
	if !session.Subscribed(obs) {
		session.Subscribe(obs)
	}
}

// Detach removes the observer from every session. Transports call this when
// a connection closes, including connections whose session never adopted an
// id.
func (r *Registry) Detach(obs Observer) {
	for _, session := range r.snapshot() {
		session.Unsubscribe(obs)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session{}, r.all...)
}

func (r *Registry) notifyError(obs Observer, sessionID string, err error) {
	obs.Notify(types.Notification{
		Type:      types.NotifyError,
		SessionID: sessionID,
		Code:      ErrorCode(err),
		Error:     err.Error(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"loom/internal/agent"
	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/types"
)

const summaryMaxLen = 80

// Observer receives broadcasts from the session it is subscribed to.
// Notify must not block and must not call back into the session
// synchronously; implementations enqueue onto their own buffered channel.
type Observer interface {
	ObserverSessionID() string
	BindSession(sessionID string)
	Notify(note types.Notification)
}

// SessionDeps are the collaborators injected into every Session.
type SessionDeps struct {
	Backend        agent.Backend
	Index          store.SessionIndexStore
	Compactor      *Compactor
	DefaultOptions *types.SessionOptions
	Logger         logging.Logger
}

// Session owns the message log of one conversation and serializes every
// request against it: at most one backend stream is open per Session at any
// instant, and concurrent Send/Branch calls queue behind the in-flight one.
type Session struct {
	deps   SessionDeps
	logger logging.Logger

	mu            sync.Mutex
	sessionID     string
	messages      []*types.Message
	isBusy        bool
	isLoading     bool
	options       *types.SessionOptions
	lastModified  time.Time
	summary       string
	lastErr       error
	loadedFor     string
	historyLoaded bool
	lastLocalEcho string
	subscribers   map[Observer]struct{}

	inflight  chan struct{}
	cancelRun context.CancelFunc

	loads singleflight.Group

	// onSessionID is set by the registry so it can re-key its map when the
	// backend assigns or changes the session id mid-stream.
	onSessionID func(oldID, newID string)
}

// BranchResult is handed to the caller for durable BranchRecord storage.
type BranchResult struct {
	NewSessionID           string
	ParentSessionID        string
	BranchPointMessageUUID string
	BranchPointParentUUID  string
}

func NewSession(deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		deps:         deps,
		logger:       logger,
		options:      types.CloneSessionOptions(deps.DefaultOptions),
		lastModified: time.Now().UTC(),
		subscribers:  make(map[Observer]struct{}),
	}
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBusy
}

func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

func (s *Session) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// LastError returns the most recent backend failure, if any. Backend errors
// are stored here rather than propagated, so a failed session stays usable.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Messages returns a deep copy; observers never see the live slice.
func (s *Session) Messages() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneMessages(s.messages)
}

func (s *Session) Options() *types.SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneSessionOptions(s.options)
}

// SetOptions merges a partial patch into the session's effective options and
// announces the new effective set.
func (s *Session) SetOptions(patch *types.SessionOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = types.MergeSessionOptions(s.options, patch)
	s.notifyLocked(types.Notification{
		Type:      types.NotifySessionStateChanged,
		SessionID: s.sessionID,
		State:     &types.SessionStatePatch{Options: types.CloneSessionOptions(s.options)},
	})
}

// Subscribe adds the observer and immediately delivers the current state
// snapshot plus, once history has ever been loaded, the full message list —
// a late joiner never needs a separate catch-up request.
func (s *Session) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[obs] = struct{}{}
	obs.Notify(types.Notification{
		Type:      types.NotifySessionStateChanged,
		SessionID: s.sessionID,
		State: &types.SessionStatePatch{
			IsBusy:    boolPtr(s.isBusy),
			IsLoading: boolPtr(s.isLoading),
			Options:   types.CloneSessionOptions(s.options),
		},
	})
	if s.historyLoaded || len(s.messages) > 0 {
		obs.Notify(types.Notification{
			Type:      types.NotifyMessagesUpdated,
			SessionID: s.sessionID,
			Messages:  types.CloneMessages(s.messages),
		})
	}
}

func (s *Session) Unsubscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, obs)
}

// Subscribed reports whether the observer is attached to this session.
func (s *Session) Subscribed(obs Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribers[obs]
	return ok
}

// Send serializes behind any in-flight request, appends the prompt locally as
// an optimistic echo, then consumes the backend stream to completion. Backend
// failures are stored on the session, never returned; the error return covers
// validation and cancellation while queued.
func (s *Session) Send(ctx context.Context, prompt string, attachments []types.Attachment) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return invalidError(CodeEmptyMessage, "message content is required", nil)
	}
	if err := s.acquireTurnSlot(ctx); err != nil {
		return err
	}
	s.run(ctx, prompt, attachments, "", "")
	return nil
}

// Branch rewrites history: it resolves the parent of the branch point in the
// source session, resets this session to empty, and forks the backend from
// the source at that anchor, so the new prompt replaces the branch-point
// message instead of following it.
func (s *Session) Branch(ctx context.Context, sourceSessionID, branchPointUUID, prompt string, attachments []types.Attachment) (*BranchResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, invalidError(CodeEmptyMessage, "message content is required", nil)
	}
	sourceSessionID = strings.TrimSpace(sourceSessionID)
	if sourceSessionID == "" {
		return nil, invalidError(CodeInvalidSession, "source session id is required", nil)
	}
	if err := s.acquireTurnSlot(ctx); err != nil {
		return nil, err
	}

	anchor := s.resolveResumeAnchor(ctx, sourceSessionID, branchPointUUID)

	s.mu.Lock()
	s.sessionID = ""
	s.messages = nil
	s.loadedFor = ""
	s.historyLoaded = false
	s.summary = ""
	s.lastLocalEcho = ""
	s.notifyLocked(types.Notification{Type: types.NotifyMessagesUpdated, Messages: []*types.Message{}})
	s.mu.Unlock()

	s.run(ctx, prompt, attachments, sourceSessionID, anchor)

	newID := s.SessionID()
	if newID == "" {
		return nil, unavailableError(CodeBranchFailed, "branch produced no session", s.LastError())
	}
	return &BranchResult{
		NewSessionID:           newID,
		ParentSessionID:        sourceSessionID,
		BranchPointMessageUUID: branchPointUUID,
		BranchPointParentUUID:  anchor,
	}, nil
}

// Interrupt cancels the open execution context, if any, and forces the busy
// flag down. Calling it with nothing in flight is a no-op.
func (s *Session) Interrupt() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.cancelRun = nil
	if s.isBusy {
		s.isBusy = false
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: s.sessionID,
			State:     &types.SessionStatePatch{IsBusy: boolPtr(false)},
		})
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ResumeFrom loads persisted history unless it is already loaded for that
// exact id.
func (s *Session) ResumeFrom(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalidError(CodeInvalidSession, "session id is required", nil)
	}
	s.mu.Lock()
	loaded := s.loadedFor == sessionID
	s.mu.Unlock()
	if loaded {
		return nil
	}
	return s.LoadFromServer(ctx, sessionID)
}

// LoadFromServer replaces the message list wholesale from the persisted
// transcript. Concurrent loads for the same id share one in-flight fetch.
func (s *Session) LoadFromServer(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalidError(CodeInvalidSession, "session id is required", nil)
	}
	_, err, _ := s.loads.Do(sessionID, func() (any, error) {
		s.setLoading(true)
		turns, err := s.deps.Backend.LoadPersistedTurns(ctx, sessionID)
		if err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.isLoading = false
			s.notifyLocked(types.Notification{
				Type:      types.NotifySessionStateChanged,
				SessionID: s.sessionID,
				State:     &types.SessionStatePatch{IsLoading: boolPtr(false)},
			})
			s.mu.Unlock()
			return nil, notFoundError(CodeResumeFailed, "failed to load session history", err)
		}

		messages, lastTurnTime := replayTurns(turns)
		if s.deps.Compactor != nil {
			messages = s.deps.Compactor.Compact(messages)
		}

		s.mu.Lock()
		old := s.sessionID
		s.sessionID = sessionID
		s.messages = messages
		s.loadedFor = sessionID
		s.historyLoaded = true
		s.isLoading = false
		s.lastLocalEcho = ""
		if !lastTurnTime.IsZero() {
			s.lastModified = lastTurnTime
		}
		if s.summary == "" {
			s.summary = deriveSummary(messages)
		}
		for obs := range s.subscribers {
			obs.BindSession(sessionID)
		}
		s.notifyLocked(types.Notification{
			Type:      types.NotifyMessagesUpdated,
			SessionID: sessionID,
			Messages:  types.CloneMessages(messages),
		})
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: sessionID,
			State:     &types.SessionStatePatch{IsLoading: boolPtr(false)},
		})
		onSessionID := s.onSessionID
		summary := s.summary
		lastModified := s.lastModified
		s.mu.Unlock()

		if old != sessionID && onSessionID != nil {
			onSessionID(old, sessionID)
		}
		s.touchIndex(sessionID, summary, lastModified)
		return nil, nil
	})
	return err
}

// acquireTurnSlot blocks until this session has no request in flight, then
// claims the slot. Concurrent callers serialize here.
func (s *Session) acquireTurnSlot(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inflight == nil {
			s.inflight = make(chan struct{})
			s.mu.Unlock()
			return nil
		}
		wait := s.inflight
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) releaseTurnSlot() {
	s.mu.Lock()
	done := s.inflight
	s.inflight = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// run executes one backend stream while holding the turn slot. The slot is
// always released and the busy flag always cleared, whatever the stream does.
func (s *Session) run(ctx context.Context, prompt string, attachments []types.Attachment, forkSessionID, anchorUUID string) {
	defer s.releaseTurnSlot()

	now := time.Now().UTC()
	echo := buildUserEchoTurn(prompt, attachments, now)

	s.mu.Lock()
	s.lastModified = now
	s.lastErr = nil
	result := Ingest(s.messages, echo)
	if result.Added != nil {
		s.messages = append(s.messages, result.Added)
		s.historyLoaded = true
		s.lastLocalEcho = prompt
		if s.summary == "" {
			s.summary = truncateSummary(prompt)
		}
		s.notifyLocked(types.Notification{
			Type:      types.NotifyMessageAdded,
			SessionID: s.sessionID,
			Message:   types.CloneMessage(result.Added),
		})
	}
	s.isBusy = true
	s.notifyLocked(types.Notification{
		Type:      types.NotifySessionStateChanged,
		SessionID: s.sessionID,
		State:     &types.SessionStatePatch{IsBusy: boolPtr(true)},
	})
	req := agent.StreamRequest{
		Prompt:           prompt,
		Attachments:      attachments,
		Options:          types.CloneSessionOptions(s.options),
		ForkSessionID:    forkSessionID,
		ResumeAnchorUUID: anchorUUID,
	}
	if forkSessionID == "" {
		req.SessionID = s.sessionID
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	stream, err := s.deps.Backend.StreamTurns(runCtx, req)
	if err != nil {
		s.logger.Error("stream_open_failed", logging.F("session_id", s.SessionID()), logging.F("error", err))
		s.finishRun(err)
		return
	}
	for turn := range stream.Turns() {
		s.processIncomingTurn(turn)
	}
	streamErr := stream.Err()
	if streamErr != nil && !contextDone(streamErr) {
		s.logger.Error("stream_failed", logging.F("session_id", s.SessionID()), logging.F("error", streamErr))
	}
	s.finishRun(streamErr)
}

func (s *Session) finishRun(err error) {
	s.mu.Lock()
	if err != nil && !contextDone(err) {
		s.lastErr = err
	}
	s.cancelRun = nil
	s.lastModified = time.Now().UTC()
	if s.isBusy {
		s.isBusy = false
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: s.sessionID,
			State:     &types.SessionStatePatch{IsBusy: boolPtr(false)},
		})
	}
	sessionID := s.sessionID
	summary := s.summary
	lastModified := s.lastModified
	s.mu.Unlock()
	s.touchIndex(sessionID, summary, lastModified)
}

// processIncomingTurn applies one streamed turn: session-id adoption, busy
// control signals, echo reconciliation, then ingestion and broadcast. Turns
// are handled strictly in emission order; the stream goroutine is the only
// caller.
func (s *Session) processIncomingTurn(turn types.Turn) {
	s.mu.Lock()

	var adoptedFrom string
	adopted := false
	if id := strings.TrimSpace(turn.SessionID); id != "" && id != s.sessionID {
		adoptedFrom = s.sessionID
		s.sessionID = id
		s.loadedFor = id
		adopted = true
		for obs := range s.subscribers {
			obs.BindSession(id)
		}
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: id,
			State:     &types.SessionStatePatch{IsBusy: boolPtr(s.isBusy), IsLoading: boolPtr(s.isLoading)},
		})
	}

	if when := turn.TurnTime(); !when.IsZero() {
		s.lastModified = when
	} else {
		s.lastModified = time.Now().UTC()
	}

	// Control signals are the one path that can raise busy without a local
	// Send or Branch, covering observers that reconnect mid-run.
	if turn.RunStarted() && !s.isBusy {
		s.isBusy = true
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: s.sessionID,
			State:     &types.SessionStatePatch{IsBusy: boolPtr(true)},
		})
	}
	if turn.RunFinished() && s.isBusy {
		s.isBusy = false
		s.notifyLocked(types.Notification{
			Type:      types.NotifySessionStateChanged,
			SessionID: s.sessionID,
			State:     &types.SessionStatePatch{IsBusy: boolPtr(false)},
		})
	}

	if s.reconcileEchoLocked(turn) {
		sessionID := s.sessionID
		summary := s.summary
		lastModified := s.lastModified
		onSessionID := s.onSessionID
		s.mu.Unlock()
		if adopted && onSessionID != nil {
			onSessionID(adoptedFrom, sessionID)
		}
		s.touchIndex(sessionID, summary, lastModified)
		return
	}

	result := Ingest(s.messages, turn)
	if result.Added != nil {
		s.messages = append(s.messages, result.Added)
		s.historyLoaded = true
		if s.summary == "" && result.Added.Kind == types.MessageKindUser {
			s.summary = truncateSummary(result.Added.FirstText())
		}
		s.notifyLocked(types.Notification{
			Type:      types.NotifyMessageAdded,
			SessionID: s.sessionID,
			Message:   types.CloneMessage(result.Added),
		})
	} else if len(result.Updated) > 0 {
		s.notifyLocked(types.Notification{
			Type:      types.NotifyMessagesUpdated,
			SessionID: s.sessionID,
			Messages:  types.CloneMessages(s.messages),
		})
	}

	sessionID := s.sessionID
	summary := s.summary
	lastModified := s.lastModified
	onSessionID := s.onSessionID
	s.mu.Unlock()

	if adopted && onSessionID != nil {
		onSessionID(adoptedFrom, sessionID)
	}
	s.touchIndex(sessionID, summary, lastModified)
}

// reconcileEchoLocked absorbs the backend's copy of the optimistically
// appended user prompt so it never shows up twice. The canonical uuid from
// the backend replaces the locally generated one.
func (s *Session) reconcileEchoLocked(turn types.Turn) bool {
	if turn.Kind != types.TurnKindUser || s.lastLocalEcho == "" {
		return false
	}
	text := ""
	for _, block := range turn.Content {
		switch block.Type {
		case types.ContentTypeToolResult:
			return false
		case types.ContentTypeText:
			if text == "" {
				text = block.Text
			}
		}
	}
	if strings.TrimSpace(text) != s.lastLocalEcho {
		return false
	}
	s.lastLocalEcho = ""
	if turn.UUID != "" {
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].Kind == types.MessageKindUser {
				s.messages[i].ID = turn.UUID
				break
			}
		}
	}
	return true
}

// resolveResumeAnchor finds the parent of the branch point in the source
// session's history. Both lookup failure and a missing branch point degrade
// to a full-history branch; the two causes are logged distinctly.
func (s *Session) resolveResumeAnchor(ctx context.Context, sourceSessionID, branchPointUUID string) string {
	turns, err := s.deps.Backend.LoadPersistedTurns(ctx, sourceSessionID)
	if err != nil {
		s.logger.Warn("branch_source_lookup_failed",
			logging.F("source_session_id", sourceSessionID),
			logging.F("branch_point", branchPointUUID),
			logging.F("error", err),
		)
		return ""
	}
	for _, turn := range turns {
		if turn.UUID != "" && turn.UUID == branchPointUUID {
			return turn.ParentUUID
		}
	}
	// Fall back to the materialized history: the message right before the
	// branch point is the last one the two worldlines share.
	messages, _ := replayTurns(turns)
	for i, message := range messages {
		if message.ID == branchPointUUID {
			if i == 0 {
				return ""
			}
			return messages[i-1].ID
		}
	}
	s.logger.Warn("branch_point_not_found",
		logging.F("source_session_id", sourceSessionID),
		logging.F("branch_point", branchPointUUID),
	)
	return ""
}

// notifyLocked delivers to a snapshot of the subscriber set; callers hold mu.
func (s *Session) notifyLocked(note types.Notification) {
	if len(s.subscribers) == 0 {
		return
	}
	targets := make([]Observer, 0, len(s.subscribers))
	for obs := range s.subscribers {
		targets = append(targets, obs)
	}
	for _, obs := range targets {
		obs.Notify(note)
	}
}

func (s *Session) setLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading == loading {
		return
	}
	s.isLoading = loading
	s.notifyLocked(types.Notification{
		Type:      types.NotifySessionStateChanged,
		SessionID: s.sessionID,
		State:     &types.SessionStatePatch{IsLoading: boolPtr(loading)},
	})
}

func (s *Session) touchIndex(sessionID, summary string, lastModified time.Time) {
	if s.deps.Index == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	_, _ = s.deps.Index.Upsert(context.Background(), &types.SessionIndexRecord{
		SessionID:      sessionID,
		Summary:        summary,
		LastModifiedAt: lastModified,
	})
}

// replayTurns materializes a persisted transcript into messages.
func replayTurns(turns []types.Turn) ([]*types.Message, time.Time) {
	var messages []*types.Message
	var last time.Time
	for _, turn := range turns {
		if when := turn.TurnTime(); !when.IsZero() {
			last = when
		}
		result := Ingest(messages, turn)
		if result.Added != nil {
			messages = append(messages, result.Added)
		}
	}
	return messages, last
}

func buildUserEchoTurn(prompt string, attachments []types.Attachment, now time.Time) types.Turn {
	content := []types.ContentBlock{{Type: types.ContentTypeText, Text: prompt}}
	for _, attachment := range attachments {
		switch attachment.Type {
		case "image":
			content = append(content, types.ContentBlock{
				Type:   types.ContentTypeImage,
				Source: attachmentSource(attachment),
			})
		default:
			content = append(content, types.ContentBlock{
				Type:   types.ContentTypeDocument,
				Source: attachmentSource(attachment),
			})
		}
	}
	return types.Turn{
		Kind:      types.TurnKindUser,
		UUID:      uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		Content:   content,
	}
}

func attachmentSource(attachment types.Attachment) map[string]any {
	source := map[string]any{}
	if attachment.Path != "" {
		source["path"] = attachment.Path
	}
	if attachment.MimeType != "" {
		source["media_type"] = attachment.MimeType
	}
	if attachment.Data != "" {
		source["data"] = attachment.Data
	}
	return source
}

func deriveSummary(messages []*types.Message) string {
	for _, message := range messages {
		if message.Kind == types.MessageKindUser {
			if text := message.FirstText(); text != "" {
				return truncateSummary(text)
			}
		}
	}
	return ""
}

func truncateSummary(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= summaryMaxLen {
		return text
	}
	cut := summaryMaxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut])
}

func contextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func boolPtr(b bool) *bool {
	return &b
}

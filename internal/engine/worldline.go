package engine

import (
	"context"
	"strings"

	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/types"
)

// WorldlineResolver answers lineage questions from the durable branch
// records. Everything it returns is derived; it never writes.
type WorldlineResolver struct {
	branches store.BranchStore
	index    store.SessionIndexStore
	logger   logging.Logger
}

func NewWorldlineResolver(branches store.BranchStore, index store.SessionIndexStore, logger logging.Logger) *WorldlineResolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WorldlineResolver{branches: branches, index: index, logger: logger}
}

// WorldlineID returns the family root of the session. A session with no
// branch record is its own root.
func (r *WorldlineResolver) WorldlineID(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", invalidError(CodeInvalidSession, "session id is required", nil)
	}
	record, ok, err := r.branches.Get(ctx, sessionID)
	if err != nil {
		return "", unavailableError(CodeBranchFailed, "failed to read branch records", err)
	}
	if ok && record.WorldlineID != "" {
		return record.WorldlineID, nil
	}
	return sessionID, nil
}

// SiblingsOf lists the whole worldline family of the session, oldest first.
// The root session appears as a synthetic entry with no parent and no branch
// point even though it never had a branch record written for it.
func (r *WorldlineResolver) SiblingsOf(ctx context.Context, sessionID string) ([]types.WorldlineSibling, error) {
	worldlineID, err := r.WorldlineID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	records, err := r.branches.ListByWorldline(ctx, worldlineID)
	if err != nil {
		return nil, unavailableError(CodeBranchFailed, "failed to read branch records", err)
	}

	siblings := make([]types.WorldlineSibling, 0, len(records)+1)
	siblings = append(siblings, r.decorate(ctx, types.WorldlineSibling{SessionID: worldlineID}))
	for _, record := range records {
		if record == nil || record.SessionID == worldlineID {
			continue
		}
		siblings = append(siblings, r.decorate(ctx, types.WorldlineSibling{
			SessionID:              record.SessionID,
			ParentSessionID:        record.ParentSessionID,
			BranchPointMessageUUID: record.BranchPointMessageUUID,
			BranchPointParentUUID:  record.BranchPointParentUUID,
			CreatedAt:              record.CreatedAt,
		}))
	}
	return siblings, nil
}

// SiblingsAt narrows the family to the navigation group of one message: the
// branches that replaced a message whose parent is parentUUID, plus the
// session being viewed. An observer paging "left and right" through
// alternate timelines at a message cycles through this group.
func (r *WorldlineResolver) SiblingsAt(ctx context.Context, sessionID, parentUUID string) ([]types.WorldlineSibling, error) {
	family, err := r.SiblingsOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.WorldlineSibling, len(family))
	for _, sibling := range family {
		byID[sibling.SessionID] = sibling
	}
	group := make([]types.WorldlineSibling, 0, len(family))
	inGroup := make(map[string]bool, len(family))
	add := func(sibling types.WorldlineSibling) {
		if inGroup[sibling.SessionID] {
			return
		}
		inGroup[sibling.SessionID] = true
		group = append(group, sibling)
	}
	for _, sibling := range family {
		if sibling.SessionID == sessionID {
			add(sibling)
			continue
		}
		if sibling.BranchPointParentUUID == parentUUID && sibling.BranchPointMessageUUID != "" {
			add(sibling)
		}
	}
	if !inGroup[sessionID] {
		// The viewed session is part of the group even when it has no
		// record in this family; without it the observer cannot navigate
		// back to where it started.
		add(r.decorate(ctx, types.WorldlineSibling{SessionID: sessionID}))
	}
	// Every member's parent belongs to the group too: "stay on parent" is a
	// navigation target even when nothing else branched at this message.
	for _, sibling := range group {
		parentID := sibling.ParentSessionID
		if parentID == "" || inGroup[parentID] {
			continue
		}
		if known, ok := byID[parentID]; ok {
			add(known)
			continue
		}
		add(r.decorate(ctx, types.WorldlineSibling{SessionID: parentID}))
	}
	return group, nil
}

// decorate copies summary-store recency onto the sibling when available.
func (r *WorldlineResolver) decorate(ctx context.Context, sibling types.WorldlineSibling) types.WorldlineSibling {
	if r.index == nil {
		return sibling
	}
	record, ok, err := r.index.Get(ctx, sibling.SessionID)
	if err != nil || !ok {
		return sibling
	}
	if sibling.CreatedAt.IsZero() {
		sibling.CreatedAt = record.CreatedAt
	}
	sibling.LastModifiedAt = record.LastModifiedAt
	return sibling
}

package types

import "time"

// BranchRecord is the durable record of one branch operation. WorldlineID is
// the root session of the family and is propagated transitively from the
// parent's own record, or is the parent's id when the parent has none.
type BranchRecord struct {
	SessionID              string    `json:"session_id"`
	ParentSessionID        string    `json:"parent_session_id"`
	BranchPointMessageUUID string    `json:"branch_point_message_uuid"`
	BranchPointParentUUID  string    `json:"branch_point_parent_uuid"`
	WorldlineID            string    `json:"worldline_id"`
	CreatedAt              time.Time `json:"created_at"`
}

// WorldlineSibling is a derived, read-only view of one member of a worldline.
// The family root appears as a synthetic entry with no parent and no branch
// point.
type WorldlineSibling struct {
	SessionID              string    `json:"session_id"`
	ParentSessionID        string    `json:"parent_session_id,omitempty"`
	BranchPointMessageUUID string    `json:"branch_point_message_uuid,omitempty"`
	BranchPointParentUUID  string    `json:"branch_point_parent_uuid,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	LastModifiedAt         time.Time `json:"last_modified_at"`
}

func CloneBranchRecord(in *BranchRecord) *BranchRecord {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

// SessionIndexRecord is the listing entry kept per known session id.
type SessionIndexRecord struct {
	SessionID      string    `json:"session_id"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

func CloneSessionIndexRecord(in *SessionIndexRecord) *SessionIndexRecord {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

package access

import (
	"time"

	"github.com/google/uuid"
)

// Action is an operation on a patient record.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
	ActionRevoke Action = "revoke"
)

func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionDelete, ActionShare, ActionRevoke:
		return true
	}
	return false
}

// grantable reports whether a grant confers a.
func (a Action) grantable() bool {
	return a == ActionView || a == ActionEdit
}

// UserOp is a user-management operation.
type UserOp string

const (
	UserOpList           UserOp = "list"
	UserOpCreate         UserOp = "create"
	UserOpUpdate         UserOp = "update"
	UserOpDelete         UserOp = "delete"
	UserOpRevokeSessions UserOp = "revoke_sessions"
)

// Grant delegates view and edit on one patient to one non-creator user.
// There is at most one grant per (patient, grantee).
type Grant struct {
	PatientID uuid.UUID  `json:"patient_id"`
	GranteeID uuid.UUID  `json:"user_id"`
	Comment   string     `json:"access_comment,omitempty"`
	GrantedBy *uuid.UUID `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
}

type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Username string    `json:"username"`
}

type GrantSummary struct {
	UserID        uuid.UUID `json:"user_id"`
	UserName      string    `json:"user_name"`
	AccessComment string    `json:"access_comment"`
	GrantedAt     time.Time `json:"granted_at"`
	GrantedByName string    `json:"granted_by_name"`
}

// AccessSummary is the read model of who can reach a patient.
type AccessSummary struct {
	Creator    UserSummary    `json:"creator"`
	SharedWith []GrantSummary `json:"shared_with"`
}

// Scope is the set of patients a principal may list.
type Scope struct {
	All bool
	// CreatedBy, when set, includes patients created by that user.
	CreatedBy *uuid.UUID
	// Shared lists patients reachable through grants.
	Shared []uuid.UUID
}

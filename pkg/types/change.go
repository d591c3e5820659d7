// pkg/types/change.go
package types

import "time"

// GroupChange is a decrypted change record. Actions are ordered by category
// in the order they must be applied.
type GroupChange struct {
	// SourceID is empty when the author could not be decrypted.
	SourceID string
	Version  uint32
	Actions  []Action
}

// Action is one sub-action of a change record.
type Action interface {
	isAction()
}

type AddMember struct {
	ID         string
	Role       Role
	ProfileKey []byte
}

type DeleteMember struct {
	ID string
}

type ModifyMemberRole struct {
	ID   string
	Role Role
}

type ModifyMemberProfileKey struct {
	ID         string
	ProfileKey []byte
}

type AddPendingMember struct {
	ID            string
	AddedByUserID string
	Timestamp     time.Time
	Role          Role
	// ProfileKey is nil when it failed to decrypt.
	ProfileKey []byte
}

type DeletePendingMember struct {
	ID string
}

type PromotePendingMember struct {
	ID         string
	ProfileKey []byte
}

// ModifyTitle replaces the title. A nil Title clears it.
type ModifyTitle struct {
	Title *string
}

// ModifyAvatar replaces the avatar. An empty URL removes it.
type ModifyAvatar struct {
	URL string
}

// ModifyDisappearingTimer replaces the timer. A nil Duration clears it.
type ModifyDisappearingTimer struct {
	Duration *uint32
}

type ModifyAttributesAccess struct {
	Access AccessRequired
}

type ModifyMembersAccess struct {
	Access AccessRequired
}

func (AddMember) isAction()               {}
func (DeleteMember) isAction()            {}
func (ModifyMemberRole) isAction()        {}
func (ModifyMemberProfileKey) isAction()  {}
func (AddPendingMember) isAction()        {}
func (DeletePendingMember) isAction()     {}
func (PromotePendingMember) isAction()    {}
func (ModifyTitle) isAction()             {}
func (ModifyAvatar) isAction()            {}
func (ModifyDisappearingTimer) isAction() {}
func (ModifyAttributesAccess) isAction()  {}
func (ModifyMembersAccess) isAction()     {}

// Snapshot is a decrypted full group state at Version.
type Snapshot struct {
	Version           uint32
	Title             *string
	AvatarURL         string
	DisappearingTimer *uint32
	AccessControl     AccessControl
	Members           []SnapshotMember
	PendingMembers    []SnapshotPendingMember
	BannedMembers     []BannedMember
}

type SnapshotMember struct {
	ID              string
	Role            Role
	JoinedAtVersion uint32
	ProfileKey      []byte
}

type SnapshotPendingMember struct {
	ID            string
	AddedByUserID string
	Timestamp     time.Time
	Role          Role
	ProfileKey    []byte
}

// ProfileKeyUpdate reports a profile key revealed by a change or snapshot.
type ProfileKeyUpdate struct {
	ID         string `json:"id"`
	ProfileKey []byte `json:"profile_key"`
}

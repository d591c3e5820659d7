// pkg/types/group.go
package types

import (
	"bytes"
	"fmt"
	"time"
)

// GroupID is the stable identifier derived from a group's secret params.
type GroupID string

// Role is a member's privilege level.
type Role int32

const (
	RoleUnknown       Role = 0
	RoleDefault       Role = 1
	RoleAdministrator Role = 2
)

// Valid reports whether r is a role a member can hold.
func (r Role) Valid() bool {
	return r == RoleDefault || r == RoleAdministrator
}

func (r Role) String() string {
	switch r {
	case RoleDefault:
		return "DEFAULT"
	case RoleAdministrator:
		return "ADMINISTRATOR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(r))
	}
}

// AccessRequired is the minimum role needed to perform a class of edits.
type AccessRequired int32

const (
	AccessUnknown       AccessRequired = 0
	AccessAny           AccessRequired = 1
	AccessMember        AccessRequired = 2
	AccessAdministrator AccessRequired = 3
)

// Valid reports whether a is an access level groups may be configured with.
func (a AccessRequired) Valid() bool {
	return a == AccessMember || a == AccessAdministrator
}

func (a AccessRequired) String() string {
	switch a {
	case AccessAny:
		return "ANY"
	case AccessMember:
		return "MEMBER"
	case AccessAdministrator:
		return "ADMINISTRATOR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(a))
	}
}

// AccessControl holds the access levels for attribute and membership edits.
type AccessControl struct {
	Attributes AccessRequired `json:"attributes"`
	Members    AccessRequired `json:"members"`
}

// DefaultAccessControl is used whenever a group carries no access control.
func DefaultAccessControl() AccessControl {
	return AccessControl{Attributes: AccessMember, Members: AccessMember}
}

// Avatar points at a locally stored copy of the group avatar.
type Avatar struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Member is a full member of a group.
type Member struct {
	ID              string `json:"id"`
	Role            Role   `json:"role"`
	JoinedAtVersion uint32 `json:"joined_at_version"`
}

func (m Member) Key() string { return m.ID }

// PendingMember is an invited user who has not yet joined.
type PendingMember struct {
	ID            string    `json:"id"`
	AddedByUserID string    `json:"added_by_user_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func (m PendingMember) Key() string { return m.ID }

// BannedMember is a user barred from rejoining.
type BannedMember struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m BannedMember) Key() string { return m.ID }

// GroupAttributes is the locally mirrored state of a group.
// A nil Revision means the group has never been fetched.
type GroupAttributes struct {
	ID               GroupID               `json:"id"`
	Revision         *uint32               `json:"revision,omitempty"`
	Name             string                `json:"name,omitempty"`
	Avatar           *Avatar               `json:"avatar,omitempty"`
	ExpireTimer      uint32                `json:"expire_timer,omitempty"`
	AccessControl    *AccessControl        `json:"access_control,omitempty"`
	MembersV2        Roster[Member]        `json:"members_v2"`
	PendingMembersV2 Roster[PendingMember] `json:"pending_members_v2"`
	BannedMembersV2  Roster[BannedMember]  `json:"banned_members_v2"`
	SecretParams     []byte                `json:"secret_params"`
	PublicParams     []byte                `json:"public_params"`
	Left             bool                  `json:"left"`
	AddedBy          string                `json:"added_by,omitempty"`
}

// LogID renders the group for log lines.
func (g *GroupAttributes) LogID() string {
	return fmt.Sprintf("groupv2(%s)", g.ID)
}

// FirstFetch reports whether the group has never been fetched.
func (g *GroupAttributes) FirstFetch() bool {
	return g.Revision == nil
}

// Clone returns a deep copy.
func (g *GroupAttributes) Clone() *GroupAttributes {
	out := *g
	if g.Revision != nil {
		out.Revision = Uint32(*g.Revision)
	}
	if g.Avatar != nil {
		a := *g.Avatar
		out.Avatar = &a
	}
	if g.AccessControl != nil {
		ac := *g.AccessControl
		out.AccessControl = &ac
	}
	out.MembersV2 = g.MembersV2.Clone()
	out.PendingMembersV2 = g.PendingMembersV2.Clone()
	out.BannedMembersV2 = g.BannedMembersV2.Clone()
	out.SecretParams = bytes.Clone(g.SecretParams)
	out.PublicParams = bytes.Clone(g.PublicParams)
	return &out
}

// Uint32 returns a pointer to v.
func Uint32(v uint32) *uint32 {
	return &v
}

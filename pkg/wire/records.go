package wire

// SupportedChangeEpoch is the newest change format this client can apply
// incrementally. Changes from a later epoch are applied via their snapshot.
const SupportedChangeEpoch = 0

// Change is a signed change record as distributed by the service.
type Change struct {
	Actions         ChangeActions `cbor:"actions"`
	ServerSignature []byte        `cbor:"server_signature,omitempty"`
	ChangeEpoch     *uint32       `cbor:"change_epoch,omitempty"`
}

// Supported reports whether the change's format epoch can be applied
// incrementally. An absent epoch predates versioning and is supported.
func (c *Change) Supported() bool {
	return c.ChangeEpoch == nil || *c.ChangeEpoch <= SupportedChangeEpoch
}

// ChangeActions is the sparse set of encrypted sub-actions in one change.
type ChangeActions struct {
	SourceUUID              []byte                         `cbor:"source_uuid,omitempty"`
	Version                 *uint32                        `cbor:"version,omitempty"`
	AddMembers              []AddMemberAction              `cbor:"add_members,omitempty"`
	DeleteMembers           []DeleteMemberAction           `cbor:"delete_members,omitempty"`
	ModifyMemberRoles       []ModifyMemberRoleAction       `cbor:"modify_member_roles,omitempty"`
	ModifyMemberProfileKeys []ModifyMemberProfileKeyAction `cbor:"modify_member_profile_keys,omitempty"`
	AddPendingMembers       []AddPendingMemberAction       `cbor:"add_pending_members,omitempty"`
	DeletePendingMembers    []DeletePendingMemberAction    `cbor:"delete_pending_members,omitempty"`
	PromotePendingMembers   []PromotePendingMemberAction   `cbor:"promote_pending_members,omitempty"`
	ModifyTitle             *ModifyTitleAction             `cbor:"modify_title,omitempty"`
	ModifyAvatar            *ModifyAvatarAction            `cbor:"modify_avatar,omitempty"`
	ModifyTimer             *ModifyTimerAction             `cbor:"modify_disappearing_messages_timer,omitempty"`
	ModifyAttributesAccess  *ModifyAccessAction            `cbor:"modify_attributes_access,omitempty"`
	ModifyMembersAccess     *ModifyAccessAction            `cbor:"modify_member_access,omitempty"`
}

// Member is an encrypted full member.
type Member struct {
	UserID          []byte `cbor:"user_id,omitempty"`
	Role            int32  `cbor:"role,omitempty"`
	ProfileKey      []byte `cbor:"profile_key,omitempty"`
	Presentation    []byte `cbor:"presentation,omitempty"`
	JoinedAtVersion uint32 `cbor:"joined_at_version,omitempty"`
}

// PendingMember is an encrypted invite. Timestamp is in milliseconds.
type PendingMember struct {
	Member        *Member `cbor:"member,omitempty"`
	AddedByUserID []byte  `cbor:"added_by_user_id,omitempty"`
	Timestamp     uint64  `cbor:"timestamp,omitempty"`
}

// BannedMember is an encrypted ban entry. Timestamp is in milliseconds.
type BannedMember struct {
	UserID    []byte `cbor:"user_id,omitempty"`
	Timestamp uint64 `cbor:"timestamp,omitempty"`
}

type AddMemberAction struct {
	Added *Member `cbor:"added,omitempty"`
}

type DeleteMemberAction struct {
	DeletedUserID []byte `cbor:"deleted_user_id,omitempty"`
}

type ModifyMemberRoleAction struct {
	UserID []byte `cbor:"user_id,omitempty"`
	Role   int32  `cbor:"role,omitempty"`
}

type ModifyMemberProfileKeyAction struct {
	Presentation []byte `cbor:"presentation,omitempty"`
}

type AddPendingMemberAction struct {
	Added *PendingMember `cbor:"added,omitempty"`
}

type DeletePendingMemberAction struct {
	DeletedUserID []byte `cbor:"deleted_user_id,omitempty"`
}

type PromotePendingMemberAction struct {
	Presentation []byte `cbor:"presentation,omitempty"`
}

type ModifyTitleAction struct {
	Title []byte `cbor:"title,omitempty"`
}

// ModifyAvatarAction carries the avatar blob reference. Empty removes it.
type ModifyAvatarAction struct {
	Avatar string `cbor:"avatar,omitempty"`
}

type ModifyTimerAction struct {
	Timer []byte `cbor:"timer,omitempty"`
}

type ModifyAccessAction struct {
	Access int32 `cbor:"access,omitempty"`
}

// AccessControl is the snapshot's access configuration.
type AccessControl struct {
	Attributes int32 `cbor:"attributes,omitempty"`
	Members    int32 `cbor:"members,omitempty"`
}

// Group is an encrypted full snapshot.
type Group struct {
	PublicKey                 []byte          `cbor:"public_key,omitempty"`
	Title                     []byte          `cbor:"title,omitempty"`
	Avatar                    string          `cbor:"avatar,omitempty"`
	DisappearingMessagesTimer []byte          `cbor:"disappearing_messages_timer,omitempty"`
	AccessControl             *AccessControl  `cbor:"access_control,omitempty"`
	Version                   *uint32         `cbor:"version,omitempty"`
	Members                   []Member        `cbor:"members,omitempty"`
	PendingMembers            []PendingMember `cbor:"pending_members,omitempty"`
	BannedMembers             []BannedMember  `cbor:"banned_members,omitempty"`
}

// ChangeState pairs a change with the snapshot it produced. The service may
// omit either.
type ChangeState struct {
	Change *Change `cbor:"change,omitempty"`
	State  *Group  `cbor:"state,omitempty"`
}

// LogPage is one page of the change log. End is the last revision included
// when more pages may follow.
type LogPage struct {
	Changes []ChangeState `cbor:"changes,omitempty"`
	End     *uint32       `cbor:"end,omitempty"`
}

// AttributeBlob is the plaintext of an encrypted attribute. Exactly one
// field is set.
type AttributeBlob struct {
	Title                        *string `cbor:"title,omitempty"`
	Avatar                       []byte  `cbor:"avatar,omitempty"`
	DisappearingMessagesDuration *uint32 `cbor:"disappearing_messages_duration,omitempty"`
}

// Content names the populated field, or "" when none is.
func (b *AttributeBlob) Content() string {
	switch {
	case b.Title != nil:
		return "title"
	case b.Avatar != nil:
		return "avatar"
	case b.DisappearingMessagesDuration != nil:
		return "disappearingMessagesDuration"
	default:
		return ""
	}
}

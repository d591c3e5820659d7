// pkg/types/entry.go
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a timeline event variant.
type EventKind string

const (
	KindCreate              EventKind = "create"
	KindMemberAdd           EventKind = "member-add"
	KindMemberAddFromInvite EventKind = "member-add-from-invite"
	KindMemberRemove        EventKind = "member-remove"
	KindMemberPrivilege     EventKind = "member-privilege"
	KindPendingAddOne       EventKind = "pending-add-one"
	KindPendingAddMany      EventKind = "pending-add-many"
	KindPendingRemoveOne    EventKind = "pending-remove-one"
	KindPendingRemoveMany   EventKind = "pending-remove-many"
	KindBounce              EventKind = "bounce"
	KindTitle               EventKind = "title"
	KindAvatar              EventKind = "avatar"
	KindAccessAttributes    EventKind = "access-attributes"
	KindAccessMembers       EventKind = "access-members"
	KindTimer               EventKind = "timer"
)

// Event is a display-only timeline record describing one consequence of a
// state transition.
type Event interface {
	Kind() EventKind
	Actor() string
}

// By carries the identifier of whoever caused an event, if known.
type By struct {
	From string `json:"from,omitempty"`
}

func (b By) Actor() string { return b.From }

type Create struct {
	By
}

type MemberAdd struct {
	By
	ID string `json:"id"`
}

type MemberAddFromInvite struct {
	By
	ID      string `json:"id"`
	Inviter string `json:"inviter,omitempty"`
}

type MemberRemove struct {
	By
	ID string `json:"id"`
}

type MemberPrivilege struct {
	By
	ID      string `json:"id"`
	NewRole Role   `json:"new_role"`
}

type PendingAddOne struct {
	By
	ID string `json:"id"`
}

type PendingAddMany struct {
	By
	Count int `json:"count"`
}

type PendingRemoveOne struct {
	By
	ID      string `json:"id"`
	Inviter string `json:"inviter,omitempty"`
}

type PendingRemoveMany struct {
	By
	Count int `json:"count"`
	// Inviter is set only when every removed invite shared it.
	Inviter string `json:"inviter,omitempty"`
}

// Bounce is an invite that was added and withdrawn (or the reverse) Count
// times in a row.
type Bounce struct {
	By
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Title carries the new title; empty means it was removed.
type Title struct {
	By
	NewTitle string `json:"new_title,omitempty"`
}

type AvatarChange struct {
	By
	Removed bool `json:"removed"`
}

type AccessAttributes struct {
	By
	NewPrivilege AccessRequired `json:"new_privilege"`
}

type AccessMembers struct {
	By
	NewPrivilege AccessRequired `json:"new_privilege"`
}

// Timer reports a disappearing-messages change; zero means off.
type Timer struct {
	By
	ExpireTimer uint32 `json:"expire_timer"`
}

func (Create) Kind() EventKind              { return KindCreate }
func (MemberAdd) Kind() EventKind           { return KindMemberAdd }
func (MemberAddFromInvite) Kind() EventKind { return KindMemberAddFromInvite }
func (MemberRemove) Kind() EventKind        { return KindMemberRemove }
func (MemberPrivilege) Kind() EventKind     { return KindMemberPrivilege }
func (PendingAddOne) Kind() EventKind       { return KindPendingAddOne }
func (PendingAddMany) Kind() EventKind      { return KindPendingAddMany }
func (PendingRemoveOne) Kind() EventKind    { return KindPendingRemoveOne }
func (PendingRemoveMany) Kind() EventKind   { return KindPendingRemoveMany }
func (Bounce) Kind() EventKind              { return KindBounce }
func (Title) Kind() EventKind               { return KindTitle }
func (AvatarChange) Kind() EventKind        { return KindAvatar }
func (AccessAttributes) Kind() EventKind    { return KindAccessAttributes }
func (AccessMembers) Kind() EventKind       { return KindAccessMembers }
func (Timer) Kind() EventKind               { return KindTimer }

// TimelineEntry is a persisted timeline event.
type TimelineEntry struct {
	ID         string    `json:"id"`
	GroupID    GroupID   `json:"group_id"`
	Event      Event     `json:"-"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// MarshalJSON flattens the event under "kind" and "detail".
func (e TimelineEntry) MarshalJSON() ([]byte, error) {
	type plain TimelineEntry
	detail, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Kind   EventKind       `json:"kind"`
		Detail json.RawMessage `json:"detail"`
	}{plain(e), e.Event.Kind(), detail})
}

// SerializeEvent encodes ev for storage alongside its kind.
func SerializeEvent(ev Event) (EventKind, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, err
	}
	return ev.Kind(), data, nil
}

// DeserializeEvent decodes an event stored by SerializeEvent.
func DeserializeEvent(kind EventKind, data []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindCreate:
		ev = &Create{}
	case KindMemberAdd:
		ev = &MemberAdd{}
	case KindMemberAddFromInvite:
		ev = &MemberAddFromInvite{}
	case KindMemberRemove:
		ev = &MemberRemove{}
	case KindMemberPrivilege:
		ev = &MemberPrivilege{}
	case KindPendingAddOne:
		ev = &PendingAddOne{}
	case KindPendingAddMany:
		ev = &PendingAddMany{}
	case KindPendingRemoveOne:
		ev = &PendingRemoveOne{}
	case KindPendingRemoveMany:
		ev = &PendingRemoveMany{}
	case KindBounce:
		ev = &Bounce{}
	case KindTitle:
		ev = &Title{}
	case KindAvatar:
		ev = &AvatarChange{}
	case KindAccessAttributes:
		ev = &AccessAttributes{}
	case KindAccessMembers:
		ev = &AccessMembers{}
	case KindTimer:
		ev = &Timer{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *Create:
		return *e
	case *MemberAdd:
		return *e
	case *MemberAddFromInvite:
		return *e
	case *MemberRemove:
		return *e
	case *MemberPrivilege:
		return *e
	case *PendingAddOne:
		return *e
	case *PendingAddMany:
		return *e
	case *PendingRemoveOne:
		return *e
	case *PendingRemoveMany:
		return *e
	case *Bounce:
		return *e
	case *Title:
		return *e
	case *AvatarChange:
		return *e
	case *AccessAttributes:
		return *e
	case *AccessMembers:
		return *e
	case *Timer:
		return *e
	}
	return ev
}

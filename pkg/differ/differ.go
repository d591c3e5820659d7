// Package differ turns a pair of group states into the ordered timeline
// events a user should see for the transition.
package differ

import (
	"github.com/relves/groupsync/pkg/types"
)

// Options configures ExtractDiffs.
type Options struct {
	// OurID is the local user's identifier.
	OurID string
	// From is whoever caused the transition, if known.
	From string
	// DropInitialJoinMessage suppresses the single event produced for a
	// group's first update, except when the local user was invited.
	DropInitialJoinMessage bool
}

// ExtractDiffs returns the timeline events describing the move from old to
// current. It is pure: identical inputs give identical output, and equal
// states give no events.
//
// When old has never been fetched, all structural detail collapses into at
// most one event. A disappearing-timer change is always reported last as its
// own event.
func ExtractDiffs(old, current *types.GroupAttributes, opts Options) []types.Event {
	by := types.By{From: opts.From}
	var events []types.Event

	if current.AccessControl != nil &&
		(old.AccessControl == nil || old.AccessControl.Attributes != current.AccessControl.Attributes) {
		events = append(events, types.AccessAttributes{By: by, NewPrivilege: current.AccessControl.Attributes})
	}
	if current.AccessControl != nil &&
		(old.AccessControl == nil || old.AccessControl.Members != current.AccessControl.Members) {
		events = append(events, types.AccessMembers{By: by, NewPrivilege: current.AccessControl.Members})
	}
	if (old.Avatar == nil) != (current.Avatar == nil) || avatarHash(old) != avatarHash(current) {
		events = append(events, types.AvatarChange{By: by, Removed: current.Avatar == nil})
	}
	if old.Name != current.Name {
		events = append(events, types.Title{By: by, NewTitle: current.Name})
	}

	// Invites accepted in this transition are consumed here so they do not
	// also show up as pending removals.
	consumed := make(map[string]bool)
	var inGroup bool
	for _, m := range current.MembersV2.Values() {
		if opts.OurID != "" && m.ID == opts.OurID {
			inGroup = true
		}
		prev, wasMember := old.MembersV2.Get(m.ID)
		switch {
		case !wasMember:
			if p, wasPending := old.PendingMembersV2.Get(m.ID); wasPending {
				events = append(events, types.MemberAddFromInvite{By: by, ID: m.ID, Inviter: p.AddedByUserID})
				consumed[m.ID] = true
			} else {
				events = append(events, types.MemberAdd{By: by, ID: m.ID})
			}
		case prev.Role != m.Role:
			events = append(events, types.MemberPrivilege{By: by, ID: m.ID, NewRole: m.Role})
		}
	}
	for _, m := range old.MembersV2.Values() {
		if !current.MembersV2.Has(m.ID) {
			events = append(events, types.MemberRemove{By: by, ID: m.ID})
		}
	}

	var (
		invited     bool
		invitedBy   string
		added       int
		lastAddedID string
	)
	for _, p := range current.PendingMembersV2.Values() {
		if opts.OurID != "" && p.ID == opts.OurID {
			invited = true
			invitedBy = p.AddedByUserID
		}
		if !old.PendingMembersV2.Has(p.ID) {
			added++
			lastAddedID = p.ID
		}
	}
	switch {
	case added > 1:
		events = append(events, types.PendingAddMany{By: by, Count: added})
	case added == 1:
		events = append(events, types.PendingAddOne{By: by, ID: lastAddedID})
	}

	var removed []types.PendingMember
	for _, p := range old.PendingMembersV2.Values() {
		if !consumed[p.ID] && !current.PendingMembersV2.Has(p.ID) {
			removed = append(removed, p)
		}
	}
	switch {
	case len(removed) > 1:
		inviter := removed[0].AddedByUserID
		for _, p := range removed[1:] {
			if p.AddedByUserID != inviter {
				inviter = ""
				break
			}
		}
		events = append(events, types.PendingRemoveMany{By: by, Count: len(removed), Inviter: inviter})
	case len(removed) == 1:
		events = append(events, types.PendingRemoveOne{By: by, ID: removed[0].ID, Inviter: removed[0].AddedByUserID})
	}

	if old.FirstFetch() && !current.FirstFetch() {
		events = firstUpdate(opts, inGroup, invited, invitedBy)
	}

	if old.ExpireTimer != current.ExpireTimer {
		events = append(events, types.Timer{By: by, ExpireTimer: current.ExpireTimer})
	}
	return events
}

// firstUpdate picks the one event shown for a group's first update.
func firstUpdate(opts Options, inGroup, invited bool, invitedBy string) []types.Event {
	us := opts.OurID != ""
	switch {
	case opts.DropInitialJoinMessage:
		if us && invited {
			return []types.Event{pendingSelf(opts, invitedBy)}
		}
		return nil
	case us && opts.From != "" && opts.From == opts.OurID:
		return []types.Event{types.Create{By: types.By{From: opts.From}}}
	case us && invited:
		return []types.Event{pendingSelf(opts, invitedBy)}
	case us && inGroup:
		return []types.Event{types.MemberAdd{By: types.By{From: opts.From}, ID: opts.OurID}}
	default:
		return []types.Event{types.Create{By: types.By{From: opts.From}}}
	}
}

func pendingSelf(opts Options, invitedBy string) types.Event {
	from := invitedBy
	if from == "" {
		from = opts.From
	}
	return types.PendingAddOne{By: types.By{From: from}, ID: opts.OurID}
}

func avatarHash(g *types.GroupAttributes) string {
	if g.Avatar == nil {
		return ""
	}
	return g.Avatar.Hash
}

package groupsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relves/groupsync/pkg/differ"
	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
)

// updateViaState fetches the full group state with the credential for day,
// switching to the other day once if it is rejected.
func (e *Engine) updateViaState(ctx context.Context, group *types.GroupAttributes, day Day, drop bool) (*Result, error) {
	logger := e.logger.With("group", group.LogID())

	logger.Info("getting full group state", "credential", day.String())
	res, err := e.currentState(ctx, group, day, drop)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrAccessDenied) {
		e.metrics.fallbacksTotal.WithLabelValues("state_access").Inc()
		return e.leftGroup(group), nil
	}
	if !errors.Is(err, ErrTemporalCredentialRejected) {
		return nil, err
	}

	alt := day.Alternate()
	logger.Info("credential failed, failing over", "from", day.String(), "to", alt.String())
	e.metrics.fallbacksTotal.WithLabelValues("state_credential").Inc()
	res, err = e.currentState(ctx, group, alt, drop)
	if errors.Is(err, ErrAccessDenied) {
		e.metrics.fallbacksTotal.WithLabelValues("state_access").Inc()
		return e.leftGroup(group), nil
	}
	return res, err
}

func (e *Engine) currentState(ctx context.Context, group *types.GroupAttributes, day Day, drop bool) (*Result, error) {
	cred, err := e.credentials.Credential(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("credential for %s: %w", day, err)
	}
	state, err := e.remote.FetchFullState(ctx, paramsOf(group), cred)
	if err != nil {
		return nil, err
	}

	v, err := e.validator(group)
	if err != nil {
		return nil, err
	}
	snap, err := v.DecryptSnapshot(state)
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot: %w", err)
	}
	res, err := e.applySnapshot(ctx, group, snap, "", v)
	if err != nil || res.Attributes == group {
		return res, err
	}
	res.Events = differ.ExtractDiffs(group, res.Attributes, differ.Options{
		OurID:                  e.ourID,
		DropInitialJoinMessage: drop,
	})
	return res, nil
}

// leftGroup is the result used when the service denies access: the local
// user is removed and nothing else changes.
func (e *Engine) leftGroup(group *types.GroupAttributes) *Result {
	e.logger.Info("access denied, marking group as left", "group", group.LogID())
	attrs := group.Clone()
	removed := attrs.MembersV2.Delete(e.ourID)
	attrs.Left = true

	res := &Result{Attributes: attrs}
	if removed {
		res.Events = []types.Event{types.MemberRemove{ID: e.ourID}}
	}
	return res
}

// applySnapshot rebuilds group from a decrypted snapshot. Membership is
// replaced wholesale. source, when set, is recorded as who added the local
// user if they were not a member before. A snapshot older than the current
// revision is ignored and group is returned unchanged.
func (e *Engine) applySnapshot(ctx context.Context, group *types.GroupAttributes, snap *types.Snapshot, source string, v *groupcrypto.Validator) (*Result, error) {
	logger := e.logger.With("group", group.LogID())
	if !group.FirstFetch() && snap.Version < *group.Revision {
		logger.Warn("ignoring stale group state", "revision", *group.Revision, "state_version", snap.Version)
		return unchanged(group), nil
	}
	attrs := group.Clone()
	res := &Result{Attributes: attrs}

	attrs.Revision = types.Uint32(snap.Version)

	attrs.Name = ""
	if snap.Title != nil {
		attrs.Name = *snap.Title
	}
	if blob := e.applyAvatar(ctx, snap.AvatarURL, attrs, v); blob != nil {
		res.Avatars = append(res.Avatars, *blob)
	}
	attrs.ExpireTimer = 0
	if snap.DisappearingTimer != nil {
		attrs.ExpireTimer = *snap.DisappearingTimer
	}
	ac := snap.AccessControl
	if !ac.Attributes.Valid() {
		ac.Attributes = types.AccessMember
	}
	if !ac.Members.Valid() {
		ac.Members = types.AccessMember
	}
	attrs.AccessControl = &ac

	wasMember := group.MembersV2.Has(e.ourID)
	attrs.Left = true
	attrs.MembersV2 = types.Roster[types.Member]{}
	for _, m := range snap.Members {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: member had role %s", groupcrypto.ErrMalformed, m.Role)
		}
		if m.ID == e.ourID {
			attrs.Left = false
			if source != "" && !wasMember {
				attrs.AddedBy = source
			}
		}
		joined := m.JoinedAtVersion
		if joined == 0 {
			joined = snap.Version
		}
		attrs.MembersV2.Set(types.Member{ID: m.ID, Role: m.Role, JoinedAtVersion: joined})
		if m.ProfileKey != nil {
			res.ProfileKeys = append(res.ProfileKeys, types.ProfileKeyUpdate{ID: m.ID, ProfileKey: m.ProfileKey})
		}
	}

	attrs.PendingMembersV2 = types.Roster[types.PendingMember]{}
	for _, p := range snap.PendingMembers {
		if attrs.MembersV2.Has(p.ID) {
			logger.Warn("snapshot lists member as pending too; keeping membership")
			continue
		}
		attrs.PendingMembersV2.Set(types.PendingMember{ID: p.ID, AddedByUserID: p.AddedByUserID, Timestamp: p.Timestamp})
	}

	attrs.BannedMembersV2 = types.NewRoster(snap.BannedMembers...)
	return res, nil
}

func revisionAttr(r *uint32) slog.Value {
	if r == nil {
		return slog.StringValue("none")
	}
	return slog.Uint64Value(uint64(*r))
}

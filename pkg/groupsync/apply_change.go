package groupsync

import (
	"context"
	"fmt"

	"github.com/relves/groupsync/pkg/differ"
	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// integrateChange applies one change record to group. When the change cannot
// be applied incrementally it falls back to state, which must then be present.
func (e *Engine) integrateChange(ctx context.Context, group *types.GroupAttributes, change *wire.Change, state *wire.Group, target uint32) (*Result, error) {
	logger := e.logger.With("group", group.LogID())
	first := group.FirstFetch()

	if ver := change.Actions.Version; ver != nil {
		if *ver > target {
			return unchanged(group), nil
		}
		if !first && *ver <= *group.Revision {
			logger.Debug("change already applied", "version", *ver, "revision", *group.Revision)
			return unchanged(group), nil
		}
	}

	v, err := e.validator(group)
	if err != nil {
		return nil, err
	}
	decrypted, err := v.DecryptChange(&change.Actions)
	if err != nil {
		return nil, fmt.Errorf("decrypt change: %w", err)
	}

	tooFar := !first && decrypted.Version > *group.Revision+1
	if !change.Supported() || first || tooFar {
		if state == nil {
			return nil, ErrMissingSnapshot
		}
		logger.Info("applying full group state",
			"from", revisionAttr(group.Revision), "to", revisionAttr(state.Version), "supported", change.Supported())

		snap, err := v.DecryptSnapshot(state)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
		var source string
		if first {
			source = decrypted.SourceID
		}
		res, err := e.applySnapshot(ctx, group, snap, source, v)
		if err != nil || res.Attributes == group {
			return res, err
		}
		res.Events = differ.ExtractDiffs(group, res.Attributes, differ.Options{OurID: e.ourID, From: source})
		return res, nil
	}

	logger.Info("applying group change actions", "from", *group.Revision, "to", decrypted.Version)
	res, err := e.applyChange(ctx, group, decrypted, v)
	if err != nil {
		return nil, err
	}
	res.Events = differ.ExtractDiffs(group, res.Attributes, differ.Options{OurID: e.ourID, From: decrypted.SourceID})
	return res, nil
}

// applyChange folds the decrypted actions into a copy of group.
func (e *Engine) applyChange(ctx context.Context, group *types.GroupAttributes, change *types.GroupChange, v *groupcrypto.Validator) (*Result, error) {
	logger := e.logger.With("group", group.LogID())
	attrs := group.Clone()
	res := &Result{Attributes: attrs}
	version := change.Version

	attrs.Revision = types.Uint32(version)
	if attrs.AccessControl == nil {
		ac := types.DefaultAccessControl()
		attrs.AccessControl = &ac
	}

	for _, action := range change.Actions {
		switch a := action.(type) {
		case types.AddMember:
			if attrs.MembersV2.Has(a.ID) {
				logger.Warn("attempt to add member failed; already in members")
				continue
			}
			role := a.Role
			if !role.Valid() {
				role = types.RoleDefault
			}
			attrs.MembersV2.Set(types.Member{ID: a.ID, Role: role, JoinedAtVersion: version})
			if attrs.PendingMembersV2.Delete(a.ID) {
				logger.Warn("removing newly-added member from pending members")
			}
			if a.ID == e.ourID && change.SourceID != "" {
				attrs.AddedBy = change.SourceID
			}
			if a.ProfileKey != nil {
				res.ProfileKeys = append(res.ProfileKeys, types.ProfileKeyUpdate{ID: a.ID, ProfileKey: a.ProfileKey})
			}

		case types.DeleteMember:
			if !attrs.MembersV2.Delete(a.ID) {
				logger.Warn("attempt to remove member failed; was not in members")
			}

		case types.ModifyMemberRole:
			m, ok := attrs.MembersV2.Get(a.ID)
			if !ok {
				return nil, fmt.Errorf("modify role at version %d: %w", version, ErrUnknownMember)
			}
			m.Role = a.Role
			attrs.MembersV2.Set(m)

		case types.ModifyMemberProfileKey:
			res.ProfileKeys = append(res.ProfileKeys, types.ProfileKeyUpdate{ID: a.ID, ProfileKey: a.ProfileKey})

		case types.AddPendingMember:
			if attrs.MembersV2.Has(a.ID) {
				logger.Warn("attempt to add pending member failed; was already in members")
				continue
			}
			if attrs.PendingMembersV2.Has(a.ID) {
				logger.Warn("attempt to add pending member failed; was already in pending members")
				continue
			}
			attrs.PendingMembersV2.Set(types.PendingMember{ID: a.ID, AddedByUserID: a.AddedByUserID, Timestamp: a.Timestamp})
			if a.ProfileKey != nil {
				res.ProfileKeys = append(res.ProfileKeys, types.ProfileKeyUpdate{ID: a.ID, ProfileKey: a.ProfileKey})
			}

		case types.DeletePendingMember:
			if !attrs.PendingMembersV2.Delete(a.ID) {
				logger.Warn("attempt to remove pending member failed; was not in pending members")
			}

		case types.PromotePendingMember:
			if !attrs.PendingMembersV2.Delete(a.ID) {
				logger.Warn("attempt to promote pending member failed; was not in pending members")
			}
			if attrs.MembersV2.Has(a.ID) {
				logger.Warn("attempt to promote pending member failed; was already in members")
				continue
			}
			attrs.MembersV2.Set(types.Member{ID: a.ID, Role: types.RoleDefault, JoinedAtVersion: version})
			res.ProfileKeys = append(res.ProfileKeys, types.ProfileKeyUpdate{ID: a.ID, ProfileKey: a.ProfileKey})

		case types.ModifyTitle:
			if a.Title == nil {
				logger.Warn("clearing group title due to missing data")
				attrs.Name = ""
			} else {
				attrs.Name = *a.Title
			}

		case types.ModifyAvatar:
			if blob := e.applyAvatar(ctx, a.URL, attrs, v); blob != nil {
				res.Avatars = append(res.Avatars, *blob)
			}

		case types.ModifyDisappearingTimer:
			if a.Duration == nil {
				logger.Warn("clearing group expire timer due to missing data")
				attrs.ExpireTimer = 0
			} else {
				attrs.ExpireTimer = *a.Duration
			}

		case types.ModifyAttributesAccess:
			attrs.AccessControl.Attributes = a.Access

		case types.ModifyMembersAccess:
			attrs.AccessControl.Members = a.Access

		default:
			return nil, fmt.Errorf("unknown change action %T", action)
		}
	}

	attrs.Left = !attrs.MembersV2.Has(e.ourID)
	return res, nil
}

package groupcrypto

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// Config configures a Validator.
type Config struct {
	Logger *slog.Logger
	// Now is used to clamp invite timestamps. Defaults to time.Now.
	Now func() time.Time
	// OnDrop, if set, is called with a field name each time a field or entry
	// is dropped rather than failing the record.
	OnDrop func(field string)
}

// Validator decrypts change records and snapshots for one group, applying
// the per-field failure policy:
//   - an undecryptable identifier drops its entry or sub-action;
//   - an undecryptable enrichment field drops only that field;
//   - an invalid structural field fails the whole record with ErrMalformed.
type Validator struct {
	dec    Decryptor
	logger *slog.Logger
	now    func() time.Time
	onDrop func(string)
}

// NewValidator returns a Validator using d for group logID.
func NewValidator(d Decryptor, logID string, cfg Config) *Validator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnDrop == nil {
		cfg.OnDrop = func(string) {}
	}
	return &Validator{
		dec:    d,
		logger: cfg.Logger.With("group", logID),
		now:    cfg.Now,
		onDrop: cfg.OnDrop,
	}
}

func (v *Validator) drop(field, msg string, err error) {
	v.onDrop(field)
	if err != nil {
		v.logger.Warn(msg, "field", field, "error", err)
		return
	}
	v.logger.Warn(msg, "field", field)
}

// identity decrypts and validates an identifier. ok is false when the
// enclosing entry must be dropped.
func (v *Validator) identity(field string, ciphertext []byte) (id string, ok bool, err error) {
	if len(ciphertext) == 0 {
		return "", false, malformed("%s is missing", field)
	}
	id, derr := v.dec.DecryptIdentity(ciphertext)
	if derr != nil {
		v.drop(field, "unable to decrypt identifier, dropping entry", derr)
		return "", false, nil
	}
	if _, perr := uuid.Parse(id); perr != nil {
		v.drop(field, "invalid identifier, dropping entry", nil)
		return "", false, nil
	}
	return id, true, nil
}

func validProfileKey(key []byte) bool {
	return len(key) == ProfileKeySize
}

// DecryptChange decrypts the actions of one change record.
func (v *Validator) DecryptChange(actions *wire.ChangeActions) (*types.GroupChange, error) {
	if actions.Version == nil {
		return nil, malformed("change version is missing")
	}
	out := &types.GroupChange{Version: *actions.Version}

	if len(actions.SourceUUID) == 0 {
		return nil, malformed("change source is missing")
	}
	if src, err := v.dec.DecryptIdentity(actions.SourceUUID); err != nil {
		v.drop("source_uuid", "unable to decrypt change source, clearing it", err)
	} else if _, err := uuid.Parse(src); err != nil {
		v.drop("source_uuid", "invalid change source, clearing it", nil)
	} else {
		out.SourceID = src
	}

	for _, a := range actions.AddMembers {
		if a.Added == nil {
			return nil, malformed("addMember is missing added")
		}
		m, ok, err := v.member(a.Added)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.AddMember{ID: m.ID, Role: m.Role, ProfileKey: m.ProfileKey})
		}
	}

	for _, a := range actions.DeleteMembers {
		id, ok, err := v.identity("delete_members.deleted_user_id", a.DeletedUserID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.DeleteMember{ID: id})
		}
	}

	for _, a := range actions.ModifyMemberRoles {
		id, ok, err := v.identity("modify_member_roles.user_id", a.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		role := types.Role(a.Role)
		if !role.Valid() {
			return nil, malformed("modifyMemberRole had invalid role %s", role)
		}
		out.Actions = append(out.Actions, types.ModifyMemberRole{ID: id, Role: role})
	}

	for _, a := range actions.ModifyMemberProfileKeys {
		id, key, ok, err := v.presentation("modify_member_profile_keys.presentation", a.Presentation)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.ModifyMemberProfileKey{ID: id, ProfileKey: key})
		}
	}

	for _, a := range actions.AddPendingMembers {
		if a.Added == nil {
			return nil, malformed("addPendingMember is missing added")
		}
		p, ok, err := v.pendingMember(a.Added)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.AddPendingMember{
				ID:            p.ID,
				AddedByUserID: p.AddedByUserID,
				Timestamp:     p.Timestamp,
				Role:          p.Role,
				ProfileKey:    p.ProfileKey,
			})
		}
	}

	for _, a := range actions.DeletePendingMembers {
		id, ok, err := v.identity("delete_pending_members.deleted_user_id", a.DeletedUserID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.DeletePendingMember{ID: id})
		}
	}

	for _, a := range actions.PromotePendingMembers {
		id, key, ok, err := v.presentation("promote_pending_members.presentation", a.Presentation)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, types.PromotePendingMember{ID: id, ProfileKey: key})
		}
	}

	if actions.ModifyTitle != nil {
		out.Actions = append(out.Actions, types.ModifyTitle{Title: v.title("modify_title.title", actions.ModifyTitle.Title)})
	}
	if actions.ModifyAvatar != nil {
		out.Actions = append(out.Actions, types.ModifyAvatar{URL: actions.ModifyAvatar.Avatar})
	}
	if actions.ModifyTimer != nil {
		out.Actions = append(out.Actions, types.ModifyDisappearingTimer{Duration: v.timer("modify_disappearing_messages_timer.timer", actions.ModifyTimer.Timer)})
	}
	if actions.ModifyAttributesAccess != nil {
		access := types.AccessRequired(actions.ModifyAttributesAccess.Access)
		if !access.Valid() {
			return nil, malformed("modifyAttributesAccess had invalid access %s", access)
		}
		out.Actions = append(out.Actions, types.ModifyAttributesAccess{Access: access})
	}
	if actions.ModifyMembersAccess != nil {
		access := types.AccessRequired(actions.ModifyMembersAccess.Access)
		if !access.Valid() {
			return nil, malformed("modifyMembersAccess had invalid access %s", access)
		}
		out.Actions = append(out.Actions, types.ModifyMembersAccess{Access: access})
	}

	return out, nil
}

// DecryptSnapshot decrypts a full group snapshot.
func (v *Validator) DecryptSnapshot(g *wire.Group) (*types.Snapshot, error) {
	if g.Version == nil {
		return nil, malformed("snapshot version is missing")
	}
	if g.AccessControl == nil {
		return nil, malformed("snapshot access control is missing")
	}
	ac := types.AccessControl{
		Attributes: types.AccessRequired(g.AccessControl.Attributes),
		Members:    types.AccessRequired(g.AccessControl.Members),
	}
	if !ac.Attributes.Valid() {
		return nil, malformed("snapshot attributes access %s is invalid", ac.Attributes)
	}
	if !ac.Members.Valid() {
		return nil, malformed("snapshot members access %s is invalid", ac.Members)
	}

	out := &types.Snapshot{
		Version:           *g.Version,
		Title:             v.title("title", g.Title),
		AvatarURL:         g.Avatar,
		DisappearingTimer: v.timer("disappearing_messages_timer", g.DisappearingMessagesTimer),
		AccessControl:     ac,
	}

	for i := range g.Members {
		m, ok, err := v.member(&g.Members[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out.Members = append(out.Members, *m)
		}
	}
	for i := range g.PendingMembers {
		p, ok, err := v.pendingMember(&g.PendingMembers[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out.PendingMembers = append(out.PendingMembers, *p)
		}
	}
	for _, b := range g.BannedMembers {
		id, ok, err := v.identity("banned_members.user_id", b.UserID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.BannedMembers = append(out.BannedMembers, types.BannedMember{ID: id, Timestamp: time.UnixMilli(int64(b.Timestamp))})
		}
	}
	return out, nil
}

// DecryptAvatar opens a downloaded avatar blob and returns the image bytes.
func (v *Validator) DecryptAvatar(ciphertext []byte) ([]byte, error) {
	plaintext, err := v.dec.DecryptAttributeBlob(ciphertext)
	if err != nil {
		return nil, err
	}
	blob, err := wire.DecodeAttributeBlob(plaintext)
	if err != nil {
		return nil, err
	}
	if blob.Content() != "avatar" {
		return nil, malformed("avatar blob had content %q", blob.Content())
	}
	return blob.Avatar, nil
}

func (v *Validator) member(m *wire.Member) (*types.SnapshotMember, bool, error) {
	id, ok, err := v.identity("member.user_id", m.UserID)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(m.ProfileKey) == 0 {
		return nil, false, malformed("member is missing profile key")
	}
	key, err := v.dec.DecryptProfileKey(m.ProfileKey, id)
	if err != nil {
		return nil, false, malformed("member profile key: %v", err)
	}
	if !validProfileKey(key) {
		return nil, false, malformed("member had invalid profile key")
	}
	role := types.Role(m.Role)
	if !role.Valid() {
		return nil, false, malformed("member had invalid role %s", role)
	}
	return &types.SnapshotMember{
		ID:              id,
		Role:            role,
		JoinedAtVersion: m.JoinedAtVersion,
		ProfileKey:      key,
	}, true, nil
}

func (v *Validator) pendingMember(p *wire.PendingMember) (*types.SnapshotPendingMember, bool, error) {
	inviter, ok, err := v.identity("pending_member.added_by_user_id", p.AddedByUserID)
	if err != nil || !ok {
		return nil, false, err
	}

	ts := time.UnixMilli(int64(p.Timestamp))
	if now := v.now(); p.Timestamp == 0 || ts.After(now) {
		ts = now
	}

	if p.Member == nil {
		v.drop("pending_member.member", "pending member is missing details, dropping entry", nil)
		return nil, false, nil
	}
	id, ok, err := v.identity("pending_member.member.user_id", p.Member.UserID)
	if err != nil || !ok {
		return nil, false, err
	}

	var key []byte
	if len(p.Member.ProfileKey) > 0 {
		k, derr := v.dec.DecryptProfileKey(p.Member.ProfileKey, id)
		switch {
		case derr != nil:
			v.drop("pending_member.member.profile_key", "unable to decrypt pending member profile key, dropping it", derr)
		case !validProfileKey(k):
			v.drop("pending_member.member.profile_key", "pending member profile key is invalid, dropping it", nil)
		default:
			key = k
		}
	}

	role := types.Role(p.Member.Role)
	if !role.Valid() {
		return nil, false, malformed("pending member had invalid role %s", role)
	}
	return &types.SnapshotPendingMember{
		ID:            id,
		AddedByUserID: inviter,
		Timestamp:     ts,
		Role:          role,
		ProfileKey:    key,
	}, true, nil
}

func (v *Validator) presentation(field string, data []byte) (string, []byte, bool, error) {
	if len(data) == 0 {
		return "", nil, false, malformed("%s is missing", field)
	}
	id, key, err := v.dec.DecryptPresentation(data)
	if err != nil {
		return "", nil, false, malformed("%s: %v", field, err)
	}
	if id == "" || len(key) == 0 {
		return "", nil, false, malformed("%s is missing identifier or profile key", field)
	}
	if _, err := uuid.Parse(id); err != nil {
		v.drop(field, "invalid identifier in presentation, dropping entry", nil)
		return "", nil, false, nil
	}
	if !validProfileKey(key) {
		return "", nil, false, malformed("%s had invalid profile key", field)
	}
	return id, key, true, nil
}

// title returns nil when the blob is absent, undecryptable, or not a title.
func (v *Validator) title(field string, ciphertext []byte) *string {
	blob := v.blob(field, ciphertext)
	if blob == nil || blob.Content() != "title" {
		return nil
	}
	return blob.Title
}

// timer returns nil when the blob is absent, undecryptable, or not a timer.
func (v *Validator) timer(field string, ciphertext []byte) *uint32 {
	blob := v.blob(field, ciphertext)
	if blob == nil || blob.Content() != "disappearingMessagesDuration" {
		return nil
	}
	return blob.DisappearingMessagesDuration
}

func (v *Validator) blob(field string, ciphertext []byte) *wire.AttributeBlob {
	if len(ciphertext) == 0 {
		return nil
	}
	plaintext, err := v.dec.DecryptAttributeBlob(ciphertext)
	if err != nil {
		v.drop(field, "unable to decrypt attribute, clearing it", err)
		return nil
	}
	blob, err := wire.DecodeAttributeBlob(plaintext)
	if err != nil {
		v.drop(field, "unable to decode attribute, clearing it", err)
		return nil
	}
	return blob
}

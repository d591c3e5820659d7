package groupcrypto_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

var (
	alice = uuid.NewString()
	bob   = uuid.NewString()
	carol = uuid.NewString()
)

func newCipher(t *testing.T) *groupcrypto.SealedCipher {
	t.Helper()
	fields, err := groupcrypto.DeriveGroupFields(bytes.Repeat([]byte{7}, groupcrypto.MasterKeySize))
	require.NoError(t, err)
	c, err := groupcrypto.NewSealedCipher(fields.SecretParams)
	require.NoError(t, err)
	return c
}

func encID(t *testing.T, c *groupcrypto.SealedCipher, id string) []byte {
	t.Helper()
	b, err := c.EncryptIdentity(id)
	require.NoError(t, err)
	return b
}

func encKey(t *testing.T, c *groupcrypto.SealedCipher, id string) []byte {
	t.Helper()
	b, err := c.EncryptProfileKey(bytes.Repeat([]byte{1}, groupcrypto.ProfileKeySize), id)
	require.NoError(t, err)
	return b
}

func encBlob(t *testing.T, c *groupcrypto.SealedCipher, blob wire.AttributeBlob) []byte {
	t.Helper()
	plain, err := wire.Marshal(blob)
	require.NoError(t, err)
	b, err := c.EncryptAttributeBlob(plain)
	require.NoError(t, err)
	return b
}

func version(v uint32) *uint32 { return &v }

func newValidator(c groupcrypto.Decryptor, dropped *[]string) *groupcrypto.Validator {
	return groupcrypto.NewValidator(c, "groupv2(test)", groupcrypto.Config{
		Now:    func() time.Time { return time.UnixMilli(5_000) },
		OnDrop: func(f string) { *dropped = append(*dropped, f) },
	})
}

func TestDecryptChange_DropsUndecryptableIdentity(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	got, err := v.DecryptChange(&wire.ChangeActions{
		SourceUUID: encID(t, c, alice),
		Version:    version(3),
		DeleteMembers: []wire.DeleteMemberAction{
			{DeletedUserID: []byte("forged-ciphertext-that-will-not-open")},
			{DeletedUserID: encID(t, c, bob)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, alice, got.SourceID)
	assert.Equal(t, uint32(3), got.Version)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, types.DeleteMember{ID: bob}, got.Actions[0])
	assert.Equal(t, []string{"delete_members.deleted_user_id"}, dropped)
}

func TestDecryptChange_ClearsUndecryptableSource(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	got, err := v.DecryptChange(&wire.ChangeActions{
		SourceUUID: []byte("garbage-garbage-garbage-garbage-garbage-garbage"),
		Version:    version(1),
	})
	require.NoError(t, err)
	assert.Empty(t, got.SourceID)
	assert.Contains(t, dropped, "source_uuid")
}

func TestDecryptChange_StructuralFailuresAreFatal(t *testing.T) {
	c := newCipher(t)

	tests := []struct {
		name    string
		actions wire.ChangeActions
	}{
		{"missing version", wire.ChangeActions{SourceUUID: encID(t, c, alice)}},
		{"missing source", wire.ChangeActions{Version: version(1)}},
		{"invalid role", wire.ChangeActions{
			SourceUUID:        encID(t, c, alice),
			Version:           version(1),
			ModifyMemberRoles: []wire.ModifyMemberRoleAction{{UserID: encID(t, c, bob), Role: 9}},
		}},
		{"invalid access", wire.ChangeActions{
			SourceUUID:          encID(t, c, alice),
			Version:             version(1),
			ModifyMembersAccess: &wire.ModifyAccessAction{Access: int32(types.AccessAny)},
		}},
		{"missing identity bytes", wire.ChangeActions{
			SourceUUID:    encID(t, c, alice),
			Version:       version(1),
			DeleteMembers: []wire.DeleteMemberAction{{}},
		}},
		{"add member without details", wire.ChangeActions{
			SourceUUID: encID(t, c, alice),
			Version:    version(1),
			AddMembers: []wire.AddMemberAction{{}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []string
			_, err := newValidator(c, &dropped).DecryptChange(&tt.actions)
			require.Error(t, err)
			assert.True(t, errors.Is(err, groupcrypto.ErrMalformed))
		})
	}
}

func TestDecryptChange_PendingProfileKeyFailureKeepsMember(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	got, err := v.DecryptChange(&wire.ChangeActions{
		SourceUUID: encID(t, c, alice),
		Version:    version(2),
		AddPendingMembers: []wire.AddPendingMemberAction{{Added: &wire.PendingMember{
			AddedByUserID: encID(t, c, alice),
			Timestamp:     4_000,
			Member: &wire.Member{
				UserID:     encID(t, c, bob),
				Role:       int32(types.RoleDefault),
				ProfileKey: encKey(t, c, carol), // bound to the wrong identifier
			},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, got.Actions, 1)
	add := got.Actions[0].(types.AddPendingMember)
	assert.Equal(t, bob, add.ID)
	assert.Equal(t, alice, add.AddedByUserID)
	assert.Nil(t, add.ProfileKey)
	assert.Equal(t, []string{"pending_member.member.profile_key"}, dropped)
}

func TestDecryptChange_TitleFailureClearsField(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	got, err := v.DecryptChange(&wire.ChangeActions{
		SourceUUID:  encID(t, c, alice),
		Version:     version(2),
		ModifyTitle: &wire.ModifyTitleAction{Title: []byte("not-a-valid-ciphertext-for-this-group-at-all")},
		ModifyTimer: &wire.ModifyTimerAction{Timer: encBlob(t, c, wire.AttributeBlob{DisappearingMessagesDuration: version(60)})},
	})
	require.NoError(t, err)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, types.ModifyTitle{}, got.Actions[0])
	timer := got.Actions[1].(types.ModifyDisappearingTimer)
	require.NotNil(t, timer.Duration)
	assert.Equal(t, uint32(60), *timer.Duration)
}

func TestDecryptChange_PresentationRevealsProfileKey(t *testing.T) {
	c := newCipher(t)
	key := bytes.Repeat([]byte{9}, groupcrypto.ProfileKeySize)
	pres, err := c.EncryptPresentation(bob, key)
	require.NoError(t, err)

	var dropped []string
	got, err := newValidator(c, &dropped).DecryptChange(&wire.ChangeActions{
		SourceUUID:              encID(t, c, bob),
		Version:                 version(4),
		ModifyMemberProfileKeys: []wire.ModifyMemberProfileKeyAction{{Presentation: pres}},
	})
	require.NoError(t, err)
	assert.Equal(t, []types.Action{types.ModifyMemberProfileKey{ID: bob, ProfileKey: key}}, got.Actions)

	short, err := c.EncryptPresentation(bob, key[:8])
	require.NoError(t, err)
	_, err = newValidator(c, &dropped).DecryptChange(&wire.ChangeActions{
		SourceUUID:            encID(t, c, bob),
		Version:               version(4),
		PromotePendingMembers: []wire.PromotePendingMemberAction{{Presentation: short}},
	})
	assert.ErrorIs(t, err, groupcrypto.ErrMalformed)
}

func TestDecryptSnapshot(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	title := "Hikers"
	snap, err := v.DecryptSnapshot(&wire.Group{
		Version:       version(7),
		Title:         encBlob(t, c, wire.AttributeBlob{Title: &title}),
		Avatar:        "avatars/abc",
		AccessControl: &wire.AccessControl{Attributes: int32(types.AccessAdministrator), Members: int32(types.AccessMember)},
		Members: []wire.Member{
			{UserID: encID(t, c, alice), Role: int32(types.RoleAdministrator), ProfileKey: encKey(t, c, alice), JoinedAtVersion: 0},
			{UserID: []byte("undecryptable-undecryptable-undecryptable-xx"), Role: int32(types.RoleDefault), ProfileKey: []byte{1}},
		},
		PendingMembers: []wire.PendingMember{{
			AddedByUserID: encID(t, c, alice),
			Timestamp:     9_999_999, // in the future relative to Now
			Member:        &wire.Member{UserID: encID(t, c, bob), Role: int32(types.RoleDefault)},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(7), snap.Version)
	require.NotNil(t, snap.Title)
	assert.Equal(t, "Hikers", *snap.Title)
	assert.Nil(t, snap.DisappearingTimer)
	assert.Equal(t, types.AccessAdministrator, snap.AccessControl.Attributes)
	require.Len(t, snap.Members, 1)
	assert.Equal(t, alice, snap.Members[0].ID)
	require.Len(t, snap.PendingMembers, 1)
	assert.Equal(t, time.UnixMilli(5_000), snap.PendingMembers[0].Timestamp)
	assert.Nil(t, snap.PendingMembers[0].ProfileKey)
	assert.Equal(t, []string{"member.user_id"}, dropped)
}

func TestDecryptSnapshot_MissingAccessControlIsFatal(t *testing.T) {
	var dropped []string
	_, err := newValidator(newCipher(t), &dropped).DecryptSnapshot(&wire.Group{Version: version(1)})
	assert.ErrorIs(t, err, groupcrypto.ErrMalformed)
}

func TestDecryptAvatar(t *testing.T) {
	c := newCipher(t)
	var dropped []string
	v := newValidator(c, &dropped)

	img, err := v.DecryptAvatar(encBlob(t, c, wire.AttributeBlob{Avatar: []byte("png")}))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)

	title := "x"
	_, err = v.DecryptAvatar(encBlob(t, c, wire.AttributeBlob{Title: &title}))
	assert.ErrorIs(t, err, groupcrypto.ErrMalformed)
}

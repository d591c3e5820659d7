package groupsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

var (
	us    = uuid.NewString()
	alice = uuid.NewString()
	bob   = uuid.NewString()
	carol = uuid.NewString()
)

var testNow = time.UnixMilli(1_700_000_000_000)

// fixture builds encrypted wire records for one group.
type fixture struct {
	t      *testing.T
	fields *groupcrypto.GroupFields
	cipher *groupcrypto.SealedCipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fields, err := groupcrypto.DeriveGroupFields(bytes.Repeat([]byte{9}, groupcrypto.MasterKeySize))
	require.NoError(t, err)
	c, err := groupcrypto.NewSealedCipher(fields.SecretParams)
	require.NoError(t, err)
	return &fixture{t: t, fields: fields, cipher: c}
}

// group returns local attributes at rev with the given members. A nil rev
// is a group that has never been fetched.
func (f *fixture) group(rev *uint32, members ...string) *types.GroupAttributes {
	g := &types.GroupAttributes{
		ID:           types.GroupID(f.fields.ID),
		Revision:     rev,
		SecretParams: f.fields.SecretParams,
		PublicParams: f.fields.PublicParams,
	}
	if rev != nil {
		ac := types.DefaultAccessControl()
		g.AccessControl = &ac
	}
	for _, id := range members {
		g.MembersV2.Set(types.Member{ID: id, Role: types.RoleDefault, JoinedAtVersion: 0})
	}
	g.Left = rev != nil && !g.MembersV2.Has(us)
	return g
}

func (f *fixture) id(id string) []byte {
	b, err := f.cipher.EncryptIdentity(id)
	require.NoError(f.t, err)
	return b
}

func profileKey(id string) []byte {
	k := bytes.Repeat([]byte{0}, groupcrypto.ProfileKeySize)
	copy(k, id)
	return k
}

func (f *fixture) member(id string, role types.Role) wire.Member {
	key, err := f.cipher.EncryptProfileKey(profileKey(id), id)
	require.NoError(f.t, err)
	return wire.Member{UserID: f.id(id), Role: int32(role), ProfileKey: key}
}

func (f *fixture) title(title string) []byte {
	plain, err := wire.Marshal(wire.AttributeBlob{Title: &title})
	require.NoError(f.t, err)
	b, err := f.cipher.EncryptAttributeBlob(plain)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) avatar(image []byte) []byte {
	plain, err := wire.Marshal(wire.AttributeBlob{Avatar: image})
	require.NoError(f.t, err)
	b, err := f.cipher.EncryptAttributeBlob(plain)
	require.NoError(f.t, err)
	return b
}

// change returns a change at version made by source; edit fills in actions.
func (f *fixture) change(version uint32, source string, edit func(a *wire.ChangeActions)) *wire.Change {
	c := &wire.Change{Actions: wire.ChangeActions{
		SourceUUID: f.id(source),
		Version:    types.Uint32(version),
	}}
	if edit != nil {
		edit(&c.Actions)
	}
	return c
}

func (f *fixture) blob(c *wire.Change) []byte {
	b, err := wire.Marshal(c)
	require.NoError(f.t, err)
	return b
}

// snapshot returns a full state at version with the given default-role members.
func (f *fixture) snapshot(version uint32, members ...string) *wire.Group {
	g := &wire.Group{
		Version:       types.Uint32(version),
		AccessControl: &wire.AccessControl{Attributes: int32(types.AccessMember), Members: int32(types.AccessMember)},
	}
	for _, id := range members {
		g.Members = append(g.Members, f.member(id, types.RoleDefault))
	}
	return g
}

func (f *fixture) addMember(id string) func(*wire.ChangeActions) {
	return func(a *wire.ChangeActions) {
		m := f.member(id, types.RoleDefault)
		a.AddMembers = append(a.AddMembers, wire.AddMemberAction{Added: &m})
	}
}

func (f *fixture) setTitle(title string) func(*wire.ChangeActions) {
	return func(a *wire.ChangeActions) {
		a.ModifyTitle = &wire.ModifyTitleAction{Title: f.title(title)}
	}
}

// fakeCredentials hands out the day's name as the credential.
type fakeCredentials struct{}

func (fakeCredentials) Credential(_ context.Context, day Day) (Credential, error) {
	return Credential(day.String()), nil
}

// fakeRemote serves scripted log pages and states, and records every call
// as "log:<day>:<from>" or "state:<day>".
type fakeRemote struct {
	mu        sync.Mutex
	pages     map[uint32]*wire.LogPage
	state     *wire.Group
	logErrs   map[string]error
	stateErrs map[string]error
	avatars   map[string][]byte
	calls     []string
	// gate, when set, is received from before each state fetch returns.
	gate     chan struct{}
	inFlight int
	maxSeen  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		pages:     make(map[uint32]*wire.LogPage),
		logErrs:   make(map[string]error),
		stateErrs: make(map[string]error),
		avatars:   make(map[string][]byte),
	}
}

func (r *fakeRemote) FetchLogPage(_ context.Context, _ GroupParams, from uint32, cred Credential) (*wire.LogPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("log:%s:%d", cred, from))
	if err := r.logErrs[string(cred)]; err != nil {
		return nil, err
	}
	page, ok := r.pages[from]
	if !ok {
		return nil, fmt.Errorf("no page from %d", from)
	}
	return page, nil
}

func (r *fakeRemote) FetchFullState(_ context.Context, _ GroupParams, cred Credential) (*wire.Group, error) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("state:%s", cred))
	r.inFlight++
	r.maxSeen = max(r.maxSeen, r.inFlight)
	gate := r.gate
	err := r.stateErrs[string(cred)]
	state := r.state
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("no state")
	}
	return state, nil
}

func (r *fakeRemote) FetchAvatar(_ context.Context, ref string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "avatar:"+ref)
	data, ok := r.avatars[ref]
	if !ok {
		return nil, fmt.Errorf("avatar %s not found", ref)
	}
	return data, nil
}

func (r *fakeRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var (
	errTemporal = &RemoteError{Code: TemporalCredentialRejectedCode, Message: "expired"}
	errDenied   = &RemoteError{Code: AccessDeniedCode, Message: "not a member"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, remote *fakeRemote) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		OurID:       us,
		Credentials: fakeCredentials{},
		Remote:      remote,
		Avatars:     remote,
		Logger:      testLogger(),
		Metrics:     NewMetrics(prometheus.NewRegistry()),
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return e
}

package groupsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// memStore keeps groups in memory and records every saved update.
type memStore struct {
	mu      sync.Mutex
	groups  map[types.GroupID]*types.GroupAttributes
	updates []*Update
	saveErr error
}

func newMemStore(groups ...*types.GroupAttributes) *memStore {
	s := &memStore{groups: make(map[types.GroupID]*types.GroupAttributes)}
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	return s
}

func (s *memStore) LoadGroup(_ context.Context, id types.GroupID) (*types.GroupAttributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, errors.New("group not found")
	}
	return g.Clone(), nil
}

func (s *memStore) SaveUpdate(_ context.Context, u *Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.groups[u.GroupID] = u.Attributes
	s.updates = append(s.updates, u)
	return nil
}

func (s *memStore) Updates() []*Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Update(nil), s.updates...)
}

type blockingInbound struct {
	release chan struct{}
}

func (b *blockingInbound) WaitForEmpty(ctx context.Context) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestOrchestrator(t *testing.T, e *Engine, store Store, inbound InboundQueue) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{Engine: e, Store: store, Inbound: inbound})
	require.NoError(t, err)
	return o
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("update did not finish")
	}
}

func TestOrchestrator_SavesUpdate(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	sent := time.UnixMilli(2_000_000)
	received := time.UnixMilli(2_000_500)
	change := f.change(2, alice, func(a *wire.ChangeActions) {
		f.addMember(bob)(a)
		f.addMember(carol)(a)
	})
	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{
		ChangeBlob:     f.blob(change),
		TargetRevision: types.Uint32(2),
		SentAt:         sent,
		ReceivedAt:     received,
	}))

	updates := store.Updates()
	require.Len(t, updates, 1)
	u := updates[0]
	assert.Equal(t, group.ID, u.GroupID)
	assert.Equal(t, uint32(2), *u.Attributes.Revision)
	assert.Len(t, u.ProfileKeys, 2)

	require.Len(t, u.Timeline, 2)
	assert.Equal(t, sent.Add(-2*time.Millisecond), u.Timeline[0].SentAt)
	assert.Equal(t, sent.Add(-1*time.Millisecond), u.Timeline[1].SentAt)
	for _, entry := range u.Timeline {
		assert.Equal(t, received, entry.ReceivedAt)
		assert.Equal(t, group.ID, entry.GroupID)
		assert.NotEmpty(t, entry.ID)
	}
	assert.NotEqual(t, u.Timeline[0].ID, u.Timeline[1].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.updatesTotal.WithLabelValues("ok")))
}

func TestOrchestrator_UnchangedIsNotSaved(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.pages[2] = &wire.LogPage{}
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{TargetRevision: types.Uint32(1)}))

	assert.Equal(t, []string{"log:today:2"}, remote.Calls())
	assert.Empty(t, store.Updates())
}

func TestOrchestrator_FullStateIsAlwaysSaved(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.state = f.snapshot(1, us, alice)
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{}))

	require.Len(t, store.Updates(), 1)
	assert.Empty(t, store.Updates()[0].Timeline)
}

func TestOrchestrator_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.stateErrs["today"] = errors.New("service unavailable")
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{}))

	assert.Empty(t, store.Updates())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.updatesTotal.WithLabelValues("error")))

	// the group stays at its last good revision and later updates still run
	remote.mu.Lock()
	delete(remote.stateErrs, "today")
	remote.state = f.snapshot(2, us, alice, bob)
	remote.mu.Unlock()
	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{}))
	require.Len(t, store.Updates(), 1)
	assert.Equal(t, uint32(2), *store.Updates()[0].Attributes.Revision)
}

func TestOrchestrator_SaveFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.state = f.snapshot(2, us, alice, bob)
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	store.saveErr = errors.New("disk full")
	o := newTestOrchestrator(t, e, store, nil)

	waitDone(t, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.updatesTotal.WithLabelValues("error")))
}

func TestOrchestrator_SerializesPerGroup(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.state = f.snapshot(2, us, alice, bob)
	remote.gate = make(chan struct{})
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	var done []<-chan struct{}
	for range 3 {
		done = append(done, o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{}))
	}
	for range 3 {
		remote.gate <- struct{}{}
	}
	for _, d := range done {
		waitDone(t, d)
	}
	o.Wait()

	remote.mu.Lock()
	assert.Equal(t, 1, remote.maxSeen, "updates for one group overlapped")
	remote.mu.Unlock()

	// the first job moved the group to revision 2; the rest saw its result
	updates := store.Updates()
	require.Len(t, updates, 3)
	assert.Len(t, updates[0].Timeline, 1)
	assert.Empty(t, updates[1].Timeline)
	assert.Empty(t, updates[2].Timeline)
}

func TestOrchestrator_WaitsForInbound(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.state = f.snapshot(2, us, alice)
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	inbound := &blockingInbound{release: make(chan struct{})}
	o := newTestOrchestrator(t, e, newMemStore(group), inbound)

	done := o.RequestGroupUpdate(context.Background(), group.ID, UpdateOptions{})
	select {
	case <-done:
		t.Fatal("update ran before the inbound queue drained")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, remote.Calls())

	close(inbound.release)
	waitDone(t, done)
	assert.Equal(t, []string{"state:today"}, remote.Calls())
}

func TestOrchestrator_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	remote := newFakeRemote()
	remote.state = f.snapshot(2, us, alice)
	e := newTestEngine(t, remote)
	group := f.group(types.Uint32(1), us, alice)
	store := newMemStore(group)
	o := newTestOrchestrator(t, e, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waitDone(t, o.RequestGroupUpdate(ctx, group.ID, UpdateOptions{}))

	assert.Len(t, store.Updates(), 1)
}

func TestOrchestrator_RefreshAll(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(t, remote)

	f := newFixture(t)
	remote.state = f.snapshot(3, us, alice)
	a := f.group(types.Uint32(1), us, alice)
	b := f.group(types.Uint32(2), us, alice)
	b.ID = "second"
	store := newMemStore(a, b)
	o := newTestOrchestrator(t, e, store, nil)

	require.NoError(t, o.RefreshAll(context.Background(), []types.GroupID{a.ID, b.ID}))

	saved := make(map[types.GroupID]uint32)
	for _, u := range store.Updates() {
		saved[u.GroupID] = *u.Attributes.Revision
	}
	assert.Equal(t, map[types.GroupID]uint32{a.ID: 3, b.ID: 3}, saved)
}

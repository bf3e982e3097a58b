package discovery

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

// fakeKV is a single-node revisioned map. Only the calls Etcd makes are implemented.
type fakeKV struct {
	clientv3.KV

	mu   sync.Mutex
	rev  int64
	data map[string]*mvccpb.KeyValue

	// beforeCommit runs inside Txn.Commit ahead of compare evaluation.
	beforeCommit func()
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]*mvccpb.KeyValue{}} }

func (f *fakeKV) putLocked(key, val string) {
	f.rev++
	prev := f.data[key]
	kv := &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val), ModRevision: f.rev, Version: 1, CreateRevision: f.rev}
	if prev != nil {
		kv.CreateRevision = prev.CreateRevision
		kv.Version = prev.Version + 1
	}
	f.data[key] = kv
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(key, val)
	return &clientv3.PutResponse{Header: &pb.ResponseHeader{Revision: f.rev}}, nil
}

func (f *fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op := clientv3.OpGet(key, opts...)
	end := string(op.RangeBytes())
	var kvs []*mvccpb.KeyValue
	for k, kv := range f.data {
		if (end == "" && k == key) || (end != "" && k >= key && k < end) {
			kvs = append(kvs, kv)
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return string(kvs[i].Key) < string(kvs[j].Key) })
	return &clientv3.GetResponse{
		Header: &pb.ResponseHeader{Revision: f.rev},
		Kvs:    kvs,
		Count:  int64(len(kvs)),
	}, nil
}

func (f *fakeKV) Txn(context.Context) clientv3.Txn { return &fakeTxn{kv: f} }

type fakeTxn struct {
	kv   *fakeKV
	cmps []clientv3.Cmp
	then []clientv3.Op
	els  []clientv3.Op
}

func (t *fakeTxn) If(cs ...clientv3.Cmp) clientv3.Txn   { t.cmps = append(t.cmps, cs...); return t }
func (t *fakeTxn) Then(ops ...clientv3.Op) clientv3.Txn { t.then = append(t.then, ops...); return t }
func (t *fakeTxn) Else(ops ...clientv3.Op) clientv3.Txn { t.els = append(t.els, ops...); return t }

func (t *fakeTxn) Commit() (*clientv3.TxnResponse, error) {
	if t.kv.beforeCommit != nil {
		t.kv.beforeCommit()
	}
	t.kv.mu.Lock()
	defer t.kv.mu.Unlock()

	ok := true
	for _, cmp := range t.cmps {
		c := pb.Compare(cmp)
		target, isMod := c.TargetUnion.(*pb.Compare_ModRevision)
		if !isMod || c.Result != pb.Compare_EQUAL {
			panic("fakeTxn: only ModRevision equality is supported")
		}
		var cur int64
		if kv := t.kv.data[string(c.Key)]; kv != nil {
			cur = kv.ModRevision
		}
		if cur != target.ModRevision {
			ok = false
		}
	}
	ops := t.then
	if !ok {
		ops = t.els
	}
	for _, op := range ops {
		if op.IsPut() {
			t.kv.putLocked(string(op.KeyBytes()), string(op.ValueBytes()))
		}
	}
	return &clientv3.TxnResponse{Header: &pb.ResponseHeader{Revision: t.kv.rev}, Succeeded: ok}, nil
}

type fakeLease struct {
	clientv3.Lease
	granted []int64
	revoked []clientv3.LeaseID
	// onRevoke runs for every revoked lease, e.g. to drop its keys.
	onRevoke func(clientv3.LeaseID)
}

func (l *fakeLease) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	l.revoked = append(l.revoked, id)
	if l.onRevoke != nil {
		l.onRevoke(id)
	}
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (l *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	l.granted = append(l.granted, ttl)
	return &clientv3.LeaseGrantResponse{ID: clientv3.LeaseID(len(l.granted)), TTL: ttl}, nil
}

func (l *fakeLease) KeepAlive(ctx context.Context, _ clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type fakeWatcher struct {
	clientv3.Watcher
	ch      chan clientv3.WatchResponse
	fromRev int64
}

func (w *fakeWatcher) Watch(_ context.Context, _ string, opts ...clientv3.OpOption) clientv3.WatchChan {
	op := clientv3.OpGet("", opts...)
	w.fromRev = op.Rev()
	return w.ch
}

func newTestEtcd() (*Etcd, *fakeKV, *fakeLease, *fakeWatcher) {
	kv := newFakeKV()
	l := &fakeLease{}
	w := &fakeWatcher{ch: make(chan clientv3.WatchResponse, 4)}
	return newEtcd(kv, w, l, "/rotor/"), kv, l, w
}

func TestEtcdRegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	e, kv, l, _ := newTestEtcd()

	for id, addr := range map[ring.MemberID]string{1: "10.0.1.1", 2: "10.0.2.2", 3: "10.0.0.3", 7: "10.7.7.7"} {
		_, cancel, err := e.RegisterMember(ctx, id, addr, 10)
		require.NoError(t, err)
		t.Cleanup(cancel)
	}
	require.Len(t, l.granted, 4)
	require.Contains(t, kv.data, "/rotor/members/3")

	slots, err := ring.Allocate(0, 3)
	require.NoError(t, err)
	got, err := e.Resolve(ctx, slots)
	require.NoError(t, err)
	require.Equal(t, map[ring.MemberID]string{1: "10.0.1.1", 2: "10.0.2.2", 3: "10.0.0.3"}, got)

	plan, err := rotation.Compute(0, 3, Bind(ctx, e))
	require.NoError(t, err)
	require.Equal(t, "10.0.1.1", plan[3].DeprovisionAddr)
}

func TestEtcdRegisterStopRevokesLease(t *testing.T) {
	ctx := context.Background()
	e, kv, l, _ := newTestEtcd()
	l.onRevoke = func(clientv3.LeaseID) {
		kv.mu.Lock()
		delete(kv.data, "/rotor/members/4")
		kv.mu.Unlock()
	}

	lease, stop, err := e.RegisterMember(ctx, 4, "10.0.1.4", 30)
	require.NoError(t, err)
	got, err := e.Resolve(ctx, []ring.Slot{{ID: 4, Partition: 1}})
	require.NoError(t, err)
	require.Equal(t, "10.0.1.4", got[4])

	stop()
	require.Equal(t, []clientv3.LeaseID{lease}, l.revoked)
	got, err = e.Resolve(ctx, []ring.Slot{{ID: 4, Partition: 1}})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEtcdMembersSkipsMalformedKeys(t *testing.T) {
	ctx := context.Background()
	e, kv, _, _ := newTestEtcd()

	_, _ = kv.Put(ctx, "/rotor/members/5", "a")
	_, _ = kv.Put(ctx, "/rotor/members/zero", "b")
	_, _ = kv.Put(ctx, "/rotor/members/0", "c")
	_, _ = kv.Put(ctx, "/rotor/offset", "1")

	got, rev, err := e.Members(ctx)
	require.NoError(t, err)
	require.Equal(t, map[ring.MemberID]string{5: "a"}, got)
	require.Equal(t, int64(4), rev)
}

func TestEtcdOffsetDefaultsToZero(t *testing.T) {
	e, _, _, _ := newTestEtcd()
	off, err := e.Offset(context.Background())
	require.NoError(t, err)
	require.Zero(t, off)
}

func TestEtcdAdvance(t *testing.T) {
	ctx := context.Background()
	e, kv, _, _ := newTestEtcd()

	require.NoError(t, e.Advance(ctx, 0, 1))
	require.NoError(t, e.Advance(ctx, 1, 2))
	off, err := e.Offset(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), off)
	require.Equal(t, "2", string(kv.data["/rotor/offset"].Value))

	require.ErrorIs(t, e.Advance(ctx, 2, 4), rotation.ErrMultiStepRotation)
	require.ErrorIs(t, e.Advance(ctx, 2, 1), rotation.ErrOffsetRegression)
	require.ErrorIs(t, e.Advance(ctx, 0, 1), ErrOffsetConflict)

	rev := kv.rev
	require.NoError(t, e.Advance(ctx, 2, 2))
	require.Equal(t, rev, kv.rev, "re-applying the current offset must not write")
}

func TestEtcdAdvanceLosesRace(t *testing.T) {
	ctx := context.Background()
	e, kv, _, _ := newTestEtcd()
	_, _ = kv.Put(ctx, "/rotor/offset", "5")

	kv.beforeCommit = func() {
		kv.beforeCommit = nil
		_, _ = kv.Put(ctx, "/rotor/offset", "6")
	}
	require.ErrorIs(t, e.Advance(ctx, 5, 6), ErrOffsetConflict)

	off, err := e.Offset(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(6), off)
}

func TestEtcdAdvanceRejectsGarbageOffset(t *testing.T) {
	ctx := context.Background()
	e, kv, _, _ := newTestEtcd()
	_, _ = kv.Put(ctx, "/rotor/offset", "three")

	_, err := e.Offset(ctx)
	require.Error(t, err)
	require.Error(t, e.Advance(ctx, 3, 4))
}

func TestEtcdWatchMembers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, kv, _, w := newTestEtcd()
	_, _ = kv.Put(ctx, "/rotor/members/1", "a")

	updates := make(chan map[ring.MemberID]string, 4)
	require.NoError(t, e.WatchMembers(ctx, func(m map[ring.MemberID]string) { updates <- m }))
	require.Equal(t, map[ring.MemberID]string{1: "a"}, <-updates)
	require.Equal(t, kv.rev+1, w.fromRev)

	w.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Key: []byte("/rotor/members/2"), Value: []byte("b")}},
		{Type: mvccpb.DELETE, Kv: &mvccpb.KeyValue{Key: []byte("/rotor/members/1")}},
	}}

	select {
	case got := <-updates:
		require.Equal(t, map[ring.MemberID]string{2: "b"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after watch event")
	}
	close(w.ch)
}

func TestParseMemberKey(t *testing.T) {
	e, _, _, _ := newTestEtcd()
	for key, want := range map[string]uint64{
		"/rotor/members/12": 12,
		"/rotor/members/0":  0,
		"/rotor/members/":   0,
		"/rotor/members/x1": 0,
		"/other/members/3":  0,
	} {
		id, ok := e.parseMemberKey([]byte(key))
		require.Equal(t, want != 0, ok, key)
		require.Equal(t, ring.MemberID(want), id, key)
	}
	require.Equal(t, "/rotor/offset", e.offsetKey())
	require.Equal(t, "/rotor/members/"+strconv.Itoa(9), e.memberKey(9))
}

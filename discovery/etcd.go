package discovery

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

const revokeTimeout = 3 * time.Second

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Etcd keeps member endpoints under <prefix>/members/<id> and the generation
// offset under <prefix>/offset.
type Etcd struct {
	kv      clientv3.KV
	watcher clientv3.Watcher
	lease   clientv3.Lease
	prefix  string
	log     *zap.Logger
}

func NewEtcd(cli *clientv3.Client, prefix string) *Etcd {
	return newEtcd(cli, cli, cli, prefix)
}

func newEtcd(kv clientv3.KV, w clientv3.Watcher, l clientv3.Lease, prefix string) *Etcd {
	return &Etcd{
		kv:      kv,
		watcher: w,
		lease:   l,
		prefix:  strings.TrimSuffix(prefix, "/"),
		log:     logger.Named("etcd"),
	}
}

func (e *Etcd) membersPrefix() string { return e.prefix + "/members/" }

func (e *Etcd) memberKey(id ring.MemberID) string { return e.membersPrefix() + id.String() }

func (e *Etcd) offsetKey() string { return path.Join(e.prefix, "offset") }

// RegisterMember publishes addr for id under a lease kept alive until the returned
// func is called, which also revokes the lease so the member drops out at once.
// A member that dies stops refreshing and drops out after ttl seconds.
func (e *Etcd) RegisterMember(ctx context.Context, id ring.MemberID, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := e.lease.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := e.kv.Put(ctx, e.memberKey(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", e.memberKey(id), err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.lease.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
			// drain keepalive responses
		}
		e.log.Debug("lease keepalive stopped", logger.MemberID(id))
	}()

	stop := func() {
		cancel()
		rctx, rcancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer rcancel()
		if _, err := e.lease.Revoke(rctx, lease.ID); err != nil {
			e.log.Warn("revoke lease", logger.MemberID(id), logger.Err(err))
		}
	}
	e.log.Info("registered member", logger.MemberID(id), logger.Addr(addr), zap.Int64("ttl", ttl))
	return lease.ID, stop, nil
}

// Members lists every registered member and the revision it was read at.
func (e *Etcd) Members(ctx context.Context) (map[ring.MemberID]string, int64, error) {
	resp, err := e.kv.Get(ctx, e.membersPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	out := make(map[ring.MemberID]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, ok := e.parseMemberKey(kv.Key)
		if !ok {
			e.log.Warn("ignoring malformed member key", zap.ByteString("key", kv.Key))
			continue
		}
		out[id] = string(kv.Value)
	}
	var rev int64
	if resp.Header != nil {
		rev = resp.Header.Revision
	}
	return out, rev, nil
}

func (e *Etcd) Resolve(ctx context.Context, slots []ring.Slot) (map[ring.MemberID]string, error) {
	all, _, err := e.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make(map[ring.MemberID]string, len(slots))
	for _, s := range slots {
		if addr, ok := all[s.ID]; ok {
			out[s.ID] = addr
		}
	}
	return out, nil
}

// WatchMembers calls fn with the full member table now and after every change,
// until ctx is done.
func (e *Etcd) WatchMembers(ctx context.Context, fn func(map[ring.MemberID]string)) error {
	members, rev, err := e.Members(ctx)
	if err != nil {
		return err
	}
	fn(copyMembers(members))

	wch := e.watcher.Watch(ctx, e.membersPrefix(), clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	go func() {
		for resp := range wch {
			if err := resp.Err(); err != nil {
				e.log.Warn("member watch error", logger.Err(err))
				continue
			}
			for _, ev := range resp.Events {
				id, ok := e.parseMemberKey(ev.Kv.Key)
				if !ok {
					continue
				}
				switch ev.Type {
				case mvccpb.PUT:
					members[id] = string(ev.Kv.Value)
				case mvccpb.DELETE:
					delete(members, id)
				}
			}
			fn(copyMembers(members))
		}
	}()
	return nil
}

func (e *Etcd) Offset(ctx context.Context) (uint64, error) {
	off, _, err := e.readOffset(ctx)
	return off, err
}

// Advance moves the stored offset with a compare-and-swap on the key's revision, so
// two operators advancing from the same value cannot both succeed.
func (e *Etcd) Advance(ctx context.Context, from, to uint64) error {
	if err := rotation.CheckAdvance(from, to); err != nil {
		return err
	}
	cur, rev, err := e.readOffset(ctx)
	if err != nil {
		return err
	}
	if cur != from {
		return fmt.Errorf("%w: stored %d, advancing from %d", ErrOffsetConflict, cur, from)
	}
	if from == to {
		return nil
	}

	key := e.offsetKey()
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, strconv.FormatUint(to, 10))).
		Commit()
	if err != nil {
		return fmt.Errorf("advance txn: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s modified after revision %d", ErrOffsetConflict, key, rev)
	}
	e.log.Info("advanced offset", zap.Uint64("from", from), zap.Uint64("to", to))
	return nil
}

// readOffset returns the stored offset and its mod revision; a missing key is offset 0 at revision 0.
func (e *Etcd) readOffset(ctx context.Context) (uint64, int64, error) {
	resp, err := e.kv.Get(ctx, e.offsetKey())
	if err != nil {
		return 0, 0, fmt.Errorf("get offset: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	kv := resp.Kvs[0]
	off, err := strconv.ParseUint(strings.TrimSpace(string(kv.Value)), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse offset %q: %w", kv.Value, err)
	}
	return off, kv.ModRevision, nil
}

func (e *Etcd) parseMemberKey(key []byte) (ring.MemberID, bool) {
	rest, ok := strings.CutPrefix(string(key), e.membersPrefix())
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return ring.MemberID(n), true
}

func copyMembers(m map[ring.MemberID]string) map[ring.MemberID]string {
	out := make(map[ring.MemberID]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
